// Package logging provides config-driven categorized file-based logging for
// the IDS runtime. Logs are written to .ids/logs/ with a separate file per
// category. Logging is controlled by debug_mode in the loaded config - when
// false, no logs are written.
package logging

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newFileZapLogger builds a zap logger that writes JSON lines to file,
// scoped with a "category" field so entries stay attributable after the
// per-category files are aggregated for analysis.
func newFileZapLogger(file *os.File, category Category) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.EpochMillisTimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(file), zapcore.DebugLevel)
	return zap.New(core).With(zap.String("category", string(category)))
}

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot        Category = "boot"        // process startup/shutdown
	CategoryRegistry    Category = "registry"    // registry store/loader reads
	CategoryUpdater     Category = "updater"     // file watcher, batch ingestion
	CategoryHealer      Category = "healer"      // health checks, heal/rollback
	CategoryDecision    Category = "decision"    // decision engine scoring
	CategoryBreaker     Category = "breaker"     // circuit breaker transitions
	CategoryGate        Category = "gate"        // verification gates G1-G4
	CategorySession     Category = "session"     // session store
	CategoryBracket     Category = "bracket"     // context/bracket tracker
	CategoryPipeline    Category = "pipeline"    // prompt layer pipeline
	CategoryFormatter   Category = "formatter"   // output formatter
	CategoryDiagnostics Category = "diagnostics" // diagnostics reporter
)

// loggingConfig mirrors the relevant parts of config.LoggingConfig to avoid
// circular imports.
type loggingConfig struct {
	DebugMode  bool            `json:"debug_mode"`
	Categories map[string]bool `json:"categories"`
	Level      string          `json:"level"`
	JSONFormat bool            `json:"json_format"`
}

// StructuredLogEntry represents a JSON log entry.
type StructuredLogEntry struct {
	Timestamp int64                  `json:"ts"`
	Category  string                 `json:"cat"`
	Level     string                 `json:"lvl"`
	Message   string                 `json:"msg"`
	RequestID string                 `json:"req,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Logger wraps a zap logger scoped to one category, plus the raw file
// handle for rotation/close bookkeeping.
type Logger struct {
	category Category
	zl       *zap.Logger
	logger   *log.Logger
	file     *os.File
}

var (
	loggers      = make(map[Category]*Logger)
	loggersMu    sync.RWMutex
	logsDir      string
	workspace    string
	config       loggingConfig
	configLoaded bool
	configMu     sync.RWMutex
	logLevel     int // 0=debug, 1=info, 2=warn, 3=error
)

const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Initialize sets up the logging directory and loads config. Should be
// called once at startup with the workspace path.
func Initialize(ws string) error {
	if ws == "" {
		return fmt.Errorf("workspace path required")
	}

	workspace = ws
	logsDir = filepath.Join(workspace, ".ids", "logs")

	if err := loadConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "[logging] warning: could not load config: %v\n", err)
		config.DebugMode = false
	}

	if !config.DebugMode {
		return nil
	}

	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	bootLogger := Get(CategoryBoot)
	bootLogger.Info("=== IDS logging initialized ===")
	bootLogger.Info("workspace: %s", workspace)
	bootLogger.Info("debug mode: %v", config.DebugMode)
	bootLogger.Info("log level: %s", config.Level)

	return nil
}

// loadConfig reads the logging config from .ids/config.json.
func loadConfig() error {
	configMu.Lock()
	defer configMu.Unlock()

	configPath := filepath.Join(workspace, ".ids", "config.json")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			config.DebugMode = false
			configLoaded = true
			return nil
		}
		return err
	}

	var cf struct {
		Logging loggingConfig `json:"logging"`
	}
	if err := json.Unmarshal(data, &cf); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	config = cf.Logging
	configLoaded = true

	switch config.Level {
	case "debug":
		logLevel = LevelDebug
	case "info":
		logLevel = LevelInfo
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}

	return nil
}

// ReloadConfig reloads the config from disk.
func ReloadConfig() error {
	return loadConfig()
}

// IsDebugMode returns whether debug logging is enabled.
func IsDebugMode() bool {
	configMu.RLock()
	defer configMu.RUnlock()
	return config.DebugMode
}

// IsCategoryEnabled returns whether a specific category is enabled.
func IsCategoryEnabled(category Category) bool {
	configMu.RLock()
	defer configMu.RUnlock()

	if !config.DebugMode {
		return false
	}
	if config.Categories == nil {
		return true
	}
	enabled, exists := config.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category. Returns a
// no-op logger if debug mode or the category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category}
	}
	if logsDir == "" {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()

	if l, ok := loggers[category]; ok {
		return l
	}

	date := time.Now().Format("2006-01-02")
	filename := fmt.Sprintf("%s_%s.log", date, category)
	logPath := filepath.Join(logsDir, filename)

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] warning: could not open log file %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	zl := newFileZapLogger(file, category)

	l := &Logger{
		category: category,
		file:     file,
		logger:   log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds),
		zl:       zl,
	}
	loggers[category] = l

	return l
}

// logJSON writes a structured JSON log entry, preferring the zap backend
// when available.
func (l *Logger) logJSON(level, msg string) {
	if l.zl != nil {
		switch level {
		case "debug":
			l.zl.Debug(msg)
		case "warn":
			l.zl.Warn(msg)
		case "error":
			l.zl.Error(msg)
		default:
			l.zl.Info(msg)
		}
		return
	}
	entry := StructuredLogEntry{
		Timestamp: time.Now().UnixMilli(),
		Category:  string(l.category),
		Level:     level,
		Message:   msg,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		l.logger.Printf("[%s] %s", level, msg)
		return
	}
	l.logger.Printf("%s", data)
}

func (l *Logger) Debug(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelDebug {
		return
	}
	l.logJSON("debug", fmt.Sprintf(format, args...))
}

func (l *Logger) Info(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelInfo {
		return
	}
	l.logJSON("info", fmt.Sprintf(format, args...))
}

func (l *Logger) Warn(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelWarn {
		return
	}
	l.logJSON("warn", fmt.Sprintf(format, args...))
}

func (l *Logger) Error(format string, args ...interface{}) {
	if l.logger == nil {
		return
	}
	l.logJSON("error", fmt.Sprintf(format, args...))
}

// StructuredLog writes a fully structured log entry with custom fields.
func (l *Logger) StructuredLog(level string, msg string, fields map[string]interface{}) {
	if l.logger == nil {
		return
	}
	if l.zl != nil {
		zfields := make([]zap.Field, 0, len(fields))
		for k, v := range fields {
			zfields = append(zfields, zap.Any(k, v))
		}
		switch level {
		case "debug":
			l.zl.Debug(msg, zfields...)
		case "warn":
			l.zl.Warn(msg, zfields...)
		case "error":
			l.zl.Error(msg, zfields...)
		default:
			l.zl.Info(msg, zfields...)
		}
		return
	}
	l.logger.Printf("[%s] %s | fields=%v", level, msg, fields)
}

// IsJSONFormat returns whether JSON logging is enabled.
func IsJSONFormat() bool {
	configMu.RLock()
	defer configMu.RUnlock()
	return config.JSONFormat
}

// WithContext returns a context logger for structured logging.
func (l *Logger) WithContext(ctx map[string]interface{}) *ContextLogger {
	return &ContextLogger{logger: l, context: ctx}
}

// ContextLogger provides structured logging with key-value context.
type ContextLogger struct {
	logger  *Logger
	context map[string]interface{}
}

func (c *ContextLogger) Debug(format string, args ...interface{}) {
	c.logger.StructuredLog("debug", fmt.Sprintf(format, args...), c.context)
}

func (c *ContextLogger) Info(format string, args ...interface{}) {
	c.logger.StructuredLog("info", fmt.Sprintf(format, args...), c.context)
}

func (c *ContextLogger) Warn(format string, args ...interface{}) {
	c.logger.StructuredLog("warn", fmt.Sprintf(format, args...), c.context)
}

func (c *ContextLogger) Error(format string, args ...interface{}) {
	c.logger.StructuredLog("error", fmt.Sprintf(format, args...), c.context)
}

// CloseAll closes all open log files (call at shutdown).
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	for _, l := range loggers {
		if l.zl != nil {
			_ = l.zl.Sync()
		}
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// =============================================================================
// CONVENIENCE FUNCTIONS
// =============================================================================

func Boot(format string, args ...interface{})      { Get(CategoryBoot).Info(format, args...) }
func BootDebug(format string, args ...interface{}) { Get(CategoryBoot).Debug(format, args...) }
func BootWarn(format string, args ...interface{})  { Get(CategoryBoot).Warn(format, args...) }
func BootError(format string, args ...interface{}) { Get(CategoryBoot).Error(format, args...) }

func Registry(format string, args ...interface{})      { Get(CategoryRegistry).Info(format, args...) }
func RegistryDebug(format string, args ...interface{}) { Get(CategoryRegistry).Debug(format, args...) }
func RegistryWarn(format string, args ...interface{})  { Get(CategoryRegistry).Warn(format, args...) }
func RegistryError(format string, args ...interface{}) { Get(CategoryRegistry).Error(format, args...) }

func Updater(format string, args ...interface{})      { Get(CategoryUpdater).Info(format, args...) }
func UpdaterDebug(format string, args ...interface{}) { Get(CategoryUpdater).Debug(format, args...) }
func UpdaterWarn(format string, args ...interface{})  { Get(CategoryUpdater).Warn(format, args...) }
func UpdaterError(format string, args ...interface{}) { Get(CategoryUpdater).Error(format, args...) }

func Healer(format string, args ...interface{})      { Get(CategoryHealer).Info(format, args...) }
func HealerDebug(format string, args ...interface{}) { Get(CategoryHealer).Debug(format, args...) }
func HealerWarn(format string, args ...interface{})  { Get(CategoryHealer).Warn(format, args...) }
func HealerError(format string, args ...interface{}) { Get(CategoryHealer).Error(format, args...) }

func Decision(format string, args ...interface{})      { Get(CategoryDecision).Info(format, args...) }
func DecisionDebug(format string, args ...interface{}) { Get(CategoryDecision).Debug(format, args...) }

func Breaker(format string, args ...interface{})      { Get(CategoryBreaker).Info(format, args...) }
func BreakerDebug(format string, args ...interface{}) { Get(CategoryBreaker).Debug(format, args...) }
func BreakerWarn(format string, args ...interface{})  { Get(CategoryBreaker).Warn(format, args...) }

func Gate(format string, args ...interface{})      { Get(CategoryGate).Info(format, args...) }
func GateDebug(format string, args ...interface{}) { Get(CategoryGate).Debug(format, args...) }
func GateWarn(format string, args ...interface{})  { Get(CategoryGate).Warn(format, args...) }

func Session(format string, args ...interface{})      { Get(CategorySession).Info(format, args...) }
func SessionDebug(format string, args ...interface{}) { Get(CategorySession).Debug(format, args...) }
func SessionWarn(format string, args ...interface{})  { Get(CategorySession).Warn(format, args...) }
func SessionError(format string, args ...interface{}) { Get(CategorySession).Error(format, args...) }

func Bracket(format string, args ...interface{})      { Get(CategoryBracket).Info(format, args...) }
func BracketDebug(format string, args ...interface{}) { Get(CategoryBracket).Debug(format, args...) }

func Pipeline(format string, args ...interface{})      { Get(CategoryPipeline).Info(format, args...) }
func PipelineDebug(format string, args ...interface{}) { Get(CategoryPipeline).Debug(format, args...) }
func PipelineWarn(format string, args ...interface{})  { Get(CategoryPipeline).Warn(format, args...) }

func Formatter(format string, args ...interface{})      { Get(CategoryFormatter).Info(format, args...) }
func FormatterDebug(format string, args ...interface{}) { Get(CategoryFormatter).Debug(format, args...) }

func Diagnostics(format string, args ...interface{}) { Get(CategoryDiagnostics).Info(format, args...) }
func DiagnosticsDebug(format string, args ...interface{}) {
	Get(CategoryDiagnostics).Debug(format, args...)
}

// =============================================================================
// REQUEST ID TRACING
// =============================================================================

// RequestLogger provides request-scoped logging with a correlation ID.
type RequestLogger struct {
	logger    *Logger
	requestID string
	fields    map[string]interface{}
}

// WithRequestID creates a request-scoped logger.
func WithRequestID(category Category, requestID string) *RequestLogger {
	return &RequestLogger{
		logger:    Get(category),
		requestID: requestID,
		fields:    make(map[string]interface{}),
	}
}

// WithField adds a field to the request logger.
func (r *RequestLogger) WithField(key string, value interface{}) *RequestLogger {
	r.fields[key] = value
	return r
}

func (r *RequestLogger) formatMsg(format string, args ...interface{}) string {
	msg := fmt.Sprintf(format, args...)
	if len(r.fields) > 0 {
		return fmt.Sprintf("[req:%s] %s | %v", r.requestID, msg, r.fields)
	}
	return fmt.Sprintf("[req:%s] %s", r.requestID, msg)
}

func (r *RequestLogger) Debug(format string, args ...interface{}) {
	if r.logger.logger == nil || logLevel > LevelDebug {
		return
	}
	r.logger.logJSON("debug", r.formatMsg(format, args...))
}

func (r *RequestLogger) Info(format string, args ...interface{}) {
	if r.logger.logger == nil || logLevel > LevelInfo {
		return
	}
	r.logger.logJSON("info", r.formatMsg(format, args...))
}

func (r *RequestLogger) Warn(format string, args ...interface{}) {
	if r.logger.logger == nil || logLevel > LevelWarn {
		return
	}
	r.logger.logJSON("warn", r.formatMsg(format, args...))
}

func (r *RequestLogger) Error(format string, args ...interface{}) {
	if r.logger.logger == nil {
		return
	}
	r.logger.logJSON("error", r.formatMsg(format, args...))
}

// =============================================================================
// TIMING HELPERS
// =============================================================================

// Timer helps measure operation duration.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithInfo ends the timer and logs at info level.
func (t *Timer) StopWithInfo() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Info("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs a warning if duration exceeds threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
