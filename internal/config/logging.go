package config

// LoggingConfig is the logging half of the runtime config, consumed by
// the category loggers in internal/logging. debug_mode is the master
// switch: when false nothing is written, regardless of per-category
// toggles.
type LoggingConfig struct {
	Level      string          `yaml:"level" json:"level,omitempty"`   // debug, info, warn, error
	Format     string          `yaml:"format" json:"format,omitempty"` // json, text
	File       string          `yaml:"file" json:"file,omitempty"`
	DebugMode  bool            `yaml:"debug_mode" json:"debug_mode,omitempty"`
	Categories map[string]bool `yaml:"categories" json:"categories,omitempty"`
}

// IsCategoryEnabled reports whether a category (registry, updater,
// healer, ...) should log. A category absent from Categories defaults
// to enabled whenever debug_mode is on.
func (c *LoggingConfig) IsCategoryEnabled(category string) bool {
	if !c.DebugMode {
		return false
	}
	if c.Categories == nil {
		return true
	}
	enabled, exists := c.Categories[category]
	if !exists {
		return true
	}
	return enabled
}
