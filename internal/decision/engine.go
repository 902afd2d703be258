package decision

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/synapse-ids/ids/internal/config"
	"github.com/synapse-ids/ids/internal/logging"
	"github.com/synapse-ids/ids/internal/registry"
)

// Snapshotter supplies the registry state the engine scores against,
// without coupling this package to registry.Store's concrete type.
type Snapshotter interface {
	Snapshot() *registry.Document
}

// idfCache memoizes per-keyword IDF weights for a TTL keyed loosely on
// registry size, so repeated analyze() calls against an unchanged
// registry don't re-walk every entity's keyword set (spec §4.5 "cached
// with a TTL (~5 min) keyed on registry state").
type idfCache struct {
	mu        sync.Mutex
	expiresAt time.Time
	entityN   int
	weights   map[string]float64
}

// analysisCache memoizes full Analyze results keyed on the trimmed,
// lowercased intent plus serialized context.
type analysisCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	result    Result
	expiresAt time.Time
}

// Engine is the Decision Engine (C6): TF-IDF/purpose scoring plus BFS
// impact analysis, producing REUSE/ADAPT/CREATE recommendations.
// Grounded on the reference codebase's LocalStore.TraversePath for the
// BFS shape (explicit queue + visited map, never recursion) and
// generalized from a single shortest-path query to "every consumer
// reachable from usedBy".
type Engine struct {
	store  Snapshotter
	cfg    config.DecisionConfig
	ttl    time.Duration
	idf    idfCache
	cache  analysisCache
}

// NewEngine builds a Decision Engine reading from store.
func NewEngine(store Snapshotter, cfg config.DecisionConfig) *Engine {
	return &Engine{
		store: store,
		cfg:   cfg,
		ttl:   cfg.CacheTTL(),
		cache: analysisCache{entries: make(map[string]cacheEntry)},
	}
}

// ClearCache drops every cached analysis and the IDF cache.
func (e *Engine) ClearCache() {
	e.cache.mu.Lock()
	e.cache.entries = make(map[string]cacheEntry)
	e.cache.mu.Unlock()

	e.idf.mu.Lock()
	e.idf.weights = nil
	e.idf.mu.Unlock()
}

// Analyze scores the registry against intent under context and
// returns ranked recommendations plus a summary (spec §4.5).
func (e *Engine) Analyze(intent string, ctx Context) Result {
	key := cacheKey(intent, ctx)
	if cached, ok := e.cachedResult(key); ok {
		return cached
	}

	doc := e.store.Snapshot()
	entities := filterByContext(doc.AllEntities(), ctx)

	intentKeywords := registry.ExtractKeywords(intent, registry.KeywordConfig{
		MaxKeywords:   e.cfg.MaxKeywords,
		MinKeywordLen: e.cfg.MinKeywordLen,
	})
	intentPurpose := strings.ToLower(strings.TrimSpace(intent))

	idf := e.idfWeights(doc)

	recs := make([]Recommendation, 0, len(entities))
	for _, ent := range entities {
		keywordScore := scoreKeywords(intentKeywords, ent.Keywords, idf)
		purposeScore := scorePurpose(intentPurpose, ent.Purpose)
		relevance := e.cfg.KeywordWeight*keywordScore + e.cfg.PurposeWeight*purposeScore
		if round3(relevance) < e.cfg.RelevanceThreshold {
			continue
		}
		recs = append(recs, Recommendation{
			EntityID:       ent.ID,
			EntityPath:     ent.Path,
			EntityType:     ent.Type,
			EntityPurpose:  ent.Purpose,
			RelevanceScore: round3(relevance),
			KeywordScore:   round3(keywordScore),
			PurposeScore:   round3(purposeScore),
		})
	}

	sort.Slice(recs, func(i, j int) bool { return recs[i].RelevanceScore > recs[j].RelevanceScore })
	if len(recs) > e.cfg.MaxResults {
		recs = recs[:e.cfg.MaxResults]
	}

	totalEntities := len(doc.AllEntities())
	for i := range recs {
		e.classify(doc, &recs[i], totalEntities)
	}

	result := Result{Recommendations: recs}
	if len(recs) > 0 {
		top := recs[0]
		result.Summary = Summary{Decision: top.Decision, EntityID: top.EntityID}
		result.Rationale = top.Rationale
	} else {
		result.Summary = Summary{Decision: DecisionCreate}
		result.Rationale = "no candidate entity met the relevance threshold"
	}

	if result.Summary.Decision == DecisionCreate {
		result.Justification = e.buildJustification(intent, recs)
	}

	e.storeResult(key, result)
	return result
}

func (e *Engine) classify(doc *registry.Document, rec *Recommendation, totalEntities int) {
	relevance := rec.RelevanceScore
	ent, _, ok := doc.FindByID(rec.EntityID)

	switch {
	case relevance >= e.cfg.ReuseThreshold:
		rec.Decision = DecisionReuse
		rec.Confidence = ConfidenceHigh
		rec.Rationale = fmt.Sprintf("relevance %.3f meets reuse threshold %.2f", relevance, e.cfg.ReuseThreshold)

	case ok && relevance >= e.cfg.AdaptMinScore && relevance < e.cfg.ReuseThreshold &&
		ent.Adaptability.Score >= e.cfg.AdaptMinScore && computeImpact(doc, ent, totalEntities).Percentage < e.cfg.AdaptImpactThreshold:
		impact := computeImpact(doc, ent, totalEntities)
		rec.Decision = DecisionAdapt
		rec.AdaptationImpact = &impact
		if relevance >= 0.8 {
			rec.Confidence = ConfidenceHigh
		} else {
			rec.Confidence = ConfidenceMedium
		}
		rec.Rationale = fmt.Sprintf("relevance %.3f, adaptability %.2f, impact %.1f%% below threshold",
			relevance, ent.Adaptability.Score, impact.Percentage*100)

	default:
		rec.Decision = DecisionCreate
		if relevance >= e.cfg.AdaptMinScore {
			rec.Confidence = ConfidenceMedium
		} else {
			rec.Confidence = ConfidenceLow
		}
		if ok && relevance >= e.cfg.AdaptMinScore && relevance < e.cfg.ReuseThreshold {
			impact := computeImpact(doc, ent, totalEntities)
			rec.Rationale = fmt.Sprintf("relevance %.3f sufficient but impact %.1f%% at or above threshold", relevance, impact.Percentage*100)
		} else {
			rec.Rationale = fmt.Sprintf("relevance %.3f below adapt/reuse thresholds", relevance)
		}
	}
}

// computeImpact walks the usedBy graph breadth-first from ent's direct
// consumers, using an explicit queue and visited set (never recursion,
// per the registry's BFS discipline).
func computeImpact(doc *registry.Document, ent *registry.Entity, totalEntities int) Impact {
	visited := make(map[string]bool)
	queue := append([]string(nil), ent.UsedBy...)
	for _, id := range ent.UsedBy {
		visited[id] = true
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		consumer, _, ok := doc.FindByID(current)
		if !ok {
			continue
		}
		for _, next := range consumer.UsedBy {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}

	affected := make([]string, 0, len(visited))
	for id := range visited {
		affected = append(affected, id)
	}
	sort.Strings(affected)

	pct := 0.0
	if totalEntities > 0 {
		pct = float64(len(affected)) / float64(totalEntities)
	}
	return Impact{Affected: affected, Percentage: pct}
}

func (e *Engine) buildJustification(intent string, recs []Recommendation) *Justification {
	top := recs
	if len(top) > 5 {
		top = top[:5]
	}
	patterns := make([]string, 0, len(top))
	reasons := make(map[string]string, len(top))
	for _, r := range top {
		patterns = append(patterns, r.EntityID)
		reasons[r.EntityID] = r.Rationale
	}
	return &Justification{
		EvaluatedPatterns: patterns,
		RejectionReasons:  reasons,
		NewCapability:     strings.TrimSpace(intent),
		ReviewScheduled:   time.Now().UTC().AddDate(0, 0, 30),
	}
}

// ReviewCreateDecisions classifies every entity born from a CREATE
// decision by its current usedBy count and age (spec §4.5 "Promotion
// review").
func (e *Engine) ReviewCreateDecisions() []PromotionReview {
	doc := e.store.Snapshot()
	var out []PromotionReview
	for _, ent := range doc.AllEntities() {
		if ent.CreateJustification == nil {
			continue
		}
		out = append(out, PromotionReview{EntityID: ent.ID, Status: e.classifyPromotion(ent)})
	}
	return out
}

func (e *Engine) classifyPromotion(ent *registry.Entity) PromotionStatus {
	n := len(ent.UsedBy)
	switch {
	case n >= 3:
		return PromotionCandidate
	case n >= 1:
		return PromotionMonitoring
	default:
		age := time.Since(ent.CreateJustification.ReviewScheduled.AddDate(0, 0, -30))
		if age > 60*24*time.Hour {
			return PromotionDeprecation
		}
		return PromotionMonitoring
	}
}

// GetPromotionStatus reports the single classification for one entity.
func (e *Engine) GetPromotionStatus(entityID string) (PromotionStatus, bool) {
	doc := e.store.Snapshot()
	ent, _, ok := doc.FindByID(entityID)
	if !ok || ent.CreateJustification == nil {
		return "", false
	}
	return e.classifyPromotion(ent), true
}

func (e *Engine) cachedResult(key string) (Result, bool) {
	e.cache.mu.Lock()
	defer e.cache.mu.Unlock()
	entry, ok := e.cache.entries[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return Result{}, false
	}
	return entry.result, true
}

func (e *Engine) storeResult(key string, result Result) {
	e.cache.mu.Lock()
	defer e.cache.mu.Unlock()
	e.cache.entries[key] = cacheEntry{result: result, expiresAt: time.Now().Add(e.ttl)}
}

func cacheKey(intent string, ctx Context) string {
	return fmt.Sprintf("%s|%s|%s", strings.ToLower(strings.TrimSpace(intent)), ctx.Type, ctx.Category)
}

func filterByContext(entities []*registry.Entity, ctx Context) []*registry.Entity {
	if ctx.Type == "" && ctx.Category == "" {
		return entities
	}
	out := make([]*registry.Entity, 0, len(entities))
	for _, e := range entities {
		if ctx.Type != "" && e.Type != ctx.Type {
			continue
		}
		if ctx.Category != "" && string(e.Category) != ctx.Category {
			continue
		}
		out = append(out, e)
	}
	return out
}

// idfWeights returns per-keyword IDF over the whole registry, rebuilding
// only when the cache has expired or the entity count changed.
func (e *Engine) idfWeights(doc *registry.Document) map[string]float64 {
	e.idf.mu.Lock()
	defer e.idf.mu.Unlock()

	n := doc.Count()
	if e.idf.weights != nil && time.Now().Before(e.idf.expiresAt) && e.idf.entityN == n {
		return e.idf.weights
	}

	df := make(map[string]int)
	for _, ent := range doc.AllEntities() {
		seen := make(map[string]bool, len(ent.Keywords))
		for _, kw := range ent.Keywords {
			if !seen[kw] {
				seen[kw] = true
				df[kw]++
			}
		}
	}

	weights := make(map[string]float64, len(df))
	total := float64(n)
	if total == 0 {
		total = 1
	}
	for kw, count := range df {
		weights[kw] = math.Log(total/float64(count)) + 1
	}

	e.idf.weights = weights
	e.idf.entityN = n
	e.idf.expiresAt = time.Now().Add(e.ttl)
	logging.DecisionDebug("idf cache rebuilt: %d keywords over %d entities", len(weights), n)
	return weights
}

// scoreKeywords computes TF-IDF-weighted overlap normalized by the sum
// of IDF of the intent's own keywords (spec §4.5).
func scoreKeywords(intentKeywords, entityKeywords []string, idf map[string]float64) float64 {
	if len(intentKeywords) == 0 || len(entityKeywords) == 0 {
		return 0
	}

	maxPossible := 0.0
	for _, k := range intentKeywords {
		maxPossible += weightFor(k, idf)
	}
	if maxPossible == 0 {
		return 0
	}

	earned := 0.0
	for _, ik := range intentKeywords {
		w := weightFor(ik, idf)
		best := 0.0
		for _, ek := range entityKeywords {
			if ik == ek {
				best = 1.0
				break
			}
			if strings.HasPrefix(ek, ik) || strings.HasPrefix(ik, ek) {
				if 0.5 > best {
					best = 0.5
				}
			}
		}
		earned += w * best
	}

	score := earned / maxPossible
	if score > 1 {
		score = 1
	}
	return score
}

func weightFor(keyword string, idf map[string]float64) float64 {
	if w, ok := idf[keyword]; ok {
		return w
	}
	return 1
}

// scorePurpose computes token-set overlap between the intent and an
// entity's purpose, with prefix matches at half weight, normalized by
// the smaller token set and clamped to 1 (spec §4.5).
func scorePurpose(intentPurpose, entityPurpose string) float64 {
	intentTokens := strings.Fields(intentPurpose)
	purposeTokens := strings.Fields(strings.ToLower(entityPurpose))
	if len(intentTokens) == 0 || len(purposeTokens) == 0 {
		return 0
	}

	matched := 0.0
	for _, it := range intentTokens {
		best := 0.0
		for _, pt := range purposeTokens {
			if it == pt {
				best = 1.0
				break
			}
			if strings.HasPrefix(pt, it) || strings.HasPrefix(it, pt) {
				if 0.5 > best {
					best = 0.5
				}
			}
		}
		matched += best
	}

	denom := len(intentTokens)
	if len(purposeTokens) < denom {
		denom = len(purposeTokens)
	}
	if denom == 0 {
		return 0
	}
	score := matched / float64(denom)
	if score > 1 {
		score = 1
	}
	return score
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
