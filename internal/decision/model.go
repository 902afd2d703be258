// Package decision implements the TF-IDF/purpose scoring and BFS
// impact analysis that turns a free-text intent into REUSE/ADAPT/CREATE
// recommendations over the entity registry.
package decision

import "time"

// Decision is one of the three possible top-level outcomes.
type Decision string

const (
	DecisionReuse  Decision = "REUSE"
	DecisionAdapt  Decision = "ADAPT"
	DecisionCreate Decision = "CREATE"
)

// Confidence qualifies how strongly a Decision is held.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Context narrows which entities are considered.
type Context struct {
	Type     string `json:"type,omitempty"`
	Category string `json:"category,omitempty"`
}

// Impact is the BFS-computed blast radius of adapting an entity.
type Impact struct {
	Affected   []string `json:"affected"`
	Percentage float64  `json:"percentage"`
}

// Recommendation is one scored candidate entity.
type Recommendation struct {
	EntityID         string     `json:"entityId"`
	EntityPath       string     `json:"entityPath"`
	EntityType       string     `json:"entityType"`
	EntityPurpose    string     `json:"entityPurpose"`
	RelevanceScore   float64    `json:"relevanceScore"`
	KeywordScore     float64    `json:"keywordScore"`
	PurposeScore     float64    `json:"purposeScore"`
	Decision         Decision   `json:"decision"`
	Confidence       Confidence `json:"confidence"`
	Rationale        string     `json:"rationale"`
	AdaptationImpact *Impact    `json:"adaptationImpact,omitempty"`
}

// Justification is attached when the top decision is CREATE.
type Justification struct {
	EvaluatedPatterns []string          `json:"evaluated_patterns"`
	RejectionReasons  map[string]string `json:"rejection_reasons"`
	NewCapability     string            `json:"new_capability"`
	ReviewScheduled   time.Time         `json:"review_scheduled"`
}

// Summary is the headline result: the top recommendation's decision.
type Summary struct {
	Decision Decision `json:"decision"`
	EntityID string   `json:"entityId,omitempty"`
}

// Result is the full return value of Analyze.
type Result struct {
	Recommendations []Recommendation `json:"recommendations"`
	Summary         Summary          `json:"summary"`
	Rationale       string           `json:"rationale"`
	Warnings        []string         `json:"warnings,omitempty"`
	Justification   *Justification   `json:"justification,omitempty"`
}

// PromotionStatus is one classification bucket from review_create_decisions.
type PromotionStatus string

const (
	PromotionCandidate   PromotionStatus = "promotion-candidate"
	PromotionMonitoring  PromotionStatus = "monitoring"
	PromotionDeprecation PromotionStatus = "deprecation-review"
)

// PromotionReview pairs an entity id with its classification.
type PromotionReview struct {
	EntityID string          `json:"entityId"`
	Status   PromotionStatus `json:"status"`
}
