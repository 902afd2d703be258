// Package registry implements the content-addressed entity registry: its
// on-disk document, query primitives, file-watcher driven updater, and
// bounded self-healer.
package registry

import "time"

// Category is one of the seven recognized top-level entity groupings.
type Category string

const (
	CategoryTasks      Category = "tasks"
	CategoryTemplates  Category = "templates"
	CategoryScripts    Category = "scripts"
	CategoryModules    Category = "modules"
	CategoryAgents     Category = "agents"
	CategoryChecklists Category = "checklists"
	CategoryData       Category = "data"
)

// AllCategories lists every recognized category in a stable order.
var AllCategories = []Category{
	CategoryTasks, CategoryTemplates, CategoryScripts,
	CategoryModules, CategoryAgents, CategoryChecklists, CategoryData,
}

// Adaptability bounds how safely an entity may be modified.
type Adaptability struct {
	Score           float64  `json:"score"`
	Constraints     []string `json:"constraints,omitempty"`
	ExtensionPoints []string `json:"extensionPoints,omitempty"`
}

// CreateJustification is attached to an entity born out of a CREATE
// decision (spec §4.5).
type CreateJustification struct {
	EvaluatedPatterns []string          `json:"evaluated_patterns"`
	RejectionReasons  map[string]string `json:"rejection_reasons"`
	NewCapability     string            `json:"new_capability"`
	ReviewScheduled   time.Time         `json:"review_scheduled"`
}

// Entity is a single tracked framework artifact.
type Entity struct {
	ID                  string               `json:"id"`
	Category            Category             `json:"category"`
	Type                string               `json:"type"`
	Path                string               `json:"path"`
	Purpose             string               `json:"purpose"`
	Keywords            []string             `json:"keywords"`
	Dependencies        []string             `json:"dependencies"`
	UsedBy              []string             `json:"usedBy"`
	Adaptability        Adaptability         `json:"adaptability"`
	Checksum            string               `json:"checksum"`
	LastVerified        time.Time            `json:"lastVerified"`
	CreateJustification *CreateJustification `json:"createJustification,omitempty"`
}

// CategoryDescriptor documents one category entry in the metadata block.
type CategoryDescriptor struct {
	Name  Category `json:"name"`
	Count int      `json:"count"`
}

// Metadata is the registry document's header block.
type Metadata struct {
	Version           string               `json:"version"`
	LastUpdated       time.Time            `json:"lastUpdated"`
	EntityCount       int                  `json:"entityCount"`
	ChecksumAlgorithm string               `json:"checksumAlgorithm"`
	GeneratedBy       string               `json:"generatedBy"`
	Categories        []CategoryDescriptor `json:"categories"`
}

// Document is the canonical on-disk form of the registry: metadata plus
// entities nested by category then by id.
type Document struct {
	Metadata Metadata                         `json:"metadata"`
	Entities map[Category]map[string]*Entity `json:"entities"`
}

// NewDocument returns an empty, well-formed document.
func NewDocument() *Document {
	d := &Document{
		Metadata: Metadata{
			Version:           "1",
			ChecksumAlgorithm: "sha256",
			GeneratedBy:       "synapse-ids",
		},
		Entities: make(map[Category]map[string]*Entity),
	}
	for _, c := range AllCategories {
		d.Entities[c] = make(map[string]*Entity)
	}
	return d
}

// Clone returns a deep copy of the document, used for the copy-on-write
// reader snapshot semantics (spec §5).
func (d *Document) Clone() *Document {
	cp := &Document{Metadata: d.Metadata}
	cp.Metadata.Categories = append([]CategoryDescriptor(nil), d.Metadata.Categories...)
	cp.Entities = make(map[Category]map[string]*Entity, len(d.Entities))
	for cat, m := range d.Entities {
		cm := make(map[string]*Entity, len(m))
		for id, e := range m {
			ce := *e
			ce.Keywords = append([]string(nil), e.Keywords...)
			ce.Dependencies = append([]string(nil), e.Dependencies...)
			ce.UsedBy = append([]string(nil), e.UsedBy...)
			cm[id] = &ce
		}
		cp.Entities[cat] = cm
	}
	return cp
}

// FindByID returns the entity with the given id and the category it
// lives in, across all categories.
func (d *Document) FindByID(id string) (*Entity, Category, bool) {
	for cat, m := range d.Entities {
		if e, ok := m[id]; ok {
			return e, cat, true
		}
	}
	return nil, "", false
}

// AllEntities returns every entity in the document in unspecified order.
func (d *Document) AllEntities() []*Entity {
	out := make([]*Entity, 0)
	for _, m := range d.Entities {
		for _, e := range m {
			out = append(out, e)
		}
	}
	return out
}

// Count returns the total number of entities across all categories.
func (d *Document) Count() int {
	n := 0
	for _, m := range d.Entities {
		n += len(m)
	}
	return n
}
