package registry

import "strings"

// Relationships is the result of get_relationships(id) (spec §4.2).
type Relationships struct {
	UsedBy       []string
	Dependencies []string
}

// QueryByKeywords returns every entity whose Keywords contain any of
// the given keywords, case-insensitively.
func QueryByKeywords(doc *Document, keywords []string) []*Entity {
	wanted := make(map[string]bool, len(keywords))
	for _, k := range keywords {
		wanted[strings.ToLower(k)] = true
	}
	out := make([]*Entity, 0)
	for _, e := range doc.AllEntities() {
		for _, kw := range e.Keywords {
			if wanted[strings.ToLower(kw)] {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// QueryByType returns every entity whose Type matches exactly.
func QueryByType(doc *Document, entityType string) []*Entity {
	out := make([]*Entity, 0)
	for _, e := range doc.AllEntities() {
		if e.Type == entityType {
			out = append(out, e)
		}
	}
	return out
}

// QueryByPath returns every entity whose Path contains the substring,
// case-insensitively.
func QueryByPath(doc *Document, substr string) []*Entity {
	needle := strings.ToLower(substr)
	out := make([]*Entity, 0)
	for _, e := range doc.AllEntities() {
		if strings.Contains(strings.ToLower(e.Path), needle) {
			out = append(out, e)
		}
	}
	return out
}

// QueryByPurpose returns every entity whose Purpose contains the
// substring, case-insensitively.
func QueryByPurpose(doc *Document, substr string) []*Entity {
	needle := strings.ToLower(substr)
	out := make([]*Entity, 0)
	for _, e := range doc.AllEntities() {
		if strings.Contains(strings.ToLower(e.Purpose), needle) {
			out = append(out, e)
		}
	}
	return out
}

// GetRelationships returns the usedBy/dependencies edges for an id.
func GetRelationships(doc *Document, id string) (Relationships, bool) {
	e, _, ok := doc.FindByID(id)
	if !ok {
		return Relationships{}, false
	}
	return Relationships{
		UsedBy:       append([]string(nil), e.UsedBy...),
		Dependencies: append([]string(nil), e.Dependencies...),
	}, true
}

// VerifyChecksum recomputes the checksum for an entity's file on disk
// and reports whether it still matches the stored value.
func VerifyChecksum(doc *Document, id string, repoRoot string) (bool, error) {
	e, _, ok := doc.FindByID(id)
	if !ok {
		return false, nil
	}
	actual, err := Checksum(joinRepoPath(repoRoot, e.Path))
	if err != nil {
		return false, err
	}
	return actual == e.Checksum, nil
}

func joinRepoPath(root, relPath string) string {
	if root == "" || root == "." {
		return relPath
	}
	return root + "/" + relPath
}
