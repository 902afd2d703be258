package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"regexp"
	"strings"
)

// stopWords are dropped from keyword extraction. Short, common, and
// purely structural English words carry no retrieval signal.
var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "can": true, "her": true,
	"was": true, "one": true, "our": true, "out": true, "day": true,
	"get": true, "has": true, "him": true, "his": true, "how": true,
	"man": true, "new": true, "now": true, "old": true, "see": true,
	"two": true, "way": true, "who": true, "boy": true, "did": true,
	"its": true, "let": true, "put": true, "say": true, "she": true,
	"too": true, "use": true, "with": true, "this": true, "that": true,
	"from": true, "have": true, "will": true, "your": true, "when": true,
	"them": true, "then": true, "than": true, "into": true, "were": true,
	"been": true, "these": true, "their": true, "which": true, "there": true,
}

var nonKeywordChars = regexp.MustCompile(`[^a-z0-9\s\-]`)

// Checksum computes the stable content hash used throughout the
// registry: "sha256:<lowercase hex>" over raw file bytes.
func Checksum(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return ChecksumBytes(data), nil
}

// ChecksumBytes computes the checksum directly over already-read bytes,
// avoiding a second disk read when the caller already has the content.
func ChecksumBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// KeywordConfig bounds keyword extraction (spec §9 configurability).
type KeywordConfig struct {
	MaxKeywords   int
	MinKeywordLen int
}

// DefaultKeywordConfig matches spec.md §9's defaults.
func DefaultKeywordConfig() KeywordConfig {
	return KeywordConfig{MaxKeywords: 15, MinKeywordLen: 3}
}

// ExtractKeywords lowercases text, strips everything but [a-z0-9\s\-],
// splits on whitespace, drops stop words and short tokens, and returns
// an ordered unique list capped at cfg.MaxKeywords (first-seen order).
func ExtractKeywords(text string, cfg KeywordConfig) []string {
	lower := strings.ToLower(text)
	cleaned := nonKeywordChars.ReplaceAllString(lower, " ")
	fields := strings.Fields(cleaned)

	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, cfg.MaxKeywords)
	for _, tok := range fields {
		if len(out) >= cfg.MaxKeywords {
			break
		}
		if len(tok) < cfg.MinKeywordLen {
			continue
		}
		if stopWords[tok] {
			continue
		}
		if seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}

// commentPrefixes strips leading markup/comment syntax so a purpose
// line reads as prose regardless of source file type.
var commentPrefixes = []string{"# ", "#", "// ", "//", "* ", "*", "<!--", "-->", "\"\"\"", "'''"}

// ExtractPurpose pulls a deterministic ≤200 char summary from the first
// meaningful comment/header line of text.
func ExtractPurpose(text string) string {
	lines := strings.Split(text, "\n")
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		for _, p := range commentPrefixes {
			if strings.HasPrefix(trimmed, p) {
				trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, p))
				break
			}
		}
		trimmed = strings.TrimSpace(strings.Trim(trimmed, "#*\"'"))
		if trimmed == "" {
			continue
		}
		if len(trimmed) > 200 {
			trimmed = trimmed[:200]
		}
		return trimmed
	}
	return ""
}

// DetectDependencies scans text for references to known entity ids,
// returning the subset of knownIDs that appear as whole-word matches
// and never includes selfID.
func DetectDependencies(text string, selfID string, knownIDs []string) []string {
	out := make([]string, 0)
	for _, id := range knownIDs {
		if id == "" || id == selfID {
			continue
		}
		if containsWholeToken(text, id) {
			out = append(out, id)
		}
	}
	return out
}

func containsWholeToken(text, token string) bool {
	idx := 0
	for {
		pos := strings.Index(text[idx:], token)
		if pos < 0 {
			return false
		}
		start := idx + pos
		end := start + len(token)
		beforeOK := start == 0 || !isWordChar(text[start-1])
		afterOK := end == len(text) || !isWordChar(text[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
		if idx >= len(text) {
			return false
		}
	}
}

func isWordChar(b byte) bool {
	return b == '_' || b == '-' ||
		(b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
