package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChecksumBytes(t *testing.T) {
	sum := ChecksumBytes([]byte("hello"))
	assert.Contains(t, sum, "sha256:")
	assert.Equal(t, sum, ChecksumBytes([]byte("hello")))
	assert.NotEqual(t, sum, ChecksumBytes([]byte("world")))
}

func TestExtractKeywords(t *testing.T) {
	cfg := DefaultKeywordConfig()

	t.Run("filters stopwords and short tokens", func(t *testing.T) {
		kws := ExtractKeywords("Validate and parse the YAML schema file for the user", cfg)
		assert.Contains(t, kws, "validate")
		assert.Contains(t, kws, "parse")
		assert.Contains(t, kws, "yaml")
		assert.Contains(t, kws, "schema")
		assert.NotContains(t, kws, "and")
		assert.NotContains(t, kws, "the")
		assert.NotContains(t, kws, "for")
	})

	t.Run("dedupes preserving first-seen order", func(t *testing.T) {
		kws := ExtractKeywords("parse parse validate parse", cfg)
		assert.Equal(t, []string{"parse", "validate"}, kws)
	})

	t.Run("caps at MaxKeywords", func(t *testing.T) {
		small := KeywordConfig{MaxKeywords: 2, MinKeywordLen: 3}
		kws := ExtractKeywords("alpha beta gamma delta", small)
		assert.Len(t, kws, 2)
	})
}

func TestExtractPurpose(t *testing.T) {
	t.Run("strips comment markup from first meaningful line", func(t *testing.T) {
		text := "# Parse a yaml schema file\n\ndef parse(): pass\n"
		assert.Equal(t, "Parse a yaml schema file", ExtractPurpose(text))
	})

	t.Run("truncates to 200 chars", func(t *testing.T) {
		long := "x"
		for len(long) < 250 {
			long += "x"
		}
		purpose := ExtractPurpose("// " + long)
		assert.LessOrEqual(t, len(purpose), 200)
	})

	t.Run("empty text yields empty purpose", func(t *testing.T) {
		assert.Equal(t, "", ExtractPurpose("\n\n  \n"))
	})
}

func TestDetectDependencies(t *testing.T) {
	known := []string{"parse-yaml", "validate-schema", "write-file"}

	t.Run("matches whole-word references only", func(t *testing.T) {
		deps := DetectDependencies("calls parse-yaml then validate-schema internally", "caller", known)
		assert.ElementsMatch(t, []string{"parse-yaml", "validate-schema"}, deps)
	})

	t.Run("never includes self", func(t *testing.T) {
		deps := DetectDependencies("parse-yaml references itself", "parse-yaml", known)
		assert.NotContains(t, deps, "parse-yaml")
	})

	t.Run("rejects substring-only matches", func(t *testing.T) {
		deps := DetectDependencies("superparse-yamlx is unrelated", "caller", known)
		assert.NotContains(t, deps, "parse-yaml")
	})
}
