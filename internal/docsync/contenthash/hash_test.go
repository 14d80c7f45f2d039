package contenthash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mschirtzinger/dualsync/internal/docsync/schema"
	"github.com/mschirtzinger/dualsync/internal/docsync/syncerr"
)

func TestHashDeterminism(t *testing.T) {
	doc := schema.Document{ID: "doc1", Content: "hello", Metadata: map[string]string{"a": "1"}}

	h1, err := Hash(doc)
	require.NoError(t, err)
	h2, err := Hash(doc)
	require.NoError(t, err)

	assert.Equal(t, h1, h2, "Hash must be deterministic")
	assert.Len(t, string(h1), 64, "SHA-256 hex is 64 characters")
}

func TestHashEmptyID(t *testing.T) {
	_, err := Hash(schema.Document{Content: "hello"})
	require.Error(t, err)
	assert.True(t, syncerr.Is(err, syncerr.InvalidInput))
}

func TestHashIgnoresMetadataOrder(t *testing.T) {
	// Go maps have no order, so build the same set many times with
	// different insertion sequences and check all digests agree.
	keys := []string{"z", "a", "m", "references", "belongs_to"}
	want := MustHash(schema.Document{ID: "d", Content: "x", Metadata: map[string]string{
		"z": "1", "a": "2", "m": "3", "references": "r", "belongs_to": "b",
	}})
	for shift := 0; shift < len(keys); shift++ {
		meta := map[string]string{}
		for i := range keys {
			k := keys[(i+shift)%len(keys)]
			meta[k] = map[string]string{"z": "1", "a": "2", "m": "3", "references": "r", "belongs_to": "b"}[k]
		}
		assert.Equal(t, want, MustHash(schema.Document{ID: "d", Content: "x", Metadata: meta}))
	}
}

func TestHashIgnoresNormalizedWhitespace(t *testing.T) {
	base := MustHash(schema.Document{ID: "d", Content: "hello world\n\nsecond  paragraph"})

	variants := []string{
		"  hello world\n\nsecond paragraph  ",
		"hello   world\r\n\r\nsecond\tparagraph",
		"hello world \n\n\n\nsecond paragraph\n",
		"\n\nhello world\n \t\nsecond paragraph",
	}
	for _, v := range variants {
		assert.Equal(t, base, MustHash(schema.Document{ID: "d", Content: v}), "variant %q", v)
	}
}

func TestHashChangesWithSemanticContent(t *testing.T) {
	base := schema.Document{ID: "d", Content: "hello", Metadata: map[string]string{"references": "a"}}
	h := MustHash(base)

	changed := []schema.Document{
		{ID: "d", Content: "hello world", Metadata: map[string]string{"references": "a"}},
		{ID: "d", Content: "hello\nworld", Metadata: map[string]string{"references": "a"}},
		{ID: "d", Content: "hello", Metadata: map[string]string{"references": "b"}},
		{ID: "d", Content: "hello", Metadata: map[string]string{"references": "a", "belongs_to": "x"}},
		{ID: "d", Content: "hello"},
	}
	for _, doc := range changed {
		assert.NotEqual(t, h, MustHash(doc), "doc %+v", doc)
	}
}

func TestHashIgnoresVolatileKeys(t *testing.T) {
	a := MustHash(schema.Document{ID: "d", Content: "x", Metadata: map[string]string{"updated_at": "2024-01-01"}})
	b := MustHash(schema.Document{ID: "d", Content: "x", Metadata: map[string]string{"updated_at": "2025-06-30", "timestamp": "1"}})
	c := MustHash(schema.Document{ID: "d", Content: "x"})

	assert.Equal(t, a, b)
	assert.Equal(t, a, c)
}

func TestHashCustomVolatileKeys(t *testing.T) {
	h := New([]string{"revision"})

	a, err := h.Hash(schema.Document{ID: "d", Content: "x", Metadata: map[string]string{"revision": "1", "updated_at": "t1"}})
	require.NoError(t, err)
	b, err := h.Hash(schema.Document{ID: "d", Content: "x", Metadata: map[string]string{"revision": "2", "updated_at": "t1"}})
	require.NoError(t, err)
	c, err := h.Hash(schema.Document{ID: "d", Content: "x", Metadata: map[string]string{"revision": "2", "updated_at": "t2"}})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, b, c, "updated_at is not volatile for this hasher")
}

func TestHashNoSeparatorAmbiguity(t *testing.T) {
	a := MustHash(schema.Document{ID: "d", Content: "x", Metadata: map[string]string{"a": "bc"}})
	b := MustHash(schema.Document{ID: "d", Content: "x", Metadata: map[string]string{"a": "b", "": "c"}})
	c := MustHash(schema.Document{ID: "d", Content: "x", Metadata: map[string]string{"ab": "c"}})

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, b, c)
}

func TestHashUnicodeNormalization(t *testing.T) {
	composed := MustHash(schema.Document{ID: "d", Content: "caf\u00e9"})
	decomposed := MustHash(schema.Document{ID: "d", Content: "cafe\u0301"})
	assert.Equal(t, composed, decomposed)
}

func TestHashIndependentOfID(t *testing.T) {
	// The record is keyed by id already; the hash addresses content only.
	a := MustHash(schema.Document{ID: "a", Content: "same"})
	b := MustHash(schema.Document{ID: "b", Content: "same"})
	assert.Equal(t, a, b)
}

func TestFilterMetadata(t *testing.T) {
	h := New(nil)
	got := h.FilterMetadata(schema.Document{ID: "d", Metadata: map[string]string{
		" title ":    " Hello ",
		"updated_at": "now",
	}})
	assert.Equal(t, map[string]string{"title": "Hello"}, got)
}

func TestNormalizeContent(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"   ", ""},
		{"a\r\nb", "a\nb"},
		{"a\rb", "a\nb"},
		{"a \t b", "a b"},
		{"a\n\n\n\nb", "a\n\nb"},
		{"\n\na\n\n", "a"},
		{"line  \nnext", "line\nnext"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeContent(tt.in), "input %q", tt.in)
	}
}

func TestHashRejectsCollidingKeys(t *testing.T) {
	doc := schema.Document{ID: "d", Content: "x", Metadata: map[string]string{"a": "1", " a": "2"}}

	for i := 0; i < 50; i++ {
		_, err := Hash(doc)
		require.Error(t, err)
		assert.True(t, syncerr.Is(err, syncerr.InvalidInput))
	}
}

func TestHashVolatileCollisionIgnored(t *testing.T) {
	doc := schema.Document{ID: "d", Content: "x", Metadata: map[string]string{"updated_at": "1", " updated_at ": "2"}}

	h, err := Hash(doc)
	require.NoError(t, err)
	assert.Equal(t, MustHash(schema.Document{ID: "d", Content: "x"}), h)
}

func TestFilterMetadataStableOnCollision(t *testing.T) {
	doc := schema.Document{ID: "d", Content: "x", Metadata: map[string]string{"a": "1", " a": "2"}}

	h := New(nil)
	for i := 0; i < 50; i++ {
		assert.Equal(t, map[string]string{"a": "2"}, h.FilterMetadata(doc))
	}
}
