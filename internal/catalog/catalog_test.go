package catalog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/ocky/internal/embedding/embeddingtest"
	"github.com/kalambet/ocky/internal/vector"
)

func testDefs() Definitions {
	return Definitions{
		"greet": {Responses: []string{"hi there", "hey!"}, ExampleInput: "hello"},
		"bye":   {Responses: []string{"see ya"}, ExampleInput: "None"},
		"empty": {},
	}
}

func TestNewResponseID_Stable(t *testing.T) {
	a := NewResponseID("greet", "hi there")
	b := NewResponseID("greet", "hi there")
	assert.Equal(t, a, b)
	assert.Len(t, a.Hash, 10)
	assert.NotEqual(t, a, NewResponseID("greet", "hi there!"))
	assert.Equal(t, "greet", a.Category)
}

func TestParseResponseID(t *testing.T) {
	id := NewResponseID("small/talk", "hey")
	got, err := ParseResponseID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = ParseResponseID("nohash")
	assert.Error(t, err)
}

func TestBuild_InitialEmbeddings(t *testing.T) {
	enc := embeddingtest.New(16)
	s, err := Build(context.Background(), testDefs(), enc, nil)
	require.NoError(t, err)
	require.Equal(t, 3, s.Len())

	// Sorted by category, then file order.
	got := s.Entries()
	assert.Equal(t, "bye", got[0].ID.Category)
	assert.Equal(t, "hi there", got[1].Text)
	assert.Equal(t, "hey!", got[2].Text)

	hello, _ := enc.Encode(context.Background(), "hello")
	seeYa, _ := enc.Encode(context.Background(), "see ya")
	assert.Equal(t, hello, got[1].Embedding, "example input seeds the embedding")
	assert.Equal(t, hello, got[2].Embedding)
	assert.Equal(t, seeYa, got[0].Embedding, "\"None\" example falls back to response text")
}

func TestBuild_PersistedOverridesAndStaleDropped(t *testing.T) {
	enc := embeddingtest.New(4)
	hi := NewResponseID("greet", "hi there")
	stale := NewResponseID("greet", "removed")
	persisted := map[ResponseID]vector.Vector{
		hi:    {1, 2, 3, 4},
		stale: {9, 9, 9, 9},
	}

	s, err := Build(context.Background(), testDefs(), enc, persisted)
	require.NoError(t, err)

	e, ok := s.Lookup(hi)
	require.True(t, ok)
	assert.Equal(t, vector.Vector{1, 2, 3, 4}, e.Embedding)

	_, ok = s.Lookup(stale)
	assert.False(t, ok)
	_, ok = s.Embeddings()[stale]
	assert.False(t, ok)
	assert.Len(t, s.Embeddings(), 3)
}

func TestBuild_EncoderError(t *testing.T) {
	enc := embeddingtest.New(4)
	enc.Err = assert.AnError
	_, err := Build(context.Background(), testDefs(), enc, nil)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestWithEmbeddings_DoesNotMutateOriginal(t *testing.T) {
	s, err := Build(context.Background(), testDefs(), embeddingtest.New(4), nil)
	require.NoError(t, err)
	id := NewResponseID("bye", "see ya")
	before, _ := s.Lookup(id)

	next := s.WithEmbeddings(map[ResponseID]vector.Vector{id: {7, 7, 7, 7}})
	after, _ := next.Lookup(id)
	orig, _ := s.Lookup(id)

	assert.Equal(t, vector.Vector{7, 7, 7, 7}, after.Embedding)
	assert.Equal(t, before.Embedding, orig.Embedding)
}

func TestCategories(t *testing.T) {
	s, err := Build(context.Background(), testDefs(), embeddingtest.New(4), nil)
	require.NoError(t, err)

	cats := s.Categories()
	require.Len(t, cats, 3)
	assert.Equal(t, CategoryInfo{Name: "bye", Count: 1, ExampleInput: "None"}, cats[0])
	assert.Equal(t, CategoryInfo{Name: "empty", Count: 0}, cats[1])
	assert.Equal(t, CategoryInfo{Name: "greet", Count: 2, ExampleInput: "hello"}, cats[2])
}

func TestCategories_DuplicateTextsCountedOnce(t *testing.T) {
	defs := Definitions{
		"greet": {Responses: []string{"hi", "hey", "hi", "hi"}},
	}
	s, err := Build(context.Background(), defs, embeddingtest.New(4), nil)
	require.NoError(t, err)

	assert.Equal(t, 2, s.Len())
	cats := s.Categories()
	require.Len(t, cats, 1)
	assert.Equal(t, 2, cats[0].Count)
	assert.Equal(t, []string{"hi", "hey"}, s.Definitions()["greet"].Responses)
	assert.Len(t, defs["greet"].Responses, 4, "caller's definitions must not change")
}

func writeDefs(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, SaveDefinitions(path, testDefs()))
	return path
}

func TestDefinitions_YAMLAndJSON(t *testing.T) {
	for _, name := range []string{"responses.yaml", "responses.json"} {
		t.Run(name, func(t *testing.T) {
			path := writeDefs(t, name)
			got, err := LoadDefinitions(path)
			require.NoError(t, err)
			assert.Equal(t, testDefs()["greet"], got["greet"])
			assert.Len(t, got, 3)

			_, err = os.Stat(path + ".tmp")
			assert.True(t, os.IsNotExist(err))
		})
	}
}

func TestLoadDefinitions_Missing(t *testing.T) {
	_, err := LoadDefinitions(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestCatalog_Add(t *testing.T) {
	path := writeDefs(t, "responses.yaml")
	enc := embeddingtest.New(8)
	c := New(path)
	require.NoError(t, c.Load(context.Background(), enc, nil))

	entry, err := c.Add(context.Background(), enc, "greet", "yo", "sup")
	require.NoError(t, err)
	assert.Equal(t, NewResponseID("greet", "yo"), entry.ID)

	sup, _ := enc.Encode(context.Background(), "sup")
	got, ok := c.Snapshot().Lookup(entry.ID)
	require.True(t, ok)
	assert.Equal(t, sup, got.Embedding)

	// Category order is preserved with the new entry last in its category.
	entries := c.Snapshot().Entries()
	assert.Equal(t, "yo", entries[3].Text)

	// The file now carries the response.
	defs, err := LoadDefinitions(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"hi there", "hey!", "yo"}, defs["greet"].Responses)
}

func TestCatalog_AddToEmptyCategory(t *testing.T) {
	path := writeDefs(t, "responses.json")
	enc := embeddingtest.New(8)
	c := New(path)
	require.NoError(t, c.Load(context.Background(), enc, nil))

	_, err := c.Add(context.Background(), enc, "empty", "nothing here", "")
	require.NoError(t, err)

	entries := c.Snapshot().Entries()
	require.Len(t, entries, 4)
	assert.Equal(t, []string{"bye", "empty", "greet", "greet"}, []string{
		entries[0].ID.Category, entries[1].ID.Category, entries[2].ID.Category, entries[3].ID.Category,
	})
}

func TestCatalog_AddRejects(t *testing.T) {
	path := writeDefs(t, "responses.yaml")
	enc := embeddingtest.New(8)
	c := New(path)
	require.NoError(t, c.Load(context.Background(), enc, nil))
	before := c.Snapshot()

	_, err := c.Add(context.Background(), enc, "nope", "x", "y")
	assert.ErrorIs(t, err, ErrUnknownCategory)

	_, err = c.Add(context.Background(), enc, "greet", "hi there", "y")
	assert.ErrorIs(t, err, ErrDuplicateResponse)

	assert.Same(t, before, c.Snapshot())
}

func TestEmbeddingsBlobRoundTrip(t *testing.T) {
	in := map[ResponseID]vector.Vector{
		NewResponseID("greet", "hi there"): {0.5, -1},
		NewResponseID("bye", "see ya"):     {2, 3},
	}
	data, err := EncodeEmbeddings(in)
	require.NoError(t, err)
	out, err := DecodeEmbeddings(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestCategoryInfo_ExamplePreview(t *testing.T) {
	assert.Equal(t, "No example", CategoryInfo{}.ExamplePreview())
	assert.Equal(t, "No example", CategoryInfo{ExampleInput: "None"}.ExamplePreview())
	assert.Equal(t, "hello", CategoryInfo{ExampleInput: "hello"}.ExamplePreview())

	long := strings.Repeat("é", 60)
	assert.Equal(t, strings.Repeat("é", 50)+"...", CategoryInfo{ExampleInput: long}.ExamplePreview())
}
