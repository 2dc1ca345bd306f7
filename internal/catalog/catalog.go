// Package catalog holds the canned responses grouped by category, each with
// the target embedding the choice engine compares messages against.
package catalog

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/kalambet/ocky/internal/embedding"
	"github.com/kalambet/ocky/internal/vector"
)

// BlobEmbeddings is the persisted name of the embedding map.
const BlobEmbeddings = "embeddings"

var (
	// ErrUnknownCategory is returned when adding to a category not in the file.
	ErrUnknownCategory = errors.New("unknown category")
	// ErrDuplicateResponse is returned when the text already exists in the category.
	ErrDuplicateResponse = errors.New("response already exists in category")
)

// hashLen is the number of hex characters kept from the md5 of a response.
const hashLen = 10

// ResponseID identifies one canned response. It is stable for as long as the
// response text is unchanged.
type ResponseID struct {
	Category string `json:"category"`
	Hash     string `json:"hash"`
}

// NewResponseID derives the id of text within category.
func NewResponseID(category, text string) ResponseID {
	sum := md5.Sum([]byte(text))
	return ResponseID{Category: category, Hash: hex.EncodeToString(sum[:])[:hashLen]}
}

func (id ResponseID) String() string {
	return id.Category + "/" + id.Hash
}

// ParseResponseID is the inverse of ResponseID.String.
func ParseResponseID(s string) (ResponseID, error) {
	i := strings.LastIndexByte(s, '/')
	if i <= 0 || i == len(s)-1 {
		return ResponseID{}, fmt.Errorf("invalid response id %q", s)
	}
	return ResponseID{Category: s[:i], Hash: s[i+1:]}, nil
}

// Entry is one response with its current target embedding.
type Entry struct {
	ID        ResponseID
	Text      string
	Embedding vector.Vector
}

// CategoryInfo summarizes one category for listing.
type CategoryInfo struct {
	Name         string `json:"name"`
	Count        int    `json:"count"`
	ExampleInput string `json:"example_input"`
}

// ExamplePreview returns the example input cut to 50 characters, or
// "No example" when the category has none.
func (c CategoryInfo) ExamplePreview() string {
	if c.ExampleInput == "" || c.ExampleInput == noExample {
		return "No example"
	}
	r := []rune(c.ExampleInput)
	if len(r) <= 50 {
		return c.ExampleInput
	}
	return string(r[:50]) + "..."
}

// Snapshot is an immutable view of the catalog. Entries are ordered by
// category name, then by position in the catalog file.
type Snapshot struct {
	defs    Definitions
	entries []Entry
	index   map[ResponseID]int
}

func newSnapshot(defs Definitions, entries []Entry) *Snapshot {
	s := &Snapshot{defs: defs, entries: entries, index: make(map[ResponseID]int, len(entries))}
	for i, e := range entries {
		s.index[e.ID] = i
	}
	return s
}

// Empty returns a snapshot with no categories.
func Empty() *Snapshot {
	return newSnapshot(Definitions{}, nil)
}

// Build creates a snapshot from defs. Each response starts from the
// embedding of its category's example input, or of its own text when the
// category has none. persisted embeddings override those for ids still
// present; ids no longer in defs are dropped.
func Build(ctx context.Context, defs Definitions, enc embedding.Encoder, persisted map[ResponseID]vector.Vector) (*Snapshot, error) {
	defs = defs.Clone()

	var entries []Entry
	var texts []string
	for _, name := range defs.Names() {
		cat := defs[name]
		// Repeated texts share an id; only the first is kept.
		seen := make(map[string]bool, len(cat.Responses))
		cat.Responses = slices.DeleteFunc(cat.Responses, func(text string) bool {
			dup := seen[text]
			seen[text] = true
			return dup
		})
		defs[name] = cat
		for _, text := range cat.Responses {
			entries = append(entries, Entry{ID: NewResponseID(name, text), Text: text})
			if cat.HasExample() {
				texts = append(texts, cat.ExampleInput)
			} else {
				texts = append(texts, text)
			}
		}
	}

	// Categories share an example input, so encode each distinct text once.
	unique := make([]string, 0, len(texts))
	pos := make(map[string]int, len(texts))
	for _, t := range texts {
		if _, ok := pos[t]; !ok {
			pos[t] = len(unique)
			unique = append(unique, t)
		}
	}
	vecs, err := embedding.EncodeAll(ctx, enc, unique)
	if err != nil {
		return nil, fmt.Errorf("building catalog embeddings: %w", err)
	}

	for i := range entries {
		initial := vecs[pos[texts[i]]]
		if saved, ok := persisted[entries[i].ID]; ok && len(saved) == len(initial) {
			entries[i].Embedding = saved.Clone()
		} else {
			entries[i].Embedding = initial.Clone()
		}
	}
	return newSnapshot(defs, entries), nil
}

// Len returns the number of responses.
func (s *Snapshot) Len() int { return len(s.entries) }

// Entries returns the responses in iteration order. The slice is shared and
// must not be modified.
func (s *Snapshot) Entries() []Entry { return s.entries }

// Lookup returns the entry for id.
func (s *Snapshot) Lookup(id ResponseID) (Entry, bool) {
	i, ok := s.index[id]
	if !ok {
		return Entry{}, false
	}
	return s.entries[i], true
}

// Definitions returns a copy of the category definitions.
func (s *Snapshot) Definitions() Definitions { return s.defs.Clone() }

// Embeddings returns a copy of every response embedding keyed by id.
func (s *Snapshot) Embeddings() map[ResponseID]vector.Vector {
	out := make(map[ResponseID]vector.Vector, len(s.entries))
	for _, e := range s.entries {
		out[e.ID] = e.Embedding.Clone()
	}
	return out
}

// WithEmbeddings returns a new snapshot whose embeddings are replaced by
// those in emb. Ids absent from emb keep their current embedding; ids not in
// the catalog are ignored.
func (s *Snapshot) WithEmbeddings(emb map[ResponseID]vector.Vector) *Snapshot {
	entries := make([]Entry, len(s.entries))
	for i, e := range s.entries {
		if v, ok := emb[e.ID]; ok {
			e.Embedding = v.Clone()
		}
		entries[i] = e
	}
	return newSnapshot(s.defs, entries)
}

// Categories lists every category with its response count, sorted by name.
func (s *Snapshot) Categories() []CategoryInfo {
	names := s.defs.Names()
	out := make([]CategoryInfo, 0, len(names))
	for _, name := range names {
		c := s.defs[name]
		out = append(out, CategoryInfo{Name: name, Count: len(c.Responses), ExampleInput: c.ExampleInput})
	}
	return out
}

// Catalog publishes the current Snapshot and serializes manual additions.
type Catalog struct {
	path string
	snap atomic.Pointer[Snapshot]
	mu   sync.Mutex
}

// New creates a Catalog backed by the file at path, starting empty.
func New(path string) *Catalog {
	c := &Catalog{path: path}
	c.snap.Store(Empty())
	return c
}

// Path returns the catalog file location.
func (c *Catalog) Path() string { return c.path }

// Snapshot returns the current immutable view.
func (c *Catalog) Snapshot() *Snapshot { return c.snap.Load() }

// Replace publishes s.
func (c *Catalog) Replace(s *Snapshot) { c.snap.Store(s) }

// Load rebuilds the catalog from its file and the persisted embeddings.
func (c *Catalog) Load(ctx context.Context, enc embedding.Encoder, persisted map[ResponseID]vector.Vector) error {
	defs, err := LoadDefinitions(c.path)
	if err != nil {
		return err
	}
	s, err := Build(ctx, defs, enc, persisted)
	if err != nil {
		return err
	}
	c.Replace(s)
	return nil
}

// Add appends text to an existing category, embedding it from example (or
// from text when example is empty), and rewrites the catalog file. The new
// snapshot is published only after the file is saved.
func (c *Catalog) Add(ctx context.Context, enc embedding.Encoder, category, text, example string) (Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.Snapshot()
	cat, ok := cur.defs[category]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
	if slices.Contains(cat.Responses, text) {
		return Entry{}, fmt.Errorf("%w: %q", ErrDuplicateResponse, category)
	}

	src := example
	if src == "" || src == noExample {
		src = text
	}
	emb, err := enc.Encode(ctx, src)
	if err != nil {
		return Entry{}, fmt.Errorf("embedding new response: %w", err)
	}

	defs := cur.Definitions()
	cat = defs[category]
	cat.Responses = append(cat.Responses, text)
	defs[category] = cat
	if err := SaveDefinitions(c.path, defs); err != nil {
		return Entry{}, err
	}

	entry := Entry{ID: NewResponseID(category, text), Text: text, Embedding: emb}

	// Keep category order: insert after the last entry of this category.
	entries := make([]Entry, 0, len(cur.entries)+1)
	inserted := false
	for i, e := range cur.entries {
		entries = append(entries, e)
		last := i == len(cur.entries)-1 || cur.entries[i+1].ID.Category != category
		if !inserted && e.ID.Category == category && last {
			entries = append(entries, entry)
			inserted = true
		}
	}
	if !inserted {
		// Category exists but had no responses; place it by name.
		at := len(entries)
		for i, e := range entries {
			if e.ID.Category > category {
				at = i
				break
			}
		}
		entries = slices.Insert(entries, at, entry)
	}

	c.Replace(newSnapshot(defs, entries))
	return entry, nil
}

type embeddingRecord struct {
	Category string    `json:"category"`
	Hash     string    `json:"hash"`
	Vector   []float64 `json:"vector"`
}

// EncodeEmbeddings serializes an embedding map as the persisted blob.
func EncodeEmbeddings(emb map[ResponseID]vector.Vector) ([]byte, error) {
	records := make([]embeddingRecord, 0, len(emb))
	for id, v := range emb {
		records = append(records, embeddingRecord{Category: id.Category, Hash: id.Hash, Vector: v})
	}
	slices.SortFunc(records, func(a, b embeddingRecord) int {
		if c := strings.Compare(a.Category, b.Category); c != 0 {
			return c
		}
		return strings.Compare(a.Hash, b.Hash)
	})
	return json.Marshal(records)
}

// DecodeEmbeddings parses a blob written by EncodeEmbeddings.
func DecodeEmbeddings(data []byte) (map[ResponseID]vector.Vector, error) {
	var records []embeddingRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decoding embeddings: %w", err)
	}
	out := make(map[ResponseID]vector.Vector, len(records))
	for _, r := range records {
		out[ResponseID{Category: r.Category, Hash: r.Hash}] = vector.Vector(r.Vector)
	}
	return out, nil
}
