package roadmap

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cicciopanzer27/mia/extract"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestStore_LoadMissing(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), DefaultFile), WithClock(fixedClock(t0)))

	r, err := s.Load()

	require.NoError(t, err)
	assert.Equal(t, 0, r.Symbols.Len())
	assert.Empty(t, r.OpenQuestions)
	assert.NotNil(t, r.OpenQuestions)
	assert.Equal(t, Version, r.Metadata.Version)
	assert.True(t, r.Metadata.Created.Equal(t0))
}

func TestStore_LoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFile)
	require.NoError(t, os.WriteFile(path, []byte(`{"focus_symbols": [`), 0o644))

	r, err := NewStore(path).Load()

	require.Error(t, err)
	pe, ok := IsPersistenceError(err)
	require.True(t, ok)
	assert.Equal(t, "load", pe.Op)
	assert.Equal(t, path, pe.Path)
	require.NotNil(t, r)
	assert.Equal(t, 0, r.Symbols.Len())
}

func TestStore_Quarantine(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFile)
	s := NewStore(path, WithClock(fixedClock(t0)))

	moved, err := s.Quarantine()
	require.NoError(t, err)
	assert.Empty(t, moved, "nothing to move without a file")

	require.NoError(t, os.WriteFile(path, []byte(`{"focus_symbols": [`), 0o644))
	_, err = s.Load()
	require.Error(t, err)

	moved, err = s.Quarantine()
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%s.corrupt-%d", path, t0.Unix()), moved)
	assert.NoFileExists(t, path)

	data, err := os.ReadFile(moved)
	require.NoError(t, err)
	assert.Equal(t, `{"focus_symbols": [`, string(data))

	require.NoError(t, s.Save(seeded()))
	assert.FileExists(t, moved)
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFile)
	s := NewStore(path, WithClock(fixedClock(t0)))

	r := Merge(seeded(), Update{
		Symbols:   extract.NewSet("Triple_product"),
		Questions: []string{"What limits Triple_product?"},
		Review: &PeerReview{
			ID: "rev-1", Reviewer: "llama3", Timestamp: At(t0),
			Assessment: "Needs sources.", Confidence: 0.75, Cycle: 1,
		},
		Sources: []WebSource{{
			ID: "source.web.en-wikipedia-org-wiki-q-plasma", URL: "https://en.wikipedia.org/wiki/Q_plasma",
			Title: "Q plasma", Success: true, ExtractedConcepts: []string{"Fusion"}, FetchedAt: At(t0),
		}},
	})
	r.Connections = json.RawMessage(`[{"from":"Q_plasma","to":"Lawson_criterion","weight":0.9}]`)

	require.NoError(t, s.Save(r))

	loaded, err := s.Load()
	require.NoError(t, err)

	opts := cmp.Transformer("compactJSON", func(m json.RawMessage) string {
		var v any
		if err := json.Unmarshal(m, &v); err != nil {
			return string(m)
		}
		out, _ := json.Marshal(v)
		return string(out)
	})
	if diff := cmp.Diff(r, loaded, opts, cmp.AllowUnexported(WebSource{}, PeerReview{})); diff != "" {
		t.Errorf("round trip mismatch (-saved +loaded):\n%s", diff)
	}
}

// A file co-edited by other tools: reviews carry "text" instead of
// "assessment", records carry members this package does not know, and a
// source lacks "id" and "success".
const collaboratorRoadmap = `{
  "metadata": {"created": "2026-02-01T09:00:00", "version": "2.0"},
  "focus_symbols": ["Q_plasma"],
  "open_questions": [],
  "symbolic_connections": [],
  "dashboard": {"pinned": ["Q_plasma"]},
  "web_sources": [
    {"url": "https://en.wikipedia.org/wiki/Q_plasma", "extracted_concepts": ["Fusion"],
     "fetched_at": "2026-02-01T09:05:00Z", "relevance_score": 0.8, "status": "curated"}
  ],
  "peer_reviews": [
    {"reviewer": "curator", "timestamp": "2026-02-01T10:00:00Z", "text": "Cite the Lawson paper.",
     "confidence": 0.6, "status": "accepted"}
  ]
}`

func TestStore_LoadSaveKeepsForeignMembers(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFile)
	require.NoError(t, os.WriteFile(path, []byte(collaboratorRoadmap), 0o644))
	s := NewStore(path, WithClock(fixedClock(t0)))

	r, err := s.Load()
	require.NoError(t, err)
	require.Len(t, r.PeerReviews, 1)
	assert.Equal(t, "Cite the Lawson paper.", r.PeerReviews[0].Assessment)

	require.NoError(t, s.Save(r))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var saved struct {
		Dashboard   json.RawMessage   `json:"dashboard"`
		WebSources  []json.RawMessage `json:"web_sources"`
		PeerReviews []json.RawMessage `json:"peer_reviews"`
	}
	require.NoError(t, json.Unmarshal(data, &saved))

	assert.JSONEq(t, `{"pinned": ["Q_plasma"]}`, string(saved.Dashboard))
	require.Len(t, saved.WebSources, 1)
	assert.JSONEq(t, `{"url": "https://en.wikipedia.org/wiki/Q_plasma", "extracted_concepts": ["Fusion"],
		"fetched_at": "2026-02-01T09:05:00Z", "relevance_score": 0.8, "status": "curated"}`,
		string(saved.WebSources[0]))
	require.Len(t, saved.PeerReviews, 1)
	assert.JSONEq(t, `{"reviewer": "curator", "timestamp": "2026-02-01T10:00:00Z",
		"text": "Cite the Lawson paper.", "confidence": 0.6, "status": "accepted"}`,
		string(saved.PeerReviews[0]))

	again, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "Cite the Lawson paper.", again.PeerReviews[0].Assessment)
}

func TestStore_SaveUpdatesMetadata(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFile)
	later := t0.Add(time.Minute)
	s := NewStore(path, WithClock(fixedClock(later)))

	r := seeded()
	r.Symbols.Add("Tokamak")
	r.OpenQuestions = append(r.OpenQuestions, "Is the tokamak stable?")
	r.Metadata.TotalSymbols = 99

	require.NoError(t, s.Save(r))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var raw struct {
		Metadata struct {
			TotalSymbols   int    `json:"total_symbols"`
			TotalQuestions int    `json:"total_questions"`
			LastUpdated    string `json:"last_updated"`
			Version        string `json:"version"`
		} `json:"metadata"`
		FocusSymbols  []string `json:"focus_symbols"`
		OpenQuestions []string `json:"open_questions"`
	}
	require.NoError(t, json.Unmarshal(data, &raw))

	assert.Equal(t, len(raw.FocusSymbols), raw.Metadata.TotalSymbols)
	assert.Equal(t, len(raw.OpenQuestions), raw.Metadata.TotalQuestions)
	assert.Equal(t, []string{"Lawson_criterion", "Q_plasma", "Tokamak"}, raw.FocusSymbols)
	assert.Equal(t, later.Format(time.RFC3339Nano), raw.Metadata.LastUpdated)
	assert.Equal(t, Version, raw.Metadata.Version)
}

func TestStore_SaveFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFile)
	require.NoError(t, NewStore(path, WithClock(fixedClock(t0))).Save(New(t0)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Contains(t, string(data), "\n  \"metadata\": {\n    \"created\"")
	for _, key := range []string{"metadata", "focus_symbols", "open_questions", "operational_recommendations", "symbolic_connections", "web_sources", "peer_reviews"} {
		assert.Contains(t, string(data), `"`+key+`"`)
	}
	assert.Contains(t, string(data), `"symbolic_connections": []`)
}

func TestStore_SaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, DefaultFile))

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Save(seeded()))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, DefaultFile, entries[0].Name())
}

func TestStore_SaveFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing-dir", DefaultFile)

	err := NewStore(path).Save(seeded())

	require.Error(t, err)
	pe, ok := IsPersistenceError(err)
	require.True(t, ok)
	assert.Equal(t, "save", pe.Op)
}

func TestDecode_LegacyGeneratorFile(t *testing.T) {
	data := []byte(`{
		"metadata": {
			"created": "2025-06-01T10:00:00.123456",
			"last_updated": "2025-06-02T11:30:00",
			"version": "2.0",
			"total_symbols": 2,
			"total_questions": 1
		},
		"focus_symbols": [
			"dark energy",
			{"id": "SYM_1", "name": "Q_plasma", "domain": "nuclear_fusion"}
		],
		"open_questions": [
			{"id": "Q_1", "text": "What limits the triple product?", "status": "open"}
		],
		"operational_recommendations": [],
		"symbolic_connections": {"Q_plasma": ["Lawson_criterion"]},
		"web_sources": [{"url": "https://www.iter.org/", "title": "ITER", "extracted_concepts": ["ITER"], "relevance_score": 0.93}],
		"peer_reviews": [{"reviewer": "AutoReviewer", "timestamp": "2025-06-02T11:30:00.5", "assessment": "consistent", "confidence": 0.8}]
	}`)

	r, err := Decode(data)
	require.NoError(t, err)

	assert.Equal(t, []string{"Q_plasma", "dark energy"}, r.SortedSymbols())
	assert.Equal(t, []string{"What limits the triple product?"}, r.OpenQuestions)
	assert.Equal(t, 2025, r.Metadata.Created.Year())
	assert.JSONEq(t, `{"Q_plasma": ["Lawson_criterion"]}`, string(r.Connections))
	require.Len(t, r.PeerReviews, 1)
	assert.Equal(t, "AutoReviewer", r.PeerReviews[0].Reviewer)
	assert.Equal(t, 500*time.Millisecond, time.Duration(r.PeerReviews[0].Timestamp.Nanosecond()))
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `nope`},
		{"symbol is a number", `{"focus_symbols": [42]}`},
		{"question object without text", `{"open_questions": [{"id": "Q_1"}]}`},
		{"bad timestamp", `{"metadata": {"created": "yesterday"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestDecode_EmptyObject(t *testing.T) {
	r, err := Decode([]byte(`{}`))
	require.NoError(t, err)

	assert.NotNil(t, r.Symbols)
	assert.NotNil(t, r.OpenQuestions)
	assert.Equal(t, Version, r.Metadata.Version)
	assert.JSONEq(t, `[]`, string(r.Connections))
}
