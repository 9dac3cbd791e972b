// Package roadmap holds the persisted knowledge aggregate: focus symbols,
// open questions, peer reviews and fetched web sources.
//
// A Roadmap is a plain value. Merge returns a new value and never touches
// the disk; Store loads and atomically saves it.
package roadmap

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/cicciopanzer27/mia/extract"
)

// Version is written to metadata.version.
const Version = "2.0"

// Timestamp is a time that also decodes the timezone-less ISO-8601 form
// ("2024-05-01T10:00:00.123456") found in older roadmap files.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// At wraps t, normalized to UTC.
func At(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC()}
}

// MarshalJSON encodes RFC 3339 with sub-second precision, or null when zero.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// UnmarshalJSON accepts RFC 3339, naive ISO-8601 (read as UTC), "" and null.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("timestamp: unrecognized format %q", s)
}

// Metadata carries bookkeeping derived from the collections.
type Metadata struct {
	Created         Timestamp `json:"created"`
	LastUpdated     Timestamp `json:"last_updated"`
	Version         string    `json:"version"`
	TotalSymbols    int       `json:"total_symbols"`
	TotalQuestions  int       `json:"total_questions"`
	CyclesCompleted int       `json:"cycles_completed"`
}

// Recommendation is an operational next step regenerated on every merge.
type Recommendation struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
}

// Recommendation types.
const (
	RecSymbolConnection   = "symbol_connection"
	RecQuestionResolution = "question_resolution"
	RecSourceValidation   = "source_validation"
)

// WebSource records the latest fetch of one URL.
type WebSource struct {
	ID                string    `json:"id"`
	URL               string    `json:"url"`
	Title             string    `json:"title,omitempty"`
	Success           bool      `json:"success"`
	ExtractedConcepts []string  `json:"extracted_concepts"`
	FetchedAt         Timestamp `json:"fetched_at"`

	// Extra holds members written by other tools.
	Extra  map[string]json.RawMessage `json:"-"`
	absent []string
}

// PeerReview is one appended review record.
type PeerReview struct {
	ID          string    `json:"id,omitempty"`
	Reviewer    string    `json:"reviewer"`
	Timestamp   Timestamp `json:"timestamp"`
	Assessment  string    `json:"assessment"`
	Confidence  float64   `json:"confidence"`
	Cycle       int       `json:"cycle,omitempty"`
	Suggestions []string  `json:"suggestions,omitempty"`

	// Extra holds members written by other tools.
	Extra  map[string]json.RawMessage `json:"-"`
	absent []string
}

// Roadmap is the persisted aggregate.
type Roadmap struct {
	Metadata        Metadata         `json:"metadata"`
	Symbols         extract.Set      `json:"focus_symbols"`
	OpenQuestions   []string         `json:"open_questions"`
	Recommendations []Recommendation `json:"operational_recommendations"`

	// Connections is owned by external tools and kept verbatim.
	Connections json.RawMessage `json:"symbolic_connections"`

	WebSources  []WebSource  `json:"web_sources"`
	PeerReviews []PeerReview `json:"peer_reviews"`

	// Extra holds top-level members written by other tools.
	Extra map[string]json.RawMessage `json:"-"`
}

// New returns an empty roadmap created at now.
func New(now time.Time) *Roadmap {
	r := &Roadmap{
		Metadata: Metadata{
			Created:     At(now),
			LastUpdated: At(now),
			Version:     Version,
		},
	}
	r.normalize()
	return r
}

// SortedSymbols returns the symbols in the order used for prompts and URL
// resolution.
func (r *Roadmap) SortedSymbols() []string {
	return r.Symbols.Sorted()
}

// Recount sets the metadata counters from the collection sizes.
func (r *Roadmap) Recount() {
	r.Metadata.TotalSymbols = r.Symbols.Len()
	r.Metadata.TotalQuestions = len(r.OpenQuestions)
}

// Clone returns a deep copy.
func (r *Roadmap) Clone() *Roadmap {
	out := *r
	out.Symbols = r.Symbols.Clone()
	out.OpenQuestions = append([]string{}, r.OpenQuestions...)
	out.Recommendations = append([]Recommendation{}, r.Recommendations...)
	out.Connections = append(json.RawMessage(nil), r.Connections...)
	out.Extra = cloneExtra(r.Extra)
	out.WebSources = make([]WebSource, len(r.WebSources))
	for i, ws := range r.WebSources {
		ws.ExtractedConcepts = append([]string{}, ws.ExtractedConcepts...)
		ws.Extra = cloneExtra(ws.Extra)
		ws.absent = slices.Clone(ws.absent)
		out.WebSources[i] = ws
	}
	out.PeerReviews = make([]PeerReview, len(r.PeerReviews))
	for i, pr := range r.PeerReviews {
		pr.Suggestions = append([]string(nil), pr.Suggestions...)
		pr.Extra = cloneExtra(pr.Extra)
		pr.absent = slices.Clone(pr.absent)
		out.PeerReviews[i] = pr
	}
	return &out
}

// normalize replaces nil collections with empty ones so the file always
// carries every key as an array.
func (r *Roadmap) normalize() {
	if r.Symbols == nil {
		r.Symbols = extract.NewSet()
	}
	if r.OpenQuestions == nil {
		r.OpenQuestions = []string{}
	}
	if r.Recommendations == nil {
		r.Recommendations = []Recommendation{}
	}
	if len(r.Connections) == 0 || bytes.Equal(r.Connections, []byte("null")) {
		r.Connections = json.RawMessage("[]")
	}
	if r.WebSources == nil {
		r.WebSources = []WebSource{}
	}
	if r.PeerReviews == nil {
		r.PeerReviews = []PeerReview{}
	}
	if r.Metadata.Version == "" {
		r.Metadata.Version = Version
	}
}

// UnmarshalJSON decodes a roadmap file. Symbol and question entries may be
// plain strings or objects carrying "name"/"symbol" and "text"/"question"
// respectively, as written by older generators.
func (r *Roadmap) UnmarshalJSON(data []byte) error {
	type plain Roadmap
	var raw struct {
		plain
		Symbols       []json.RawMessage `json:"focus_symbols"`
		OpenQuestions []json.RawMessage `json:"open_questions"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	extra, _, err := splitObject(data, roadmapKeys, nil)
	if err != nil {
		return err
	}

	*r = Roadmap(raw.plain)
	r.Extra = extra

	r.Symbols = extract.NewSet()
	for i, entry := range raw.Symbols {
		s, err := flexibleString(entry, "name", "symbol")
		if err != nil {
			return fmt.Errorf("focus_symbols[%d]: %w", i, err)
		}
		if s != "" {
			r.Symbols.Add(s)
		}
	}

	r.OpenQuestions = make([]string, 0, len(raw.OpenQuestions))
	for i, entry := range raw.OpenQuestions {
		s, err := flexibleString(entry, "text", "question")
		if err != nil {
			return fmt.Errorf("open_questions[%d]: %w", i, err)
		}
		if s != "" {
			r.OpenQuestions = append(r.OpenQuestions, s)
		}
	}

	r.normalize()
	return nil
}

// flexibleString decodes a JSON string, or the first non-empty string
// field among keys of a JSON object.
func flexibleString(data json.RawMessage, keys ...string) (string, error) {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s, nil
	}

	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", fmt.Errorf("expected string or object, got %s", truncate(string(data), 40))
	}
	for _, key := range keys {
		if v, ok := obj[key].(string); ok && v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("object has none of the fields %v", keys)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
