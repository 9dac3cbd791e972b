package roadmap

import (
	"fmt"
	"time"

	"github.com/cicciopanzer27/mia/extract"
)

// Update is everything one cycle contributes to the roadmap.
type Update struct {
	// Symbols are unioned into the roadmap.
	Symbols extract.Set

	// Questions replace the open questions, even when empty.
	Questions []string

	// Review is appended when non-nil.
	Review *PeerReview

	// Sources are upserted by URL.
	Sources []WebSource

	// At stamps last_updated; zero leaves it unchanged.
	At time.Time
}

// Merge applies u to a copy of r and returns it. r is not modified.
// Re-applying the same update never grows the symbol set.
func Merge(r *Roadmap, u Update) *Roadmap {
	out := r.Clone()
	out.normalize()

	added := out.Symbols.Union(u.Symbols)

	out.OpenQuestions = append([]string{}, u.Questions...)

	if u.Review != nil {
		review := *u.Review
		review.Suggestions = append([]string(nil), review.Suggestions...)
		out.PeerReviews = append(out.PeerReviews, review)
	}

	for _, src := range u.Sources {
		out.upsertSource(src)
	}

	out.Recommendations = recommendations(added, len(out.OpenQuestions), len(u.Sources))
	out.Metadata.CyclesCompleted++
	if !u.At.IsZero() {
		out.Metadata.LastUpdated = At(u.At)
	}
	out.Recount()

	return out
}

func (r *Roadmap) upsertSource(src WebSource) {
	src.ExtractedConcepts = append([]string{}, src.ExtractedConcepts...)
	for i := range r.WebSources {
		if r.WebSources[i].URL == src.URL {
			// A refetch keeps the annotations other tools made on the record.
			if src.Extra == nil {
				src.Extra = r.WebSources[i].Extra
			}
			r.WebSources[i] = src
			return
		}
	}
	r.WebSources = append(r.WebSources, src)
}

func recommendations(newSymbols, questions, sources int) []Recommendation {
	return []Recommendation{
		{
			Type:        RecSymbolConnection,
			Description: fmt.Sprintf("Explore connections between %d new symbols", newSymbols),
			Priority:    "high",
		},
		{
			Type:        RecQuestionResolution,
			Description: fmt.Sprintf("Resolve %d open questions", questions),
			Priority:    "medium",
		},
		{
			Type:        RecSourceValidation,
			Description: fmt.Sprintf("Validate %d fetched web sources", sources),
			Priority:    "low",
		},
	}
}
