// Package extract mines candidate symbols and open questions from free text.
//
// Concept extraction is a list of independent matchers whose results are
// unioned:
//
//	identifier      Q_plasma, Lawson_criterion, ITER
//	domain-phrase   "dark energy", "gauge symmetry", "the black hole"
//	exponent-token  x2, E^2, plasma
//
// Question extraction looks for a labeled block of numbered items
//
//	Open questions:
//	1. What limits Triple_product?
//	2. Can Q_plasma exceed 5?
//
// and, independently, for any capitalized sentence ending in "?".
//
// The extractor is recall-oriented: false positives are expected, and no
// input makes it fail.
package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// minConceptLen is the exclusive lower bound on concept length in runes.
	minConceptLen = 2

	// minQuestionLen is the exclusive lower bound on question length in runes.
	minQuestionLen = 10
)

var (
	questionBlockRe = regexp.MustCompile(`(?i)(?:Open questions:|Domande aperte:|Questions:)([\s\S]+?)(?:\n\n|$)`)
	numberedItemRe  = regexp.MustCompile(`\d+\.\s*(.+)`)
	questionRe      = regexp.MustCompile(`([A-Z][^\n\r.!?]*\?)`)
)

// Result is the extraction output for one text blob.
type Result struct {
	Symbols   Set      `json:"symbols"`
	Questions []string `json:"questions"`
}

// Extractor applies a matcher pipeline for concepts and the block/sentence
// scanners for questions.
type Extractor struct {
	matchers []Matcher
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithMatchers replaces the concept matcher list.
func WithMatchers(matchers ...Matcher) Option {
	return func(e *Extractor) {
		e.matchers = matchers
	}
}

// WithExtraMatchers appends matchers to the current list.
func WithExtraMatchers(matchers ...Matcher) Option {
	return func(e *Extractor) {
		e.matchers = append(e.matchers, matchers...)
	}
}

// New creates an extractor using DefaultMatchers unless overridden.
func New(opts ...Option) *Extractor {
	e := &Extractor{matchers: DefaultMatchers()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Matchers returns the names of the configured matchers in order.
func (e *Extractor) Matchers() []string {
	names := make([]string, len(e.matchers))
	for i, m := range e.matchers {
		names[i] = m.Name
	}
	return names
}

// Concepts returns the union of all matcher candidates, trimmed and kept
// only when longer than two characters.
func (e *Extractor) Concepts(text string) Set {
	out := NewSet()
	if text == "" {
		return out
	}
	for _, m := range e.matchers {
		for _, candidate := range m.Match(text) {
			candidate = strings.TrimSpace(candidate)
			if utf8.RuneCountInString(candidate) > minConceptLen {
				out.Add(candidate)
			}
		}
	}
	return out
}

// Questions returns the numbered items of the first labeled question block
// together with every capitalized sentence ending in "?". Duplicates are
// collapsed and items of ten characters or fewer dropped. Items keep the
// order in which they were first seen, block items first.
func (e *Extractor) Questions(text string) []string {
	var candidates []string

	if m := questionBlockRe.FindStringSubmatch(text); len(m) > 1 {
		for _, item := range numberedItemRe.FindAllStringSubmatch(m[1], -1) {
			candidates = append(candidates, item[1])
		}
	}
	for _, m := range questionRe.FindAllStringSubmatch(text, -1) {
		candidates = append(candidates, m[1])
	}

	seen := NewSet()
	questions := []string{}
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if seen.Has(c) {
			continue
		}
		seen.Add(c)
		if utf8.RuneCountInString(c) > minQuestionLen {
			questions = append(questions, c)
		}
	}
	return questions
}

// Extract runs both concept and question extraction.
func (e *Extractor) Extract(text string) Result {
	return Result{
		Symbols:   e.Concepts(text),
		Questions: e.Questions(text),
	}
}

var defaultExtractor = New()

// ExtractConcepts runs the default concept matchers over text.
func ExtractConcepts(text string) Set {
	return defaultExtractor.Concepts(text)
}

// ExtractQuestions runs the default question scanners over text.
func ExtractQuestions(text string) []string {
	return defaultExtractor.Questions(text)
}

// Extract runs the default extractor over text.
func Extract(text string) Result {
	return defaultExtractor.Extract(text)
}
