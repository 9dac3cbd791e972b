// Package workflow drives the symbolic refinement cycle: prompt the
// generation service, fetch web sources for the focus symbols, ask for a
// review, merge what was learned into the roadmap and save it.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/cicciopanzer27/mia/events"
	"github.com/cicciopanzer27/mia/extract"
	"github.com/cicciopanzer27/mia/roadmap"
	"github.com/cicciopanzer27/mia/source"
	"github.com/cicciopanzer27/mia/source/weburl"
	"github.com/cicciopanzer27/mia/workflow/prompts"
)

const (
	// DefaultMaxCycles bounds Run.
	DefaultMaxCycles = 5

	// DefaultInterval is the pause between cycles.
	DefaultInterval = 2 * time.Second

	// DefaultReviewSourceChars caps each source excerpt in the review prompt.
	DefaultReviewSourceChars = 500
)

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Model() string
}

// Resolver maps focus symbols and a question to candidate source URLs.
type Resolver interface {
	Resolve(symbols []string, question string) []string
}

// Fetcher retrieves source documents. Failures are reported on the
// documents, never as an error.
type Fetcher interface {
	FetchAll(ctx context.Context, urls []string) []source.Document
}

// Saver persists a roadmap.
type Saver interface {
	Save(r *roadmap.Roadmap) error
}

// Config bounds the outer loop.
type Config struct {
	MaxCycles         int           `json:"max_cycles" yaml:"max_cycles"`
	Interval          time.Duration `json:"interval" yaml:"interval"`
	ReviewSourceChars int           `json:"review_source_chars" yaml:"review_source_chars"`
}

// DefaultConfig returns the loop defaults.
func DefaultConfig() Config {
	return Config{
		MaxCycles:         DefaultMaxCycles,
		Interval:          DefaultInterval,
		ReviewSourceChars: DefaultReviewSourceChars,
	}
}

// CycleReport summarizes one cycle.
type CycleReport struct {
	Cycle         int
	State         State
	Prompt        string
	Reply         string
	Review        string
	URLs          []string
	SourcesOK     int
	SourcesFailed int
	NewSymbols    int
	Questions     []string
	Confidence    float64
	Converged     bool
	Duration      time.Duration
	Err           error
}

// Controller runs refinement cycles against a roadmap.
type Controller struct {
	cfg       Config
	gen       Generator
	reviewer  Generator
	resolver  Resolver
	fetcher   Fetcher
	store     Saver
	extractor *extract.Extractor
	publisher events.Publisher
	metrics   *Metrics
	logger    *slog.Logger
	now       func() time.Time
	wait      func(ctx context.Context, d time.Duration) error
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithReviewer sends review prompts to a different generator. The
// reviewer's model name is recorded on the peer review.
func WithReviewer(gen Generator) Option {
	return func(c *Controller) {
		c.reviewer = gen
	}
}

// WithPublisher sets where cycle notifications go.
func WithPublisher(p events.Publisher) Option {
	return func(c *Controller) {
		c.publisher = p
	}
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithExtractor replaces the default concept and question extractor.
func WithExtractor(e *extract.Extractor) Option {
	return func(c *Controller) {
		c.extractor = e
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// WithWait replaces the pause between cycles. Tests use it to avoid sleeping.
func WithWait(wait func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) {
		c.wait = wait
	}
}

// NewController creates a controller. Zero config fields take defaults.
func NewController(cfg Config, gen Generator, resolver Resolver, fetcher Fetcher, store Saver, opts ...Option) *Controller {
	def := DefaultConfig()
	if cfg.MaxCycles <= 0 {
		cfg.MaxCycles = def.MaxCycles
	}
	if cfg.Interval < 0 {
		cfg.Interval = 0
	}
	if cfg.ReviewSourceChars <= 0 {
		cfg.ReviewSourceChars = def.ReviewSourceChars
	}

	c := &Controller{
		cfg:       cfg,
		gen:       gen,
		resolver:  resolver,
		fetcher:   fetcher,
		store:     store,
		extractor: extract.New(),
		publisher: events.Nop{},
		logger:    slog.Default(),
		now:       time.Now,
		wait:      sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.publisher == nil {
		c.publisher = events.Nop{}
	}
	if c.reviewer == nil {
		c.reviewer = gen
	}
	return c
}

// Run executes up to MaxCycles cycles starting from r and returns the last
// saved roadmap. It stops early once a review yields no open questions.
// A generation or save failure stops the loop and is returned; so is
// context cancellation, which is checked between cycles.
func (c *Controller) Run(ctx context.Context, r *roadmap.Roadmap) (*roadmap.Roadmap, error) {
	current := r
	for i := 0; i < c.cfg.MaxCycles; i++ {
		if i > 0 && c.cfg.Interval > 0 {
			if err := c.wait(ctx, c.cfg.Interval); err != nil {
				return current, err
			}
		}
		if err := ctx.Err(); err != nil {
			return current, err
		}

		next, report, err := c.RunCycle(ctx, current, current.Metadata.CyclesCompleted+1)
		if err != nil {
			return current, err
		}
		current = next

		if report.Converged {
			c.logger.Info("No open questions left, stopping",
				"cycle", report.Cycle,
				"symbols", current.Symbols.Len())
			return current, nil
		}
	}

	c.logger.Info("Cycle budget exhausted",
		"max_cycles", c.cfg.MaxCycles,
		"symbols", current.Symbols.Len(),
		"questions", len(current.OpenQuestions))
	return current, nil
}

// RunCycle runs cycle n against r. On error the returned roadmap is r and
// nothing was saved.
func (c *Controller) RunCycle(ctx context.Context, r *roadmap.Roadmap, n int) (*roadmap.Roadmap, CycleReport, error) {
	start := c.now()
	report := CycleReport{Cycle: n}

	c.transition(&report, StatePrompting)
	symbols := r.SortedSymbols()
	report.Prompt = prompts.GenerationPrompt(symbols, r.OpenQuestions)

	c.transition(&report, StateGenerating)
	reply, err := c.gen.Generate(ctx, report.Prompt)
	if err != nil {
		err = c.abort(&report, start, OutcomeGenerationError, fmt.Errorf("cycle %d: generate: %w", n, err))
		return r, report, err
	}
	report.Reply = reply

	replyConcepts := c.extractor.Concepts(reply)
	concepts := replyConcepts.Clone()

	c.transition(&report, StateFetching)
	lookup := symbols
	if len(lookup) == 0 {
		lookup = replyConcepts.Sorted()
	}
	question := ""
	if len(r.OpenQuestions) > 0 {
		question = r.OpenQuestions[0]
	}
	report.URLs = c.resolver.Resolve(lookup, question)
	docs := c.fetcher.FetchAll(ctx, report.URLs)

	report.SourcesOK = len(source.Successful(docs))
	report.SourcesFailed = len(docs) - report.SourcesOK

	excerpts := make([]string, 0, len(docs))
	sources := make([]roadmap.WebSource, 0, len(docs))
	for _, doc := range docs {
		mined := []string{}
		if doc.Success {
			found := c.extractor.Concepts(doc.Text)
			concepts.Union(found)
			mined = found.Sorted()
			c.metrics.observeFetch("ok")
		} else {
			kind := "unknown"
			if doc.Err != nil {
				kind = string(doc.Err.Kind)
			}
			c.metrics.observeFetch(kind)
			c.logger.Warn("Source fetch failed",
				"cycle", n,
				"url", doc.URL,
				"reason", kind)
		}
		excerpts = append(excerpts, excerpt(doc.Text, c.cfg.ReviewSourceChars))
		sources = append(sources, roadmap.WebSource{
			ID:                weburl.SourceID(doc.URL),
			URL:               doc.URL,
			Title:             doc.Title,
			Success:           doc.Success,
			ExtractedConcepts: mined,
			FetchedAt:         roadmap.At(doc.FetchedAt),
		})
	}
	if attempted := report.SourcesOK + report.SourcesFailed; attempted > 0 {
		report.Confidence = float64(report.SourcesOK) / float64(attempted)
	}

	c.transition(&report, StateReviewing)
	review, err := c.reviewer.Generate(ctx, prompts.ReviewPrompt(reply, excerpts))
	if err != nil {
		err = c.abort(&report, start, OutcomeGenerationError, fmt.Errorf("cycle %d: review: %w", n, err))
		return r, report, err
	}
	report.Review = review

	extracted := c.extractor.Extract(review)
	concepts.Union(extracted.Symbols)
	report.Questions = extracted.Questions
	report.Converged = len(extracted.Questions) == 0

	c.transition(&report, StateMerging)
	at := c.now()
	merged := roadmap.Merge(r, roadmap.Update{
		Symbols:   concepts,
		Questions: extracted.Questions,
		Review: &roadmap.PeerReview{
			ID:         uuid.New().String(),
			Reviewer:   c.reviewer.Model(),
			Timestamp:  roadmap.At(at),
			Assessment: review,
			Confidence: report.Confidence,
			Cycle:      n,
		},
		Sources: sources,
		At:      at,
	})
	report.NewSymbols = merged.Symbols.Len() - r.Symbols.Len()

	if err := c.store.Save(merged); err != nil {
		err = c.abort(&report, start, OutcomeSaveError, fmt.Errorf("cycle %d: %w", n, err))
		return r, report, err
	}

	c.transition(&report, StateDone)
	report.Duration = c.now().Sub(start)

	outcome := OutcomeSaved
	if report.Converged {
		outcome = OutcomeConverged
	}
	c.metrics.observeCycle(outcome, report.Duration.Seconds())
	c.metrics.observeRoadmap(merged.Symbols.Len(), len(merged.OpenQuestions))

	c.logger.Info("Cycle complete",
		"cycle", n,
		"symbols", merged.Symbols.Len(),
		"new_symbols", report.NewSymbols,
		"questions", len(merged.OpenQuestions),
		"sources_ok", report.SourcesOK,
		"sources_failed", report.SourcesFailed,
		"duration", report.Duration)

	c.publish(ctx, report, merged, at)

	return merged, report, nil
}

func (c *Controller) transition(report *CycleReport, target State) {
	if !report.State.CanTransitionTo(target) {
		c.logger.Error("Invalid cycle transition",
			"cycle", report.Cycle,
			"from", report.State,
			"to", target)
	}
	c.logger.Debug("Cycle state",
		"cycle", report.Cycle,
		"from", report.State,
		"to", target)
	report.State = target
}

func (c *Controller) abort(report *CycleReport, start time.Time, outcome string, err error) error {
	phase := report.State
	c.transition(report, StateFailed)
	report.Err = err
	report.Duration = c.now().Sub(start)
	c.metrics.observeCycle(outcome, report.Duration.Seconds())
	c.logger.Error("Cycle aborted",
		"cycle", report.Cycle,
		"phase", phase,
		"error", err)
	return err
}

func (c *Controller) publish(ctx context.Context, report CycleReport, r *roadmap.Roadmap, at time.Time) {
	ev := events.CycleCompleted{
		Cycle:         report.Cycle,
		Symbols:       r.Symbols.Len(),
		Questions:     len(r.OpenQuestions),
		NewSymbols:    report.NewSymbols,
		SourcesOK:     report.SourcesOK,
		SourcesFailed: report.SourcesFailed,
		Converged:     report.Converged,
		Timestamp:     at.UTC(),
	}
	if err := c.publisher.PublishCycleCompleted(ctx, ev); err != nil {
		c.logger.Warn("Failed to publish cycle event",
			"cycle", report.Cycle,
			"error", err)
	}
}

// excerpt truncates text to at most n runes.
func excerpt(text string, n int) string {
	if n <= 0 || utf8.RuneCountInString(text) <= n {
		return text
	}
	runes := []rune(text)
	return string(runes[:n])
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

