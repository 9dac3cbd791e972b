package source

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/cicciopanzer27/mia/source/weburl"
)

const (
	DefaultEncyclopediaBase = "https://en.wikipedia.org/wiki/"
	DefaultSearchTemplate   = "https://arxiv.org/search/?query=%s&searchtype=all"
	DefaultMaxSymbols       = 3
)

// ResolverConfig configures URL resolution.
type ResolverConfig struct {
	// EncyclopediaBase is prefixed to each escaped symbol.
	EncyclopediaBase string

	// SearchTemplate must contain exactly one %s for the "+"-joined query.
	SearchTemplate string

	// MaxSymbols is how many leading symbols are used.
	MaxSymbols int

	// Exclude holds doublestar patterns matched against "host/path".
	Exclude []string
}

// Resolver maps symbols to candidate reference URLs. It never touches the
// network.
type Resolver struct {
	cfg    ResolverConfig
	logger *slog.Logger
}

// NewResolver creates a resolver, filling unset fields with defaults.
func NewResolver(cfg ResolverConfig, logger *slog.Logger) (*Resolver, error) {
	if cfg.EncyclopediaBase == "" {
		cfg.EncyclopediaBase = DefaultEncyclopediaBase
	}
	if cfg.SearchTemplate == "" {
		cfg.SearchTemplate = DefaultSearchTemplate
	}
	if strings.Count(cfg.SearchTemplate, "%s") != 1 {
		return nil, fmt.Errorf("search template %q must contain exactly one %%s", cfg.SearchTemplate)
	}
	if cfg.MaxSymbols <= 0 {
		cfg.MaxSymbols = DefaultMaxSymbols
	}
	if err := weburl.ValidatePatterns(cfg.Exclude); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{cfg: cfg, logger: logger}, nil
}

// Resolve returns one encyclopedia URL per leading symbol followed by one
// search URL for all of them. With no symbols only the (empty) search URL
// is returned. The question is accepted for future targeting and currently
// does not influence the result.
func (r *Resolver) Resolve(symbols []string, question string) []string {
	if len(symbols) > r.cfg.MaxSymbols {
		symbols = symbols[:r.cfg.MaxSymbols]
	}

	urls := make([]string, 0, len(symbols)+1)
	terms := make([]string, 0, len(symbols))
	for _, s := range symbols {
		urls = append(urls, r.cfg.EncyclopediaBase+url.PathEscape(strings.ReplaceAll(s, " ", "_")))
		terms = append(terms, url.QueryEscape(s))
	}
	urls = append(urls, fmt.Sprintf(r.cfg.SearchTemplate, strings.Join(terms, "+")))

	return r.filter(urls)
}

func (r *Resolver) filter(urls []string) []string {
	if len(r.cfg.Exclude) == 0 {
		return urls
	}
	kept := urls[:0]
	for _, u := range urls {
		excluded, err := weburl.Excluded(u, r.cfg.Exclude)
		if err != nil {
			r.logger.Warn("Exclusion check failed", "url", u, "error", err)
		}
		if excluded {
			r.logger.Debug("URL excluded", "url", u)
			continue
		}
		kept = append(kept, u)
	}
	return kept
}
