package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_Resolve(t *testing.T) {
	r, err := NewResolver(ResolverConfig{}, nil)
	require.NoError(t, err)

	tests := []struct {
		name    string
		symbols []string
		want    []string
	}{
		{
			name:    "two symbols",
			symbols: []string{"Q_plasma", "Lawson_criterion"},
			want: []string{
				"https://en.wikipedia.org/wiki/Q_plasma",
				"https://en.wikipedia.org/wiki/Lawson_criterion",
				"https://arxiv.org/search/?query=Q_plasma+Lawson_criterion&searchtype=all",
			},
		},
		{
			name:    "only first three symbols",
			symbols: []string{"Alpha", "Beta", "Gamma", "Delta"},
			want: []string{
				"https://en.wikipedia.org/wiki/Alpha",
				"https://en.wikipedia.org/wiki/Beta",
				"https://en.wikipedia.org/wiki/Gamma",
				"https://arxiv.org/search/?query=Alpha+Beta+Gamma&searchtype=all",
			},
		},
		{
			name:    "spaces become underscores",
			symbols: []string{"dark energy"},
			want: []string{
				"https://en.wikipedia.org/wiki/dark_energy",
				"https://arxiv.org/search/?query=dark+energy&searchtype=all",
			},
		},
		{
			name:    "reserved characters are escaped",
			symbols: []string{"E^2/c"},
			want: []string{
				"https://en.wikipedia.org/wiki/E%5E2%2Fc",
				"https://arxiv.org/search/?query=E%5E2%2Fc&searchtype=all",
			},
		},
		{
			name:    "no symbols",
			symbols: nil,
			want:    []string{"https://arxiv.org/search/?query=&searchtype=all"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Resolve(tt.symbols, ""))
		})
	}
}

func TestResolver_Resolve_Deterministic(t *testing.T) {
	r, err := NewResolver(ResolverConfig{}, nil)
	require.NoError(t, err)

	symbols := []string{"Q_plasma", "Lawson_criterion"}
	assert.Equal(t, r.Resolve(symbols, "What limits it?"), r.Resolve(symbols, "What limits it?"))
	assert.Equal(t, r.Resolve(symbols, ""), r.Resolve(symbols, "Another question here?"))
}

func TestResolver_Exclude(t *testing.T) {
	r, err := NewResolver(ResolverConfig{Exclude: []string{"arxiv.org/**"}}, nil)
	require.NoError(t, err)

	got := r.Resolve([]string{"Q_plasma"}, "")

	assert.Equal(t, []string{"https://en.wikipedia.org/wiki/Q_plasma"}, got)
}

func TestResolver_CustomConfig(t *testing.T) {
	r, err := NewResolver(ResolverConfig{
		EncyclopediaBase: "https://wiki.example.org/page/",
		SearchTemplate:   "https://search.example.org/?q=%s",
		MaxSymbols:       1,
	}, nil)
	require.NoError(t, err)

	got := r.Resolve([]string{"Tokamak", "Stellarator"}, "")

	assert.Equal(t, []string{
		"https://wiki.example.org/page/Tokamak",
		"https://search.example.org/?q=Tokamak",
	}, got)
}

func TestNewResolver_Invalid(t *testing.T) {
	tests := []struct {
		name string
		cfg  ResolverConfig
	}{
		{"template without placeholder", ResolverConfig{SearchTemplate: "https://search.example.org/"}},
		{"template with two placeholders", ResolverConfig{SearchTemplate: "https://x/%s/%s"}},
		{"bad exclusion pattern", ResolverConfig{Exclude: []string{"[oops"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewResolver(tt.cfg, nil)
			assert.Error(t, err)
		})
	}
}
