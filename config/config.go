// Package config provides configuration loading and management for mia.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cicciopanzer27/mia/events"
	"github.com/cicciopanzer27/mia/llm"
	"github.com/cicciopanzer27/mia/model"
	"github.com/cicciopanzer27/mia/roadmap"
	"github.com/cicciopanzer27/mia/source"
	"github.com/cicciopanzer27/mia/workflow"
)

// Config represents the complete mia configuration
type Config struct {
	LLM     LLMConfig     `yaml:"llm"`
	Models  ModelsConfig  `yaml:"models"`
	Source  SourceConfig  `yaml:"source"`
	Cycle   CycleConfig   `yaml:"cycle"`
	Roadmap RoadmapConfig `yaml:"roadmap"`
	NATS    NATSConfig    `yaml:"nats"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

// LLMConfig configures the generation service
type LLMConfig struct {
	// Provider is the registered provider name (ollama, openai)
	Provider string `yaml:"provider"`
	// URL overrides the provider's default endpoint
	URL string `yaml:"url"`
	// Model is the model name sent with every request
	Model string `yaml:"model"`
	// Temperature is sent only when non-zero
	Temperature float64 `yaml:"temperature"`
	// MaxTokens is sent only when positive
	MaxTokens int `yaml:"max_tokens"`
	// Timeout bounds a single generation request
	Timeout time.Duration `yaml:"timeout"`
}

// ModelsConfig configures several named endpoints with per-role fallback
// chains. When no endpoints are listed the llm section is the only endpoint.
type ModelsConfig struct {
	// Endpoints maps a name to an endpoint
	Endpoints map[string]llm.Endpoint `yaml:"endpoints,omitempty"`
	// Roles maps "generate" and "review" to their endpoint chains
	Roles map[string]*model.RoleConfig `yaml:"roles,omitempty"`
	// Default is used by roles without a chain (default: the generate
	// role's preferred endpoint)
	Default string `yaml:"default,omitempty"`
	// FailureThreshold is how many consecutive failures open an endpoint's circuit
	FailureThreshold int `yaml:"failure_threshold,omitempty"`
	// RecoveryTimeout is how long an open circuit skips the endpoint
	RecoveryTimeout time.Duration `yaml:"recovery_timeout,omitempty"`
}

// SourceConfig configures URL resolution and fetching
type SourceConfig struct {
	EncyclopediaBase string        `yaml:"encyclopedia_base"`
	SearchTemplate   string        `yaml:"search_template"`
	MaxSymbols       int           `yaml:"max_symbols"`
	Exclude          []string      `yaml:"exclude"`
	Mode             string        `yaml:"mode"`
	Timeout          time.Duration `yaml:"timeout"`
	MaxChars         int           `yaml:"max_chars"`
	MaxContentSize   int64         `yaml:"max_content_size"`
	Pacing           time.Duration `yaml:"pacing"`
	UserAgent        string        `yaml:"user_agent"`
	// AllowPrivate permits plain HTTP and private addresses (local mirrors)
	AllowPrivate bool `yaml:"allow_private"`
}

// CycleConfig configures the refinement loop
type CycleConfig struct {
	MaxCycles         int           `yaml:"max_cycles"`
	Interval          time.Duration `yaml:"interval"`
	ReviewSourceChars int           `yaml:"review_source_chars"`
}

// RoadmapConfig configures where the roadmap lives
type RoadmapConfig struct {
	Path       string `yaml:"path"`
	ExportPath string `yaml:"export_path"`
}

// NATSConfig configures cycle notifications and roadmap snapshots
type NATSConfig struct {
	// URL is the NATS server URL (empty = notifications disabled)
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
	// Bucket is the JetStream KV bucket for roadmap snapshots (empty = no snapshots)
	Bucket string `yaml:"bucket,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	// Addr is the listen address for /metrics (empty = disabled)
	Addr string `yaml:"addr"`
}

// LogConfig configures logging
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `yaml:"level"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider: "ollama",
			Model:    "llama3",
			Timeout:  llm.DefaultTimeout,
		},
		Source: SourceConfig{
			EncyclopediaBase: source.DefaultEncyclopediaBase,
			SearchTemplate:   source.DefaultSearchTemplate,
			MaxSymbols:       source.DefaultMaxSymbols,
			Mode:             string(source.ModeText),
			Timeout:          source.DefaultTimeout,
			MaxChars:         source.DefaultMaxChars,
			MaxContentSize:   source.DefaultMaxContentSize,
			Pacing:           source.DefaultPacing,
			UserAgent:        source.DefaultUserAgent,
		},
		Cycle: CycleConfig{
			MaxCycles:         workflow.DefaultMaxCycles,
			Interval:          workflow.DefaultInterval,
			ReviewSourceChars: workflow.DefaultReviewSourceChars,
		},
		Roadmap: RoadmapConfig{
			Path:       roadmap.DefaultFile,
			ExportPath: roadmap.DefaultExportFile,
		},
		NATS: NATSConfig{
			Subject: events.DefaultSubject,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if len(c.Models.Endpoints) == 0 {
		if err := validateEndpoint("llm", c.Endpoint()); err != nil {
			return err
		}
	} else {
		for _, name := range sortedKeys(c.Models.Endpoints) {
			if err := validateEndpoint("models.endpoints."+name, c.Models.Endpoints[name]); err != nil {
				return err
			}
		}
		if _, err := c.Registry(); err != nil {
			return fmt.Errorf("models: %w", err)
		}
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0 and 2")
	}
	if c.Source.MaxSymbols < 0 {
		return fmt.Errorf("source.max_symbols must not be negative")
	}
	if strings.Count(c.Source.SearchTemplate, "%s") != 1 {
		return fmt.Errorf("source.search_template must contain exactly one %%s")
	}
	switch source.Mode(c.Source.Mode) {
	case "", source.ModeText, source.ModeMarkdown:
	default:
		return fmt.Errorf("source.mode must be %q or %q", source.ModeText, source.ModeMarkdown)
	}
	if c.Cycle.MaxCycles < 1 {
		return fmt.Errorf("cycle.max_cycles must be at least 1")
	}
	if c.Cycle.Interval < 0 {
		return fmt.Errorf("cycle.interval must not be negative")
	}
	if c.Roadmap.Path == "" {
		return fmt.Errorf("roadmap.path is required")
	}
	if c.NATS.URL != "" && c.NATS.Subject == "" {
		return fmt.Errorf("nats.subject is required when nats.url is set")
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	return nil
}

func validateEndpoint(prefix string, ep llm.Endpoint) error {
	if ep.Model == "" {
		return fmt.Errorf("%s.model is required", prefix)
	}
	if llm.GetProvider(ep.Provider) == nil {
		return fmt.Errorf("%s.provider %q is not registered (known: %s)",
			prefix, ep.Provider, strings.Join(llm.ListProviders(), ", "))
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Registry builds the endpoint registry. Without a models section every
// role uses the llm endpoint.
func (c *Config) Registry() (*model.Registry, error) {
	var reg *model.Registry
	if len(c.Models.Endpoints) == 0 {
		reg = model.SingleEndpoint(c.Endpoint())
	} else {
		roles := make(map[model.Role]*model.RoleConfig, len(c.Models.Roles))
		for name, rc := range c.Models.Roles {
			role := model.ParseRole(name)
			if role == "" {
				return nil, fmt.Errorf("unknown role %q", name)
			}
			if rc == nil {
				return nil, fmt.Errorf("role %s: empty chain", name)
			}
			roles[role] = rc
		}

		def := c.Models.Default
		if def == "" {
			if rc, ok := roles[model.RoleGenerate]; ok && len(rc.Preferred) > 0 {
				def = rc.Preferred[0]
			} else {
				def = sortedKeys(c.Models.Endpoints)[0]
			}
		}

		endpoints := make(map[string]llm.Endpoint, len(c.Models.Endpoints))
		for name, ep := range c.Models.Endpoints {
			endpoints[name] = ep
		}
		reg = model.NewRegistry(roles, endpoints, def)
	}

	health := model.DefaultHealthConfig()
	if c.Models.FailureThreshold > 0 {
		health.FailureThreshold = c.Models.FailureThreshold
	}
	if c.Models.RecoveryTimeout > 0 {
		health.RecoveryTimeout = c.Models.RecoveryTimeout
	}
	reg.SetHealthConfig(health)

	if err := reg.Validate(); err != nil {
		return nil, err
	}
	return reg, nil
}

// Endpoint returns the generation endpoint.
func (c *Config) Endpoint() llm.Endpoint {
	return llm.Endpoint{
		Provider: c.LLM.Provider,
		URL:      c.LLM.URL,
		Model:    c.LLM.Model,
	}
}

// ResolverConfig returns the URL resolver settings.
func (c *Config) ResolverConfig() source.ResolverConfig {
	return source.ResolverConfig{
		EncyclopediaBase: c.Source.EncyclopediaBase,
		SearchTemplate:   c.Source.SearchTemplate,
		MaxSymbols:       c.Source.MaxSymbols,
		Exclude:          c.Source.Exclude,
	}
}

// FetcherConfig returns the fetcher settings.
func (c *Config) FetcherConfig() source.FetcherConfig {
	return source.FetcherConfig{
		Timeout:        c.Source.Timeout,
		MaxChars:       c.Source.MaxChars,
		MaxContentSize: c.Source.MaxContentSize,
		Pacing:         c.Source.Pacing,
		UserAgent:      c.Source.UserAgent,
		Mode:           source.Mode(c.Source.Mode),
		AllowPrivate:   c.Source.AllowPrivate,
	}
}

// WorkflowConfig returns the loop settings.
func (c *Config) WorkflowConfig() workflow.Config {
	return workflow.Config{
		MaxCycles:         c.Cycle.MaxCycles,
		Interval:          c.Cycle.Interval,
		ReviewSourceChars: c.Cycle.ReviewSourceChars,
	}
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// loadOverlay parses a YAML file without defaults, so that only the keys
// it sets are non-zero.
func loadOverlay(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// LLM
	setString(&c.LLM.Provider, other.LLM.Provider)
	setString(&c.LLM.URL, other.LLM.URL)
	setString(&c.LLM.Model, other.LLM.Model)
	if other.LLM.Temperature != 0 {
		c.LLM.Temperature = other.LLM.Temperature
	}
	if other.LLM.MaxTokens != 0 {
		c.LLM.MaxTokens = other.LLM.MaxTokens
	}
	if other.LLM.Timeout != 0 {
		c.LLM.Timeout = other.LLM.Timeout
	}

	// Models
	if len(other.Models.Endpoints) > 0 {
		if c.Models.Endpoints == nil {
			c.Models.Endpoints = make(map[string]llm.Endpoint)
		}
		for name, ep := range other.Models.Endpoints {
			c.Models.Endpoints[name] = ep
		}
	}
	if len(other.Models.Roles) > 0 {
		if c.Models.Roles == nil {
			c.Models.Roles = make(map[string]*model.RoleConfig)
		}
		for name, rc := range other.Models.Roles {
			c.Models.Roles[name] = rc
		}
	}
	setString(&c.Models.Default, other.Models.Default)
	if other.Models.FailureThreshold != 0 {
		c.Models.FailureThreshold = other.Models.FailureThreshold
	}
	if other.Models.RecoveryTimeout != 0 {
		c.Models.RecoveryTimeout = other.Models.RecoveryTimeout
	}

	// Source
	setString(&c.Source.EncyclopediaBase, other.Source.EncyclopediaBase)
	setString(&c.Source.SearchTemplate, other.Source.SearchTemplate)
	if other.Source.MaxSymbols != 0 {
		c.Source.MaxSymbols = other.Source.MaxSymbols
	}
	if len(other.Source.Exclude) > 0 {
		c.Source.Exclude = other.Source.Exclude
	}
	setString(&c.Source.Mode, other.Source.Mode)
	if other.Source.Timeout != 0 {
		c.Source.Timeout = other.Source.Timeout
	}
	if other.Source.MaxChars != 0 {
		c.Source.MaxChars = other.Source.MaxChars
	}
	if other.Source.MaxContentSize != 0 {
		c.Source.MaxContentSize = other.Source.MaxContentSize
	}
	if other.Source.Pacing != 0 {
		c.Source.Pacing = other.Source.Pacing
	}
	setString(&c.Source.UserAgent, other.Source.UserAgent)
	if other.Source.AllowPrivate {
		c.Source.AllowPrivate = true
	}

	// Cycle
	if other.Cycle.MaxCycles != 0 {
		c.Cycle.MaxCycles = other.Cycle.MaxCycles
	}
	if other.Cycle.Interval != 0 {
		c.Cycle.Interval = other.Cycle.Interval
	}
	if other.Cycle.ReviewSourceChars != 0 {
		c.Cycle.ReviewSourceChars = other.Cycle.ReviewSourceChars
	}

	// Roadmap
	setString(&c.Roadmap.Path, other.Roadmap.Path)
	setString(&c.Roadmap.ExportPath, other.Roadmap.ExportPath)

	// NATS
	setString(&c.NATS.URL, other.NATS.URL)
	setString(&c.NATS.Subject, other.NATS.Subject)
	setString(&c.NATS.Bucket, other.NATS.Bucket)

	setString(&c.Metrics.Addr, other.Metrics.Addr)
	setString(&c.Log.Level, other.Log.Level)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
