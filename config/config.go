// Package config provides configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/martinemde/engineer/agentloop"
	"github.com/martinemde/engineer/logging"
)

// DefaultFileName is looked up in the workspace when no file is given.
const DefaultFileName = "engineer.toml"

// Config represents the engineer configuration.
type Config struct {
	LLM        ModelConfig  `toml:"llm"`        // Orchestration model
	Rewriter   ModelConfig  `toml:"rewriter"`   // File rewriting model
	Summarizer ModelConfig  `toml:"summarizer"` // Compaction model
	Loop       LoopConfig   `toml:"loop"`
	Search     SearchConfig `toml:"search"`
	Log        LogConfig    `toml:"log"`
}

// ModelConfig names a model and its sampling settings.
type ModelConfig struct {
	Provider    string  `toml:"provider" validate:"required,oneof=openai anthropic"`
	Model       string  `toml:"model" validate:"required"`
	Temperature float64 `toml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int     `toml:"max_tokens" validate:"gt=0"`
}

// LoopConfig contains run loop limits.
type LoopConfig struct {
	MaxRetries          int    `toml:"max_retries" validate:"gte=1"`
	MaxRounds           int    `toml:"max_rounds" validate:"gte=0"` // 0 = unlimited
	CompactionThreshold int    `toml:"compaction_threshold" validate:"gte=2"`
	KeepRecent          int    `toml:"keep_recent" validate:"gte=1,ltfield=CompactionThreshold"`
	RewriteAttempts     int    `toml:"rewrite_attempts" validate:"gte=1"`
	SummarizeAttempts   int    `toml:"summarize_attempts" validate:"gte=1"`
	LoopDetection       bool   `toml:"loop_detection"`
	LoopWindow          int    `toml:"loop_window" validate:"gte=1"`
	Instructions        string `toml:"instructions"` // appended to the system prompt
}

// SearchConfig contains web search settings. Only the name of the API key
// variable is configured; the key itself is read when a search runs.
type SearchConfig struct {
	Endpoint  string `toml:"endpoint" validate:"required,url"`
	APIKeyEnv string `toml:"api_key_env" validate:"required"`
	Count     int    `toml:"count" validate:"gte=1,lte=20"`
	Timeout   string `toml:"timeout" validate:"duration"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level string `toml:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `toml:"json"`
}

// New creates a new config with defaults.
func New() *Config {
	p := agentloop.DefaultProfile()
	s := agentloop.DefaultSessionConfig()
	return &Config{
		LLM:        fromRole(p.Brain),
		Rewriter:   fromRole(p.Rewriter),
		Summarizer: fromRole(p.Summarizer),
		Loop: LoopConfig{
			MaxRetries:          s.MaxRetries,
			MaxRounds:           s.MaxRoundsPerInput,
			CompactionThreshold: s.CompactionThreshold,
			KeepRecent:          s.KeepRecent,
			RewriteAttempts:     s.RewriteAttempts,
			SummarizeAttempts:   s.SummarizeAttempts,
			LoopDetection:       s.EnableLoopDetection,
			LoopWindow:          s.LoopDetectionWindow,
		},
		Search: SearchConfig{
			Endpoint:  agentloop.DefaultSearchEndpoint,
			APIKeyEnv: agentloop.DefaultSearchKeyEnv,
			Count:     agentloop.DefaultSearchCount,
			Timeout:   "30s",
		},
		Log: LogConfig{
			Level: string(logging.InfoLevel),
		},
	}
}

func fromRole(r agentloop.ModelRole) ModelConfig {
	return ModelConfig{
		Provider:    r.Provider,
		Model:       r.Model,
		Temperature: r.Temperature,
		MaxTokens:   r.MaxTokens,
	}
}

// LoadFile loads configuration from a TOML file over the defaults and
// validates the result.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOptional loads path if it exists and returns the defaults otherwise.
func LoadOptional(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return New(), nil
	}
	return LoadFile(path)
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("duration", validateDuration); err != nil {
		return err
	}
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// validateDuration accepts an empty string or anything time.ParseDuration
// accepts with a positive result.
func validateDuration(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" {
		return true
	}
	d, err := time.ParseDuration(s)
	return err == nil && d > 0
}

// SearchTimeout returns the parsed search timeout, or zero when unset.
func (c *Config) SearchTimeout() time.Duration {
	d, err := time.ParseDuration(c.Search.Timeout)
	if err != nil {
		return 0
	}
	return d
}

func (m ModelConfig) role() agentloop.ModelRole {
	return agentloop.ModelRole{
		Provider:    m.Provider,
		Model:       m.Model,
		Temperature: m.Temperature,
		MaxTokens:   m.MaxTokens,
	}
}

// Profile returns the model roles for a session.
func (c *Config) Profile() agentloop.Profile {
	return agentloop.Profile{
		Brain:      c.LLM.role(),
		Rewriter:   c.Rewriter.role(),
		Summarizer: c.Summarizer.role(),
	}
}

// SessionConfig returns the run loop settings for a session.
func (c *Config) SessionConfig(logger logging.Logger) *agentloop.SessionConfig {
	s := agentloop.DefaultSessionConfig()
	s.MaxRetries = c.Loop.MaxRetries
	s.MaxRoundsPerInput = c.Loop.MaxRounds
	s.CompactionThreshold = c.Loop.CompactionThreshold
	s.KeepRecent = c.Loop.KeepRecent
	s.RewriteAttempts = c.Loop.RewriteAttempts
	s.SummarizeAttempts = c.Loop.SummarizeAttempts
	s.EnableLoopDetection = c.Loop.LoopDetection
	s.LoopDetectionWindow = c.Loop.LoopWindow
	s.UserInstructions = c.Loop.Instructions
	s.Logger = logger
	return &s
}

// NewSearcher builds the web search client.
func (c *Config) NewSearcher() *agentloop.BraveSearch {
	return agentloop.NewBraveSearch(
		agentloop.WithSearchEndpoint(c.Search.Endpoint),
		agentloop.WithSearchKeyEnv(c.Search.APIKeyEnv),
		agentloop.WithSearchCount(c.Search.Count),
		agentloop.WithSearchTimeout(c.SearchTimeout()),
	)
}

// Logging returns the logger configuration.
func (c *Config) Logging() *logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = logging.Level(c.Log.Level)
	lc.JSON = c.Log.JSON
	return lc
}
