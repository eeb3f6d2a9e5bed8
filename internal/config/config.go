package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Snippets controls repository filtering and snippet extraction.
type Snippets struct {
	AllowedExtensions   []string `mapstructure:"allowed_extensions"`
	ExcludedDirs        []string `mapstructure:"excluded_dirs"`
	MaxFileSizeKB       int      `mapstructure:"max_file_size_kb"`
	SnippetMaxLines     int      `mapstructure:"snippet_max_lines"`
	SnippetContextLines int      `mapstructure:"snippet_context_lines"`
	MaxSnippetsPerFile  int      `mapstructure:"max_snippets_per_file"`
	SelectionCount      int      `mapstructure:"selection_count"`
	MaxCandidates       int      `mapstructure:"max_candidates"`
}

// MaxFileSizeBytes returns the file size cap in bytes.
func (s Snippets) MaxFileSizeBytes() int64 {
	return int64(s.MaxFileSizeKB) * 1024
}

// LLM holds provider tuning for the orchestrator.
type LLM struct {
	Provider            string  `mapstructure:"provider"`
	Model               string  `mapstructure:"model"`
	APIBase             string  `mapstructure:"api_base"`
	Temperature         float64 `mapstructure:"temperature"`
	MaxOutputTokens     int     `mapstructure:"max_output_tokens"`
	TimeoutSeconds      float64 `mapstructure:"timeout_seconds"`
	MaxRetries          int     `mapstructure:"max_retries"`
	RetryBackoffSeconds float64 `mapstructure:"retry_backoff_seconds"`
	RateLimitPerMinute  float64 `mapstructure:"rate_limit_per_minute"`
	MaxSnippets         int     `mapstructure:"max_snippets"`
}

// Timeout returns the per-request timeout as a duration.
func (l LLM) Timeout() time.Duration {
	return time.Duration(l.TimeoutSeconds * float64(time.Second))
}

// Backoff returns the backoff for a given zero-based attempt.
func (l LLM) Backoff(attempt int) time.Duration {
	return time.Duration(l.RetryBackoffSeconds * float64(attempt+1) * float64(time.Second))
}

// Grading holds the score and confidence bounds.
type Grading struct {
	MinScore          int     `mapstructure:"min_score"`
	MaxScore          int     `mapstructure:"max_score"`
	MinConfidence     float64 `mapstructure:"min_confidence"`
	MaxConfidence     float64 `mapstructure:"max_confidence"`
	DefaultConfidence float64 `mapstructure:"default_confidence"`
}

// GitHub holds the archive source client settings.
type GitHub struct {
	APIBase        string  `mapstructure:"api_base"`
	TimeoutSeconds float64 `mapstructure:"timeout_seconds"`
}

// Timeout returns the request timeout as a duration.
func (g GitHub) Timeout() time.Duration {
	return time.Duration(g.TimeoutSeconds * float64(time.Second))
}

// Workers configures the background grading pool.
type Workers struct {
	Count               int     `mapstructure:"count"`
	GradeSpacingSeconds float64 `mapstructure:"grade_spacing_seconds"`
	QueueSize           int     `mapstructure:"queue_size"`
}

// GradeSpacing returns the inter-answer sleep as a duration.
func (w Workers) GradeSpacing() time.Duration {
	return time.Duration(w.GradeSpacingSeconds * float64(time.Second))
}

// Config is the full application configuration.
type Config struct {
	QuestionCount      int      `mapstructure:"question_count"`
	QuestionCategories []string `mapstructure:"question_categories"`
	Snippets           Snippets `mapstructure:"snippets"`
	LLM                LLM      `mapstructure:"llm"`
	Grading            Grading  `mapstructure:"grading"`
	GitHub             GitHub   `mapstructure:"github"`
	Workers            Workers  `mapstructure:"workers"`
}

// SetDefaults registers the default value for every recognized option.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("question_count", 5)
	v.SetDefault("question_categories", []string{"why", "design", "tradeoff"})

	v.SetDefault("snippets.allowed_extensions", []string{".py", ".js", ".ts", ".tsx"})
	v.SetDefault("snippets.excluded_dirs", []string{
		"node_modules", "vendor", ".git", "__pycache__", "dist", "build",
	})
	v.SetDefault("snippets.max_file_size_kb", 256)
	v.SetDefault("snippets.snippet_max_lines", 120)
	v.SetDefault("snippets.snippet_context_lines", 6)
	v.SetDefault("snippets.max_snippets_per_file", 5)
	v.SetDefault("snippets.selection_count", 6)
	v.SetDefault("snippets.max_candidates", 40)

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.api_base", "")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_output_tokens", 0)
	v.SetDefault("llm.timeout_seconds", 30)
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("llm.retry_backoff_seconds", 1)
	v.SetDefault("llm.rate_limit_per_minute", 20)
	v.SetDefault("llm.max_snippets", 12)

	v.SetDefault("grading.min_score", 1)
	v.SetDefault("grading.max_score", 5)
	v.SetDefault("grading.min_confidence", 0.0)
	v.SetDefault("grading.max_confidence", 1.0)
	v.SetDefault("grading.default_confidence", 0.5)

	v.SetDefault("github.api_base", "https://api.github.com")
	v.SetDefault("github.timeout_seconds", 10)

	v.SetDefault("workers.count", 4)
	v.SetDefault("workers.grade_spacing_seconds", 3)
	v.SetDefault("workers.queue_size", 64)
}

// Load unmarshals the viper instance into a Config and applies sanity checks.
func Load(v *viper.Viper) (Config, error) {
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.QuestionCount <= 0 {
		return Config{}, fmt.Errorf("question_count must be positive, got %d", cfg.QuestionCount)
	}
	if len(cfg.QuestionCategories) == 0 {
		return Config{}, fmt.Errorf("question_categories must not be empty")
	}
	if cfg.Grading.MaxScore < cfg.Grading.MinScore {
		return Config{}, fmt.Errorf("grading max_score %d below min_score %d",
			cfg.Grading.MaxScore, cfg.Grading.MinScore)
	}
	if cfg.Workers.Count <= 0 {
		cfg.Workers.Count = 1
	}
	return cfg, nil
}
