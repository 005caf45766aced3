package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application's configuration.
type Config struct {
	Environment string `yaml:"environment"`
	Database    struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Telegram struct {
		BotToken string  `yaml:"bot_token"`
		AdminIDs []int64 `yaml:"admin_ids"`
	} `yaml:"telegram"`
	LLM struct {
		Provider       string `yaml:"provider"` // "openai" or "googleai"
		APIKey         string `yaml:"api_key"`
		Model          string `yaml:"model"`
		EmbeddingModel string `yaml:"embedding_model"`
		TimeoutSeconds int64  `yaml:"timeout_seconds"`
	} `yaml:"llm"`
	Pipeline struct {
		ModerationThreshold float64 `yaml:"moderation_threshold"`
		MatchThreshold      float64 `yaml:"match_threshold"`
		AmbiguityMargin     float64 `yaml:"ambiguity_margin"`
		RoutingThreshold    float64 `yaml:"routing_threshold"`
		TopK                int     `yaml:"top_k"`
		MaxAttempts         int     `yaml:"max_attempts"`
		RetryBackoffMs      int64   `yaml:"retry_backoff_ms"`
		HistoryDepth        int     `yaml:"history_depth"`
	} `yaml:"pipeline"`
	Sequencer struct {
		MaxWorkers int64 `yaml:"max_workers"`
	} `yaml:"sequencer"`
	Index struct {
		RefreshIntervalSeconds int64 `yaml:"refresh_interval_seconds"`
	} `yaml:"index"`
	// Mentors maps an expertise domain to the Telegram IDs of its mentors.
	Mentors map[string][]int64 `yaml:"mentors"`
	Server  struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
}

// LoadConfig reads configuration from the specified YAML file.
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	config.applyDefaults()

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) applyDefaults() {
	if c.LLM.TimeoutSeconds == 0 {
		c.LLM.TimeoutSeconds = 15
	}
	if c.Pipeline.ModerationThreshold == 0 {
		c.Pipeline.ModerationThreshold = 0.7
	}
	if c.Pipeline.MatchThreshold == 0 {
		c.Pipeline.MatchThreshold = 0.85
	}
	if c.Pipeline.AmbiguityMargin == 0 {
		c.Pipeline.AmbiguityMargin = 0.05
	}
	if c.Pipeline.RoutingThreshold == 0 {
		c.Pipeline.RoutingThreshold = 0.6
	}
	if c.Pipeline.TopK == 0 {
		c.Pipeline.TopK = 3
	}
	if c.Pipeline.MaxAttempts == 0 {
		c.Pipeline.MaxAttempts = 3
	}
	if c.Pipeline.RetryBackoffMs == 0 {
		c.Pipeline.RetryBackoffMs = 250
	}
	if c.Pipeline.HistoryDepth == 0 {
		c.Pipeline.HistoryDepth = 5
	}
	if c.Sequencer.MaxWorkers == 0 {
		c.Sequencer.MaxWorkers = 32
	}
	if c.Index.RefreshIntervalSeconds == 0 {
		c.Index.RefreshIntervalSeconds = 300
	}
	if c.Server.Port == "" {
		c.Server.Port = ":8080"
	}
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("config: database.url is required")
	}
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("config: telegram.bot_token is required")
	}
	switch c.LLM.Provider {
	case "openai", "googleai":
	default:
		return fmt.Errorf("config: llm.provider must be \"openai\" or \"googleai\", got %q", c.LLM.Provider)
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("config: llm.api_key is required")
	}
	thresholds := map[string]float64{
		"moderation_threshold": c.Pipeline.ModerationThreshold,
		"match_threshold":      c.Pipeline.MatchThreshold,
		"routing_threshold":    c.Pipeline.RoutingThreshold,
	}
	for name, v := range thresholds {
		if v < 0 || v > 1 {
			return fmt.Errorf("config: pipeline.%s must be within [0,1], got %v", name, v)
		}
	}
	return nil
}

// LLMTimeout returns the per-call deadline for capability provider calls.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}

// RetryBackoff returns the initial backoff between moderation retries.
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.Pipeline.RetryBackoffMs) * time.Millisecond
}

// IsAdmin reports whether the given Telegram ID is a configured administrator.
func (c *Config) IsAdmin(telegramID int64) bool {
	for _, id := range c.Telegram.AdminIDs {
		if id == telegramID {
			return true
		}
	}
	return false
}
