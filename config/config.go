package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	APIKey             string `yaml:"api_key"`
	APIEndpoint        string `yaml:"api_endpoint"`
	WebhookURL         string `yaml:"webhook_url"`
	Model              string `yaml:"model"`
	Period             string `yaml:"period"`
	Category           string `yaml:"category"`
	RankingSize        int    `yaml:"ranking_size"`
	SystemPromptPath   string `yaml:"system_prompt_path"`
	RecordDir          string `yaml:"record_dir"`
	DBPath             string `yaml:"db_path"`
	LogLevel           string `yaml:"log_level"`
	FetchTimeoutSec    int    `yaml:"fetch_timeout_secs"`
	GenerateTimeoutSec int    `yaml:"generate_timeout_secs"`
}

var validPeriods = map[string]bool{
	"daily": true, "weekly": true, "monthly": true, "quarter": true, "yearly": true,
}

var validCategories = map[string]bool{
	"re": true, "t": true,
}

// Defaults returns a Config with all default values set.
func Defaults() Config {
	return Config{
		APIEndpoint:        "https://api.voids.top/v1/",
		Model:              "command-a-03-2025",
		Period:             "weekly",
		Category:           "re",
		RankingSize:        20,
		SystemPromptPath:   "./data/system.txt",
		RecordDir:          "./response",
		DBPath:             "./narou-digest.db",
		LogLevel:           "info",
		FetchTimeoutSec:    30,
		GenerateTimeoutSec: 120,
	}
}

// Load reads a YAML config file and returns a validated Config.
// Environment variables override the file: NAROU_DIGEST_CONFIG (path),
// COHERE_API_KEY, COHERE_API_ENDPOINT, DISCORD_WEBHOOK_URL and
// NAROU_DIGEST_DB.
func Load(path string) (Config, error) {
	if envPath := os.Getenv("NAROU_DIGEST_CONFIG"); envPath != "" {
		path = envPath
	}

	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if key := os.Getenv("COHERE_API_KEY"); key != "" {
		cfg.APIKey = key
	}
	if endpoint := os.Getenv("COHERE_API_ENDPOINT"); endpoint != "" {
		cfg.APIEndpoint = endpoint
	}
	if url := os.Getenv("DISCORD_WEBHOOK_URL"); url != "" {
		cfg.WebhookURL = url
	}
	if db := os.Getenv("NAROU_DIGEST_DB"); db != "" {
		cfg.DBPath = db
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks that required fields are present and values are valid.
// A missing API key or webhook URL is a configuration error; the
// pipeline must never start without them.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("api_key is required (or set COHERE_API_KEY)")
	}
	if c.WebhookURL == "" {
		return fmt.Errorf("webhook_url is required (or set DISCORD_WEBHOOK_URL)")
	}
	if c.APIEndpoint == "" {
		return fmt.Errorf("api_endpoint is required")
	}
	if !validPeriods[c.Period] {
		return fmt.Errorf("invalid period %q", c.Period)
	}
	if !validCategories[c.Category] {
		return fmt.Errorf("invalid category %q: must be re or t", c.Category)
	}
	if c.RankingSize < 1 || c.RankingSize > 500 {
		return fmt.Errorf("invalid ranking_size %d: must be 1-500", c.RankingSize)
	}
	return nil
}
