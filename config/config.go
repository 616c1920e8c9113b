package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds crawler, store, and API configuration.
type Config struct {
	BaseURL          string        `yaml:"base_url"`
	MaxPages         int           `yaml:"max_pages"`
	Delay            time.Duration `yaml:"delay"`
	Timeout          time.Duration `yaml:"timeout"`
	MaxRetries       int           `yaml:"max_retries"`
	RetryBackoff     time.Duration `yaml:"retry_backoff"`
	RetryBackoffMax  time.Duration `yaml:"retry_backoff_max"`
	UserAgent        string        `yaml:"user_agent"`
	RespectRobotsTxt bool          `yaml:"respect_robots_txt"`
	Verbose          bool          `yaml:"verbose"`

	DatabasePath       string `yaml:"database_path"`
	DedupeMaxSize      int    `yaml:"dedupe_max_size"`
	BatchSize          int    `yaml:"batch_size"`
	PipelineBufferSize int    `yaml:"pipeline_buffer_size"`
	ExportFile         string `yaml:"export_file"`
	ExportFormat       string `yaml:"export_format"` // empty, csv, json, or dual

	ListenAddr      string `yaml:"listen_addr"`
	MetricsAddr     string `yaml:"metrics_addr"`
	DefaultPageSize int    `yaml:"default_page_size"`
	MaxPageSize     int    `yaml:"max_page_size"`
}

// DefaultConfig returns conservative defaults for the demo target.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:            "https://books.toscrape.com/",
		MaxPages:           1000,
		Delay:              time.Second,
		Timeout:            10 * time.Second,
		MaxRetries:         2,
		RetryBackoff:       200 * time.Millisecond,
		RetryBackoffMax:    2 * time.Second,
		UserAgent:          "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		RespectRobotsTxt:   false,
		Verbose:            false,
		DatabasePath:       "data/books.db",
		DedupeMaxSize:      10000,
		BatchSize:          64,
		PipelineBufferSize: 512,
		ExportFile:         "",
		ExportFormat:       "",
		ListenAddr:         ":8080",
		MetricsAddr:        "",
		DefaultPageSize:    20,
		MaxPageSize:        100,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if c.MaxPages <= 0 {
		return fmt.Errorf("max pages must be positive")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.PipelineBufferSize <= 0 {
		return fmt.Errorf("pipeline buffer size must be positive")
	}
	switch c.ExportFormat {
	case "":
	case "csv", "json", "dual":
		if c.ExportFile == "" {
			return fmt.Errorf("export file cannot be empty when export format is %s", c.ExportFormat)
		}
	default:
		return fmt.Errorf("export format must be csv, json, or dual")
	}
	if c.DefaultPageSize <= 0 {
		return fmt.Errorf("default page size must be positive")
	}
	if c.MaxPageSize <= 0 {
		return fmt.Errorf("max page size must be positive")
	}
	if c.DefaultPageSize > c.MaxPageSize {
		return fmt.Errorf("default page size (%d) cannot exceed max page size (%d)", c.DefaultPageSize, c.MaxPageSize)
	}

	return nil
}
