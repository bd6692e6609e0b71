package config

import (
	"fmt"
	"time"
)

// Output formats accepted by Config.OutputFormat.
const (
	FormatDat  = "dat"
	FormatJSON = "json"
	FormatDual = "dual"
)

// Config holds table generator configuration.
type Config struct {
	OutputDir          string
	OutputFormat       string // dat, json, or dual
	Parallelism        int
	PipelineBufferSize int
	Timeout            time.Duration
	MaxRetries         int
	RetryBackoff       time.Duration
	RetryBackoffMax    time.Duration
	MaxBodySize        int
	UserAgent          string
	TimestampCacheSize int
	Verbose            bool
	MetricsAddr        string
}

// DefaultConfig returns defaults that reproduce the plain four-table run in
// the working directory.
func DefaultConfig() *Config {
	return &Config{
		OutputDir:          ".",
		OutputFormat:       FormatDat,
		Parallelism:        4,
		PipelineBufferSize: 64,
		Timeout:            30 * time.Second,
		MaxRetries:         2,
		RetryBackoff:       200 * time.Millisecond,
		RetryBackoffMax:    2 * time.Second,
		MaxBodySize:        0,
		UserAgent:          "go-auction-tables/1.0",
		TimestampCacheSize: 4096,
		Verbose:            false,
		MetricsAddr:        "",
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.OutputDir == "" {
		return fmt.Errorf("output dir cannot be empty")
	}
	if c.OutputFormat != FormatDat && c.OutputFormat != FormatJSON && c.OutputFormat != FormatDual {
		return fmt.Errorf("output format must be dat, json, or dual")
	}
	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive")
	}
	if c.PipelineBufferSize <= 0 {
		return fmt.Errorf("pipeline buffer size must be positive")
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
	if c.MaxBodySize < 0 {
		return fmt.Errorf("max body size cannot be negative")
	}
	if c.TimestampCacheSize < 0 {
		return fmt.Errorf("timestamp cache size cannot be negative")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	return nil
}
