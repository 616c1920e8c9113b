package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "BOOKS_"

// LoadDotEnv reads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// EnvString returns the trimmed value of key when it is set and non-empty.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

// EnvInt parses key as an integer.
func EnvInt(key string) (int, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// EnvBool parses key as a boolean.
func EnvBool(key string) (bool, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return false, false, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// EnvDuration parses key as a Go duration ("1s", "250ms").
func EnvDuration(key string) (time.Duration, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// ApplyEnv overrides c with any BOOKS_* variables present in the environment.
func (c *Config) ApplyEnv() error {
	strs := map[string]*string{
		"BASE_URL":      &c.BaseURL,
		"USER_AGENT":    &c.UserAgent,
		"DATABASE_PATH": &c.DatabasePath,
		"EXPORT_FILE":   &c.ExportFile,
		"EXPORT_FORMAT": &c.ExportFormat,
		"LISTEN_ADDR":   &c.ListenAddr,
		"METRICS_ADDR":  &c.MetricsAddr,
	}
	for name, dst := range strs {
		if value, ok := EnvString(EnvPrefix + name); ok {
			*dst = value
		}
	}

	ints := map[string]*int{
		"MAX_PAGES":         &c.MaxPages,
		"MAX_RETRIES":       &c.MaxRetries,
		"DEDUPE_MAX_SIZE":   &c.DedupeMaxSize,
		"BATCH_SIZE":        &c.BatchSize,
		"BUFFER_SIZE":       &c.PipelineBufferSize,
		"DEFAULT_PAGE_SIZE": &c.DefaultPageSize,
		"MAX_PAGE_SIZE":     &c.MaxPageSize,
	}
	for name, dst := range ints {
		value, ok, err := EnvInt(EnvPrefix + name)
		if err != nil {
			return err
		}
		if ok {
			*dst = value
		}
	}

	durations := map[string]*time.Duration{
		"DELAY":             &c.Delay,
		"TIMEOUT":           &c.Timeout,
		"RETRY_BACKOFF":     &c.RetryBackoff,
		"RETRY_BACKOFF_MAX": &c.RetryBackoffMax,
	}
	for name, dst := range durations {
		value, ok, err := EnvDuration(EnvPrefix + name)
		if err != nil {
			return err
		}
		if ok {
			*dst = value
		}
	}

	bools := map[string]*bool{
		"RESPECT_ROBOTS_TXT": &c.RespectRobotsTxt,
		"VERBOSE":            &c.Verbose,
	}
	for name, dst := range bools {
		value, ok, err := EnvBool(EnvPrefix + name)
		if err != nil {
			return err
		}
		if ok {
			*dst = value
		}
	}
	return nil
}
