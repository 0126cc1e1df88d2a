package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// EnvPrefix prefixes every environment override, e.g. BATCHFETCH_TIMEOUT.
const EnvPrefix = "BATCHFETCH_"

const (
	DefaultDownloadConcurrency = 3
	DefaultExtractConcurrency  = 2
	DefaultTimeout             = 30 * time.Second
	DefaultRetryAttempts       = 3
	DefaultRetryDelay          = 5 * time.Second
	DefaultUserAgent           = "batchfetch/0.3 (Go-client)"
)

// DefaultFeedSuffixes are the link suffixes collected from feed index pages.
var DefaultFeedSuffixes = []string{".zip", ".tgz", ".tar.gz", ".tar", ".gz"}

// Config holds application settings. It is built once at startup and passed
// by value into the pipelines.
type Config struct {
	URLs         []string
	FeedURLs     []string
	FeedSuffixes []string

	DownloadDir      string
	ExtractSourceDir string // empty means DownloadDir
	ExtractDestDir   string

	DownloadConcurrency int
	ExtractConcurrency  int
	Timeout             time.Duration
	RetryAttempts       int
	RetryDelay          time.Duration
	DeleteAfterExtract  bool
	SkipExtract         bool
	UserAgent           string

	LogLevel  string
	LogFormat string
	LogOutput string

	DbPath    string // empty disables the event ledger
	ReportDir string // empty disables parquet reports
}

// Default returns a Config with the documented defaults.
func Default() Config {
	return Config{
		FeedSuffixes:        append([]string(nil), DefaultFeedSuffixes...),
		DownloadDir:         "./downloads",
		ExtractDestDir:      "./extracted",
		DownloadConcurrency: DefaultDownloadConcurrency,
		ExtractConcurrency:  DefaultExtractConcurrency,
		Timeout:             DefaultTimeout,
		RetryAttempts:       DefaultRetryAttempts,
		RetryDelay:          DefaultRetryDelay,
		UserAgent:           DefaultUserAgent,
		LogLevel:            "info",
		LogFormat:           "text",
		LogOutput:           "stderr",
	}
}

// SourceDir is the directory scanned for archives.
func (c Config) SourceDir() string {
	if c.ExtractSourceDir != "" {
		return c.ExtractSourceDir
	}
	return c.DownloadDir
}

// Validate checks the invariants the pipelines rely on.
func (c Config) Validate() error {
	var errs []error
	if c.DownloadConcurrency < 1 {
		errs = append(errs, fmt.Errorf("download concurrency must be at least 1, got %d", c.DownloadConcurrency))
	}
	if c.ExtractConcurrency < 1 {
		errs = append(errs, fmt.Errorf("extract concurrency must be at least 1, got %d", c.ExtractConcurrency))
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive, got %s", c.Timeout))
	}
	if c.RetryAttempts < 0 {
		errs = append(errs, fmt.Errorf("retry attempts must not be negative, got %d", c.RetryAttempts))
	}
	if c.RetryDelay < 0 {
		errs = append(errs, fmt.Errorf("retry delay must not be negative, got %s", c.RetryDelay))
	}
	if c.DownloadDir == "" {
		errs = append(errs, errors.New("download dir is required"))
	}
	if c.ExtractDestDir == "" {
		errs = append(errs, errors.New("extract dest dir is required"))
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log format must be text or json, got %q", c.LogFormat))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// yamlConfig is the config file schema. Durations are strings ("30s", "1m").
type yamlConfig struct {
	URLs                []string `yaml:"urls"`
	FeedURLs            []string `yaml:"feed_urls"`
	FeedSuffixes        []string `yaml:"feed_suffixes"`
	DownloadDir         string   `yaml:"download_dir"`
	ExtractSourceDir    string   `yaml:"extract_source_dir"`
	ExtractDestDir      string   `yaml:"extract_dest_dir"`
	DownloadConcurrency *int     `yaml:"download_concurrency"`
	ExtractConcurrency  *int     `yaml:"extract_concurrency"`
	Timeout             string   `yaml:"timeout"`
	RetryAttempts       *int     `yaml:"retry_attempts"`
	RetryDelay          string   `yaml:"retry_delay"`
	DeleteAfterExtract  *bool    `yaml:"delete_after_extract"`
	SkipExtract         *bool    `yaml:"skip_extract"`
	UserAgent           string   `yaml:"user_agent"`
	LogLevel            string   `yaml:"log_level"`
	LogFormat           string   `yaml:"log_format"`
	LogOutput           string   `yaml:"log_output"`
	DbPath              string   `yaml:"db_path"`
	ReportDir           string   `yaml:"report_dir"`
}

// LoadFile overlays the YAML file at path onto base. Keys absent from the
// file keep base's values.
func LoadFile(base Config, path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := base
	if len(yc.URLs) > 0 {
		cfg.URLs = yc.URLs
	}
	if len(yc.FeedURLs) > 0 {
		cfg.FeedURLs = yc.FeedURLs
	}
	if len(yc.FeedSuffixes) > 0 {
		cfg.FeedSuffixes = yc.FeedSuffixes
	}
	setString(&cfg.DownloadDir, yc.DownloadDir)
	setString(&cfg.ExtractSourceDir, yc.ExtractSourceDir)
	setString(&cfg.ExtractDestDir, yc.ExtractDestDir)
	setString(&cfg.UserAgent, yc.UserAgent)
	setString(&cfg.LogLevel, yc.LogLevel)
	setString(&cfg.LogFormat, yc.LogFormat)
	setString(&cfg.LogOutput, yc.LogOutput)
	setString(&cfg.DbPath, yc.DbPath)
	setString(&cfg.ReportDir, yc.ReportDir)
	if yc.DownloadConcurrency != nil {
		cfg.DownloadConcurrency = *yc.DownloadConcurrency
	}
	if yc.ExtractConcurrency != nil {
		cfg.ExtractConcurrency = *yc.ExtractConcurrency
	}
	if yc.RetryAttempts != nil {
		cfg.RetryAttempts = *yc.RetryAttempts
	}
	if yc.DeleteAfterExtract != nil {
		cfg.DeleteAfterExtract = *yc.DeleteAfterExtract
	}
	if yc.SkipExtract != nil {
		cfg.SkipExtract = *yc.SkipExtract
	}
	if yc.Timeout != "" {
		d, err := time.ParseDuration(yc.Timeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse timeout: %w", err)
		}
		cfg.Timeout = d
	}
	if yc.RetryDelay != "" {
		d, err := time.ParseDuration(yc.RetryDelay)
		if err != nil {
			return Config{}, fmt.Errorf("parse retry_delay: %w", err)
		}
		cfg.RetryDelay = d
	}
	return cfg, nil
}

// LoadDotEnv loads .env.local then .env into the process environment.
// Variables already set are not overwritten. Missing files are ignored.
func LoadDotEnv() error {
	for _, f := range []string{".env.local", ".env"} {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overlays BATCHFETCH_* variables returned by lookup onto base.
// List values are comma separated.
func ApplyEnv(base Config, lookup func(string) (string, bool)) (Config, error) {
	cfg := base
	get := func(key string) (string, bool) {
		v, ok := lookup(EnvPrefix + key)
		if !ok || strings.TrimSpace(v) == "" {
			return "", false
		}
		return strings.TrimSpace(v), true
	}

	if v, ok := get("URLS"); ok {
		cfg.URLs = splitList(v)
	}
	if v, ok := get("FEED_URLS"); ok {
		cfg.FeedURLs = splitList(v)
	}
	if v, ok := get("DOWNLOAD_DIR"); ok {
		cfg.DownloadDir = v
	}
	if v, ok := get("EXTRACT_SOURCE_DIR"); ok {
		cfg.ExtractSourceDir = v
	}
	if v, ok := get("EXTRACT_DEST_DIR"); ok {
		cfg.ExtractDestDir = v
	}
	if v, ok := get("USER_AGENT"); ok {
		cfg.UserAgent = v
	}
	if v, ok := get("LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	if v, ok := get("DB_PATH"); ok {
		cfg.DbPath = v
	}
	if v, ok := get("REPORT_DIR"); ok {
		cfg.ReportDir = v
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"DOWNLOAD_CONCURRENCY", &cfg.DownloadConcurrency},
		{"EXTRACT_CONCURRENCY", &cfg.ExtractConcurrency},
		{"RETRY_ATTEMPTS", &cfg.RetryAttempts},
	}
	for _, f := range ints {
		if v, ok := get(f.key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return Config{}, fmt.Errorf("parse %s%s: %w", EnvPrefix, f.key, err)
			}
			*f.dst = n
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"TIMEOUT", &cfg.Timeout},
		{"RETRY_DELAY", &cfg.RetryDelay},
	}
	for _, f := range durations {
		if v, ok := get(f.key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return Config{}, fmt.Errorf("parse %s%s: %w", EnvPrefix, f.key, err)
			}
			*f.dst = d
		}
	}

	if v, ok := get("DELETE_AFTER_EXTRACT"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse %sDELETE_AFTER_EXTRACT: %w", EnvPrefix, err)
		}
		cfg.DeleteAfterExtract = b
	}
	return cfg, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
