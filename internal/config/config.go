package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	kberrors "github.com/Aman-CERP/amankb/internal/errors"
	"github.com/Aman-CERP/amankb/internal/ingest"
	"github.com/Aman-CERP/amankb/internal/logging"
	"github.com/Aman-CERP/amankb/internal/snippet"
	"github.com/Aman-CERP/amankb/internal/table"
)

// ProjectFileName is the per-directory config file.
const ProjectFileName = ".amankb.yaml"

// Config represents the complete amankb configuration.
type Config struct {
	Version int           `yaml:"version" json:"version"`
	Paths   PathsConfig   `yaml:"paths" json:"paths"`
	Ingest  IngestConfig  `yaml:"ingest" json:"ingest"`
	Search  SearchConfig  `yaml:"search" json:"search"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// PathsConfig locates the knowledge store.
type PathsConfig struct {
	// DataDir holds knowledge.db, the import lock and the import marker.
	// Defaults to ~/.amankb/data
	DataDir string `yaml:"data_dir" json:"data_dir"`
}

// IngestConfig tunes the streaming importer.
type IngestConfig struct {
	// BatchSize is the number of records per store transaction (default: 100).
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// PoolCapacity bounds idle record builders kept between batches (default: 128).
	PoolCapacity int `yaml:"pool_capacity" json:"pool_capacity"`

	// TablePolicy degrades unrepairable tables: "fence" (default) or "flatten".
	TablePolicy string `yaml:"table_policy" json:"table_policy"`

	// CarrierIDPatterns are regexes on entry ids marking image-carrier
	// entries that stay out of search. Empty uses the defaults.
	CarrierIDPatterns []string `yaml:"carrier_id_patterns" json:"carrier_id_patterns"`

	// CaptionTitlePatterns are regexes on titles marking caption entries
	// that stay out of search. Empty uses the defaults.
	CaptionTitlePatterns []string `yaml:"caption_title_patterns" json:"caption_title_patterns"`

	// DisableSuppression makes every entry searchable.
	DisableSuppression bool `yaml:"disable_suppression" json:"disable_suppression"`

	// Workers is the number of files imported concurrently (default: NumCPU, max 8).
	Workers int `yaml:"workers" json:"workers"`

	// WatchDebounce delays re-imports after file changes (default: "500ms").
	WatchDebounce string `yaml:"watch_debounce" json:"watch_debounce"`
}

// SearchConfig tunes the tier cascade.
type SearchConfig struct {
	// Backend selects the full-text index: "sqlite" (default, FTS5) or "bleve".
	Backend string `yaml:"backend" json:"backend"`

	MaxResults int `yaml:"max_results" json:"max_results"`

	// Snippet sizes, in runes.
	SnippetWindow int `yaml:"snippet_window" json:"snippet_window"`
	SnippetBefore int `yaml:"snippet_before" json:"snippet_before"`
	SnippetAfter  int `yaml:"snippet_after" json:"snippet_after"`

	// Fuzzy tier query length bounds, in runes.
	FuzzyMinRunes int `yaml:"fuzzy_min_runes" json:"fuzzy_min_runes"`
	FuzzyMaxRunes int `yaml:"fuzzy_max_runes" json:"fuzzy_max_runes"`

	// Telemetry records answering tiers and zero-result queries locally.
	// Nil means enabled.
	Telemetry *bool `yaml:"telemetry,omitempty" json:"telemetry,omitempty"`
}

// LoggingConfig configures the log file.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	FilePath  string `yaml:"file_path" json:"file_path"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// NewConfig returns the defaults.
func NewConfig() *Config {
	workers := runtime.NumCPU()
	if workers > 8 {
		workers = 8
	}
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			DataDir: defaultDataDir(),
		},
		Ingest: IngestConfig{
			BatchSize:     100,
			PoolCapacity:  128,
			TablePolicy:   "fence",
			Workers:       workers,
			WatchDebounce: "500ms",
		},
		Search: SearchConfig{
			Backend:       "sqlite",
			MaxResults:    20,
			SnippetWindow: 300,
			SnippetBefore: 100,
			SnippetAfter:  100,
			FuzzyMinRunes: 3,
			FuzzyMaxRunes: 12,
		},
		Logging: LoggingConfig{
			Level:     "info",
			FilePath:  defaultLogPath(),
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

func amankbHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".amankb")
	}
	return filepath.Join(home, ".amankb")
}

func defaultDataDir() string {
	return filepath.Join(amankbHome(), "data")
}

func defaultLogPath() string {
	return filepath.Join(amankbHome(), "logs", "amankb.log")
}

// GetUserConfigPath returns $XDG_CONFIG_HOME/amankb/config.yaml, falling
// back to ~/.config/amankb/config.yaml.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "amankb", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "amankb", "config.yaml")
	}
	return filepath.Join(home, ".config", "amankb", "config.yaml")
}

// UserConfigExists checks if the user config file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// LoadUserConfig returns the defaults overlaid with the user config file
// only, without project files or environment overrides.
func LoadUserConfig() (*Config, error) {
	cfg := NewConfig()
	if UserConfigExists() {
		if err := cfg.loadYAML(GetUserConfigPath()); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Load builds the effective configuration for dir.
// Precedence, lowest first: defaults, user config, dir/.amankb.yaml,
// AMANKB_* environment variables.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if UserConfigExists() {
		if err := cfg.loadYAML(GetUserConfigPath()); err != nil {
			return nil, err
		}
	}

	if dir != "" {
		for _, name := range []string{ProjectFileName, ".amankb.yml"} {
			path := filepath.Join(dir, name)
			if fileExists(path) {
				if err := cfg.loadYAML(path); err != nil {
					return nil, err
				}
				break
			}
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return kberrors.ConfigError(fmt.Sprintf("failed to read config file %s", path), err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return kberrors.ConfigError(fmt.Sprintf("failed to parse config file %s", path), err).
			WithDetail("path", path)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith overlays the non-zero fields of other.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if other.Paths.DataDir != "" {
		c.Paths.DataDir = expandHome(other.Paths.DataDir)
	}

	if other.Ingest.BatchSize != 0 {
		c.Ingest.BatchSize = other.Ingest.BatchSize
	}
	if other.Ingest.PoolCapacity != 0 {
		c.Ingest.PoolCapacity = other.Ingest.PoolCapacity
	}
	if other.Ingest.TablePolicy != "" {
		c.Ingest.TablePolicy = other.Ingest.TablePolicy
	}
	if len(other.Ingest.CarrierIDPatterns) > 0 {
		c.Ingest.CarrierIDPatterns = other.Ingest.CarrierIDPatterns
	}
	if len(other.Ingest.CaptionTitlePatterns) > 0 {
		c.Ingest.CaptionTitlePatterns = other.Ingest.CaptionTitlePatterns
	}
	if other.Ingest.DisableSuppression {
		c.Ingest.DisableSuppression = true
	}
	if other.Ingest.Workers != 0 {
		c.Ingest.Workers = other.Ingest.Workers
	}
	if other.Ingest.WatchDebounce != "" {
		c.Ingest.WatchDebounce = other.Ingest.WatchDebounce
	}

	if other.Search.Backend != "" {
		c.Search.Backend = other.Search.Backend
	}
	if other.Search.MaxResults != 0 {
		c.Search.MaxResults = other.Search.MaxResults
	}
	if other.Search.SnippetWindow != 0 {
		c.Search.SnippetWindow = other.Search.SnippetWindow
	}
	if other.Search.SnippetBefore != 0 {
		c.Search.SnippetBefore = other.Search.SnippetBefore
	}
	if other.Search.SnippetAfter != 0 {
		c.Search.SnippetAfter = other.Search.SnippetAfter
	}
	if other.Search.FuzzyMinRunes != 0 {
		c.Search.FuzzyMinRunes = other.Search.FuzzyMinRunes
	}
	if other.Search.FuzzyMaxRunes != 0 {
		c.Search.FuzzyMaxRunes = other.Search.FuzzyMaxRunes
	}
	if other.Search.Telemetry != nil {
		v := *other.Search.Telemetry
		c.Search.Telemetry = &v
	}

	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.FilePath != "" {
		c.Logging.FilePath = expandHome(other.Logging.FilePath)
	}
	if other.Logging.MaxSizeMB != 0 {
		c.Logging.MaxSizeMB = other.Logging.MaxSizeMB
	}
	if other.Logging.MaxFiles != 0 {
		c.Logging.MaxFiles = other.Logging.MaxFiles
	}
}

// applyEnvOverrides applies AMANKB_* variables. Unparseable values are ignored.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("AMANKB_DATA_DIR"); v != "" {
		c.Paths.DataDir = expandHome(v)
	}
	if v := os.Getenv("AMANKB_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Ingest.BatchSize = n
		}
	}
	if v := os.Getenv("AMANKB_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Ingest.Workers = n
		}
	}
	if v := os.Getenv("AMANKB_TABLE_POLICY"); v != "" {
		c.Ingest.TablePolicy = v
	}
	if v := os.Getenv("AMANKB_SEARCH_BACKEND"); v != "" {
		c.Search.Backend = v
	}
	if v := os.Getenv("AMANKB_MAX_RESULTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Search.MaxResults = n
		}
	}
	if v := os.Getenv("AMANKB_TELEMETRY"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Search.Telemetry = &enabled
		}
	}
	if v := os.Getenv("AMANKB_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	invalid := func(field string, format string, args ...any) error {
		return kberrors.New(kberrors.ErrCodeConfigInvalid, fmt.Sprintf(format, args...), nil).
			WithDetail("field", field)
	}

	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return invalid("paths.data_dir", "paths.data_dir must not be empty")
	}

	if c.Ingest.BatchSize <= 0 {
		return invalid("ingest.batch_size", "ingest.batch_size must be positive, got %d", c.Ingest.BatchSize)
	}
	if c.Ingest.PoolCapacity < 0 {
		return invalid("ingest.pool_capacity", "ingest.pool_capacity must be non-negative, got %d", c.Ingest.PoolCapacity)
	}
	switch strings.ToLower(c.Ingest.TablePolicy) {
	case "fence", "flatten":
	default:
		return invalid("ingest.table_policy", "ingest.table_policy must be 'fence' or 'flatten', got %s", c.Ingest.TablePolicy)
	}
	for _, p := range append(append([]string{}, c.Ingest.CarrierIDPatterns...), c.Ingest.CaptionTitlePatterns...) {
		if _, err := regexp.Compile(p); err != nil {
			return invalid("ingest.patterns", "invalid suppression pattern %q: %v", p, err)
		}
	}
	if c.Ingest.Workers <= 0 {
		return invalid("ingest.workers", "ingest.workers must be positive, got %d", c.Ingest.Workers)
	}
	if _, err := time.ParseDuration(c.Ingest.WatchDebounce); err != nil {
		return invalid("ingest.watch_debounce", "ingest.watch_debounce is not a duration: %s", c.Ingest.WatchDebounce)
	}

	switch strings.ToLower(c.Search.Backend) {
	case "sqlite", "bleve":
	default:
		return invalid("search.backend", "search.backend must be 'sqlite' or 'bleve', got %s", c.Search.Backend)
	}
	if c.Search.MaxResults <= 0 {
		return invalid("search.max_results", "search.max_results must be positive, got %d", c.Search.MaxResults)
	}
	if c.Search.SnippetWindow <= 0 {
		return invalid("search.snippet_window", "search.snippet_window must be positive, got %d", c.Search.SnippetWindow)
	}
	if c.Search.SnippetBefore < 0 || c.Search.SnippetAfter < 0 {
		return invalid("search.snippet_before", "snippet context must be non-negative")
	}
	if c.Search.FuzzyMinRunes <= 0 || c.Search.FuzzyMaxRunes < c.Search.FuzzyMinRunes {
		return invalid("search.fuzzy_min_runes", "fuzzy bounds must satisfy 0 < min <= max, got %d..%d",
			c.Search.FuzzyMinRunes, c.Search.FuzzyMaxRunes)
	}

	if !logging.ValidLevel(c.Logging.Level) {
		return invalid("logging.level", "logging.level must be debug, info, warn or error, got %s", c.Logging.Level)
	}

	return nil
}

// TelemetryEnabled reports whether query telemetry is recorded.
func (c *Config) TelemetryEnabled() bool {
	return c.Search.Telemetry == nil || *c.Search.Telemetry
}

// WatchDebounceDuration returns the parsed debounce, falling back to 500ms.
func (c *Config) WatchDebounceDuration() time.Duration {
	d, err := time.ParseDuration(c.Ingest.WatchDebounce)
	if err != nil || d <= 0 {
		return 500 * time.Millisecond
	}
	return d
}

// IngestOptions converts the ingest section into importer options.
func (c *Config) IngestOptions() (ingest.Options, error) {
	opts := ingest.DefaultOptions()
	opts.BatchSize = c.Ingest.BatchSize
	opts.PoolCapacity = c.Ingest.PoolCapacity
	opts.TablePolicy = table.ParsePolicy(c.Ingest.TablePolicy)

	switch {
	case c.Ingest.DisableSuppression:
		opts.Suppression = nil
	case len(c.Ingest.CarrierIDPatterns) > 0 || len(c.Ingest.CaptionTitlePatterns) > 0:
		ids := c.Ingest.CarrierIDPatterns
		if len(ids) == 0 {
			ids = ingest.DefaultCarrierIDPatterns
		}
		titles := c.Ingest.CaptionTitlePatterns
		if len(titles) == 0 {
			titles = ingest.DefaultCaptionTitlePatterns
		}
		rule, err := ingest.NewSuppressionRule(ids, titles)
		if err != nil {
			return ingest.Options{}, kberrors.ConfigError("invalid suppression pattern", err)
		}
		opts.Suppression = rule
	}
	return opts, nil
}

// SnippetOptions returns the snippet sizing of the search section.
func (c *Config) SnippetOptions() snippet.Options {
	return snippet.Options{
		Window: c.Search.SnippetWindow,
		Before: c.Search.SnippetBefore,
		After:  c.Search.SnippetAfter,
	}
}

// LogConfig returns the logging setup for this configuration.
func (c *Config) LogConfig(debug bool) logging.Config {
	cfg := logging.Config{
		Level:     c.Logging.Level,
		FilePath:  c.Logging.FilePath,
		MaxSizeMB: c.Logging.MaxSizeMB,
		MaxFiles:  c.Logging.MaxFiles,
	}
	if debug {
		cfg.Level = "debug"
		cfg.WriteToStderr = true
	}
	return cfg
}

// WriteYAML writes the configuration to path, creating its directory.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return kberrors.IOError("failed to create config directory", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return kberrors.IOError("failed to write config file", err).WithDetail("path", path)
	}
	return nil
}

// WriteTemplate writes a commented config template verbatim. The
// template must parse as a config.
func WriteTemplate(path, template string) error {
	var probe Config
	if err := yaml.Unmarshal([]byte(template), &probe); err != nil {
		return kberrors.ConfigError("config template does not parse", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return kberrors.IOError("failed to create config directory", err)
	}
	if err := os.WriteFile(path, []byte(template), 0o644); err != nil {
		return kberrors.IOError("failed to write config file", err).WithDetail("path", path)
	}
	return nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
