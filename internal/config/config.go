// Package config provides configuration management for the Heimdex Tagger.
// Values come from defaults, then an optional YAML file, then environment
// variables, each layer overriding the previous one.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/heimdex/heimdex-tagger/internal/catalog"
	"github.com/heimdex/heimdex-tagger/internal/classify"
)

const (
	// Default values
	DefaultPort        = 8790
	DefaultLogLevel    = "info"
	DefaultDataDir     = ".heimdex-tagger"
	DefaultAPIBaseURL  = "https://api.twelvelabs.io/v1.3"
	DefaultConcurrency = 10
	DefaultCooldownMS  = 2000
	DefaultCallTimeout = 60 // seconds
	DefaultPageSize    = 50

	// Environment variable names
	EnvPort               = "TAGGER_PORT"
	EnvLogLevel           = "TAGGER_LOG_LEVEL"
	EnvDataDir            = "TAGGER_DATA_DIR"
	EnvAPIBaseURL         = "TAGGER_API_BASE_URL"
	EnvAPIKey             = "TAGGER_API_KEY"
	EnvIndexID            = "TAGGER_INDEX_ID"
	EnvConcurrency        = "TAGGER_CONCURRENCY"
	EnvCooldownMS         = "TAGGER_COOLDOWN_MS"
	EnvCompletenessFields = "TAGGER_COMPLETENESS_FIELDS"
	EnvRequireReady       = "TAGGER_REQUIRE_READY"
	EnvMaxAttempts        = "TAGGER_MAX_ATTEMPTS"
	EnvCallTimeout        = "TAGGER_CALL_TIMEOUT_S"
	EnvPollInterval       = "TAGGER_POLL_INTERVAL_S"
	EnvPageSize           = "TAGGER_PAGE_SIZE"
	EnvPrompt             = "TAGGER_PROMPT"
	EnvDictionary         = "TAGGER_DICTIONARY"
	EnvOfflineCatalog     = "TAGGER_OFFLINE_CATALOG"
	EnvConfigFile         = "TAGGER_CONFIG"

	// Database filename
	DBFilename = "tagger.db"
)

// DefaultCompletenessFields are the categories checked for emptiness.
// Demographics is deliberately left out.
var DefaultCompletenessFields = []string{
	catalog.FieldSource,
	catalog.FieldSector,
	catalog.FieldEmotions,
	catalog.FieldBrands,
	catalog.FieldLocations,
}

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	APIBaseURL() string
	APIKey() string
	IndexID() string
	Prompt() string
	OfflineCatalog() string
	Concurrency() int
	Cooldown() time.Duration
	CompletenessFields() []string
	RequireReady() bool
	MaxAttempts() int
	CallTimeout() time.Duration
	PollInterval() time.Duration
	PageSize() int
	Dictionary() (*classify.Dictionary, error)
}

// fileConfig is the YAML layout of TAGGER_CONFIG.
type fileConfig struct {
	Server struct {
		Port     int    `yaml:"port"`
		LogLevel string `yaml:"log_level"`
		DataDir  string `yaml:"data_dir"`
	} `yaml:"server"`
	API struct {
		BaseURL        string `yaml:"base_url"`
		IndexID        string `yaml:"index_id"`
		Prompt         string `yaml:"prompt"`
		OfflineCatalog string `yaml:"offline_catalog"`
	} `yaml:"api"`
	Enrichment struct {
		Concurrency        int      `yaml:"concurrency"`
		CooldownMS         int      `yaml:"cooldown_ms"`
		CompletenessFields []string `yaml:"completeness_fields"`
		RequireReady       *bool    `yaml:"require_ready"`
		MaxAttempts        int      `yaml:"max_attempts"`
		CallTimeoutS       int      `yaml:"call_timeout_s"`
		PollIntervalS      int      `yaml:"poll_interval_s"`
		PageSize           int      `yaml:"page_size"`
	} `yaml:"enrichment"`
	Dictionary *classify.DictionaryFile `yaml:"dictionary"`
}

// EnvConfig holds the resolved configuration.
type EnvConfig struct {
	port     int
	logLevel string
	dataDir  string

	apiBaseURL     string
	apiKey         string
	indexID        string
	prompt         string
	offlineCatalog string

	concurrency        int
	cooldown           time.Duration
	completenessFields []string
	requireReady       bool
	maxAttempts        int
	callTimeout        time.Duration
	pollInterval       time.Duration
	pageSize           int

	dictionaryPath string
	dictionary     *classify.DictionaryFile
}

// New creates a new EnvConfig with defaults, file values and environment
// variable overrides.
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:               DefaultPort,
		logLevel:           DefaultLogLevel,
		dataDir:            defaultDataDir(),
		apiBaseURL:         DefaultAPIBaseURL,
		concurrency:        DefaultConcurrency,
		cooldown:           time.Duration(DefaultCooldownMS) * time.Millisecond,
		completenessFields: append([]string(nil), DefaultCompletenessFields...),
		requireReady:       true,
		callTimeout:        time.Duration(DefaultCallTimeout) * time.Second,
		pageSize:           DefaultPageSize,
	}

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *EnvConfig) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if f.Server.Port != 0 {
		c.port = f.Server.Port
	}
	if f.Server.LogLevel != "" {
		c.logLevel = f.Server.LogLevel
	}
	if f.Server.DataDir != "" {
		c.dataDir = f.Server.DataDir
	}
	if f.API.BaseURL != "" {
		c.apiBaseURL = f.API.BaseURL
	}
	if f.API.IndexID != "" {
		c.indexID = f.API.IndexID
	}
	if f.API.Prompt != "" {
		c.prompt = f.API.Prompt
	}
	if f.API.OfflineCatalog != "" {
		c.offlineCatalog = f.API.OfflineCatalog
	}

	e := f.Enrichment
	if e.Concurrency != 0 {
		c.concurrency = e.Concurrency
	}
	if e.CooldownMS != 0 {
		c.cooldown = time.Duration(e.CooldownMS) * time.Millisecond
	}
	if len(e.CompletenessFields) > 0 {
		c.completenessFields = normalizeFields(e.CompletenessFields)
	}
	if e.RequireReady != nil {
		c.requireReady = *e.RequireReady
	}
	if e.MaxAttempts != 0 {
		c.maxAttempts = e.MaxAttempts
	}
	if e.CallTimeoutS != 0 {
		c.callTimeout = time.Duration(e.CallTimeoutS) * time.Second
	}
	if e.PollIntervalS != 0 {
		c.pollInterval = time.Duration(e.PollIntervalS) * time.Second
	}
	if e.PageSize != 0 {
		c.pageSize = e.PageSize
	}

	c.dictionary = f.Dictionary
	return nil
}

func (c *EnvConfig) loadEnv() error {
	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		c.logLevel = ll
	}
	if dd := os.Getenv(EnvDataDir); dd != "" {
		c.dataDir = dd
	}
	if u := os.Getenv(EnvAPIBaseURL); u != "" {
		c.apiBaseURL = u
	}
	if k := os.Getenv(EnvAPIKey); k != "" {
		c.apiKey = k
	}
	if id := os.Getenv(EnvIndexID); id != "" {
		c.indexID = id
	}
	if p := os.Getenv(EnvPrompt); p != "" {
		c.prompt = p
	}
	if d := os.Getenv(EnvDictionary); d != "" {
		c.dictionaryPath = d
	}
	if oc := os.Getenv(EnvOfflineCatalog); oc != "" {
		c.offlineCatalog = oc
	}

	ints := []struct {
		env string
		dst *int
	}{
		{EnvConcurrency, &c.concurrency},
		{EnvMaxAttempts, &c.maxAttempts},
		{EnvPageSize, &c.pageSize},
	}
	for _, it := range ints {
		if v := os.Getenv(it.env); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", it.env, err)
			}
			*it.dst = n
		}
	}

	durations := []struct {
		env  string
		unit time.Duration
		dst  *time.Duration
	}{
		{EnvCooldownMS, time.Millisecond, &c.cooldown},
		{EnvCallTimeout, time.Second, &c.callTimeout},
		{EnvPollInterval, time.Second, &c.pollInterval},
	}
	for _, it := range durations {
		if v := os.Getenv(it.env); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", it.env, err)
			}
			*it.dst = time.Duration(n) * it.unit
		}
	}

	if v := os.Getenv(EnvRequireReady); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvRequireReady, err)
		}
		c.requireReady = b
	}

	if v := os.Getenv(EnvCompletenessFields); v != "" {
		c.completenessFields = normalizeFields(strings.Split(v, ","))
	}
	return nil
}

func (c *EnvConfig) validate() error {
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", c.port)
	}
	if c.concurrency < 1 {
		return fmt.Errorf("invalid concurrency %d: must be at least 1", c.concurrency)
	}
	if c.cooldown < 0 {
		return fmt.Errorf("invalid cooldown %s: must not be negative", c.cooldown)
	}
	if c.maxAttempts < 0 {
		return fmt.Errorf("invalid max attempts %d: must not be negative", c.maxAttempts)
	}
	if c.callTimeout <= 0 {
		return fmt.Errorf("invalid call timeout %s: must be positive", c.callTimeout)
	}
	if c.pollInterval < 0 {
		return fmt.Errorf("invalid poll interval %s: must not be negative", c.pollInterval)
	}
	if c.pageSize < 1 {
		return fmt.Errorf("invalid page size %d: must be at least 1", c.pageSize)
	}
	if len(c.completenessFields) == 0 {
		return fmt.Errorf("completeness fields must not be empty")
	}
	for _, f := range c.completenessFields {
		if !isCategoryField(f) {
			return fmt.Errorf("unknown completeness field %q", f)
		}
	}
	return nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

func (c *EnvConfig) APIBaseURL() string {
	return c.apiBaseURL
}

// APIKey returns the vendor API key. Empty means offline mode.
func (c *EnvConfig) APIKey() string {
	return c.apiKey
}

func (c *EnvConfig) IndexID() string {
	return c.indexID
}

// Prompt returns the generation prompt override, or "" for the client default.
func (c *EnvConfig) Prompt() string {
	return c.prompt
}

// OfflineCatalog is the YAML file seeding the stub vendor when no API key
// is configured, or "".
func (c *EnvConfig) OfflineCatalog() string {
	return c.offlineCatalog
}

func (c *EnvConfig) Concurrency() int {
	return c.concurrency
}

func (c *EnvConfig) Cooldown() time.Duration {
	return c.cooldown
}

func (c *EnvConfig) CompletenessFields() []string {
	return append([]string(nil), c.completenessFields...)
}

func (c *EnvConfig) RequireReady() bool {
	return c.requireReady
}

// MaxAttempts returns the per-video retry budget; 0 means unlimited.
func (c *EnvConfig) MaxAttempts() int {
	return c.maxAttempts
}

func (c *EnvConfig) CallTimeout() time.Duration {
	return c.callTimeout
}

// PollInterval returns how often the runner refreshes and enriches on its
// own. Zero disables polling.
func (c *EnvConfig) PollInterval() time.Duration {
	return c.pollInterval
}

func (c *EnvConfig) PageSize() int {
	return c.pageSize
}

// Dictionary resolves the keyword dictionary. A TAGGER_DICTIONARY file wins
// over an inline dictionary in the config file, which wins over the
// built-in lists.
func (c *EnvConfig) Dictionary() (*classify.Dictionary, error) {
	if c.dictionaryPath != "" {
		return classify.LoadDictionary(c.dictionaryPath)
	}
	if c.dictionary != nil {
		return classify.NewDictionary(*c.dictionary), nil
	}
	return classify.DefaultDictionary(), nil
}

func normalizeFields(fields []string) []string {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ToLower(strings.TrimSpace(f))
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func isCategoryField(f string) bool {
	for _, known := range catalog.CategoryFields {
		if f == known {
			return true
		}
	}
	return false
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
