package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/i474232898/solar-resource-analyzer/internal/logger"
	"github.com/i474232898/solar-resource-analyzer/internal/solar"
)

// ProviderConfig holds the outbound settings of one provider.
type ProviderConfig struct {
	BaseURL           string        `yaml:"base_url"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
}

// Contact is the identity the archive API requires on every download.
type Contact struct {
	Email       string `yaml:"email"`
	Affiliation string `yaml:"affiliation"`
	Reason      string `yaml:"reason"`
	FullName    string `yaml:"full_name"`
}

type NSRDBConfig struct {
	ProviderConfig `yaml:",inline"`
	Contact        Contact `yaml:"contact"`
	LeapDay        bool    `yaml:"leap_day"`
	UTC            bool    `yaml:"utc"`
	CSVFormat      string  `yaml:"csv_format"`
}

type BackoffConfig struct {
	MaxRetries      int           `yaml:"max_retries"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

type AppConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`

	// HTTPTimeout bounds a single outbound HTTP exchange.
	HTTPTimeout time.Duration `yaml:"http_timeout"`
	Backoff     BackoffConfig `yaml:"backoff"`

	NREL             ProviderConfig `yaml:"nrel"`
	NRELGapPolicy    string         `yaml:"nrel_monthly_gap_policy"`
	GoogleSolar      ProviderConfig `yaml:"google_solar"`
	NSRDB            NSRDBConfig    `yaml:"nsrdb"`
	GeocoderAPIKey   string         `yaml:"geocoder_api_key"`
	EnabledProviders []string       `yaml:"enabled_providers"`

	// Server-side keys used when a request carries none.
	NRELAPIKey        string `yaml:"-"`
	GoogleSolarAPIKey string `yaml:"-"`

	// Session retention.
	SessionMaxCount      int           `yaml:"session_max_count"`
	SessionMaxAge        time.Duration `yaml:"session_max_age"`
	SessionSweepInterval time.Duration `yaml:"session_sweep_interval"`
}

func defaults() *AppConfig {
	return &AppConfig{
		Port:        "8080",
		LogLevel:    "info",
		HTTPTimeout: 120 * time.Second,
		Backoff: BackoffConfig{
			MaxRetries:      3,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     5 * time.Second,
		},
		NREL:          ProviderConfig{Timeout: 30 * time.Second, RequestsPerSecond: 1, Burst: 2},
		NRELGapPolicy: string(solar.GapAbsent),
		GoogleSolar:   ProviderConfig{Timeout: 30 * time.Second, RequestsPerSecond: 5, Burst: 5},
		NSRDB: NSRDBConfig{
			// Archive downloads are large; the timeout is correspondingly long.
			ProviderConfig: ProviderConfig{Timeout: 120 * time.Second, RequestsPerSecond: 1, Burst: 1},
			Contact: Contact{
				Reason:      "research",
				Affiliation: "independent",
			},
			CSVFormat: solar.DefaultArchiveFormat,
		},
		EnabledProviders:     []string{string(solar.SourceNREL), string(solar.SourceGoogleSolar), string(solar.SourceNSRDB)},
		SessionMaxCount:      1000,
		SessionMaxAge:        2 * time.Hour,
		SessionSweepInterval: 5 * time.Minute,
	}
}

// Load reads configuration with sensible defaults: a YAML file named by
// CONFIG_FILE (optional) is applied first, then environment variables.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		logger.Log.Debugf("no .env file found or error loading it: %v", err)
	}
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *AppConfig) applyEnv() error {
	c.Port = getenvDefault("PORT", c.Port)
	c.LogLevel = getenvDefault("LOG_LEVEL", c.LogLevel)
	c.LogFile = getenvDefault("LOG_FILE", c.LogFile)

	var err error
	if c.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", c.HTTPTimeout); err != nil {
		return err
	}
	c.Backoff.MaxRetries = getenvInt("PROVIDER_MAX_RETRIES", c.Backoff.MaxRetries)

	c.NREL.BaseURL = getenvDefault("NREL_BASE_URL", c.NREL.BaseURL)
	c.GoogleSolar.BaseURL = getenvDefault("GOOGLE_SOLAR_BASE_URL", c.GoogleSolar.BaseURL)
	c.NSRDB.BaseURL = getenvDefault("NSRDB_BASE_URL", c.NSRDB.BaseURL)
	if c.NREL.Timeout, err = getenvDuration("NREL_TIMEOUT", c.NREL.Timeout); err != nil {
		return err
	}
	if c.GoogleSolar.Timeout, err = getenvDuration("GOOGLE_SOLAR_TIMEOUT", c.GoogleSolar.Timeout); err != nil {
		return err
	}
	if c.NSRDB.Timeout, err = getenvDuration("NSRDB_TIMEOUT", c.NSRDB.Timeout); err != nil {
		return err
	}

	c.NRELGapPolicy = getenvDefault("NREL_MONTHLY_GAP_POLICY", c.NRELGapPolicy)
	c.NSRDB.CSVFormat = getenvDefault("NSRDB_CSV_FORMAT", c.NSRDB.CSVFormat)
	c.NSRDB.Contact.Email = getenvDefault("NSRDB_EMAIL", c.NSRDB.Contact.Email)
	c.NSRDB.Contact.Affiliation = getenvDefault("NSRDB_AFFILIATION", c.NSRDB.Contact.Affiliation)
	c.NSRDB.Contact.Reason = getenvDefault("NSRDB_REASON", c.NSRDB.Contact.Reason)
	c.NSRDB.Contact.FullName = getenvDefault("NSRDB_FULL_NAME", c.NSRDB.Contact.FullName)
	c.NSRDB.LeapDay = getenvBool("NSRDB_LEAP_DAY", c.NSRDB.LeapDay)
	c.NSRDB.UTC = getenvBool("NSRDB_UTC", c.NSRDB.UTC)

	c.GeocoderAPIKey = getenvDefault("GEOCODER_API_KEY", c.GeocoderAPIKey)
	c.NRELAPIKey = os.Getenv("NREL_API_KEY")
	c.GoogleSolarAPIKey = os.Getenv("GOOGLE_SOLAR_API_KEY")

	c.SessionMaxCount = getenvInt("SESSION_MAX_COUNT", c.SessionMaxCount)
	if c.SessionMaxAge, err = getenvDuration("SESSION_MAX_AGE", c.SessionMaxAge); err != nil {
		return err
	}
	if c.SessionSweepInterval, err = getenvDuration("SESSION_SWEEP_INTERVAL", c.SessionSweepInterval); err != nil {
		return err
	}
	return nil
}

// Validate rejects settings the providers cannot run with.
func (c *AppConfig) Validate() error {
	if _, err := solar.ParseGapPolicy(c.NRELGapPolicy); err != nil {
		return fmt.Errorf("invalid NREL_MONTHLY_GAP_POLICY: %w", err)
	}
	if _, err := solar.LookupArchiveFormat(c.NSRDB.CSVFormat); err != nil {
		return fmt.Errorf("invalid NSRDB_CSV_FORMAT: %w", err)
	}
	for _, name := range c.EnabledProviders {
		if _, err := solar.ParseSource(name); err != nil {
			return fmt.Errorf("invalid enabled provider: %w", err)
		}
	}
	if c.Backoff.MaxRetries < 0 || c.Backoff.InitialInterval <= 0 {
		return fmt.Errorf("invalid backoff: max_retries must be >= 0 and initial_interval > 0")
	}
	return nil
}

// DefaultKeys returns the server-side keys per source. The archive API
// shares the summary API's key.
func (c *AppConfig) DefaultKeys() map[solar.Source]string {
	return map[solar.Source]string{
		solar.SourceNREL:        c.NRELAPIKey,
		solar.SourceNSRDB:       c.NRELAPIKey,
		solar.SourceGoogleSolar: c.GoogleSolarAPIKey,
	}
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
