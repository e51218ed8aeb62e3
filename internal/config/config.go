// Package config loads reelcast settings: defaults, then an optional TOML
// file, then environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// FileEnv names the environment variable holding the TOML config path.
const FileEnv = "REELCAST_CONFIG"

type Config struct {
	HTTP     HTTPConfig     `toml:"http"`
	Store    StoreConfig    `toml:"store"`
	Redis    RedisConfig    `toml:"redis"`
	Render   RenderConfig   `toml:"render"`
	Storage  StorageConfig  `toml:"storage"`
	Dispatch DispatchConfig `toml:"dispatch"`
	Logging  LoggingConfig  `toml:"logging"`
}

type HTTPConfig struct {
	Port string `toml:"port"`
	// PublicBaseURL is where the render service can reach our webhook.
	PublicBaseURL string `toml:"public_base_url"`
}

type StoreConfig struct {
	// Driver is postgres or sqlite.
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

type RedisConfig struct {
	Addr      string        `toml:"addr"`
	KickQueue string        `toml:"kick_queue"`
	LeaseTTL  time.Duration `toml:"lease_ttl"`
}

type RenderConfig struct {
	APIKey  string        `toml:"api_key"`
	BaseURL string        `toml:"base_url"`
	Timeout time.Duration `toml:"timeout"`
	// WebhookSecret is appended to the callback URL and checked on arrival.
	WebhookSecret string `toml:"webhook_secret"`
}

type StorageConfig struct {
	// Provider is localfs or gdrive.
	Provider string `toml:"provider"`
	// LocalRoot is the localfs root directory.
	LocalRoot string `toml:"local_root"`
	// RecipientRoot is the folder holding one sub-folder per recipient.
	RecipientRoot string       `toml:"recipient_root"`
	ArchiveFolder string       `toml:"archive_folder"`
	GDrive        GDriveConfig `toml:"gdrive"`
}

type GDriveConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RefreshToken string `toml:"refresh_token"`
	// ServiceAccountJSON, when set, takes precedence over the OAuth client.
	ServiceAccountJSON string `toml:"service_account_json"`
	RootFolderID       string `toml:"root_folder_id"`
}

type DispatchConfig struct {
	ClaimLimit int           `toml:"claim_limit"`
	Pacing     time.Duration `toml:"pacing"`
	MaxRetries int           `toml:"max_retries"`
	Interval   time.Duration `toml:"interval"`
	// CronSecret guards the dispatch and sweep triggers.
	CronSecret    string        `toml:"cron_secret"`
	StaleAfter    time.Duration `toml:"stale_after"`
	SweepInterval time.Duration `toml:"sweep_interval"`
	RecentLimit   int           `toml:"recent_limit"`
	// JobsPerMinute is the throughput assumed by the ETA estimate.
	JobsPerMinute float64 `toml:"jobs_per_minute"`
}

type LoggingConfig struct {
	Level     string `toml:"level"`
	Format    string `toml:"format"`
	AddSource bool   `toml:"add_source"`
}

// Default returns settings that run a local stack: sqlite ledger, local
// artifact directory, 20 jobs per minute spaced 350ms apart.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:          "8080",
			PublicBaseURL: "http://localhost:8080",
		},
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    "reelcast.db",
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KickQueue: "reelcast:dispatch",
			LeaseTTL:  2 * time.Minute,
		},
		Render: RenderConfig{
			BaseURL: "https://api.creatomate.com/v1",
			Timeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Provider:      "localfs",
			LocalRoot:     "/data",
			RecipientRoot: "Dealers",
			ArchiveFolder: "Archive",
		},
		Dispatch: DispatchConfig{
			ClaimLimit:    20,
			Pacing:        350 * time.Millisecond,
			MaxRetries:    3,
			Interval:      time.Minute,
			StaleAfter:    30 * time.Minute,
			SweepInterval: 5 * time.Minute,
			RecentLimit:   10,
			JobsPerMinute: 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the effective configuration.
func Load() (*Config, error) {
	cfg := Default()
	if path := strings.TrimSpace(os.Getenv(FileEnv)); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays a TOML file onto cfg. Keys absent from the file keep
// their current values.
func (c *Config) LoadFile(path string) error {
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("config: decode %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("config: unknown keys in %s: %v", path, undecoded)
	}
	return nil
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays environment variables onto cfg.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	e := envReader{lookup: lookup}

	e.str("HTTP_PORT", &c.HTTP.Port)
	e.str("PUBLIC_BASE_URL", &c.HTTP.PublicBaseURL)

	e.str("STORE_DRIVER", &c.Store.Driver)
	e.str("DATABASE_URL", &c.Store.DSN)

	e.str("REDIS_ADDR", &c.Redis.Addr)
	e.str("DISPATCH_KICK_QUEUE", &c.Redis.KickQueue)
	e.duration("DISPATCH_LEASE_TTL", &c.Redis.LeaseTTL)

	e.str("CREATOMATE_API_KEY", &c.Render.APIKey)
	e.str("CREATOMATE_BASE_URL", &c.Render.BaseURL)
	e.duration("CREATOMATE_TIMEOUT", &c.Render.Timeout)
	e.str("WEBHOOK_SECRET", &c.Render.WebhookSecret)

	e.str("STORAGE_PROVIDER", &c.Storage.Provider)
	e.str("STORAGE_LOCAL_ROOT", &c.Storage.LocalRoot)
	e.str("STORAGE_RECIPIENT_ROOT", &c.Storage.RecipientRoot)
	e.str("STORAGE_ARCHIVE_FOLDER", &c.Storage.ArchiveFolder)
	e.str("GDRIVE_CLIENT_ID", &c.Storage.GDrive.ClientID)
	e.str("GDRIVE_CLIENT_SECRET", &c.Storage.GDrive.ClientSecret)
	e.str("GDRIVE_REFRESH_TOKEN", &c.Storage.GDrive.RefreshToken)
	e.str("GDRIVE_SERVICE_ACCOUNT_JSON", &c.Storage.GDrive.ServiceAccountJSON)
	e.str("GDRIVE_FOLDER_ID", &c.Storage.GDrive.RootFolderID)

	e.integer("DISPATCH_CLAIM_LIMIT", &c.Dispatch.ClaimLimit)
	e.duration("DISPATCH_PACING", &c.Dispatch.Pacing)
	e.integer("DISPATCH_MAX_RETRIES", &c.Dispatch.MaxRetries)
	e.duration("DISPATCH_INTERVAL", &c.Dispatch.Interval)
	e.str("CRON_SECRET", &c.Dispatch.CronSecret)
	e.duration("DISPATCH_STALE_AFTER", &c.Dispatch.StaleAfter)
	e.duration("DISPATCH_SWEEP_INTERVAL", &c.Dispatch.SweepInterval)
	e.integer("STATUS_RECENT_LIMIT", &c.Dispatch.RecentLimit)
	e.float("STATUS_JOBS_PER_MINUTE", &c.Dispatch.JobsPerMinute)

	e.str("LOG_LEVEL", &c.Logging.Level)
	e.str("LOG_FORMAT", &c.Logging.Format)
	e.boolean("LOG_SOURCE", &c.Logging.AddSource)

	return e.err
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	var problems []string
	switch c.Store.Driver {
	case "postgres", "sqlite":
	default:
		problems = append(problems, fmt.Sprintf("store.driver %q must be postgres or sqlite", c.Store.Driver))
	}
	if c.Store.DSN == "" {
		problems = append(problems, "store.dsn (DATABASE_URL) is required")
	}
	switch c.Storage.Provider {
	case "localfs":
		if c.Storage.LocalRoot == "" {
			problems = append(problems, "storage.local_root is required for localfs")
		}
	case "gdrive":
		g := c.Storage.GDrive
		if g.ServiceAccountJSON == "" && (g.ClientID == "" || g.ClientSecret == "" || g.RefreshToken == "") {
			problems = append(problems, "gdrive needs a service account or client id, secret and refresh token")
		}
	default:
		problems = append(problems, fmt.Sprintf("storage.provider %q must be localfs or gdrive", c.Storage.Provider))
	}
	if c.Dispatch.ClaimLimit <= 0 {
		problems = append(problems, "dispatch.claim_limit must be positive")
	}
	if c.Dispatch.MaxRetries <= 0 {
		problems = append(problems, "dispatch.max_retries must be positive")
	}
	if c.Dispatch.Pacing < 0 {
		problems = append(problems, "dispatch.pacing must not be negative")
	}
	if c.Dispatch.JobsPerMinute <= 0 {
		problems = append(problems, "dispatch.jobs_per_minute must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// RequireRender reports whether the render client can be built.
func (c *Config) RequireRender() error {
	if c.Render.APIKey == "" {
		return fmt.Errorf("config: CREATOMATE_API_KEY is required")
	}
	return nil
}

type envReader struct {
	lookup LookupFunc
	err    error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("config: %s: %w", key, err)
	}
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) integer(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) float(key string, dst *float64) {
	if v, ok := e.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = d
	}
}

// boolean accepts anything strconv.ParseBool does.
func (e *envReader) boolean(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = b
	}
}
