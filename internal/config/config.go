// Package config loads the YAML configuration file and applies environment
// variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the sync pipeline.
type Config struct {
	Tiingo  Tiingo  `yaml:"tiingo"`
	Alpaca  Alpaca  `yaml:"alpaca"`
	Notion  Notion  `yaml:"notion"`
	Drive   Drive   `yaml:"drive"`
	Sync    Sync    `yaml:"sync"`
	Storage Storage `yaml:"storage"`
	Logging Logging `yaml:"logging"`
}

// Tiingo holds credentials and tuning for the Tiingo price source.
type Tiingo struct {
	APIKey          string `yaml:"api_key"`
	BaseURL         string `yaml:"base_url"`
	MaxWorkers      int    `yaml:"max_workers"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
	TimeoutSec      int    `yaml:"timeout_sec"`
}

// Alpaca holds credentials for the alternative Alpaca price source.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
}

// Notion holds credentials and tuning for the Notion record store.
type Notion struct {
	APIKey         string `yaml:"api_key"`
	DatabaseID     string `yaml:"database_id"`
	TickerProperty string `yaml:"ticker_property"`
	DateProperty   string `yaml:"date_property"`
	PageSize       int    `yaml:"page_size"`
	MaxPages       int    `yaml:"max_pages"`
}

// Drive holds the Google Drive upload destination.
type Drive struct {
	ServiceAccountFile string `yaml:"service_account_file"`
	FolderID           string `yaml:"folder_id"`
}

// Sync controls batching, component selection, and export naming.
type Sync struct {
	Provider      string `yaml:"provider"`    // "tiingo" (default) or "alpaca"
	Destination   string `yaml:"destination"` // "notion" (default) or "sqlite"
	BatchSize     int    `yaml:"batch_size"`
	OutputDir     string `yaml:"output_dir"`
	JSONPrefix    string `yaml:"json_prefix"`
	FilterWorkers int    `yaml:"filter_workers"`
}

// Storage holds paths for local persistence.
type Storage struct {
	SQLitePath string `yaml:"sqlite_path"`
	ArchiveDir string `yaml:"archive_dir"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, and then applies environment variable overrides. A missing
// file is not an error when overridden entirely by environment variables;
// pass an empty path to start from defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

// Validate checks that credentials required by the selected provider and
// destination are present, before any network I/O happens.
func (c *Config) Validate() error {
	switch c.Sync.Provider {
	case "tiingo":
		if c.Tiingo.APIKey == "" {
			return fmt.Errorf("config: tiingo.api_key is required (or TIINGO_API_KEY)")
		}
	case "alpaca":
		if c.Alpaca.APIKey == "" || c.Alpaca.APISecret == "" {
			return fmt.Errorf("config: alpaca credentials are required (or APCA_API_KEY_ID / APCA_API_SECRET_KEY)")
		}
	default:
		return fmt.Errorf("config: unknown provider %q", c.Sync.Provider)
	}

	switch c.Sync.Destination {
	case "notion":
		if c.Notion.APIKey == "" {
			return fmt.Errorf("config: notion.api_key is required (or NOTION_API_KEY)")
		}
		if c.Notion.DatabaseID == "" {
			return fmt.Errorf("config: notion.database_id is required (or NOTION_DATABASE_ID)")
		}
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("config: storage.sqlite_path is required for the sqlite destination")
		}
	default:
		return fmt.Errorf("config: unknown destination %q", c.Sync.Destination)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Sync.Provider == "" {
		cfg.Sync.Provider = "tiingo"
	}
	if cfg.Sync.Destination == "" {
		cfg.Sync.Destination = "notion"
	}
	if cfg.Sync.BatchSize == 0 {
		cfg.Sync.BatchSize = 10
	}
	if cfg.Sync.OutputDir == "" {
		cfg.Sync.OutputDir = "exports"
	}
	if cfg.Sync.JSONPrefix == "" {
		cfg.Sync.JSONPrefix = "tiingo_prices"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TIINGO_API_KEY"); v != "" {
		cfg.Tiingo.APIKey = v
	}
	if v := os.Getenv("TIINGO_BASE_URL"); v != "" {
		cfg.Tiingo.BaseURL = v
	}

	if v := os.Getenv("NOTION_API_KEY"); v != "" {
		cfg.Notion.APIKey = v
	}
	if v := os.Getenv("NOTION_DATABASE_ID"); v != "" {
		cfg.Notion.DatabaseID = v
	}
	if v := os.Getenv("NOTION_TICKER_PROPERTY"); v != "" {
		cfg.Notion.TickerProperty = v
	}
	if v := os.Getenv("NOTION_DATE_PROPERTY"); v != "" {
		cfg.Notion.DateProperty = v
	}

	if v := os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"); v != "" {
		cfg.Drive.ServiceAccountFile = v
	}
	if v := os.Getenv("GOOGLE_DRIVE_FOLDER_ID"); v != "" {
		cfg.Drive.FolderID = v
	}

	if v := os.Getenv("TIINGO_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.BatchSize = n
		}
	}
	if v := os.Getenv("TIINGO_EXPORT_DIR"); v != "" {
		cfg.Sync.OutputDir = v
	}
	if v := os.Getenv("TIINGO_JSON_PREFIX"); v != "" {
		cfg.Sync.JSONPrefix = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars, canonical names used by the SDK.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
