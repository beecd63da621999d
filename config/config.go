// Package config loads service configuration from an optional file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig
	Log       LogConfig
	HTTP      HTTPConfig
	DB        DBConfig
	Facility  FacilityConfig
	Ledger    LedgerConfig
	Directory DirectoryConfig
}

type AppConfig struct {
	Env string // development, production
}

type LogConfig struct {
	Level string
}

type HTTPConfig struct {
	Host string
	Port int
}

// Addr returns the listen address (host:port).
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type DBConfig struct {
	Path string
}

// FacilityConfig describes the site this instance serves.
type FacilityConfig struct {
	Municipality  string
	Online        bool          // initial connectivity state
	ProbeURL      string        // central system endpoint; empty means manual toggle only
	ProbeInterval time.Duration
}

type LedgerConfig struct {
	MaxQuantity int64
}

type DirectoryConfig struct {
	SeedPath string // YAML patient list loaded into an empty directory
}

// Load reads configuration. path may be empty; environment variables such
// as FACILITY_MUNICIPALITY or HTTP_PORT override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{
		App: AppConfig{Env: v.GetString("app.env")},
		Log: LogConfig{Level: v.GetString("log.level")},
		HTTP: HTTPConfig{
			Host: v.GetString("http.host"),
			Port: v.GetInt("http.port"),
		},
		DB: DBConfig{Path: v.GetString("db.path")},
		Facility: FacilityConfig{
			Municipality:  v.GetString("facility.municipality"),
			Online:        v.GetBool("facility.online"),
			ProbeURL:      v.GetString("facility.probe_url"),
			ProbeInterval: v.GetDuration("facility.probe_interval"),
		},
		Ledger:    LedgerConfig{MaxQuantity: v.GetInt64("ledger.max_quantity")},
		Directory: DirectoryConfig{SeedPath: v.GetString("directory.seed_path")},
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("log.level", "info")
	v.SetDefault("http.host", "")
	v.SetDefault("http.port", 8080)
	v.SetDefault("db.path", "./data/dispensary.db")
	v.SetDefault("facility.municipality", "Tabuk")
	v.SetDefault("facility.online", false)
	v.SetDefault("facility.probe_url", "")
	v.SetDefault("facility.probe_interval", "30s")
	v.SetDefault("ledger.max_quantity", 100000)
	v.SetDefault("directory.seed_path", "")
}

// Validate checks the loaded values.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port out of range: %d", c.HTTP.Port))
	}
	if strings.TrimSpace(c.DB.Path) == "" {
		errs = append(errs, errors.New("db.path is required"))
	}
	if strings.TrimSpace(c.Facility.Municipality) == "" {
		errs = append(errs, errors.New("facility.municipality is required"))
	}
	if c.Facility.ProbeURL != "" && c.Facility.ProbeInterval <= 0 {
		errs = append(errs, fmt.Errorf("facility.probe_interval must be positive, got %s", c.Facility.ProbeInterval))
	}
	if c.Ledger.MaxQuantity <= 0 {
		errs = append(errs, fmt.Errorf("ledger.max_quantity must be positive, got %d", c.Ledger.MaxQuantity))
	}
	switch c.Log.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q not recognized", c.Log.Level))
	}
	return errors.Join(errs...)
}
