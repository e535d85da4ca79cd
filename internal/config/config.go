package config

import (
	"context"
	"crypto/md5"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	"github.com/TobiSchelling/feverista/internal/logger"
	"github.com/TobiSchelling/feverista/internal/reader"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Fever   Fever   `yaml:"fever"`
	Reader  Reader  `yaml:"reader"`
	Sync    Sync    `yaml:"sync"`
	Output  Output  `yaml:"output"`
	Server  Server  `yaml:"server"`
	Logging Logging `yaml:"logging"`
}

type Fever struct {
	Endpoint string        `yaml:"endpoint" env:"FEVERISTA_ENDPOINT, overwrite"`
	Email    string        `yaml:"email" env:"FEVERISTA_EMAIL, overwrite"`
	Password string        `yaml:"password" env:"FEVERISTA_PASSWORD, overwrite"`
	Key      string        `yaml:"api_key" env:"FEVERISTA_API_KEY, overwrite"`
	Timeout  time.Duration `yaml:"timeout"`
	Retries  int           `yaml:"retries"`
}

type Reader struct {
	View          string `yaml:"view"`
	GroupBy       string `yaml:"group_by"`
	SortBy        string `yaml:"sort_by"`
	SortDirection string `yaml:"sort_direction"`
	ReadURL       string `yaml:"read_url"`
}

type Sync struct {
	Retention time.Duration `yaml:"retention"`
	Interval  time.Duration `yaml:"interval"`
}

type Output struct {
	DataDir string `yaml:"data_dir" env:"FEVERISTA_DATA_DIR, overwrite"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level  string `yaml:"level" env:"FEVERISTA_LOG_LEVEL, overwrite"`
	Format string `yaml:"format"`
}

// ConfigDir returns the XDG config directory for feverista.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "feverista")
}

// DataDir returns the XDG data directory for feverista.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "feverista")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/feverista/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'feverista init' to create a default config",
		xdgConfig,
	)
}

// Load reads a config YAML file and applies FEVERISTA_* environment
// overrides on top of it.
func Load(ctx context.Context, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return load(ctx, data, envconfig.OsLookuper())
}

func load(ctx context.Context, data []byte, env envconfig.Lookuper) (*Config, error) {
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: cfg, Lookuper: env}); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Fever: Fever{
			Timeout: 30 * time.Second,
			Retries: 2,
		},
		Reader: Reader{
			View:          "Unread",
			GroupBy:       "date",
			SortBy:        "item_created_on_time",
			SortDirection: "ASC",
		},
		Sync:    Sync{Retention: 72 * time.Hour},
		Server:  Server{Port: 8000},
		Logging: Logging{Level: "INFO", Format: "text"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// Validate rejects settings no component can act on.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Session(); err != nil {
		errs = append(errs, err)
	}
	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Fever.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("fever.timeout must be positive, got %s", c.Fever.Timeout))
	}
	if c.Fever.Retries < 0 {
		errs = append(errs, fmt.Errorf("fever.retries must not be negative, got %d", c.Fever.Retries))
	}
	if c.Sync.Retention < time.Minute {
		errs = append(errs, fmt.Errorf("sync.retention must be at least 1m, got %s", c.Sync.Retention))
	}
	if c.Sync.Interval < 0 {
		errs = append(errs, fmt.Errorf("sync.interval must not be negative, got %s", c.Sync.Interval))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Session returns the reader settings as a query session, including the
// read_url prefix items are opened through.
func (c *Config) Session() (reader.Session, error) {
	s, err := reader.ParseSession(c.Reader.View, c.Reader.GroupBy, c.Reader.SortBy, c.Reader.SortDirection)
	if err != nil {
		return s, err
	}
	s.ReadURL = c.Reader.ReadURL
	return s, nil
}

// APIKey returns the configured Fever api key, or derives it as the lowercase
// hex md5 of "email:password".
func (c *Config) APIKey() string {
	if c.Fever.Key != "" {
		return c.Fever.Key
	}
	sum := md5.Sum([]byte(c.Fever.Email + ":" + c.Fever.Password))
	return hex.EncodeToString(sum[:])
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// DBPath returns the location of the local cache.
func (c *Config) DBPath() string {
	return filepath.Join(c.GetDataDir(), "fever.db")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
