// Package config resolves telegram-dump settings from defaults, TOML files and flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the resolved configuration. TOML keys match the CLI flag names,
// so a file line such as `api-id = 12345` sets the same value as --api-id.
type Config struct {
	APIID       int      `toml:"api-id"`
	APIHash     string   `toml:"api-hash"`
	Phone       string   `toml:"phone"`
	Session     string   `toml:"session"`
	Database    string   `toml:"db"`
	MediaDir    string   `toml:"media-dir"`
	Wait        Duration `toml:"wait"`
	LogLevel    string   `toml:"log-level"`
	LogFile     string   `toml:"log-file"`
	Addr        string   `toml:"addr"`
	CORSOrigins []string `toml:"cors-origins"`
}

// Duration decodes TOML strings like "1.5s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Session:     "telegram-dump.session.json",
		Database:    "messages.sqlite",
		MediaDir:    ".",
		Wait:        Duration{time.Second},
		LogLevel:    "info",
		Addr:        ":8080",
		CORSOrigins: []string{"http://localhost:3000"},
	}
}

// SearchPaths returns the config files read when no explicit file is given,
// lowest precedence first.
func SearchPaths() []string {
	paths := []string{}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".telegram-dump", "telegram-dump.conf"))
	}
	return append(paths, "telegram-dump.conf")
}

// Load starts from Default and decodes each existing search path over it,
// then the explicit path, which must exist.
func Load(explicit string, search ...string) (*Config, error) {
	cfg := Default()
	for _, p := range search {
		if err := decodeFile(p, cfg); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, err
		}
	}
	if explicit != "" {
		if err := decodeFile(explicit, cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// decodeFile reads path as TOML, falling back to the older unquoted
// `key = value` format when the file is not valid TOML.
func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	_, err = toml.Decode(string(data), cfg)
	var perr toml.ParseError
	if errors.As(err, &perr) {
		if lerr := decodeLegacy(data, cfg); lerr != nil {
			return fmt.Errorf("config: decode %s: %w", path, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: decode %s: %w", path, err)
	}
	return nil
}

// Validate checks the settings every Telegram-facing command needs.
func (c *Config) Validate() error {
	if c.APIID == 0 {
		return errors.New("config: api-id is required")
	}
	if c.APIHash == "" {
		return errors.New("config: api-hash is required")
	}
	if c.Database == "" {
		return errors.New("config: db path must not be empty")
	}
	return nil
}
