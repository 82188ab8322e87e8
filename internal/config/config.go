// Package config loads the submit CLI configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const (
	DefaultSessionFile  = ".submitter.sess"
	DefaultPollInterval = time.Second
	DefaultHTTPTimeout  = 30 * time.Second
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "console"
	DefaultSessionStore = "file"
	DefaultRedisKey     = "submit:sessions"
)

// Duration is a time.Duration written as "1s", "500ms" in config files.
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}

// Config holds CLI configuration.
type Config struct {
	Log      LogConfig                    `yaml:"log" toml:"log"`
	Sessions SessionConfig                `yaml:"sessions" toml:"sessions"`
	Poll     PollConfig                   `yaml:"poll" toml:"poll"`
	HTTP     HTTPConfig                   `yaml:"http" toml:"http"`
	Language string                       `yaml:"language" toml:"language"`
	Backends map[string]map[string]string `yaml:"backends" toml:"backends"`

	// Credentials come from SUBMIT_<BACKEND>_USERNAME/PASSWORD, never from
	// the file.
	Credentials map[string]Credential `yaml:"-" toml:"-"`
}

type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
	Output string `yaml:"output" toml:"output"`
}

// SessionConfig selects where backend sessions are persisted: "file" or
// "redis".
type SessionConfig struct {
	Store string      `yaml:"store" toml:"store"`
	File  string      `yaml:"file" toml:"file"`
	Redis RedisConfig `yaml:"redis" toml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" toml:"addr"`
	Password string `yaml:"password" toml:"password"`
	DB       int    `yaml:"db" toml:"db"`
	Key      string `yaml:"key" toml:"key"`
}

type PollConfig struct {
	Interval Duration `yaml:"interval" toml:"interval"`
	Timeout  Duration `yaml:"timeout" toml:"timeout"`
}

type HTTPConfig struct {
	Timeout Duration `yaml:"timeout" toml:"timeout"`
}

type Credential struct {
	Username string
	Password string
}

// Load reads path (YAML, or TOML for a .toml extension), then the .env
// file next to the working directory, and fills in defaults. A missing
// config file yields the defaults.
func Load(path string, backends []string) (Config, error) {
	var cfg Config
	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return cfg, err
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env failed: %w", err)
	}
	cfg.Credentials = credentialsFromEnv(backends)
	applyDefaults(&cfg)
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file failed: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	default:
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

// EnvName returns the environment variable holding a backend credential
// field, e.g. SUBMIT_USACO_CONTEST_PASSWORD.
func EnvName(backend, field string) string {
	return "SUBMIT_" + strings.ToUpper(backend) + "_" + field
}

func credentialsFromEnv(backends []string) map[string]Credential {
	creds := make(map[string]Credential)
	for _, name := range backends {
		c := Credential{
			Username: os.Getenv(EnvName(name, "USERNAME")),
			Password: os.Getenv(EnvName(name, "PASSWORD")),
		}
		if c.Username != "" || c.Password != "" {
			creds[name] = c
		}
	}
	return creds
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
	if cfg.Sessions.Store == "" {
		cfg.Sessions.Store = DefaultSessionStore
	}
	if cfg.Sessions.File == "" {
		cfg.Sessions.File = defaultSessionFile()
	}
	if cfg.Sessions.Redis.Key == "" {
		cfg.Sessions.Redis.Key = DefaultRedisKey
	}
	if cfg.Poll.Interval == 0 {
		cfg.Poll.Interval = Duration(DefaultPollInterval)
	}
	if cfg.HTTP.Timeout == 0 {
		cfg.HTTP.Timeout = Duration(DefaultHTTPTimeout)
	}
	if cfg.Backends == nil {
		cfg.Backends = make(map[string]map[string]string)
	}
	if cfg.Credentials == nil {
		cfg.Credentials = make(map[string]Credential)
	}
}

func defaultSessionFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultSessionFile
	}
	return filepath.Join(home, DefaultSessionFile)
}
