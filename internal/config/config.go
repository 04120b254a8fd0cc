package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix marks environment overrides. A double underscore separates
// levels: GSMS_LLM__API_KEY sets llm.api_key.
const EnvPrefix = "GSMS_"

const (
	BackendSQLite   = "sqlite"
	BackendDynamoDB = "dynamodb"
)

type Config struct {
	HTTP       HTTPConfig       `koanf:"http"`
	Store      StoreConfig      `koanf:"store"`
	LLM        LLMConfig        `koanf:"llm"`
	Params     ParamsConfig     `koanf:"params"`
	Guesthouse GuesthouseConfig `koanf:"guesthouse"`
	Pipeline   PipelineConfig   `koanf:"pipeline"`
	Digest     DigestConfig     `koanf:"digest"`
	Log        LogConfig        `koanf:"log"`
	Tracing    TracingConfig    `koanf:"tracing"`
}

type HTTPConfig struct {
	Addr            string        `koanf:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type StoreConfig struct {
	Backend     string `koanf:"backend"`
	SQLitePath  string `koanf:"sqlite_path"`
	DynamoTable string `koanf:"dynamo_table"`
}

// LLMConfig leaves APIKey empty to fetch the key from Parameter Store.
type LLMConfig struct {
	Model   string        `koanf:"model"`
	BaseURL string        `koanf:"base_url"`
	APIKey  string        `koanf:"api_key"`
	Timeout time.Duration `koanf:"timeout"`
}

type ParamsConfig struct {
	Prefix  string `koanf:"prefix"`
	Overlay bool   `koanf:"overlay"`
}

type GuesthouseConfig struct {
	Timezone   string `koanf:"timezone"`
	GuestState string `koanf:"guest_state"`
}

type PipelineConfig struct {
	SerializePerSender bool `koanf:"serialize_per_sender"`
}

type DigestConfig struct {
	Enabled    bool   `koanf:"enabled"`
	Schedule   string `koanf:"schedule"`
	StaffPhone string `koanf:"staff_phone"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type TracingConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    40 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Store: StoreConfig{
			Backend:    BackendSQLite,
			SQLitePath: "guesthouse.db",
		},
		LLM: LLMConfig{
			Model:   "gpt-4o-mini",
			Timeout: 20 * time.Second,
		},
		Guesthouse: GuesthouseConfig{
			Timezone:   "Asia/Seoul",
			GuestState: "UNKNOWN",
		},
		Pipeline: PipelineConfig{SerializePerSender: true},
		Digest: DigestConfig{
			Enabled:  true,
			Schedule: "0 10 * * *",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{ServiceName: "guesthouse-sms-agent"},
	}
}

// Load layers defaults, the YAML file at path when it exists, each overlay in
// order, then GSMS_ environment variables. The result is not validated.
func Load(path string, overlays ...koanf.Provider) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: access %s: %w", path, err)
		}
	}

	for _, p := range overlays {
		if p == nil {
			continue
		}
		if err := k.Load(p, nil); err != nil {
			return nil, fmt.Errorf("config: load overlay: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendSQLite:
		if strings.TrimSpace(c.Store.SQLitePath) == "" {
			return fmt.Errorf("config: store.sqlite_path is required for the sqlite backend")
		}
	case BackendDynamoDB:
		if strings.TrimSpace(c.Store.DynamoTable) == "" {
			return fmt.Errorf("config: store.dynamo_table is required for the dynamodb backend")
		}
	default:
		return fmt.Errorf("config: invalid store.backend %q: must be sqlite or dynamodb", c.Store.Backend)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.LLM.Timeout < 0 {
		return fmt.Errorf("config: llm.timeout must be non-negative")
	}
	if c.LLM.Model != "" && c.LLM.APIKey == "" && c.Params.Prefix == "" {
		return fmt.Errorf("config: llm.api_key or params.prefix is required when llm.model is set")
	}
	if c.Params.Overlay && c.Params.Prefix == "" {
		return fmt.Errorf("config: params.prefix is required for the parameter overlay")
	}
	if c.Digest.Enabled && strings.TrimSpace(c.Digest.Schedule) == "" {
		return fmt.Errorf("config: digest.schedule is required when the digest is enabled")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("config: invalid log.format %q: must be json or text", c.Log.Format)
	}
	return nil
}

// Location is the guesthouse timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Guesthouse.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: invalid guesthouse.timezone %q: %w", c.Guesthouse.Timezone, err)
	}
	return loc, nil
}

func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("config: invalid log.level %q: %w", c.Log.Level, err)
	}
	return level, nil
}

// OverlayPath is the Parameter Store path read by the config overlay.
func (c *Config) OverlayPath() string {
	return strings.TrimRight(c.Params.Prefix, "/") + "/config"
}
