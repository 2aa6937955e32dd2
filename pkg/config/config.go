// Package config loads crudrepo settings from defaults, an optional config
// file and CRUDREPO_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	DefaultEnvPrefix = "CRUDREPO"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	ModeCached = "cached"
	ModeRemote = "remote"
	ModeLocal  = "local"
)

type Config struct {
	Mode   string       `json:"mode"   mapstructure:"mode"`
	Remote RemoteConfig `json:"remote" mapstructure:"remote"`
	Store  StoreConfig  `json:"store"  mapstructure:"store"`
	Log    LogConfig    `json:"log"    mapstructure:"log"`
}

type RemoteConfig struct {
	BaseURL   string        `json:"base_url,omitempty"   mapstructure:"base_url"`
	Timeout   time.Duration `json:"timeout,omitempty"    mapstructure:"timeout"`
	Token     string        `json:"token,omitempty"      mapstructure:"token"`
	UserAgent string        `json:"user_agent,omitempty" mapstructure:"user_agent"`
}

type StoreConfig struct {
	Driver string       `json:"driver" mapstructure:"driver"`
	DSN    string       `json:"dsn"    mapstructure:"dsn"`
	Memory MemoryConfig `json:"memory" mapstructure:"memory"`
}

// MemoryConfig sizes the in-process store used by the memory driver.
type MemoryConfig struct {
	Capacity           int           `json:"capacity"            mapstructure:"capacity"`
	NumShards          int           `json:"num_shards"          mapstructure:"num_shards"`
	TTL                time.Duration `json:"ttl"                 mapstructure:"ttl"`
	EvictionPercentage int           `json:"eviction_percentage" mapstructure:"eviction_percentage"`
}

type LogConfig struct {
	Level  string `json:"level"  mapstructure:"level"`
	Format string `json:"format" mapstructure:"format"`
}

var defaults = map[string]any{
	"mode":                             ModeCached,
	"remote.base_url":                  "",
	"remote.timeout":                   10 * time.Second,
	"remote.token":                     "",
	"remote.user_agent":                "crudrepo",
	"store.driver":                     DriverSQLite,
	"store.dsn":                        "crudrepo.db",
	"store.memory.capacity":            10000,
	"store.memory.num_shards":          64,
	"store.memory.ttl":                 24 * time.Hour,
	"store.memory.eviction_percentage": 10,
	"log.level":                        "info",
	"log.format":                       "text",
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	cfg, err := decode(newViper())
	if err != nil {
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return cfg
}

// Load reads path when non-empty, applies environment overrides and
// validates the result.
func Load(path string) (Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Read is Load without validation, for callers that adjust the result first.
func Read(path string) (Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.NewWithOptions(
		viper.KeyDelimiter("."),
		viper.EnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_")),
	)
	v.SetEnvPrefix(DefaultEnvPrefix)
	v.AutomaticEnv()

	for key, value := range defaults {
		// BindEnv makes nested keys visible to Unmarshal without a file.
		_ = v.BindEnv(key)
		v.SetDefault(key, value)
	}
	return v
}

func decode(v *viper.Viper) (Config, error) {
	hooks := mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
	)

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hooks)); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings the selected mode depends on.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Mode, validation.Required, validation.In(ModeCached, ModeRemote, ModeLocal)),
		validation.Field(&c.Remote),
		validation.Field(&c.Store),
		validation.Field(&c.Log),
	)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if c.Mode != ModeLocal && c.Remote.BaseURL == "" {
		return fmt.Errorf("config: remote.base_url is required in %s mode", c.Mode)
	}
	return nil
}

func (r RemoteConfig) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Timeout, validation.Min(time.Millisecond)),
	)
}

func (s StoreConfig) Validate() error {
	err := validation.ValidateStruct(&s,
		validation.Field(&s.Driver, validation.Required, validation.In(DriverSQLite, DriverPostgres, DriverMemory)),
	)
	if err != nil {
		return err
	}
	if s.Driver == DriverMemory {
		return s.Memory.Validate()
	}
	if s.DSN == "" {
		return errors.New("dsn: cannot be blank")
	}
	return nil
}

func (m MemoryConfig) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Capacity, validation.Required, validation.Min(1)),
		validation.Field(&m.NumShards, validation.Required, validation.Min(1), validation.Max(m.Capacity)),
		validation.Field(&m.TTL, validation.Required),
		validation.Field(&m.EvictionPercentage, validation.Required, validation.Min(1), validation.Max(100)),
	)
}

func (l LogConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level, validation.In("debug", "info", "warn", "error")),
		validation.Field(&l.Format, validation.In("text", "json")),
	)
}
