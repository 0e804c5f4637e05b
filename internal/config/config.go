// Package config loads farmcore settings from defaults, an optional YAML
// file, and FARMCORE_ environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"farmcore/internal/blob"
	"farmcore/internal/logger"
	"farmcore/internal/qrpayload"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/goccy/go-yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix marks environment variables read by Load. Nested keys are joined
// with a double underscore: FARMCORE_STORE__DRIVER sets store.driver.
const EnvPrefix = "FARMCORE_"

// Store drivers.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Allocator drivers.
const (
	AllocatorStore  = "store"
	AllocatorMemory = "memory"
	AllocatorSQL    = "sql"
	AllocatorRedis  = "redis"
)

// Metrics backends.
const (
	MetricsNone       = "none"
	MetricsExpvar     = "expvar"
	MetricsPrometheus = "prometheus"
)

// Config is the full runtime configuration.
type Config struct {
	Store    StoreConfig    `koanf:"store"`
	Blob     blob.Config    `koanf:"blob"`
	Sequence SequenceConfig `koanf:"sequence"`
	Payload  PayloadConfig  `koanf:"payload"`
	Log      logger.Config  `koanf:"log"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Retry    RetryConfig    `koanf:"retry"`
}

// StoreConfig selects the persistent store.
type StoreConfig struct {
	Driver string `koanf:"driver" validate:"oneof=memory sqlite postgres"`
	Path   string `koanf:"path" validate:"required_if=Driver sqlite"`
	DSN    string `koanf:"dsn" validate:"required_if=Driver postgres"`
}

// SequenceConfig selects where identifier counters live.
type SequenceConfig struct {
	Allocator string      `koanf:"allocator" validate:"oneof=store memory sql redis"`
	Redis     RedisConfig `koanf:"redis"`
}

// RedisConfig addresses the counter keyspace for the redis allocator.
type RedisConfig struct {
	Addr      string `koanf:"addr" validate:"required"`
	Password  string `koanf:"password"`
	DB        int    `koanf:"db" validate:"gte=0"`
	KeyPrefix string `koanf:"key_prefix"`
}

// PayloadConfig tunes QR rendering.
type PayloadConfig struct {
	Farm     string `koanf:"farm" validate:"required"`
	Size     int    `koanf:"size" validate:"ne=0"`
	Recovery string `koanf:"recovery" validate:"oneof=low medium high highest"`
}

// MetricsConfig selects the metrics sink.
type MetricsConfig struct {
	Backend   string `koanf:"backend" validate:"oneof=none expvar prometheus"`
	Namespace string `koanf:"namespace"`
}

// RetryConfig bounds allocation-conflict retries.
type RetryConfig struct {
	Attempts uint64        `koanf:"attempts" validate:"gte=1,lte=20"`
	Base     time.Duration `koanf:"base" validate:"gt=0"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Store: StoreConfig{Driver: StoreSQLite, Path: "farmcore.db"},
		Blob:  blob.Config{Driver: string(blob.DriverFilesystem), FSRoot: "./media"},
		Sequence: SequenceConfig{
			Allocator: AllocatorStore,
			Redis:     RedisConfig{Addr: "localhost:6379", KeyPrefix: "farmcore:seq:"},
		},
		Payload: PayloadConfig{Farm: qrpayload.DefaultFarm, Size: qrpayload.DefaultSize, Recovery: qrpayload.DefaultRecovery},
		Log:     logger.DefaultConfig(),
		Metrics: MetricsConfig{Backend: MetricsNone, Namespace: "farmcore"},
		Retry:   RetryConfig{Attempts: 3, Base: 10 * time.Millisecond},
	}
}

// Load layers defaults, the YAML file at path (skipped when empty or
// missing), and the environment, then validates the result.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		default:
			var raw map[string]any
			if err := yaml.Unmarshal(data, &raw); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
			if err := k.Load(rawMap(raw), nil); err != nil {
				return Config{}, fmt.Errorf("load config %s: %w", path, err)
			}
		}
	}
	if err := k.Load(env.Provider(".", env.Opt{
		Prefix:        EnvPrefix,
		TransformFunc: transformEnv,
	}), nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &cfg,
			TagName:          "koanf",
			DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		},
	}); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cfg. Redis settings are only checked when the redis
// allocator is selected.
func Validate(cfg Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(cfg.Store); err != nil {
		return fmt.Errorf("store config: %w", err)
	}
	if err := v.Struct(cfg.Blob); err != nil {
		return fmt.Errorf("blob config: %w", err)
	}
	if err := v.Var(cfg.Sequence.Allocator, "oneof=store memory sql redis"); err != nil {
		return fmt.Errorf("sequence allocator: %w", err)
	}
	if cfg.Sequence.Allocator == AllocatorRedis {
		if err := v.Struct(cfg.Sequence.Redis); err != nil {
			return fmt.Errorf("redis config: %w", err)
		}
	}
	if cfg.Sequence.Allocator == AllocatorSQL && cfg.Store.Driver == StoreMemory {
		return errors.New("sequence allocator sql needs a sqlite or postgres store")
	}
	for name, section := range map[string]any{"payload": cfg.Payload, "log": cfg.Log, "metrics": cfg.Metrics, "retry": cfg.Retry} {
		if err := v.Struct(section); err != nil {
			return fmt.Errorf("%s config: %w", name, err)
		}
	}
	return nil
}

func transformEnv(key, value string) (string, any) {
	key = strings.TrimPrefix(key, EnvPrefix)
	key = strings.ToLower(strings.ReplaceAll(key, "__", "."))
	return key, value
}

// rawMap feeds an already-parsed document to koanf.
type rawMap map[string]any

func (m rawMap) ReadBytes() ([]byte, error) {
	return nil, errors.New("rawMap does not support ReadBytes")
}

func (m rawMap) Read() (map[string]any, error) { return m, nil }
