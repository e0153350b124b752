package arbor

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/petrijr/arbor/internal/persistence"
	"github.com/petrijr/arbor/pkg/observability"
	"github.com/petrijr/arbor/pkg/report"
	"github.com/petrijr/arbor/pkg/worker"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config describes a LocalRunner. The zero value is usable; DefaultConfig
// spells the defaults out.
type Config struct {
	// Workers bounds concurrent parallel units. 0 means unbounded.
	Workers int `yaml:"workers" mapstructure:"workers" validate:"gte=0"`

	// FailurePolicy is "wait-all" or "cancel-on-failure".
	FailurePolicy string `yaml:"failure_policy" mapstructure:"failure_policy" validate:"omitempty,oneof=wait-all cancel-on-failure"`

	// Identity is how the reporter maps running actions to nodes: "id" or "name".
	Identity string `yaml:"identity" mapstructure:"identity" validate:"omitempty,oneof=id name"`

	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`

	History HistoryConfig `yaml:"history" mapstructure:"history"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`
}

// HistoryConfig selects where run events are recorded.
type HistoryConfig struct {
	Driver    string `yaml:"driver" mapstructure:"driver" validate:"omitempty,oneof=none memory sqlite redis"`
	DSN       string `yaml:"dsn" mapstructure:"dsn"`
	RedisAddr string `yaml:"redis_addr" mapstructure:"redis_addr" validate:"required_if=Driver redis"`
	Prefix    string `yaml:"prefix" mapstructure:"prefix"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
}

type TracingConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// DefaultConfig returns the configuration used when nothing is specified.
func DefaultConfig() Config {
	return Config{
		Workers:       0,
		FailurePolicy: worker.WaitAll.String(),
		Identity:      report.ByID.String(),
		LogLevel:      "info",
		History:       HistoryConfig{Driver: persistence.DriverNone, Prefix: persistence.DefaultRedisPrefix},
		Metrics:       MetricsConfig{Namespace: observability.DefaultNamespace},
	}
}

// LoadConfig reads a YAML configuration file. Keys missing from the file
// keep their DefaultConfig value.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML configuration on top of DefaultConfig.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ConfigFromMap decodes configuration from a generic map, as produced by
// flag parsers or an embedding application's own config tree. Unknown keys
// are rejected.
func ConfigFromMap(m map[string]any) (Config, error) {
	cfg := DefaultConfig()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return Config{}, err
	}
	if err := dec.Decode(m); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field values.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, ", "))
}

func (c Config) failurePolicy() (worker.FailurePolicy, error) {
	return worker.ParseFailurePolicy(c.FailurePolicy)
}

func (c Config) identity() (report.IdentityPolicy, error) {
	return report.ParseIdentityPolicy(c.Identity)
}

func (c Config) historyOptions() persistence.Options {
	return persistence.Options{
		Driver:    c.History.Driver,
		DSN:       c.History.DSN,
		RedisAddr: c.History.RedisAddr,
		Prefix:    c.History.Prefix,
	}
}
