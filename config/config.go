// Package config loads the configuration of reactor based services, from
// YAML, with environment variable overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joeycumines/go-reactor"
	"github.com/joeycumines/logiface"
	"gopkg.in/yaml.v3"
)

// Config models the options of each System, plus the topology of a server.
type Config struct {
	Listen string        `yaml:"listen" validate:"required,hostname_port"`
	System SystemConfig  `yaml:"system"`
	Server ServerConfig  `yaml:"server"`
	Log    LoggingConfig `yaml:"log"`
}

// SystemConfig maps to [reactor.Option] values.
type SystemConfig struct {
	EventCapacity    int           `yaml:"event_capacity" validate:"gte=1,lte=1048576"`
	IdentityCapacity int           `yaml:"identity_capacity" validate:"gte=0"`
	WaitTimeout      time.Duration `yaml:"wait_timeout"`
	StrictUsage      bool          `yaml:"strict_usage"`
}

// ServerConfig configures the worker threads of a server.
type ServerConfig struct {
	Threads    int `yaml:"threads" validate:"gte=1,lte=1024"`
	Backlog    int `yaml:"backlog" validate:"gte=1"`
	BufferSize int `yaml:"buffer_size" validate:"gte=1"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=disabled emerg alert crit err warning notice info debug trace"`
}

var validate = validator.New()

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Listen: `127.0.0.1:7878`,
		System: SystemConfig{
			EventCapacity:    reactor.DefaultEventCapacity,
			IdentityCapacity: reactor.DefaultIdentityCapacity,
			WaitTimeout:      -1,
		},
		Server: ServerConfig{
			Threads:    1,
			Backlog:    128,
			BufferSize: 4096,
		},
		Log: LoggingConfig{
			Level: `info`,
		},
	}
}

// Load decodes YAML from r over the defaults, applies environment variable
// overrides, then validates the result.
func Load(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadFile is like Load, reading from the file at path. An empty path loads
// the defaults.
func LoadFile(path string) (*Config, error) {
	if path == `` {
		return Load(bytes.NewReader(nil))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Load(bytes.NewReader(data))
}

// Validate checks every field.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	messages := make([]string, len(verrs))
	for i, e := range verrs {
		messages[i] = fmt.Sprintf("%s: failed %s", e.Namespace(), e.Tag())
	}
	return errors.New(strings.Join(messages, "; "))
}

// Level returns the logger level.
func (c *Config) Level() logiface.Level {
	switch c.Log.Level {
	case `disabled`:
		return logiface.LevelDisabled
	case `emerg`:
		return logiface.LevelEmergency
	case `alert`:
		return logiface.LevelAlert
	case `crit`:
		return logiface.LevelCritical
	case `err`:
		return logiface.LevelError
	case `warning`:
		return logiface.LevelWarning
	case `notice`:
		return logiface.LevelNotice
	case `debug`:
		return logiface.LevelDebug
	case `trace`:
		return logiface.LevelTrace
	default:
		return logiface.LevelInformational
	}
}

// Options returns the options for each System, using logger.
func (c *Config) Options(logger *logiface.Logger[logiface.Event]) []reactor.Option {
	return []reactor.Option{
		reactor.WithEventCapacity(c.System.EventCapacity),
		reactor.WithIdentityCapacity(c.System.IdentityCapacity),
		reactor.WithWaitTimeout(c.System.WaitTimeout),
		reactor.WithStrictUsage(c.System.StrictUsage),
		reactor.WithLogger(logger),
	}
}

// applyEnvOverrides applies the REACTOR_* environment variables.
func applyEnvOverrides(c *Config) error {
	if v := os.Getenv(`REACTOR_LISTEN`); v != `` {
		c.Listen = v
	}
	if v := os.Getenv(`REACTOR_LOG_LEVEL`); v != `` {
		c.Log.Level = v
	}
	if v := os.Getenv(`REACTOR_THREADS`); v != `` {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid REACTOR_THREADS: %w", err)
		}
		c.Server.Threads = n
	}
	if v := os.Getenv(`REACTOR_WAIT_TIMEOUT`); v != `` {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid REACTOR_WAIT_TIMEOUT: %w", err)
		}
		c.System.WaitTimeout = d
	}
	return nil
}
