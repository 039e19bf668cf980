// Package config holds the settings shared by the bridge, the relay and the
// command line tool.
//
// Settings are layered. Defaults come first, then a TOML file, then .env
// files, then MPIRELAY_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/sarchlab/mpirelay/ipc"
	"github.com/sarchlab/mpirelay/logging"
	"github.com/sarchlab/mpirelay/pending"
	"github.com/sarchlab/mpirelay/tracing"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "MPIRELAY_"

// Host names.
const (
	HostSysV   = "sysv"
	HostMemory = "mem"
)

// Trace backends.
const (
	TraceNone       = ""
	TraceSQLite     = "sqlite"
	TraceCSV        = "csv"
	TraceClickHouse = "clickhouse"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid")

// TraceConfig selects where message traces go.
type TraceConfig struct {
	Backend    string                   `toml:"backend"`
	Path       string                   `toml:"path"`
	ClickHouse tracing.ClickHouseConfig `toml:"clickhouse"`
}

// MonitorConfig controls the HTTP monitor.
type MonitorConfig struct {
	// Port is the listening port. Zero disables the monitor, a negative value
	// picks a free port.
	Port int  `toml:"port"`
	Open bool `toml:"open"`
}

// JobsConfig describes the job served by the relay.
type JobsConfig struct {
	JobID    int32 `toml:"job_id"`
	JobCount int32 `toml:"job_count"`
	Ranks    int   `toml:"ranks"`
}

// Config is the complete configuration.
type Config struct {
	Keys          ipc.Keys      `toml:"keys"`
	StoreCapacity int           `toml:"store_capacity"`
	LogLevel      string        `toml:"log_level"`
	Host          string        `toml:"host"`
	Trace         TraceConfig   `toml:"trace"`
	Monitor       MonitorConfig `toml:"monitor"`
	Jobs          JobsConfig    `toml:"jobs"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Keys:          ipc.DefaultKeys(),
		StoreCapacity: pending.DefaultCapacity,
		LogLevel:      "info",
		Host:          HostSysV,
		Jobs: JobsConfig{
			JobID:    1,
			JobCount: 1,
			Ranks:    2,
		},
	}
}

// Load builds a configuration from the defaults, the TOML file at path (if
// path is not empty), the given .env files (".env" if none is given and it
// exists) and the environment.
func Load(path string, envFiles ...string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: %w", err)
		}

		if err := Decode(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: %s: %w", path, err)
		}
	}

	if err := loadEnvFiles(envFiles); err != nil {
		return cfg, err
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// Decode overlays TOML data on cfg. Unknown fields are rejected.
func Decode(data []byte, cfg *Config) error {
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	return dec.Decode(cfg)
}

// Encode renders cfg as TOML.
func Encode(cfg Config) ([]byte, error) {
	return toml.Marshal(cfg)
}

func loadEnvFiles(files []string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}

		files = []string{".env"}
	}

	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("config: env file: %w", err)
	}

	return nil
}

type envField struct {
	name string
	set  func(c *Config, v string) error
}

func intField(dst func(c *Config) *int) func(c *Config, v string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}

		*dst(c) = n

		return nil
	}
}

func int32Field(dst func(c *Config) *int32) func(c *Config, v string) error {
	return func(c *Config, v string) error {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return err
		}

		*dst(c) = int32(n)

		return nil
	}
}

func keyField(dst func(c *Config) *ipc.Key) func(c *Config, v string) error {
	return int32Field(func(c *Config) *int32 { return (*int32)(dst(c)) })
}

func stringField(dst func(c *Config) *string) func(c *Config, v string) error {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

var envFields = []envField{
	{"HOST", stringField(func(c *Config) *string { return &c.Host })},
	{"LOG_LEVEL", stringField(func(c *Config) *string { return &c.LogLevel })},
	{"STORE_CAPACITY", intField(func(c *Config) *int { return &c.StoreCapacity })},

	{"KEY_W2R", keyField(func(c *Config) *ipc.Key { return &c.Keys.WorkerToRuntime })},
	{"KEY_W2R_FALLBACK", keyField(func(c *Config) *ipc.Key { return &c.Keys.WorkerToRuntimeFallback })},
	{"KEY_R2W", keyField(func(c *Config) *ipc.Key { return &c.Keys.RuntimeToWorker })},
	{"KEY_R2W_FALLBACK", keyField(func(c *Config) *ipc.Key { return &c.Keys.RuntimeToWorkerFallback })},
	{"KEY_EXTENDED", keyField(func(c *Config) *ipc.Key { return &c.Keys.Extended })},
	{"SEM_WORKER", keyField(func(c *Config) *ipc.Key { return &c.Keys.WorkerSemaphore })},
	{"SEM_RUNTIME", keyField(func(c *Config) *ipc.Key { return &c.Keys.RuntimeSemaphore })},

	{"TRACE", stringField(func(c *Config) *string { return &c.Trace.Backend })},
	{"TRACE_PATH", stringField(func(c *Config) *string { return &c.Trace.Path })},
	{"CLICKHOUSE_HOST", stringField(func(c *Config) *string { return &c.Trace.ClickHouse.Host })},
	{"CLICKHOUSE_PORT", intField(func(c *Config) *int { return &c.Trace.ClickHouse.Port })},
	{"CLICKHOUSE_DATABASE", stringField(func(c *Config) *string { return &c.Trace.ClickHouse.Database })},
	{"CLICKHOUSE_USERNAME", stringField(func(c *Config) *string { return &c.Trace.ClickHouse.Username })},
	{"CLICKHOUSE_PASSWORD", stringField(func(c *Config) *string { return &c.Trace.ClickHouse.Password })},

	{"MONITOR_PORT", intField(func(c *Config) *int { return &c.Monitor.Port })},

	{"JOB_ID", int32Field(func(c *Config) *int32 { return &c.Jobs.JobID })},
	{"JOB_COUNT", int32Field(func(c *Config) *int32 { return &c.Jobs.JobCount })},
	{"RANKS", intField(func(c *Config) *int { return &c.Jobs.Ranks })},
}

// ApplyEnv overlays the MPIRELAY_* variables returned by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	for _, f := range envFields {
		v, ok := lookup(EnvPrefix + f.name)
		if !ok {
			continue
		}

		if err := f.set(c, strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("config: %s%s: %w", EnvPrefix, f.name, err)
		}
	}

	return nil
}

// Validate checks the configuration for values the relay cannot run with.
func (c Config) Validate() error {
	if err := c.Keys.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if c.StoreCapacity <= 0 {
		return fmt.Errorf("%w: store capacity %d", ErrInvalid, c.StoreCapacity)
	}

	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	switch c.Host {
	case HostSysV, HostMemory:
	default:
		return fmt.Errorf("%w: host %q", ErrInvalid, c.Host)
	}

	switch c.Trace.Backend {
	case TraceNone, TraceSQLite, TraceCSV:
	case TraceClickHouse:
		if c.Trace.ClickHouse.Host == "" {
			return fmt.Errorf("%w: clickhouse trace needs a host", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: trace backend %q", ErrInvalid, c.Trace.Backend)
	}

	if c.Jobs.JobCount <= 0 || c.Jobs.Ranks <= 0 {
		return fmt.Errorf("%w: job count and ranks must be positive", ErrInvalid)
	}

	return nil
}
