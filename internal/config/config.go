// Package config loads the benchmark configuration from TOML with
// GRAPHBENCH_* environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/graphbench/internal/backend"
	"github.com/loykin/graphbench/internal/bench"
	"github.com/loykin/graphbench/internal/env"
	"github.com/loykin/graphbench/internal/logger"
	"github.com/loykin/graphbench/internal/metrics"
	"github.com/loykin/graphbench/internal/telemetry"
)

// EnvPrefix prefixes environment overrides, e.g. GRAPHBENCH_RUN_MPS.
const EnvPrefix = "GRAPHBENCH"

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	Env       []string        `mapstructure:"env"`
	EnvFiles  []string        `mapstructure:"env_files"`
	UseOSEnv  bool            `mapstructure:"use_os_env"`
	Run       RunConfig       `mapstructure:"run"`
	Backend   BackendConfig   `mapstructure:"backend"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Log       LogConfig       `mapstructure:"log"`
	History   HistoryConfig   `mapstructure:"history"`
}

type RunConfig struct {
	Vendor      string        `mapstructure:"vendor"`
	Dataset     string        `mapstructure:"dataset"`
	QueriesFile string        `mapstructure:"queries_file"`
	Parallel    int           `mapstructure:"parallel"`
	MPS         int           `mapstructure:"mps"`
	SimulateMs  int           `mapstructure:"simulate_ms"`
	Endpoint    string        `mapstructure:"endpoint"`
	ResultsDir  string        `mapstructure:"results_dir"`
	Capacity    int           `mapstructure:"capacity"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Restore     bool          `mapstructure:"restore"`
}

type BackendConfig struct {
	Command          string        `mapstructure:"command"`
	ModulePath       string        `mapstructure:"module_path"`
	DataDir          string        `mapstructure:"data_dir"`
	LogFile          string        `mapstructure:"log_file"`
	CacheSize        int           `mapstructure:"cache_size"`
	MaxQueuedQueries int           `mapstructure:"max_queued_queries"`
	Addr             string        `mapstructure:"addr"`
	Graph            string        `mapstructure:"graph"`
	BackupDir        string        `mapstructure:"backup_dir"`
	Grace            time.Duration `mapstructure:"grace"`
	RestartBackoff   time.Duration `mapstructure:"restart_backoff"`
	WaitErrorBackoff time.Duration `mapstructure:"wait_error_backoff"`
	ReportInterval   time.Duration `mapstructure:"report_interval"`
}

type TelemetryConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Stream        string        `mapstructure:"stream"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

type MetricsConfig struct {
	Listen          string        `mapstructure:"listen"`
	ProcessInterval time.Duration `mapstructure:"process_interval"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Color      bool   `mapstructure:"color"`
	Path       string `mapstructure:"path"`
	Dir        string `mapstructure:"dir"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// HistoryConfig lists the sinks finished runs are exported to.
type HistoryConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	DSNs    []string `mapstructure:"dsns"`
}

func setDefaults(v *viper.Viper) {
	fb := backend.DefaultFalkorConfig()
	defaults := map[string]interface{}{
		"use_os_env": true,

		"run.vendor":       string(bench.Falkor),
		"run.dataset":      string(bench.Small),
		"run.queries_file": "",
		"run.parallel":     1,
		"run.mps":          1000,
		"run.simulate_ms":  0,
		"run.endpoint":     "",
		"run.results_dir":  "results",
		"run.capacity":     0,
		"run.timeout":      60 * time.Second,
		"run.restore":      false,

		"backend.command":            fb.Command,
		"backend.module_path":        "",
		"backend.data_dir":           fb.DataDir,
		"backend.log_file":           fb.LogFile,
		"backend.cache_size":         fb.CacheSize,
		"backend.max_queued_queries": fb.MaxQueuedQueries,
		"backend.addr":               fb.Addr,
		"backend.graph":              fb.Graph,
		"backend.backup_dir":         "",
		"backend.grace":              fb.Grace,
		"backend.restart_backoff":    fb.RestartBackoff,
		"backend.wait_error_backoff": fb.WaitErrorBackoff,
		"backend.report_interval":    fb.ReportInterval,

		"telemetry.enabled":        true,
		"telemetry.stream":         telemetry.DefaultStream,
		"telemetry.flush_interval": telemetry.DefaultFlushInterval,

		"metrics.listen":           "",
		"metrics.process_interval": 5 * time.Second,

		"log.level":        "info",
		"log.format":       "text",
		"log.color":        true,
		"log.path":         "",
		"log.dir":          "",
		"log.max_size_mb":  logger.DefaultMaxSizeMB,
		"log.max_backups":  logger.DefaultMaxBackups,
		"log.max_age_days": logger.DefaultMaxAgeDays,
		"log.compress":     false,

		"history.enabled": false,
		"history.dsns":    []string{},
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

// New returns a viper instance with defaults and env overrides bound.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load reads path (optional) into a FileConfig. An empty path yields the
// defaults plus environment overrides.
func Load(path string) (*FileConfig, error) {
	v := New()
	return LoadWith(v, path)
}

// LoadWith is Load on a caller prepared viper, e.g. one with bound flags.
func LoadWith(v *viper.Viper, path string) (*FileConfig, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: read config %s: %v", bench.ErrIO, path, err)
		}
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("%w: decode config: %v", bench.ErrParse, err)
	}
	if err := fc.Validate(); err != nil {
		return nil, err
	}
	return &fc, nil
}

// Validate checks the values a run cannot start without.
func (fc *FileConfig) Validate() error {
	if _, err := bench.ParseVendor(fc.Run.Vendor); err != nil {
		return err
	}
	if _, err := bench.ParseSize(fc.Run.Dataset); err != nil {
		return err
	}
	if fc.Run.Parallel <= 0 {
		return fmt.Errorf("%w: run.parallel must be positive, got %d", bench.ErrOther, fc.Run.Parallel)
	}
	if fc.Run.MPS <= 0 {
		return fmt.Errorf("%w: run.mps must be positive, got %d", bench.ErrInvalidRate, fc.Run.MPS)
	}
	if fc.Run.SimulateMs < 0 {
		return fmt.Errorf("%w: run.simulate_ms must not be negative", bench.ErrOther)
	}
	return nil
}

// Vendor returns the parsed run vendor.
func (fc *FileConfig) Vendor() bench.Vendor {
	v, _ := bench.ParseVendor(fc.Run.Vendor)
	return v
}

// Dataset returns the parsed run dataset.
func (fc *FileConfig) Dataset() bench.Dataset {
	ds, _ := bench.ParseSize(fc.Run.Dataset)
	return ds
}

// Logger converts the [log] section.
func (fc *FileConfig) Logger() logger.Config {
	l := fc.Log
	return logger.Config{
		Level:  l.Level,
		Format: l.Format,
		Color:  l.Color,
		Path:   l.Path,
		File: logger.FileConfig{
			Dir:        l.Dir,
			MaxSizeMB:  l.MaxSizeMB,
			MaxBackups: l.MaxBackups,
			MaxAgeDays: l.MaxAgeDays,
			Compress:   l.Compress,
		},
	}
}

// Falkor converts the [backend] section.
func (fc *FileConfig) Falkor() backend.FalkorConfig {
	b := fc.Backend
	c := backend.DefaultFalkorConfig()
	c.Command = b.Command
	c.ModulePath = b.ModulePath
	c.DataDir = b.DataDir
	c.LogFile = b.LogFile
	c.CacheSize = b.CacheSize
	c.MaxQueuedQueries = b.MaxQueuedQueries
	c.Addr = b.Addr
	c.Graph = b.Graph
	c.BackupDir = b.BackupDir
	c.Grace = b.Grace
	c.RestartBackoff = b.RestartBackoff
	c.WaitErrorBackoff = b.WaitErrorBackoff
	c.ReportInterval = b.ReportInterval
	c.Log = fc.Logger()
	if c.LogFile != "" && !filepath.IsAbs(c.LogFile) && fc.Log.Dir != "" {
		c.LogFile = filepath.Join(fc.Log.Dir, c.LogFile)
	}
	return c
}

// ProcessMetrics converts the process sampling settings.
func (fc *FileConfig) ProcessMetrics() metrics.ProcessMetricsConfig {
	return metrics.ProcessMetricsConfig{
		Enabled:  fc.Metrics.ProcessInterval > 0,
		Interval: fc.Metrics.ProcessInterval,
	}
}

// GlobalEnv merges OS env (when use_os_env), env_files in order and the
// top-level env list, later sources overriding earlier ones. ${VAR}
// references are expanded.
func (fc *FileConfig) GlobalEnv() ([]string, error) {
	e := env.New(fc.UseOSEnv)
	for _, p := range fc.EnvFiles {
		pairs, err := LoadEnvFile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: env file %s: %v", bench.ErrIO, p, err)
		}
		e.SetPairs(pairs)
	}
	e.SetPairs(fc.Env)
	return e.Environ(), nil
}

// LoadEnvFile parses a simple .env file and returns "KEY=VALUE" entries.
func LoadEnvFile(path string) ([]string, error) {
	m, err := loadEnvFile(path)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out, nil
}

// loadEnvFile parses KEY=VALUE lines (no export, no quotes). Lines starting
// with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if k, v, ok := strings.Cut(line, "="); ok {
			m[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	return m, nil
}
