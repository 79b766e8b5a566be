// Package config provides hierarchical configuration management.
// Priority: defaults < system < user < project < env < flags
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all datalake configuration.
type Config struct {
	Version int `yaml:"version"`

	Lake      LakeConfig      `yaml:"lake"`
	Inspect   InspectConfig   `yaml:"inspect"`
	VCS       VCSConfig       `yaml:"vcs"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Watch     WatchConfig     `yaml:"watch"`
}

// LakeConfig locates the lake on disk.
type LakeConfig struct {
	Root string `yaml:"root"`
}

// InspectConfig controls schema inspection.
type InspectConfig struct {
	Engine     string `yaml:"engine"`      // native | duckdb
	SampleRows int    `yaml:"sample_rows"` // CSV rows sampled for type inference
}

// VCSConfig controls the version-control collaborator.
type VCSConfig struct {
	Enabled         bool   `yaml:"enabled"`
	MessageTemplate string `yaml:"message_template"` // {{name}} and {{id}} are substituted
}

// LogConfig controls logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console | json
}

// TelemetryConfig for optional tracing export.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// WatchConfig controls inbox watching.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Version: 1,
		Lake: LakeConfig{
			Root: "my-datalake",
		},
		Inspect: InspectConfig{
			Engine:     "native",
			SampleRows: 1000,
		},
		VCS: VCSConfig{
			Enabled:         true,
			MessageTemplate: "Add table: {{name}}",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Telemetry: TelemetryConfig{
			Enabled:  false,
			Endpoint: "localhost:4317",
		},
		Watch: WatchConfig{
			Debounce: 500 * time.Millisecond,
		},
	}
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	if c.Lake.Root == "" {
		return fmt.Errorf("lake.root must not be empty")
	}
	switch c.Inspect.Engine {
	case "native", "duckdb":
	default:
		return fmt.Errorf("inspect.engine must be native or duckdb, got %q", c.Inspect.Engine)
	}
	if c.Inspect.SampleRows <= 0 {
		return fmt.Errorf("inspect.sample_rows must be positive, got %d", c.Inspect.SampleRows)
	}
	return nil
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu     sync.RWMutex
	config *Config
	paths  []string // Paths that were loaded

	// searchPaths overrides the default file lookup when set.
	searchPaths []string
}

// NewManager creates a new configuration manager.
func NewManager() *Manager {
	return &Manager{
		config: Default(),
	}
}

// WithPaths restricts file lookup to the given paths, in priority order.
func (m *Manager) WithPaths(paths ...string) *Manager {
	m.searchPaths = paths
	return m
}

// Load loads configuration from all sources in priority order.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = Default()
	m.paths = nil

	// Later files override earlier ones
	for _, path := range m.getConfigPaths() {
		if err := m.loadFile(path); err != nil {
			if !os.IsNotExist(err) {
				return fmt.Errorf("config %s: %w", path, err)
			}
		} else {
			m.paths = append(m.paths, path)
		}
	}

	m.loadEnv()

	return m.config.Validate()
}

// getConfigPaths returns config file paths in priority order.
func (m *Manager) getConfigPaths() []string {
	if len(m.searchPaths) > 0 {
		return m.searchPaths
	}
	return DefaultPaths()
}

// DefaultPaths returns the system, user and project config files, lowest
// priority first.
func DefaultPaths() []string {
	var paths []string

	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/datalake/config.yaml")
	}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".datalake", "config.yaml"))
	}

	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".datalake.yaml"))
	}

	return paths
}

// loadFile loads a single config file and merges it.
func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var partial Config
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return err
	}

	m.merge(&partial, data)
	return nil
}

// merge merges non-zero values from src into config. Booleans are only
// merged when the raw document mentions them, since false is a valid override.
func (m *Manager) merge(src *Config, raw []byte) {
	if src.Lake.Root != "" {
		m.config.Lake.Root = src.Lake.Root
	}

	if src.Inspect.Engine != "" {
		m.config.Inspect.Engine = src.Inspect.Engine
	}
	if src.Inspect.SampleRows != 0 {
		m.config.Inspect.SampleRows = src.Inspect.SampleRows
	}

	set := explicitBools(raw)
	if set["vcs.enabled"] {
		m.config.VCS.Enabled = src.VCS.Enabled
	}
	if src.VCS.MessageTemplate != "" {
		m.config.VCS.MessageTemplate = src.VCS.MessageTemplate
	}

	if src.Log.Level != "" {
		m.config.Log.Level = src.Log.Level
	}
	if src.Log.Format != "" {
		m.config.Log.Format = src.Log.Format
	}

	if set["telemetry.enabled"] {
		m.config.Telemetry.Enabled = src.Telemetry.Enabled
	}
	if src.Telemetry.Endpoint != "" {
		m.config.Telemetry.Endpoint = src.Telemetry.Endpoint
	}

	if src.Watch.Debounce != 0 {
		m.config.Watch.Debounce = src.Watch.Debounce
	}
}

// explicitBools reports which boolean keys are present in a YAML document.
func explicitBools(raw []byte) map[string]bool {
	var doc struct {
		VCS struct {
			Enabled *bool `yaml:"enabled"`
		} `yaml:"vcs"`
		Telemetry struct {
			Enabled *bool `yaml:"enabled"`
		} `yaml:"telemetry"`
	}
	set := make(map[string]bool)
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return set
	}
	set["vcs.enabled"] = doc.VCS.Enabled != nil
	set["telemetry.enabled"] = doc.Telemetry.Enabled != nil
	return set
}

// loadEnv loads configuration from environment variables.
func (m *Manager) loadEnv() {
	if v := os.Getenv("DATALAKE_ROOT"); v != "" {
		m.config.Lake.Root = v
	}

	if v := os.Getenv("DATALAKE_ENGINE"); v != "" {
		m.config.Inspect.Engine = v
	}

	if v := os.Getenv("DATALAKE_SAMPLE_ROWS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			m.config.Inspect.SampleRows = n
		}
	}

	if v := os.Getenv("DATALAKE_VCS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			m.config.VCS.Enabled = b
		}
	}

	if v := os.Getenv("DATALAKE_LOG_LEVEL"); v != "" {
		m.config.Log.Level = v
	}

	if v := os.Getenv("DATALAKE_OTLP_ENDPOINT"); v != "" {
		m.config.Telemetry.Enabled = true
		m.config.Telemetry.Endpoint = v
	}
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetPaths returns the paths that were loaded.
func (m *Manager) GetPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths
}

// Write validates cfg and writes it to path as YAML.
func Write(cfg *Config, path string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("refusing to write invalid config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
