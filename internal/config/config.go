// Package config loads and validates the optional .typhonweb.yaml file and
// applies environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/shlex"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/deixis/typhonweb/internal/transcript"
)

// FileName is the config file looked up from the working directory upward.
const FileName = ".typhonweb.yaml"

// Default values.
const (
	DefaultHost              = "127.0.0.1"
	DefaultPort              = "5000"
	DefaultTimeout           = 10 * time.Minute // hard cap on any single run
	DefaultMaxOutput         = 1 << 20          // 1 MB
	DefaultMaxConcurrentRuns = 1
	DefaultStoreCapacity     = 16
	DefaultRateLimit         = 2.0
	DefaultRateBurst         = 5
)

// DefaultEngineCommand starts the Python runner shipped next to the console.
var DefaultEngineCommand = []string{"python3", "webui/runner.py"}

// Config holds the parsed configuration.
// All fields are optional; zero values represent defaults.
type Config struct {
	Version    int              `yaml:"version"`
	Server     ServerConfig     `yaml:"server"`
	Engine     EngineConfig     `yaml:"engine"`
	Transcript TranscriptConfig `yaml:"transcript"`
	Store      StoreConfig      `yaml:"store"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig controls the HTTP console.
type ServerConfig struct {
	Host         string   `yaml:"host"`
	Port         string   `yaml:"port"`
	Debug        bool     `yaml:"debug"`
	AllowOrigins []string `yaml:"allow_origins"` // default: same origin only; "*" allows any
	RateLimit    float64  `yaml:"rate_limit"`    // run requests per second per client
	RateBurst    int      `yaml:"rate_burst"`
	MCP          bool     `yaml:"mcp"` // mount the MCP handler at /mcp
}

// EngineConfig controls how the external engine is started.
type EngineConfig struct {
	Command           []string `yaml:"command"`     // argv; default: python3 webui/runner.py
	Dir               string   `yaml:"dir"`         // working directory, relative to the config root
	Env               []string `yaml:"env"`         // extra KEY=VALUE pairs
	RawTimeout        string   `yaml:"timeout"`     // hard cap, e.g. "10m"
	RawMaxOutput      int      `yaml:"max_output"`  // bytes
	MaxConcurrentRuns int      `yaml:"concurrency"` // default: 1
}

// TranscriptConfig controls the output normalizer.
type TranscriptConfig struct {
	Blank            string   `yaml:"blank"` // collapse or drop
	ProgressPatterns []string `yaml:"progress_patterns"`
	SuccessMarkers   []string `yaml:"success_markers"`
	SummaryMarkers   []string `yaml:"summary_markers"`
}

// StoreConfig controls run result retention.
type StoreConfig struct {
	Capacity int    `yaml:"capacity"` // results kept in memory
	Dir      string `yaml:"dir"`      // default: a fresh temp directory
}

// LogConfig controls the service logger.
type LogConfig struct {
	Level       string `yaml:"level"` // debug, info, warn, error
	Development bool   `yaml:"development"`
}

// Addr returns host:port for the HTTP listener.
func (c *Config) Addr() string {
	host, port := c.Server.Host, c.Server.Port
	if host == "" {
		host = DefaultHost
	}
	if port == "" {
		port = DefaultPort
	}
	return host + ":" + port
}

// Timeout returns the configured hard cap on a run or the default.
func (c *Config) Timeout() time.Duration {
	if c.Engine.RawTimeout != "" {
		d, err := time.ParseDuration(c.Engine.RawTimeout)
		if err == nil && d > 0 {
			return d
		}
	}
	return DefaultTimeout
}

// MaxOutputBytes returns the configured max output size or the default.
func (c *Config) MaxOutputBytes() int {
	if c.Engine.RawMaxOutput > 0 {
		return c.Engine.RawMaxOutput
	}
	return DefaultMaxOutput
}

// EngineCommand returns the engine argv, falling back to the default.
func (c *Config) EngineCommand() []string {
	if len(c.Engine.Command) > 0 {
		return c.Engine.Command
	}
	return DefaultEngineCommand
}

// MaxConcurrentRuns returns the number of runs allowed at once.
func (c *Config) MaxConcurrentRuns() int {
	if c.Engine.MaxConcurrentRuns > 0 {
		return c.Engine.MaxConcurrentRuns
	}
	return DefaultMaxConcurrentRuns
}

// StoreCapacity returns the in-memory result capacity.
func (c *Config) StoreCapacity() int {
	if c.Store.Capacity > 0 {
		return c.Store.Capacity
	}
	return DefaultStoreCapacity
}

// AllowOrigins returns the origins allowed besides the console's own.
func (c *Config) AllowOrigins() []string {
	return c.Server.AllowOrigins
}

// RateLimit returns the per-client run rate and burst.
func (c *Config) RateLimit() (float64, int) {
	rps, burst := c.Server.RateLimit, c.Server.RateBurst
	if rps <= 0 {
		rps = DefaultRateLimit
	}
	if burst <= 0 {
		burst = DefaultRateBurst
	}
	return rps, burst
}

// TranscriptOptions converts the transcript section for the normalizer.
func (c *Config) TranscriptOptions() transcript.Options {
	return transcript.Options{
		Blank:            transcript.BlankPolicy(c.Transcript.Blank),
		ProgressPatterns: c.Transcript.ProgressPatterns,
		SuccessMarkers:   c.Transcript.SuccessMarkers,
		SummaryMarkers:   c.Transcript.SummaryMarkers,
	}
}

// Validate checks the fields that can be wrong in a way defaults cannot fix.
func (c *Config) Validate() error {
	if _, err := transcript.NewRules(c.TranscriptOptions()); err != nil {
		return fmt.Errorf("transcript: %w", err)
	}
	if c.Engine.RawTimeout != "" {
		if _, err := time.ParseDuration(c.Engine.RawTimeout); err != nil {
			return fmt.Errorf("engine.timeout: %w", err)
		}
	}
	return nil
}

// env holds the environment overrides. Unset variables leave the file
// values alone.
type env struct {
	Host          string `envconfig:"TYPHON_WEBUI_HOST"`
	Port          string `envconfig:"TYPHON_WEBUI_PORT"`
	Debug         string `envconfig:"TYPHON_WEBUI_DEBUG"`
	EngineCommand string `envconfig:"TYPHON_ENGINE_COMMAND"` // shell-quoted argv
	EngineDir     string `envconfig:"TYPHON_ENGINE_DIR"`
	LogLevel      string `envconfig:"TYPHON_LOG_LEVEL"`
}

// ApplyEnv overlays environment variables onto c.
func (c *Config) ApplyEnv() error {
	var e env
	if err := envconfig.Process("", &e); err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}
	if e.Host != "" {
		c.Server.Host = e.Host
	}
	if e.Port != "" {
		c.Server.Port = e.Port
	}
	if e.Debug != "" {
		c.Server.Debug = e.Debug == "1"
	}
	if e.EngineCommand != "" {
		argv, err := shlex.Split(e.EngineCommand)
		if err != nil {
			return fmt.Errorf("parsing TYPHON_ENGINE_COMMAND: %w", err)
		}
		c.Engine.Command = argv
	}
	if e.EngineDir != "" {
		c.Engine.Dir = e.EngineDir
	}
	if e.LogLevel != "" {
		c.Log.Level = e.LogLevel
	}
	return nil
}

// LoadResult holds the parsed config and the directory it was found in.
type LoadResult struct {
	Config *Config
	Root   string // directory containing the config file; falls back to workspace
}

// EngineDir returns the absolute engine working directory.
func (l *LoadResult) EngineDir() string {
	dir := l.Config.Engine.Dir
	if dir == "" {
		return l.Root
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(l.Root, dir)
}

// Load reads the config file found by walking upward from workspace, then
// applies environment overrides. If no file exists, a default Config is
// used.
func Load(workspace string) (*LoadResult, error) {
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace: %w", err)
	}

	cfg := &Config{}
	root := abs
	path, err := findConfig(abs)
	if err == nil {
		root = filepath.Dir(path)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", FileName, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", FileName, err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", FileName, err)
	}
	return &LoadResult{Config: cfg, Root: root}, nil
}

// findConfig walks upward from dir looking for FileName.
func findConfig(dir string) (string, error) {
	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%s not found", FileName)
		}
		dir = parent
	}
}
