// Package config loads stepguard workspace configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stepguard-dev/stepguard/pkg/core"
	"github.com/stepguard-dev/stepguard/pkg/coords"
	"github.com/stepguard-dev/stepguard/pkg/device"
	"github.com/stepguard-dev/stepguard/pkg/dispatch"
	"github.com/stepguard-dev/stepguard/pkg/interrupt"
	"github.com/stepguard-dev/stepguard/pkg/oracle"
	"github.com/stepguard-dev/stepguard/pkg/server"
	"github.com/stepguard-dev/stepguard/pkg/stepexec"
)

// Config is the workspace configuration (stepguard.yaml). Every field
// is optional; zero values fall back to the built-in defaults of the
// package they configure.
type Config struct {
	Oracle    OracleConfig    `yaml:"oracle"`
	Device    DeviceConfig    `yaml:"device"`
	Execution ExecutionConfig `yaml:"execution"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Snap      SnapConfig      `yaml:"snap"`
	Interrupt InterruptConfig `yaml:"interrupt"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Server    ServerConfig    `yaml:"server"`

	// Env holds variables exposed to scenario scripts and ${}
	// interpolation.
	Env map[string]string `yaml:"env"`
}

// OracleConfig selects and throttles the decision model.
type OracleConfig struct {
	Endpoint          string `yaml:"endpoint"`
	APIKey            string `yaml:"apiKey"`
	Model             string `yaml:"model"`
	TimeoutSeconds    int    `yaml:"timeoutSeconds"`
	MaxTokens         int    `yaml:"maxTokens"`
	MaxXMLChars       int    `yaml:"maxXmlChars"`
	RequestsPerMinute int    `yaml:"requestsPerMinute"`
}

// DeviceConfig points at the automation server and the app under test.
type DeviceConfig struct {
	ServerURL             string `yaml:"serverUrl"`
	Serial                string `yaml:"serial"`
	AppPackage            string `yaml:"appPackage"`
	AppActivity           string `yaml:"appActivity"`
	NoReset               bool   `yaml:"noReset"`
	CommandTimeoutSeconds int    `yaml:"commandTimeoutSeconds"`
}

// ExecutionConfig tunes the step execution loop.
type ExecutionConfig struct {
	MaxCycles      int `yaml:"maxCycles"`
	MaxSuggestions int `yaml:"maxSuggestions"`
	SettleDelayMs  int `yaml:"settleDelayMs"`
	ModelWidth     int `yaml:"modelWidth"`
	ModelHeight    int `yaml:"modelHeight"`
}

// DispatchConfig tunes action retries and fuzzy clicking.
type DispatchConfig struct {
	Retries         int `yaml:"retries"`
	RetryDelayMs    int `yaml:"retryDelayMs"`
	FuzzySamples    int `yaml:"fuzzySamples"`
	FuzzyRetries    int `yaml:"fuzzyRetries"`
	FuzzyDelayMs    int `yaml:"fuzzyDelayMs"`
	FallbackRetries int `yaml:"fallbackRetries"`
}

// SnapConfig tunes snap-to-tappable coordinate resolution.
type SnapConfig struct {
	MaxDistPx         int      `yaml:"maxDistPx"`
	ClickableDiscount float64  `yaml:"clickableDiscount"`
	KeywordDiscount   float64  `yaml:"keywordDiscount"`
	RightRailDiscount float64  `yaml:"rightRailDiscount"`
	RightRailRatio    float64  `yaml:"rightRailRatio"`
	Keywords          []string `yaml:"keywords"`
}

// InterruptConfig tunes overlay detection and handling.
type InterruptConfig struct {
	ModalCoverage   float64  `yaml:"modalCoverage"`
	OverlayCoverage float64  `yaml:"overlayCoverage"`
	SettleDelayMs   int      `yaml:"settleDelayMs"`
	MaxActions      int      `yaml:"maxActions"`
	AllowlistSteps  []string `yaml:"allowlistSteps"`
	BlocklistIDs    []string `yaml:"blocklistIds"`
	CloseTexts      []string `yaml:"closeTexts"`
}

// ArtifactsConfig controls what gets captured per step.
type ArtifactsConfig struct {
	Dir              string `yaml:"dir"`
	CaptureOnFailure *bool  `yaml:"captureOnFailure"`
	CaptureOnSuccess *bool  `yaml:"captureOnSuccess"`
	Screenshot       *bool  `yaml:"screenshot"`
	Hierarchy        *bool  `yaml:"hierarchy"`
	Annotate         *bool  `yaml:"annotate"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr           string  `yaml:"addr"`
	RatePerSecond  float64 `yaml:"ratePerSecond"`
	RateBurst      int     `yaml:"rateBurst"`
	ShutdownGraceS int     `yaml:"shutdownGraceSeconds"`
}

// Default returns a configuration equal to the built-in defaults.
func Default() *Config {
	return &Config{
		Artifacts: ArtifactsConfig{Dir: "./stepguard-artifacts"},
		Server:    ServerConfig{Addr: ":8780"},
		Env:       map[string]string{},
	}
}

// Load reads and parses a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, core.ErrInvalidConfig.WithCause(err).WithDetails(map[string]interface{}{
			"path": path,
		})
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromDir looks for stepguard.yaml or stepguard.yml in the
// directory, returning defaults when neither exists.
func LoadFromDir(dir string) (*Config, error) {
	for _, name := range []string{"stepguard.yaml", "stepguard.yml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return Default(), nil
}

// Validate checks the fields whose misconfiguration would only surface
// deep in a run.
func (c *Config) Validate() error {
	if c.Oracle.Endpoint != "" {
		if _, err := url.Parse(c.Oracle.Endpoint); err != nil {
			return core.ErrInvalidConfig.WithCause(err).WithDetails(map[string]interface{}{
				"field": "oracle.endpoint",
			})
		}
	}
	if c.Execution.MaxCycles < 0 {
		return core.ErrInvalidConfig.WithMessage(
			fmt.Sprintf("execution.maxCycles must be positive, got %d", c.Execution.MaxCycles))
	}
	if c.Dispatch.Retries < 0 {
		return core.ErrInvalidConfig.WithMessage(
			fmt.Sprintf("dispatch.retries must be positive, got %d", c.Dispatch.Retries))
	}
	for field, v := range map[string]float64{
		"snap.clickableDiscount":    c.Snap.ClickableDiscount,
		"snap.keywordDiscount":      c.Snap.KeywordDiscount,
		"snap.rightRailDiscount":    c.Snap.RightRailDiscount,
		"interrupt.modalCoverage":   c.Interrupt.ModalCoverage,
		"interrupt.overlayCoverage": c.Interrupt.OverlayCoverage,
	} {
		if v < 0 || v > 1 {
			return core.ErrInvalidConfig.WithMessage(
				fmt.Sprintf("%s must be within [0,1], got %v", field, v))
		}
	}
	if c.Server.RatePerSecond < 0 {
		return core.ErrInvalidConfig.WithMessage("server.ratePerSecond must not be negative")
	}
	return nil
}

// OracleOptions materializes the oracle client settings.
func (c *Config) OracleOptions() oracle.Options {
	opts := oracle.DefaultOptions()
	if c.Oracle.Endpoint != "" {
		opts.Endpoint = c.Oracle.Endpoint
	}
	if c.Oracle.APIKey != "" {
		opts.APIKey = c.Oracle.APIKey
	}
	if c.Oracle.Model != "" {
		opts.Model = c.Oracle.Model
	}
	if c.Oracle.TimeoutSeconds > 0 {
		opts.Timeout = time.Duration(c.Oracle.TimeoutSeconds) * time.Second
	}
	if c.Oracle.MaxTokens > 0 {
		opts.MaxTokens = c.Oracle.MaxTokens
	}
	if c.Oracle.MaxXMLChars > 0 {
		opts.MaxXMLChars = c.Oracle.MaxXMLChars
	}
	if c.Oracle.RequestsPerMinute > 0 {
		opts.RequestsPerMinute = c.Oracle.RequestsPerMinute
	}
	return opts
}

// DeviceOptions materializes the device session settings.
func (c *Config) DeviceOptions() device.Options {
	opts := device.DefaultOptions()
	if c.Device.ServerURL != "" {
		opts.ServerURL = c.Device.ServerURL
	}
	opts.Serial = c.Device.Serial
	opts.AppPackage = c.Device.AppPackage
	opts.AppActivity = c.Device.AppActivity
	opts.NoReset = c.Device.NoReset
	if c.Device.CommandTimeoutSeconds > 0 {
		opts.CommandTimeout = time.Duration(c.Device.CommandTimeoutSeconds) * time.Second
	}
	return opts
}

// DispatchOptions materializes retry and fuzzy-click settings.
func (c *Config) DispatchOptions() dispatch.Options {
	opts := dispatch.DefaultOptions()
	if c.Dispatch.Retries > 0 {
		opts.Retries = c.Dispatch.Retries
	}
	if c.Dispatch.RetryDelayMs > 0 {
		opts.RetryDelay = time.Duration(c.Dispatch.RetryDelayMs) * time.Millisecond
	}
	if c.Dispatch.FuzzySamples > 0 {
		opts.FuzzySamples = c.Dispatch.FuzzySamples
	}
	if c.Dispatch.FuzzyRetries > 0 {
		opts.FuzzyRetries = c.Dispatch.FuzzyRetries
	}
	if c.Dispatch.FuzzyDelayMs > 0 {
		opts.FuzzyDelay = time.Duration(c.Dispatch.FuzzyDelayMs) * time.Millisecond
	}
	if c.Dispatch.FallbackRetries > 0 {
		opts.FallbackRetries = c.Dispatch.FallbackRetries
	}
	return opts
}

// SnapOptions materializes the coordinate-snap heuristics.
func (c *Config) SnapOptions() coords.SnapOptions {
	opts := coords.DefaultSnapOptions()
	if c.Snap.MaxDistPx > 0 {
		opts.MaxDistPx = c.Snap.MaxDistPx
	}
	if c.Snap.ClickableDiscount > 0 {
		opts.ClickableDiscount = c.Snap.ClickableDiscount
	}
	if c.Snap.KeywordDiscount > 0 {
		opts.KeywordDiscount = c.Snap.KeywordDiscount
	}
	if c.Snap.RightRailDiscount > 0 {
		opts.RailDiscount = c.Snap.RightRailDiscount
	}
	if c.Snap.RightRailRatio > 0 {
		opts.RightRailRatio = c.Snap.RightRailRatio
	}
	if len(c.Snap.Keywords) > 0 {
		opts.PreferKeywords = c.Snap.Keywords
	}
	return opts
}

// InterruptOptions materializes overlay detection settings.
func (c *Config) InterruptOptions() interrupt.Options {
	opts := interrupt.DefaultOptions()
	if c.Interrupt.ModalCoverage > 0 {
		opts.ModalCoverage = c.Interrupt.ModalCoverage
	}
	if c.Interrupt.OverlayCoverage > 0 {
		opts.OverlayCoverage = c.Interrupt.OverlayCoverage
	}
	if c.Interrupt.SettleDelayMs > 0 {
		opts.SettleDelay = time.Duration(c.Interrupt.SettleDelayMs) * time.Millisecond
	}
	if c.Interrupt.MaxActions > 0 {
		opts.MaxActions = c.Interrupt.MaxActions
	}
	if len(c.Interrupt.AllowlistSteps) > 0 {
		opts.AllowlistSteps = c.Interrupt.AllowlistSteps
	}
	if len(c.Interrupt.BlocklistIDs) > 0 {
		opts.BlocklistIDs = c.Interrupt.BlocklistIDs
	}
	if len(c.Interrupt.CloseTexts) > 0 {
		opts.CloseTexts = c.Interrupt.CloseTexts
	}
	return opts
}

// MachineOptions materializes the step execution loop settings.
func (c *Config) MachineOptions() stepexec.Options {
	opts := stepexec.DefaultOptions()
	if c.Execution.MaxCycles > 0 {
		opts.MaxCycles = c.Execution.MaxCycles
	}
	if c.Execution.MaxSuggestions > 0 {
		opts.MaxSuggestions = c.Execution.MaxSuggestions
	}
	if c.Execution.SettleDelayMs > 0 {
		opts.SettleDelay = time.Duration(c.Execution.SettleDelayMs) * time.Millisecond
	}
	opts.ModelWidth = c.Execution.ModelWidth
	opts.ModelHeight = c.Execution.ModelHeight
	opts.Snap = c.SnapOptions()
	return opts
}

// ServerOptions materializes the HTTP API settings.
func (c *Config) ServerOptions() server.Options {
	opts := server.DefaultOptions()
	if c.Server.Addr != "" {
		opts.Addr = c.Server.Addr
	}
	if c.Server.RatePerSecond > 0 {
		opts.RatePerSecond = c.Server.RatePerSecond
	}
	if c.Server.RateBurst > 0 {
		opts.RateBurst = c.Server.RateBurst
	}
	if c.Server.ShutdownGraceS > 0 {
		opts.ShutdownGrace = time.Duration(c.Server.ShutdownGraceS) * time.Second
	}
	return opts
}

// ArtifactConfig materializes per-step capture settings.
func (c *Config) ArtifactConfig() core.ArtifactConfig {
	cfg := core.DefaultArtifactConfig()
	if c.Artifacts.CaptureOnFailure != nil {
		cfg.CaptureOnFailure = *c.Artifacts.CaptureOnFailure
	}
	if c.Artifacts.CaptureOnSuccess != nil {
		cfg.CaptureOnSuccess = *c.Artifacts.CaptureOnSuccess
	}
	if c.Artifacts.Screenshot != nil {
		cfg.Screenshot = *c.Artifacts.Screenshot
	}
	if c.Artifacts.Hierarchy != nil {
		cfg.Hierarchy = *c.Artifacts.Hierarchy
	}
	if c.Artifacts.Annotate != nil {
		cfg.Annotate = *c.Artifacts.Annotate
	}
	return cfg
}

// ArtifactsDir returns the artifact root directory.
func (c *Config) ArtifactsDir() string {
	if c.Artifacts.Dir != "" {
		return c.Artifacts.Dir
	}
	return "./stepguard-artifacts"
}
