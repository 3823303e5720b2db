package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables that override config keys,
// e.g. WORKERHOST_WORKER_COUNT for worker.count.
const EnvPrefix = "WORKERHOST"

// Config represents the complete worker host configuration
type Config struct {
	Worker     WorkerConfig     `mapstructure:"worker" yaml:"worker"`
	Process    ProcessConfig    `mapstructure:"process" yaml:"process"`
	Inspection InspectionConfig `mapstructure:"inspection" yaml:"inspection"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry" yaml:"telemetry"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Watch      WatchConfig      `mapstructure:"watch" yaml:"watch"`
}

// WorkerConfig controls the workers started by `workerhost run`
type WorkerConfig struct {
	// Count is how many workers to start (default: 1)
	Count int `mapstructure:"count" yaml:"count"`
	// ScriptURL is the script every worker runs
	ScriptURL string `mapstructure:"script_url" yaml:"script_url"`
	// Scope is the affinity key for process reuse. Empty means the directory
	// of ScriptURL.
	Scope string `mapstructure:"scope" yaml:"scope"`
	// AllowReuse lets workers share an existing process (default: true)
	AllowReuse bool `mapstructure:"allow_reuse" yaml:"allow_reuse"`
	// StartTimeout bounds how long `run` waits for every worker to start
	StartTimeout time.Duration `mapstructure:"start_timeout" yaml:"start_timeout"`
	// StepDelay slows down the simulated worker side between start events
	StepDelay time.Duration `mapstructure:"step_delay" yaml:"step_delay"`
	// FailEvaluation makes the simulated worker side report a failed script
	// evaluation
	FailEvaluation bool `mapstructure:"fail_evaluation" yaml:"fail_evaluation"`
}

// ProcessConfig controls process creation and placement
type ProcessConfig struct {
	// Flags are passed to every worker process in its start settings
	Flags []string `mapstructure:"flags" yaml:"flags"`
	// Locale is passed to every worker process in its start settings
	Locale string `mapstructure:"locale" yaml:"locale"`
	// IsolateScopes lists glob patterns of scopes whose workers always get a
	// dedicated process
	IsolateScopes []string `mapstructure:"isolate_scopes" yaml:"isolate_scopes"`
}

// InspectionConfig controls the inspection registry
type InspectionConfig struct {
	// WaitForDebugger asks new workers to pause until a debugger attaches
	WaitForDebugger bool `mapstructure:"wait_for_debugger" yaml:"wait_for_debugger"`
}

// TelemetryConfig controls metrics and tracing output
type TelemetryConfig struct {
	// MetricsAddr is the listen address of the /metrics endpoint; empty
	// disables it
	MetricsAddr string `mapstructure:"metrics_addr" yaml:"metrics_addr"`
	// TraceFile receives start spans as JSON; empty disables tracing
	TraceFile string `mapstructure:"trace_file" yaml:"trace_file"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level" yaml:"level"`
	// Dir is the directory of workerhost.log; empty logs to stderr
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// WatchConfig controls the script file watcher
type WatchConfig struct {
	// Enabled turns on watching of local script files (default: false)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Paths are the files watched. A change dooms the running version of
	// every worker whose script URL names the file.
	Paths []string `mapstructure:"paths" yaml:"paths"`
	// Debounce coalesces bursts of events for one file (default: 50ms)
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Worker: WorkerConfig{
			Count:        1,
			ScriptURL:    "https://localhost/worker/main.js",
			AllowReuse:   true,
			StartTimeout: 30 * time.Second,
			StepDelay:    10 * time.Millisecond,
		},
		Process: ProcessConfig{
			Flags:         []string{},
			Locale:        "en-US",
			IsolateScopes: []string{},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Watch: WatchConfig{
			Paths:    []string{},
			Debounce: 50 * time.Millisecond,
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Worker defaults
	viper.SetDefault("worker.count", defaults.Worker.Count)
	viper.SetDefault("worker.script_url", defaults.Worker.ScriptURL)
	viper.SetDefault("worker.scope", defaults.Worker.Scope)
	viper.SetDefault("worker.allow_reuse", defaults.Worker.AllowReuse)
	viper.SetDefault("worker.start_timeout", defaults.Worker.StartTimeout)
	viper.SetDefault("worker.step_delay", defaults.Worker.StepDelay)
	viper.SetDefault("worker.fail_evaluation", defaults.Worker.FailEvaluation)

	// Process defaults
	viper.SetDefault("process.flags", defaults.Process.Flags)
	viper.SetDefault("process.locale", defaults.Process.Locale)
	viper.SetDefault("process.isolate_scopes", defaults.Process.IsolateScopes)

	// Inspection defaults
	viper.SetDefault("inspection.wait_for_debugger", defaults.Inspection.WaitForDebugger)

	// Telemetry defaults
	viper.SetDefault("telemetry.metrics_addr", defaults.Telemetry.MetricsAddr)
	viper.SetDefault("telemetry.trace_file", defaults.Telemetry.TraceFile)

	// Logging defaults
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)

	// Watch defaults
	viper.SetDefault("watch.enabled", defaults.Watch.Enabled)
	viper.SetDefault("watch.paths", defaults.Watch.Paths)
	viper.SetDefault("watch.debounce", defaults.Watch.Debounce)
}

// ConfigureEnv lets WORKERHOST_* environment variables override config keys.
// Nested keys use underscores: WORKERHOST_TELEMETRY_METRICS_ADDR.
func ConfigureEnv() {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Validate the configuration
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "workerhost")
	}
	// Fall back to ~/.config/workerhost
	home, err := os.UserHomeDir()
	if err != nil {
		return ".workerhost"
	}
	return filepath.Join(home, ".config", "workerhost")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
