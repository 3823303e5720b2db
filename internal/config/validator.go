package config

import (
	"fmt"
	"net"
	"slices"
	"strings"
	"time"

	"github.com/gobwas/glob"

	"github.com/Iron-Ham/workerhost/internal/scope"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "worker.count")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// maxWorkers bounds worker.count.
const maxWorkers = 1024

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateWorker()...)
	errors = append(errors, c.validateProcess()...)
	errors = append(errors, c.validateTelemetry()...)
	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validateWatch()...)

	return errors
}

// validateWorker validates the WorkerConfig
func (c *Config) validateWorker() []ValidationError {
	var errors []ValidationError

	if c.Worker.Count <= 0 || c.Worker.Count > maxWorkers {
		errors = append(errors, ValidationError{
			Field:   "worker.count",
			Value:   c.Worker.Count,
			Message: fmt.Sprintf("must be between 1 and %d", maxWorkers),
		})
	}

	if _, err := scope.Origin(c.Worker.ScriptURL); err != nil {
		errors = append(errors, ValidationError{
			Field:   "worker.script_url",
			Value:   c.Worker.ScriptURL,
			Message: "must be an absolute URL with scheme and host",
		})
	}

	if c.Worker.Scope != "" {
		if _, err := scope.Origin(c.Worker.Scope); err != nil {
			errors = append(errors, ValidationError{
				Field:   "worker.scope",
				Value:   c.Worker.Scope,
				Message: "must be an absolute URL with scheme and host",
			})
		}
	}

	if c.Worker.StartTimeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "worker.start_timeout",
			Value:   c.Worker.StartTimeout,
			Message: "must be positive",
		})
	}

	if c.Worker.StepDelay < 0 || c.Worker.StepDelay > time.Minute {
		errors = append(errors, ValidationError{
			Field:   "worker.step_delay",
			Value:   c.Worker.StepDelay,
			Message: "must be between 0 and 1m",
		})
	}

	return errors
}

// validateProcess validates the ProcessConfig
func (c *Config) validateProcess() []ValidationError {
	var errors []ValidationError

	for i, pattern := range c.Process.IsolateScopes {
		if strings.TrimSpace(pattern) == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("process.isolate_scopes[%d]", i),
				Value:   pattern,
				Message: "must not be empty",
			})
			continue
		}
		if _, err := glob.Compile(pattern, '/'); err != nil {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("process.isolate_scopes[%d]", i),
				Value:   pattern,
				Message: fmt.Sprintf("invalid glob: %v", err),
			})
		}
	}

	for i, flag := range c.Process.Flags {
		if !strings.HasPrefix(flag, "-") {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("process.flags[%d]", i),
				Value:   flag,
				Message: "must start with '-'",
			})
		}
	}

	return errors
}

// validateTelemetry validates the TelemetryConfig
func (c *Config) validateTelemetry() []ValidationError {
	var errors []ValidationError

	if addr := c.Telemetry.MetricsAddr; addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			errors = append(errors, ValidationError{
				Field:   "telemetry.metrics_addr",
				Value:   addr,
				Message: "must be host:port",
			})
		}
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	return errors
}

// validateWatch validates the WatchConfig
func (c *Config) validateWatch() []ValidationError {
	var errors []ValidationError

	if c.Watch.Enabled && len(c.Watch.Paths) == 0 {
		errors = append(errors, ValidationError{
			Field:   "watch.paths",
			Value:   c.Watch.Paths,
			Message: "must list at least one file when watching is enabled",
		})
	}

	if c.Watch.Debounce < 0 {
		errors = append(errors, ValidationError{
			Field:   "watch.debounce",
			Value:   c.Watch.Debounce,
			Message: "must be non-negative",
		})
	}

	return errors
}
