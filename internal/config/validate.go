package config

import (
	"errors"
	"fmt"
)

// ValidationError contains details about what failed validation.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config.%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

var validAlgorithms = map[string]bool{
	"strict_priority": true,
	"aging":           true,
	"weighted_fair":   true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks all config values for validity, joining every failure
// rather than stopping at the first (the teacher's own validateConfig
// pattern).
func (c *Config) Validate() error {
	var errs []error

	if c.StateDBPath == "" {
		errs = append(errs, &ValidationError{"state_db_path", c.StateDBPath, "must not be empty"})
	}
	if c.WatchDir == "" {
		errs = append(errs, &ValidationError{"watch_dir", c.WatchDir, "must not be empty"})
	}
	if c.MaxWorkers < 1 {
		errs = append(errs, &ValidationError{"max_workers", c.MaxWorkers, "must be at least 1"})
	}
	if c.BatchSize < 1 {
		errs = append(errs, &ValidationError{"batch_size", c.BatchSize, "must be at least 1"})
	}
	if c.ProcessingTimeoutSeconds < 1 {
		errs = append(errs, &ValidationError{"processing_timeout_seconds", c.ProcessingTimeoutSeconds, "must be at least 1"})
	}
	if c.ScanIntervalSeconds < 1 {
		errs = append(errs, &ValidationError{"scan_interval_seconds", c.ScanIntervalSeconds, "must be at least 1"})
	}
	if c.PollingIntervalSeconds < 1 {
		errs = append(errs, &ValidationError{"polling_interval_seconds", c.PollingIntervalSeconds, "must be at least 1"})
	}
	if c.SleepIntervalSeconds < 1 {
		errs = append(errs, &ValidationError{"sleep_interval_seconds", c.SleepIntervalSeconds, "must be at least 1"})
	}
	if c.RunningCaseTimeoutHours <= 0 {
		errs = append(errs, &ValidationError{"running_case_timeout_hours", c.RunningCaseTimeoutHours, "must be positive"})
	}
	if c.GpuRefreshIntervalIterations < 1 {
		errs = append(errs, &ValidationError{"gpu_refresh_interval_iterations", c.GpuRefreshIntervalIterations, "must be at least 1"})
	}
	if c.QuiescencePeriodSeconds < 0 {
		errs = append(errs, &ValidationError{"quiescence_period_seconds", c.QuiescencePeriodSeconds, "must be non-negative"})
	}
	if !validAlgorithms[c.PriorityScheduling.Algorithm] {
		errs = append(errs, &ValidationError{
			"priority_scheduling.algorithm", c.PriorityScheduling.Algorithm,
			"must be one of: strict_priority, aging, weighted_fair",
		})
	}
	if !validLogLevels[c.LogLevel] {
		errs = append(errs, &ValidationError{"log_level", c.LogLevel, "must be one of: debug, info, warn, error"})
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
