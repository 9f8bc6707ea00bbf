// Package config loads and validates the supervisor's single YAML
// configuration file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PrioritySchedulingConfig configures the priority scheduler (spec §4.9).
type PrioritySchedulingConfig struct {
	Algorithm               string  `yaml:"algorithm"`
	AgingFactor             float64 `yaml:"aging_factor"`
	StarvationThresholdHours float64 `yaml:"starvation_threshold_hours"`
}

// Config holds every recognized supervisor configuration knob (spec §6).
type Config struct {
	StateDBPath string `yaml:"state_db_path"`
	WatchDir    string `yaml:"watch_dir"`
	LogDir      string `yaml:"log_dir"`

	SSHHost        string `yaml:"ssh_host"`
	SSHUser        string `yaml:"ssh_user"`
	SSHKeyPath     string `yaml:"ssh_key_path"`
	RemoteBaseDir  string `yaml:"remote_base_dir"`
	InterpreterOutputsDir string `yaml:"interpreter_outputs_dir"`
	OutputsDir     string `yaml:"outputs_dir"`

	InterpreterCommand string `yaml:"interpreter_command"`
	RawToDicomCommand  string `yaml:"raw_to_dicom_command"`
	RemoteRunCommand   string `yaml:"remote_run_command"`
	PueueCommand       string `yaml:"pueue_command"`
	NvidiaSmiCommand   string `yaml:"nvidia_smi_command"`

	MaxWorkers                   int     `yaml:"max_workers"`
	BatchSize                    int     `yaml:"batch_size"`
	ProcessingTimeoutSeconds     int     `yaml:"processing_timeout_seconds"`
	ScanIntervalSeconds          int     `yaml:"scan_interval_seconds"`
	PollingIntervalSeconds       int     `yaml:"polling_interval_seconds"`
	SleepIntervalSeconds         int     `yaml:"sleep_interval_seconds"`
	RunningCaseTimeoutHours      float64 `yaml:"running_case_timeout_hours"`
	GpuRefreshIntervalIterations int     `yaml:"gpu_refresh_interval_iterations"`
	QuiescencePeriodSeconds      int     `yaml:"quiescence_period_seconds"`
	StarvationPromoteAfterSeconds int    `yaml:"starvation_promote_after_seconds"`

	PriorityScheduling PrioritySchedulingConfig `yaml:"priority_scheduling"`

	StatusAPIAddr string `yaml:"status_api_addr"`
	LogLevel      string `yaml:"log_level"`
}

// Load reads path, unmarshals it over DefaultConfig, and validates the
// result. A missing file is not an error only when path is empty; any other
// open failure is fatal, matching spec §6's "configuration... failures are
// fatal" startup policy.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
