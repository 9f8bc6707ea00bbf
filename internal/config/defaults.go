package config

const (
	DefaultStateDBPath = "./mqsupervisor.db"
	DefaultWatchDir    = "./cases"
	DefaultLogDir      = "./logs"

	DefaultRemoteBaseDir         = "~/mqi_cases"
	DefaultInterpreterOutputsDir = "~/mqi_interpreter_outputs"
	DefaultOutputsDir            = "~/mqi_outputs"

	DefaultInterpreterCommand = "moqui_interpreter"
	DefaultRawToDicomCommand  = "raw_to_dicom"
	DefaultRemoteRunCommand   = "~/tps_env/.tps_env"
	DefaultPueueCommand       = "pueue"
	DefaultNvidiaSmiCommand   = "nvidia-smi"

	DefaultMaxWorkers                    = 4
	DefaultBatchSize                     = 4
	DefaultProcessingTimeoutSeconds      = 1800
	DefaultScanIntervalSeconds           = 10
	DefaultPollingIntervalSeconds        = 15
	DefaultSleepIntervalSeconds          = 5
	DefaultRunningCaseTimeoutHours       = 4.0
	DefaultGpuRefreshIntervalIterations  = 3
	DefaultQuiescencePeriodSeconds       = 5
	DefaultStarvationPromoteAfterSeconds = 600

	DefaultPrioritySchedulingAlgorithm         = "aging"
	DefaultAgingFactor                         = 0.1
	DefaultStarvationThresholdHours            = 2.0

	DefaultStatusAPIAddr = ":8099"
	DefaultLogLevel      = "info"
)

// DefaultConfig returns a Config with all default values applied.
func DefaultConfig() *Config {
	return &Config{
		StateDBPath: DefaultStateDBPath,
		WatchDir:    DefaultWatchDir,
		LogDir:      DefaultLogDir,

		RemoteBaseDir:         DefaultRemoteBaseDir,
		InterpreterOutputsDir: DefaultInterpreterOutputsDir,
		OutputsDir:            DefaultOutputsDir,

		InterpreterCommand: DefaultInterpreterCommand,
		RawToDicomCommand:  DefaultRawToDicomCommand,
		RemoteRunCommand:   DefaultRemoteRunCommand,
		PueueCommand:       DefaultPueueCommand,
		NvidiaSmiCommand:   DefaultNvidiaSmiCommand,

		MaxWorkers:                    DefaultMaxWorkers,
		BatchSize:                     DefaultBatchSize,
		ProcessingTimeoutSeconds:      DefaultProcessingTimeoutSeconds,
		ScanIntervalSeconds:           DefaultScanIntervalSeconds,
		PollingIntervalSeconds:        DefaultPollingIntervalSeconds,
		SleepIntervalSeconds:          DefaultSleepIntervalSeconds,
		RunningCaseTimeoutHours:       DefaultRunningCaseTimeoutHours,
		GpuRefreshIntervalIterations:  DefaultGpuRefreshIntervalIterations,
		QuiescencePeriodSeconds:       DefaultQuiescencePeriodSeconds,
		StarvationPromoteAfterSeconds: DefaultStarvationPromoteAfterSeconds,

		PriorityScheduling: PrioritySchedulingConfig{
			Algorithm:                DefaultPrioritySchedulingAlgorithm,
			AgingFactor:              DefaultAgingFactor,
			StarvationThresholdHours: DefaultStarvationThresholdHours,
		},

		StatusAPIAddr: DefaultStatusAPIAddr,
		LogLevel:      DefaultLogLevel,
	}
}
