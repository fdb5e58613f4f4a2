// Package config holds the scheduler's own yaml-loaded expert
// configuration — the knobs recognised at the core interface per-slot
// caps, timers and the intra-slice policy selection — plus the ambient
// server/observability configuration for the process entry point.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the gNB scheduler process configuration.
type Config struct {
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Server        ServerConfig        `yaml:"server"`
	Observability ObservabilityConfig `yaml:"observability"`
	Archive       ArchiveConfig       `yaml:"archive"`
}

// SchedulerConfig is the CLI/config/env surface: the
// per-slot caps, retx timers and strategy selection injected at
// cell-add time.
type SchedulerConfig struct {
	MaxPDSCHsPerSlot             uint32       `yaml:"max_pdschs_per_slot"`
	MaxPUSCHsPerSlot             uint32       `yaml:"max_puschs_per_slot"`
	MaxPUCCHsPerSlot             uint32       `yaml:"max_pucchs_per_slot"`
	MaxULGrantsPerSlot           uint32       `yaml:"max_ul_grants_per_slot"`
	MaxPDCCHAllocAttemptsPerSlot uint32       `yaml:"max_pdcch_alloc_attempts_per_slot"`
	PrePolicyRRUEGroupSize       uint32       `yaml:"pre_policy_rr_ue_group_size"`
	DLHARQRetxTimeoutSlots       uint32         `yaml:"dl_harq_retx_timeout"`
	ULHARQRetxTimeoutSlots       uint32         `yaml:"ul_harq_retx_timeout"`
	ACKTimeoutSlots              uint32         `yaml:"ack_timeout_slots"`
	EnableCSIRSPDSCHMultiplexing bool           `yaml:"enable_csi_rs_pdsch_multiplexing"`
	Strategy                     StrategyConfig `yaml:"strategy_cfg"`
}

// StrategyConfig selects the intra-slice policy. Kind is either "time_rr"
// or "time_qos"; the QoS fields are only consulted for the latter.
type StrategyConfig struct {
	Kind  string  `yaml:"kind"`
	Alpha float64 `yaml:"alpha"`
	Beta  float64 `yaml:"beta"`
	Gamma float64 `yaml:"gamma"`
}

// ServerConfig holds the debug/metrics HTTP server bind address.
type ServerConfig struct {
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`
}

// ObservabilityConfig holds logging/tracing/metrics configuration.
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // otlp, jaeger
	Endpoint string `yaml:"endpoint"`
}

type MetricsConfig struct {
	Enabled        bool   `yaml:"enabled"`
	ReportInterval int    `yaml:"report_interval_ms"`
	Path           string `yaml:"path"`
}

// ArchiveConfig configures the optional ClickHouse periodic-report
// archival sink.
type ArchiveConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Address         string `yaml:"address"`
	Database        string `yaml:"database"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	FlushIntervalMs int    `yaml:"flush_interval_ms"`
}

// Load loads configuration from a YAML file, falling back to
// DefaultConfig when the file does not exist.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks the loaded configuration for internal consistency.
func (c *Config) Validate() error {
	s := c.Scheduler
	if s.MaxPDSCHsPerSlot == 0 {
		return fmt.Errorf("scheduler.max_pdschs_per_slot must be > 0")
	}
	if s.MaxPUSCHsPerSlot == 0 {
		return fmt.Errorf("scheduler.max_puschs_per_slot must be > 0")
	}
	if s.MaxPDCCHAllocAttemptsPerSlot == 0 {
		return fmt.Errorf("scheduler.max_pdcch_alloc_attempts_per_slot must be > 0")
	}
	switch s.Strategy.Kind {
	case "time_rr":
	case "time_qos":
		if s.Strategy.Alpha <= 0 || s.Strategy.Beta <= 0 {
			return fmt.Errorf("strategy_cfg: time_qos requires alpha, beta > 0")
		}
	default:
		return fmt.Errorf("strategy_cfg: unknown kind %q (want time_rr or time_qos)", s.Strategy.Kind)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	return nil
}

// DefaultConfig returns the scheduler's default configuration, tuned for
// a single FR1 cell with a conservative per-slot control-channel budget.
func DefaultConfig() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			MaxPDSCHsPerSlot:             16,
			MaxPUSCHsPerSlot:             16,
			MaxPUCCHsPerSlot:             32,
			MaxULGrantsPerSlot:           16,
			MaxPDCCHAllocAttemptsPerSlot: 24,
			PrePolicyRRUEGroupSize:       4,
			DLHARQRetxTimeoutSlots:       64,
			ULHARQRetxTimeoutSlots:       64,
			ACKTimeoutSlots:              240,
			EnableCSIRSPDSCHMultiplexing: false,
			Strategy: StrategyConfig{
				Kind: "time_rr",
			},
		},
		Server: ServerConfig{
			BindAddress: "0.0.0.0",
			Port:        8080,
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{Level: "info", Format: "json"},
			Tracing: TracingConfig{Enabled: false, Exporter: "otlp"},
			Metrics: MetricsConfig{Enabled: true, ReportInterval: 1000, Path: "/metrics"},
		},
		Archive: ArchiveConfig{
			Enabled:         false,
			Database:        "gnb_scheduler",
			FlushIntervalMs: 5000,
		},
	}
}
