// Package config provides configuration loading, validation, and hot-reload
// for the emberwatch node agent.
//
// Configuration file: /etc/emberwatch/config.yaml (default)
// Schema version: 1
//
// Hot-reload:
//   - Agent listens for SIGHUP.
//   - On SIGHUP: re-read and re-validate config.yaml.
//   - Apply non-destructive changes only: fusion smoothing alpha, temporal
//     smoothing, contextual modulation and the structure base Hurst threshold.
//     Other changed fields (weights, log level, ...) take effect on restart.
//   - Destructive changes (storage path, mesh listen port, node role) require restart.
//   - If the new config is invalid, the old config remains active and an
//     error is logged. The agent does NOT crash on invalid hot-reload config.
//
// Validation:
//   - All required fields must be present.
//   - Numeric ranges enforced (e.g., weights >= 0, min_window <= max_window).
//   - Required file paths must be non-empty; they are not checked for being
//     absolute.
//   - Invalid config on startup: agent refuses to start (fatal error).
//   - Invalid config on hot-reload: logged, old config retained.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Version, GitCommit, BuildTime can be injected at build time via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Config is the root configuration structure for emberwatch (§6).
type Config struct {
	SchemaVersion string `yaml:"schema_version"`

	Node          NodeConfig          `yaml:"node"`
	Sensors       SensorsConfig       `yaml:"sensors"`
	Fusion        FusionConfig        `yaml:"fusion"`
	Structure     StructureConfig     `yaml:"structure"`
	Chaos         ChaosConfig         `yaml:"chaos"`
	Vision        VisionConfig        `yaml:"vision"`
	Decision      DecisionConfig      `yaml:"decision"`
	Mesh          MeshConfig          `yaml:"mesh"`
	Storage       StorageConfig       `yaml:"storage"`
	Budget        BudgetConfig        `yaml:"budget"`
	Observability ObservabilityConfig `yaml:"observability"`
	Operator      OperatorConfig      `yaml:"operator"`
}

// NodeConfig identifies this node in the Queen/Drone topology (§6).
type NodeConfig struct {
	ID           string  `yaml:"id"`
	Role         string  `yaml:"role"` // "queen" or "drone"
	QueenID      string  `yaml:"queen_id"`
	HasSatellite bool    `yaml:"has_satellite"`
	Lat          float64 `yaml:"lat"`
	Lon          float64 `yaml:"lon"`
	Alt          float64 `yaml:"alt"`
}

// SensorLimits is a per-kind min/max/dying-gasp bound (§6 sensors).
type SensorLimits struct {
	Min       float64  `yaml:"min"`
	Max       float64  `yaml:"max"`
	DyingGasp *float64 `yaml:"dying_gasp"`
}

// SensorsConfig configures Watchdog thresholds (§6).
type SensorsConfig struct {
	Limits                map[string]SensorLimits `yaml:"limits"`
	FrozenThresholdHours   float64                 `yaml:"frozen_threshold_hours"`
	BlackBoxBufferSeconds  int                     `yaml:"black_box_buffer_seconds"`
	TraumaDecayDays        float64                 `yaml:"trauma_decay_days"`
}

// FusionConfig configures Stage F (§6).
type FusionConfig struct {
	TemporalSmoothing         bool    `yaml:"temporal_smoothing"`
	SmoothingAlpha            float64 `yaml:"smoothing_alpha"`
	EnableContextualModulation bool   `yaml:"enable_contextual_modulation"`
	WeightChemical            float64 `yaml:"weight_chemical"`
	WeightVisual              float64 `yaml:"weight_visual"`
	WeightEnvironmental       float64 `yaml:"weight_environmental"`
	UseBackboneSSM            bool    `yaml:"use_backbone_ssm"`
}

// StructureConfig configures Stage S (§6).
type StructureConfig struct {
	BaseHurstThreshold float64 `yaml:"base_hurst_threshold"`
	MinWindow          int     `yaml:"min_window"`
	MaxWindow          int     `yaml:"max_window"`
}

// ChaosConfig configures Stage C (§6).
type ChaosConfig struct {
	LyapunovThreshold float64 `yaml:"lyapunov_threshold"`
	MinWindow         int     `yaml:"min_window"`
	MaxWindow         int     `yaml:"max_window"`
	EmbeddingDim      int     `yaml:"embedding_dim"`
}

// VisionConfig configures Stage V (§6).
type VisionConfig struct {
	SmokeConfThreshold     float64 `yaml:"smoke_conf_threshold"`
	EdgeSharpnessThreshold float64 `yaml:"edge_sharpness_threshold"`
	BrightnessMin          float64 `yaml:"brightness_min"`
	BrightnessMax          float64 `yaml:"brightness_max"`
	ThermalHotSpotTempC    float64 `yaml:"thermal_hot_spot_temp_c"`
	ThermalAmbientC        float64 `yaml:"thermal_ambient_c"`
	ThermalAnomalyThreshold float64 `yaml:"thermal_anomaly_threshold"`
}

// DecisionConfig configures Stage D (§6).
type DecisionConfig struct {
	WitnessRadiusMeters float64 `yaml:"witness_radius_meters"`
	MinWitnesses        int     `yaml:"min_witnesses"`
	TraumaDecay         float64 `yaml:"trauma_decay"`
}

// MeshConfig configures Stage M (§6).
type MeshConfig struct {
	ListenAddr           string        `yaml:"listen_addr"`
	Peers                []string      `yaml:"peers"`
	LoRaRangeMeters      float64       `yaml:"lora_range_meters"`
	DyingGaspTempThreshold float64     `yaml:"dying_gasp_temp_threshold"`
	TraumaDecayDays      float64       `yaml:"trauma_decay_days"`
	HeartbeatIntervalSec int           `yaml:"heartbeat_interval_sec"`
	HeartbeatJitterSec   int           `yaml:"heartbeat_jitter_sec"`
	HeartbeatTimeoutSec  int           `yaml:"heartbeat_timeout_sec"`
	AggregationWindowSec int           `yaml:"aggregation_window_sec"`
	EscalationThreshold  int           `yaml:"escalation_threshold"`
	EnvelopeTTL          time.Duration `yaml:"envelope_ttl"`
	TLSCertFile          string        `yaml:"tls_cert_file"`
	TLSKeyFile           string        `yaml:"tls_key_file"`
	TLSCAFile            string        `yaml:"tls_ca_file"`
}

// StorageConfig holds BoltDB parameters, adapted for the message/decision ledger.
type StorageConfig struct {
	DBPath        string `yaml:"db_path"`
	RetentionDays int    `yaml:"retention_days"`
}

// BudgetConfig holds token-bucket parameters for outbound alert rate limiting.
type BudgetConfig struct {
	Capacity     int           `yaml:"capacity"`
	RefillPeriod time.Duration `yaml:"refill_period"`
}

// ObservabilityConfig holds metrics and logging parameters.
type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
}

// OperatorConfig holds operator override Unix socket parameters.
type OperatorConfig struct {
	SocketPath string `yaml:"socket_path"`
	Enabled    bool   `yaml:"enabled"`
}

// DefaultDBPath is the default BoltDB path.
const DefaultDBPath = "/var/lib/emberwatch/emberwatch.db"

// Defaults returns a Config populated with every §6/§4 default value.
func Defaults() Config {
	hostname, _ := os.Hostname()
	return Config{
		SchemaVersion: "1",
		Node: NodeConfig{
			ID: hostname, Role: "drone",
		},
		Sensors: SensorsConfig{
			Limits:               map[string]SensorLimits{},
			FrozenThresholdHours: 5,
			BlackBoxBufferSeconds: 30,
			TraumaDecayDays:      7,
		},
		Fusion: FusionConfig{
			TemporalSmoothing: true, SmoothingAlpha: 0.7, EnableContextualModulation: true,
			WeightChemical: 0.5, WeightVisual: 0.3, WeightEnvironmental: 0.2,
		},
		Structure: StructureConfig{BaseHurstThreshold: 1.1, MinWindow: 30, MaxWindow: 120},
		Chaos:     ChaosConfig{LyapunovThreshold: 0.0, MinWindow: 40, MaxWindow: 120, EmbeddingDim: 3},
		Vision: VisionConfig{
			SmokeConfThreshold: 0.6, EdgeSharpnessThreshold: 0.4,
			BrightnessMin: 10.0 / 255, BrightnessMax: 245.0 / 255,
			ThermalHotSpotTempC: 60, ThermalAmbientC: 25, ThermalAnomalyThreshold: 20,
		},
		Decision: DecisionConfig{WitnessRadiusMeters: 500, MinWitnesses: 1, TraumaDecay: 0.95},
		Mesh: MeshConfig{
			ListenAddr: "0.0.0.0:9443", LoRaRangeMeters: 2000, DyingGaspTempThreshold: 100,
			TraumaDecayDays: 7, HeartbeatIntervalSec: 3600, HeartbeatJitterSec: 600,
			HeartbeatTimeoutSec: 7200, AggregationWindowSec: 300, EscalationThreshold: 2,
			EnvelopeTTL: 30 * time.Second,
		},
		Storage: StorageConfig{DBPath: DefaultDBPath, RetentionDays: 30},
		Budget:  BudgetConfig{Capacity: 100, RefillPeriod: 60 * time.Second},
		Observability: ObservabilityConfig{
			MetricsAddr: "127.0.0.1:9091", LogLevel: "info", LogFormat: "json",
		},
		Operator: OperatorConfig{Enabled: true, SocketPath: "/run/emberwatch/operator.sock"},
	}
}

// Load reads and validates a config file from the given path.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse %q: %w", path, err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks all config fields for correctness, returning a descriptive
// error listing every violation found.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.SchemaVersion != "1" {
		errs = append(errs, fmt.Sprintf("schema_version must be \"1\", got %q", cfg.SchemaVersion))
	}
	if cfg.Node.ID == "" {
		errs = append(errs, "node.id must not be empty")
	}
	if cfg.Node.Role != "queen" && cfg.Node.Role != "drone" {
		errs = append(errs, fmt.Sprintf("node.role must be \"queen\" or \"drone\", got %q", cfg.Node.Role))
	}
	if cfg.Node.Role == "drone" && cfg.Node.QueenID == "" {
		errs = append(errs, "node.queen_id is required when node.role is \"drone\"")
	}
	if cfg.Sensors.FrozenThresholdHours <= 0 {
		errs = append(errs, "sensors.frozen_threshold_hours must be > 0")
	}
	if cfg.Fusion.SmoothingAlpha < 0 || cfg.Fusion.SmoothingAlpha > 1 {
		errs = append(errs, "fusion.smoothing_alpha must be in [0,1]")
	}
	if cfg.Fusion.WeightChemical < 0 || cfg.Fusion.WeightVisual < 0 || cfg.Fusion.WeightEnvironmental < 0 {
		errs = append(errs, "fusion weights must be >= 0")
	}
	if cfg.Structure.MinWindow < 1 || cfg.Structure.MinWindow > cfg.Structure.MaxWindow {
		errs = append(errs, "structure.min_window must be >= 1 and <= max_window")
	}
	if cfg.Chaos.MinWindow < 1 || cfg.Chaos.MinWindow > cfg.Chaos.MaxWindow {
		errs = append(errs, "chaos.min_window must be >= 1 and <= max_window")
	}
	if cfg.Chaos.EmbeddingDim < 1 {
		errs = append(errs, "chaos.embedding_dim must be >= 1")
	}
	if cfg.Vision.SmokeConfThreshold < 0 || cfg.Vision.SmokeConfThreshold > 1 {
		errs = append(errs, "vision.smoke_conf_threshold must be in [0,1]")
	}
	if cfg.Decision.MinWitnesses < 1 {
		errs = append(errs, "decision.min_witnesses must be >= 1")
	}
	if cfg.Decision.TraumaDecay <= 0 || cfg.Decision.TraumaDecay > 1 {
		errs = append(errs, "decision.trauma_decay must be in (0,1]")
	}
	if cfg.Mesh.LoRaRangeMeters <= 0 {
		errs = append(errs, "mesh.lora_range_meters must be > 0")
	}
	if cfg.Mesh.EscalationThreshold < 1 {
		errs = append(errs, "mesh.escalation_threshold must be >= 1")
	}
	if cfg.Mesh.ListenAddr != "" {
		if cfg.Mesh.TLSCertFile == "" || cfg.Mesh.TLSKeyFile == "" || cfg.Mesh.TLSCAFile == "" {
			errs = append(errs, "mesh.tls_cert_file, tls_key_file, and tls_ca_file are required when mesh.listen_addr is set")
		}
	}
	if cfg.Storage.DBPath == "" {
		errs = append(errs, "storage.db_path must not be empty")
	}
	if cfg.Storage.RetentionDays < 1 {
		errs = append(errs, fmt.Sprintf("storage.retention_days must be >= 1, got %d", cfg.Storage.RetentionDays))
	}
	if cfg.Budget.Capacity < 1 {
		errs = append(errs, fmt.Sprintf("budget.capacity must be >= 1, got %d", cfg.Budget.Capacity))
	}
	if cfg.Budget.RefillPeriod < time.Second {
		errs = append(errs, fmt.Sprintf("budget.refill_period must be >= 1s, got %s", cfg.Budget.RefillPeriod))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", joinStrings(errs, "\n  - "))
	}
	return nil
}

func joinStrings(ss []string, sep string) string {
	if len(ss) == 0 {
		return ""
	}
	result := ss[0]
	for _, s := range ss[1:] {
		result += sep + s
	}
	return result
}
