package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cordonsec/vigil/pkg/types"
)

// Config is the root configuration for a vigil node. Values come from a
// YAML file, with VIGIL_* environment variables taking precedence over
// file values.
type Config struct {
	Node      NodeConfig      `yaml:"node"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Consensus ConsensusConfig `yaml:"consensus"`
	Recovery  RecoveryConfig  `yaml:"recovery"`
	Retry     RetryConfig     `yaml:"retry"`
	Detection DetectionConfig `yaml:"detection"`
	TLS       TLSConfig       `yaml:"tls"`
	Admin     AdminConfig     `yaml:"admin"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// NodeConfig identifies this node and how it joins the cluster.
type NodeConfig struct {
	ID           string   `yaml:"id"`
	Host         string   `yaml:"host"`
	Port         int      `yaml:"port"`
	Role         string   `yaml:"role"`
	Capabilities []string `yaml:"capabilities"`
	Seeds        []string `yaml:"seeds"`
}

// HeartbeatConfig controls liveness probing between peers.
type HeartbeatConfig struct {
	Interval        time.Duration `yaml:"interval"`
	LivenessTimeout time.Duration `yaml:"livenessTimeout"`
}

// ConsensusConfig controls distributed alert voting.
type ConsensusConfig struct {
	PollInterval time.Duration `yaml:"pollInterval"`
	Timeout      time.Duration `yaml:"timeout"`
}

// RecoveryConfig controls failure recovery and zone reconciliation.
type RecoveryConfig struct {
	HealthCheckInterval time.Duration `yaml:"healthCheckInterval"`
	RecoveryInterval    time.Duration `yaml:"recoveryInterval"`
	MaxAttempts         int           `yaml:"maxAttempts"`
	ValidationInterval  time.Duration `yaml:"validationInterval"`
}

// RetryConfig controls backoff for outbound RPC operations.
type RetryConfig struct {
	MaxAttempts   int           `yaml:"maxAttempts"`
	InitialDelay  time.Duration `yaml:"initialDelay"`
	MaxDelay      time.Duration `yaml:"maxDelay"`
	BackoffFactor float64       `yaml:"backoffFactor"`
	Timeout       time.Duration `yaml:"timeout"`
}

// DetectionConfig tunes the built-in statistical detector. An embedding
// application that supplies its own scoring model ignores this section.
type DetectionConfig struct {
	SigmaThreshold float64 `yaml:"sigmaThreshold"`
	MinSamples     int     `yaml:"minSamples"`
}

// TLSConfig holds mutual TLS material for peer connections. When enabled,
// all three files are required.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"certFile"`
	KeyFile  string `yaml:"keyFile"`
	CAFile   string `yaml:"caFile"`
}

// AdminConfig controls the local HTTP admin API.
type AdminConfig struct {
	Address string `yaml:"address"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file and optional environment
// overrides. An empty path falls back to VIGIL_CONFIG; if neither names a
// file, defaults plus environment variables apply.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("VIGIL_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			Host: "127.0.0.1",
			Port: 7946,
			Role: string(types.NodeRoleWorker),
		},
		Heartbeat: HeartbeatConfig{
			Interval:        5 * time.Second,
			LivenessTimeout: 15 * time.Second,
		},
		Consensus: ConsensusConfig{
			PollInterval: 100 * time.Millisecond,
			Timeout:      10 * time.Second,
		},
		Recovery: RecoveryConfig{
			HealthCheckInterval: 30 * time.Second,
			RecoveryInterval:    60 * time.Second,
			MaxAttempts:         5,
			ValidationInterval:  5 * time.Minute,
		},
		Retry: RetryConfig{
			MaxAttempts:   3,
			InitialDelay:  1 * time.Second,
			MaxDelay:      30 * time.Second,
			BackoffFactor: 2.0,
			Timeout:       10 * time.Second,
		},
		Detection: DetectionConfig{
			SigmaThreshold: 3.0,
			MinSamples:     20,
		},
		Admin: AdminConfig{
			Address: ":7947",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("VIGIL_NODE_ID"); v != "" {
		c.Node.ID = v
	}
	if v := os.Getenv("VIGIL_NODE_HOST"); v != "" {
		c.Node.Host = v
	}
	if v := os.Getenv("VIGIL_NODE_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("VIGIL_NODE_PORT: %w", err)
		}
		c.Node.Port = port
	}
	if v := os.Getenv("VIGIL_NODE_ROLE"); v != "" {
		c.Node.Role = strings.ToLower(v)
	}
	if v := os.Getenv("VIGIL_SEEDS"); v != "" {
		c.Node.Seeds = splitList(v)
	}
	if v := os.Getenv("VIGIL_HEARTBEAT_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("VIGIL_HEARTBEAT_INTERVAL: %w", err)
		}
		c.Heartbeat.Interval = d
	}
	if v := os.Getenv("VIGIL_LIVENESS_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("VIGIL_LIVENESS_TIMEOUT: %w", err)
		}
		c.Heartbeat.LivenessTimeout = d
	}
	if v := os.Getenv("VIGIL_CONSENSUS_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("VIGIL_CONSENSUS_TIMEOUT: %w", err)
		}
		c.Consensus.Timeout = d
	}
	if v := os.Getenv("VIGIL_RECOVERY_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("VIGIL_RECOVERY_MAX_ATTEMPTS: %w", err)
		}
		c.Recovery.MaxAttempts = n
	}
	if v := os.Getenv("VIGIL_VALIDATION_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("VIGIL_VALIDATION_INTERVAL: %w", err)
		}
		c.Recovery.ValidationInterval = d
	}
	if v := os.Getenv("VIGIL_RETRY_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("VIGIL_RETRY_MAX_ATTEMPTS: %w", err)
		}
		c.Retry.MaxAttempts = n
	}
	if v := os.Getenv("VIGIL_TLS_ENABLED"); v != "" {
		c.TLS.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("VIGIL_TLS_CERT_FILE"); v != "" {
		c.TLS.CertFile = v
	}
	if v := os.Getenv("VIGIL_TLS_KEY_FILE"); v != "" {
		c.TLS.KeyFile = v
	}
	if v := os.Getenv("VIGIL_TLS_CA_FILE"); v != "" {
		c.TLS.CAFile = v
	}
	if v := os.Getenv("VIGIL_ADMIN_ADDRESS"); v != "" {
		c.Admin.Address = v
	}
	if v := os.Getenv("VIGIL_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("VIGIL_LOG_JSON"); v != "" {
		c.Logging.JSON = strings.EqualFold(v, "true") || v == "1"
	}
	return nil
}

// Validate checks the configuration for values that would prevent the node
// from starting or make the cluster misbehave.
func (c *Config) Validate() error {
	if c.Node.Port < 0 || c.Node.Port > 65535 {
		return fmt.Errorf("node.port %d out of range", c.Node.Port)
	}
	switch types.NodeRole(c.Node.Role) {
	case types.NodeRoleMaster, types.NodeRoleWorker:
	default:
		return fmt.Errorf("node.role %q must be master or worker", c.Node.Role)
	}
	if c.Heartbeat.Interval <= 0 {
		return fmt.Errorf("heartbeat.interval must be positive")
	}
	if c.Heartbeat.LivenessTimeout <= c.Heartbeat.Interval {
		return fmt.Errorf("heartbeat.livenessTimeout %s must exceed heartbeat.interval %s",
			c.Heartbeat.LivenessTimeout, c.Heartbeat.Interval)
	}
	if c.Consensus.Timeout <= 0 {
		return fmt.Errorf("consensus.timeout must be positive")
	}
	if c.Consensus.PollInterval <= 0 || c.Consensus.PollInterval >= c.Consensus.Timeout {
		return fmt.Errorf("consensus.pollInterval %s must be positive and below consensus.timeout %s",
			c.Consensus.PollInterval, c.Consensus.Timeout)
	}
	if c.Recovery.MaxAttempts < 1 {
		return fmt.Errorf("recovery.maxAttempts must be at least 1")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.maxAttempts must be at least 1")
	}
	if c.Detection.SigmaThreshold <= 0 {
		return fmt.Errorf("detection.sigmaThreshold must be positive")
	}
	if c.Detection.MinSamples < 2 {
		return fmt.Errorf("detection.minSamples must be at least 2")
	}
	if c.TLS.Enabled {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" || c.TLS.CAFile == "" {
			return fmt.Errorf("tls.certFile, tls.keyFile and tls.caFile are all required when tls.enabled")
		}
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be one of debug, info, warn, error", c.Logging.Level)
	}
	return nil
}

// BindAddress returns the host:port this node listens on for peer RPC.
func (c *Config) BindAddress() string {
	return fmt.Sprintf("%s:%d", c.Node.Host, c.Node.Port)
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
