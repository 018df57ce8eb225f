package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration of the governance runtime.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Governance GovernanceConfig `mapstructure:"governance"`
	Quota      QuotaConfig      `mapstructure:"quota"`
	Audit      AuditConfig      `mapstructure:"audit"`
	Intake     IntakeConfig     `mapstructure:"intake"`
	Pilot      PilotConfig      `mapstructure:"pilot"`
	Logger     LoggerConfig     `mapstructure:"logger"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// StorageConfig selects the store driver: "postgres" for durable deployment,
// "memory" for single-node development.
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

// AuthConfig holds the RS256 public key used to validate identity-provider
// assertions. Issuing tokens is not this runtime's job.
type AuthConfig struct {
	PublicKeyPath string `mapstructure:"public_key_path"`
	PublicKey     []byte
}

// GovernanceConfig covers the policy knobs of the lifecycle engine.
type GovernanceConfig struct {
	// MinRationaleLen applies to approve/reject/reopen/kill-switch/
	// exemption/override rationales.
	MinRationaleLen int `mapstructure:"min_rationale_len"`

	// KillSwitchDefault is the state the aggregate boots with when the
	// store has no persisted policy state.
	KillSwitchDefault bool `mapstructure:"kill_switch_default"`
}

// QuotaRule is one fixed-window limit. Keys in QuotaConfig.Rules are action
// classes ("create", "execute"); Default applies to everything else.
type QuotaRule struct {
	Limit         int64 `mapstructure:"limit"`
	WindowSeconds int64 `mapstructure:"window_seconds"`
}

type QuotaConfig struct {
	Rules   map[string]QuotaRule `mapstructure:"rules"`
	Default QuotaRule            `mapstructure:"default"`
}

// RuleFor resolves the limit for an action class.
func (q QuotaConfig) RuleFor(action string) QuotaRule {
	if r, ok := q.Rules[action]; ok && r.Limit > 0 {
		return r
	}
	return q.Default
}

type AuditConfig struct {
	BufferSize    int           `mapstructure:"buffer_size"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`

	// SigningKeyPath points at a hex-encoded ed25519 seed. Empty means
	// export bundles are unsigned.
	SigningKeyPath string `mapstructure:"signing_key_path"`
	SigningKey     []byte
}

type IntakeConfig struct {
	// RulesPath points at the YAML rule list. Empty means built-in defaults.
	RulesPath string `mapstructure:"rules_path"`
}

type PilotConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`

	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`

	RatePerSecond float64 `mapstructure:"rate_per_second"`
	RateBurst     int     `mapstructure:"rate_burst"`
}

type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig merges the config file, environment and defaults.
// ENV overrides file: GOVERNANCE_MIN_RATIONALE_LEN=20 overrides
// governance.min_rationale_len.
func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No file: ENV and defaults only.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")
	cfg.Audit.SigningKey = loadKeyResource(cfg.Audit.SigningKeyPath, "AUDIT_SIGNING_KEY_DATA")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("storage.driver", "postgres")
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")

	v.SetDefault("governance.min_rationale_len", 10)
	v.SetDefault("governance.kill_switch_default", false)

	v.SetDefault("quota.default.limit", 60)
	v.SetDefault("quota.default.window_seconds", 60)
	v.SetDefault("quota.rules.create.limit", 30)
	v.SetDefault("quota.rules.create.window_seconds", 60)
	v.SetDefault("quota.rules.execute.limit", 10)
	v.SetDefault("quota.rules.execute.window_seconds", 60)

	v.SetDefault("audit.buffer_size", 4096)
	v.SetDefault("audit.batch_size", 100)
	v.SetDefault("audit.flush_interval", 500*time.Millisecond)

	v.SetDefault("pilot.call_timeout", 10*time.Second)
	v.SetDefault("pilot.cb_max_requests", 3)
	v.SetDefault("pilot.cb_interval", 5*time.Second)
	v.SetDefault("pilot.cb_timeout", 30*time.Second)
	v.SetDefault("pilot.rate_per_second", 20)
	v.SetDefault("pilot.rate_burst", 5)
}

// loadKeyResource reads key material from ENV first (Docker/K8s), then from
// the configured path.
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
