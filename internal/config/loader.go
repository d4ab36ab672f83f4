package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	TLS      TLSConfig      `mapstructure:"tls"`
	Database DatabaseConfig `mapstructure:"database"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Features FeaturesConfig `mapstructure:"features"`
	Agent    AgentConfig    `mapstructure:"agent"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// TLSConfig describes the self-provisioned server keystore.
type TLSConfig struct {
	KeystorePath     string        `mapstructure:"keystore_path"`
	KeystorePassword string        `mapstructure:"keystore_password"`
	CommonName       string        `mapstructure:"common_name"`
	Validity         time.Duration `mapstructure:"validity"`
	KeyBits          int           `mapstructure:"key_bits"`
	ExtraHosts       []string      `mapstructure:"extra_hosts"`
}

type DatabaseConfig struct {
	Vendor         string           `mapstructure:"vendor"`
	Host           string           `mapstructure:"host"`
	Port           int              `mapstructure:"port"`
	Instance       string           `mapstructure:"instance"`
	SSLMode        string           `mapstructure:"sslmode"`
	ConnectTimeout time.Duration    `mapstructure:"connect_timeout"`
	FailureReason  string           `mapstructure:"failure_reason"`
	Statements     StatementsConfig `mapstructure:"statements"`
}

// StatementsConfig overrides the vendor's built-in statement templates.
// Empty fields keep the vendor default.
type StatementsConfig struct {
	Freeze           string `mapstructure:"freeze"`
	PendingFreezeIDs string `mapstructure:"pending_freeze_ids"`
	Thaw             string `mapstructure:"thaw"`
}

type SnapshotConfig struct {
	TaskTimeout       time.Duration `mapstructure:"task_timeout"`
	SettleInterval    time.Duration `mapstructure:"settle_interval"`
	ReconcileSchedule string        `mapstructure:"reconcile_schedule"`
}

type LoggerConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

type FeaturesConfig struct {
	RequestIDHeader      string `mapstructure:"request_id_header"`
	EnableRequestLogging bool   `mapstructure:"enable_request_logging"`
	EnableMetrics        bool   `mapstructure:"enable_metrics"`
	EnableEventStream    bool   `mapstructure:"enable_event_stream"`
}

type AgentConfig struct {
	Description string `mapstructure:"description"`
	Version     string `mapstructure:"version"`
	APIVersion  string `mapstructure:"api_version"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 9000)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 90*time.Second)

	v.SetDefault("tls.keystore_path", "etc/server.ks")
	v.SetDefault("tls.keystore_password", "Nimble Backup Agent Reference Implementation")
	v.SetDefault("tls.common_name", "localhost")
	v.SetDefault("tls.validity", 3650*24*time.Hour)
	v.SetDefault("tls.key_bits", 2048)

	v.SetDefault("database.vendor", "hana")
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", 30015)
	v.SetDefault("database.instance", "")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.connect_timeout", 15*time.Second)
	v.SetDefault("database.failure_reason", "storage snapshot failed or timed out")
	v.SetDefault("database.statements.freeze", "")
	v.SetDefault("database.statements.pending_freeze_ids", "")
	v.SetDefault("database.statements.thaw", "")

	v.SetDefault("snapshot.task_timeout", 600*time.Second)
	v.SetDefault("snapshot.settle_interval", 60*time.Second)
	v.SetDefault("snapshot.reconcile_schedule", "@every 30s")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.encoding", "console")
	v.SetDefault("logger.output_paths", []string{"stdout"})
	v.SetDefault("logger.error_output_paths", []string{"stderr"})

	v.SetDefault("features.request_id_header", "X-Request-ID")
	v.SetDefault("features.enable_request_logging", true)
	v.SetDefault("features.enable_metrics", true)
	v.SetDefault("features.enable_event_stream", true)

	v.SetDefault("agent.description", "SAP HANA Agent")
	v.SetDefault("agent.version", "1.0")
	v.SetDefault("agent.api_version", "v1")
}

// Load reads the configuration file at path, when given, and overlays
// HANA_AGENT_* environment variables on top of the built-in defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("HANA_AGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.TLS.KeystorePath == "" {
		errs = append(errs, errors.New("tls.keystore_path is required"))
	}
	if c.TLS.KeystorePassword == "" {
		errs = append(errs, errors.New("tls.keystore_password is required"))
	}
	switch c.Database.Vendor {
	case "hana", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.vendor %q is not supported", c.Database.Vendor))
	}
	if c.Database.Host == "" {
		errs = append(errs, errors.New("database.host is required"))
	}
	if c.Snapshot.TaskTimeout <= 0 {
		errs = append(errs, errors.New("snapshot.task_timeout must be positive"))
	}
	if c.Snapshot.SettleInterval < 0 {
		errs = append(errs, errors.New("snapshot.settle_interval must not be negative"))
	}
	if c.Snapshot.ReconcileSchedule == "" {
		errs = append(errs, errors.New("snapshot.reconcile_schedule is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
