package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// DefaultScope is the scope required by the self-service API.
const DefaultScope = "nhn:selvbetjening/client"

// HelseIDConfig holds the endpoints of the HelseID environment to talk to
type HelseIDConfig struct {
	Authority   string        `mapstructure:"authority"`
	BaseAddress string        `mapstructure:"base_address"`
	Scope       string        `mapstructure:"scope"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
}

// Validate checks that both endpoints are configured.
func (c HelseIDConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Authority) == "" {
		errs = append(errs, errors.New("authority URL is required (--AuthorityUrl or HELSEID_HELSEID_AUTHORITY)"))
	}
	if strings.TrimSpace(c.BaseAddress) == "" {
		errs = append(errs, errors.New("base address is required (--BaseAddress or HELSEID_HELSEID_BASE_ADDRESS)"))
	}
	return errors.Join(errs...)
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// OTelConfig holds OpenTelemetry configuration
type OTelConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	CollectorEndpoint string `mapstructure:"collector_endpoint"`
}

// MetricsConfig holds Prometheus Pushgateway configuration
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// StorageConfig selects where key files are read from and written to.
// Backend is "local" (default) or "s3" for an S3-compatible bucket.
type StorageConfig struct {
	Backend         string `mapstructure:"backend"`
	BucketHost      string `mapstructure:"bucket_host"`
	BucketPort      int    `mapstructure:"bucket_port"`
	BucketName      string `mapstructure:"bucket_name"`
	Prefix          string `mapstructure:"prefix"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// PolicyConfig controls the key policy check applied before uploading a new public key
type PolicyConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	File    string `mapstructure:"file"`
}

// CommonConfig holds configuration shared by all commands
type CommonConfig struct {
	Environment string        `mapstructure:"environment"`
	HelseID     HelseIDConfig `mapstructure:"helseid"`
	Log         LogConfig     `mapstructure:"log"`
	OTel        OTelConfig    `mapstructure:"otel"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
	Storage     StorageConfig `mapstructure:"storage"`
	Policy      PolicyConfig  `mapstructure:"policy"`
}

// InitViper initializes Viper with common settings
func InitViper(appName string) *viper.Viper {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath(fmt.Sprintf("./%s", appName))
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home + "/.helseid")
	}
	v.AddConfigPath("/etc/helseid/")

	// HELSEID_ENVIRONMENT, HELSEID_HELSEID_AUTHORITY, HELSEID_STORAGE_BACKEND, ...
	v.SetEnvPrefix("HELSEID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	return v
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "Production")

	// Endpoints have no defaults; they differ per HelseID environment.
	v.SetDefault("helseid.authority", "")
	v.SetDefault("helseid.base_address", "")
	v.SetDefault("helseid.scope", DefaultScope)
	v.SetDefault("helseid.http_timeout", 30*time.Second)

	v.SetDefault("log.level", "info")

	v.SetDefault("otel.enabled", false)
	v.SetDefault("otel.collector_endpoint", "")

	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", "helseid-cli")

	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.bucket_host", "localhost")
	v.SetDefault("storage.bucket_port", 9000)
	v.SetDefault("storage.bucket_name", "helseid-keys")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("storage.use_ssl", false)
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.access_key_id", "")
	v.SetDefault("storage.secret_access_key", "")

	v.SetDefault("policy.enabled", false)
	v.SetDefault("policy.file", "")
}

// Load reads the configuration from file and environment
func Load(v *viper.Viper, cfg any) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; use defaults
	}

	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return nil
}

// BindFlags binds the global CLI flags to Viper
func BindFlags(cmd *cobra.Command, v *viper.Viper) {
	cmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("environment", "", "Name of the HelseID environment, shown before updates")
	cmd.PersistentFlags().Bool("otel-enabled", false, "Enable OpenTelemetry tracing")
	cmd.PersistentFlags().String("otel-collector-endpoint", "", "OpenTelemetry collector gRPC endpoint (e.g. localhost:4317)")
	cmd.PersistentFlags().String("metrics-pushgateway", "", "Prometheus Pushgateway URL to push run metrics to")
	cmd.PersistentFlags().String("storage-backend", "", "Where key files live: local or s3")

	v.BindPFlag("log.level", cmd.PersistentFlags().Lookup("log-level"))
	v.BindPFlag("environment", cmd.PersistentFlags().Lookup("environment"))
	v.BindPFlag("otel.enabled", cmd.PersistentFlags().Lookup("otel-enabled"))
	v.BindPFlag("otel.collector_endpoint", cmd.PersistentFlags().Lookup("otel-collector-endpoint"))
	v.BindPFlag("metrics.pushgateway_url", cmd.PersistentFlags().Lookup("metrics-pushgateway"))
	v.BindPFlag("storage.backend", cmd.PersistentFlags().Lookup("storage-backend"))
}

// BindCommandFlag binds a command-local flag to a Viper key. Commands call it
// when they run, so that several commands may share a key.
func BindCommandFlag(cmd *cobra.Command, v *viper.Viper, key, flag string) error {
	f := cmd.Flags().Lookup(flag)
	if f == nil {
		return fmt.Errorf("unknown flag %q", flag)
	}
	return v.BindPFlag(key, f)
}

// LoadStorageConfigFromEnv fills bucket settings from OBC-style environment
// variables (BUCKET_HOST, BUCKET_PORT, BUCKET_NAME, BUCKET_REGION, BUCKET_SSL)
// and AWS credentials from AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY.
func LoadStorageConfigFromEnv(cfg *StorageConfig) {
	if host := os.Getenv("BUCKET_HOST"); host != "" {
		cfg.BucketHost = host
	}
	if portStr := os.Getenv("BUCKET_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			cfg.BucketPort = port
		}
	}
	if name := os.Getenv("BUCKET_NAME"); name != "" {
		cfg.BucketName = name
	}
	if region := os.Getenv("BUCKET_REGION"); region != "" {
		cfg.Region = region
	}

	// 443 means HTTPS unless BUCKET_SSL says otherwise
	if sslStr := os.Getenv("BUCKET_SSL"); sslStr != "" {
		cfg.UseSSL = sslStr == "true" || sslStr == "1"
	} else if cfg.BucketPort == 443 {
		cfg.UseSSL = true
	}

	if id := os.Getenv("AWS_ACCESS_KEY_ID"); id != "" && cfg.AccessKeyID == "" {
		cfg.AccessKeyID = id
	}
	if secret := os.Getenv("AWS_SECRET_ACCESS_KEY"); secret != "" && cfg.SecretAccessKey == "" {
		cfg.SecretAccessKey = secret
	}
}
