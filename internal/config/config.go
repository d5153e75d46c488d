package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Sink drivers
const (
	SinkSQLite = "sqlite"
	SinkBolt   = "bolt"
)

// Result codecs
const (
	CodecProto = "proto"
	CodecJSON  = "json"
)

// Config is resolved once at process start and passed to every component.
// Nothing reads the environment after Load returns.
type Config struct {
	// Storage
	Bucket     string `mapstructure:"bucket" yaml:"bucket"`
	S3Endpoint string `mapstructure:"s3_endpoint" yaml:"s3_endpoint"`
	S3Region   string `mapstructure:"s3_region" yaml:"s3_region"`
	S3KeyID    string `mapstructure:"s3_access_key_id" yaml:"s3_access_key_id"`
	S3Secret   string `mapstructure:"s3_secret_access_key" yaml:"s3_secret_access_key"`
	OutputDir  string `mapstructure:"output_dir" yaml:"output_dir"` // local uploads instead of S3 when set
	KeyPrefix  string `mapstructure:"key_prefix" yaml:"key_prefix"`
	KeySuffix  string `mapstructure:"key_suffix" yaml:"key_suffix"`
	Codec      string `mapstructure:"codec" yaml:"codec"`

	// Monitoring
	MonitoringEnabled       bool          `mapstructure:"monitor" yaml:"monitor"`
	SinkDriver              string        `mapstructure:"sink_driver" yaml:"sink_driver"`
	SinkPath                string        `mapstructure:"sink_path" yaml:"sink_path"`
	TickInterval            time.Duration `mapstructure:"tick_interval" yaml:"tick_interval"`
	StartTimeout            time.Duration `mapstructure:"start_timeout" yaml:"start_timeout"`
	NetDevPath              string        `mapstructure:"net_dev_path" yaml:"net_dev_path"`
	IncludeMetricsOnFailure bool          `mapstructure:"include_metrics_on_failure" yaml:"include_metrics_on_failure"`

	// Invocation environment
	CertPath         string `mapstructure:"cert_path" yaml:"cert_path"`
	HeaderDir        string `mapstructure:"header_dir" yaml:"header_dir"`
	ReturnAfterDebug bool   `mapstructure:"return_after_debug" yaml:"return_after_debug"`

	// Observability
	LogLevel       string `mapstructure:"log_level" yaml:"log_level"`
	LogJSON        bool   `mapstructure:"log_json" yaml:"log_json"`
	PushgatewayURL string `mapstructure:"pushgateway_url" yaml:"pushgateway_url"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint"`
}

// envBindings keeps the variable names the deployed functions already use.
var envBindings = map[string]string{
	"bucket":                     "bucket",
	"monitor":                    "monitor",
	"cert_path":                  "KRB5CCNAME",
	"return_after_debug":         "return_after_debug",
	"s3_endpoint":                "TASKMON_S3_ENDPOINT",
	"s3_region":                  "TASKMON_S3_REGION",
	"s3_access_key_id":           "TASKMON_S3_ACCESS_KEY_ID",
	"s3_secret_access_key":       "TASKMON_S3_SECRET_ACCESS_KEY",
	"output_dir":                 "TASKMON_OUTPUT_DIR",
	"key_prefix":                 "TASKMON_KEY_PREFIX",
	"key_suffix":                 "TASKMON_KEY_SUFFIX",
	"codec":                      "TASKMON_CODEC",
	"sink_driver":                "TASKMON_SINK_DRIVER",
	"sink_path":                  "TASKMON_SINK_PATH",
	"tick_interval":              "TASKMON_TICK_INTERVAL",
	"start_timeout":              "TASKMON_START_TIMEOUT",
	"net_dev_path":               "TASKMON_NET_DEV_PATH",
	"include_metrics_on_failure": "TASKMON_INCLUDE_METRICS_ON_FAILURE",
	"header_dir":                 "TASKMON_HEADER_DIR",
	"log_level":                  "TASKMON_LOG_LEVEL",
	"log_json":                   "TASKMON_LOG_JSON",
	"pushgateway_url":            "TASKMON_PUSHGATEWAY_URL",
	"otlp_endpoint":              "TASKMON_OTLP_ENDPOINT",
}

// SetDefaults registers default values on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("monitor", "False")
	v.SetDefault("return_after_debug", "False")
	v.SetDefault("cert_path", "/tmp/certs")
	v.SetDefault("header_dir", "/tmp")
	v.SetDefault("key_prefix", "output/partial")
	v.SetDefault("key_suffix", ".pickle")
	v.SetDefault("codec", CodecProto)
	v.SetDefault("sink_driver", SinkSQLite)
	v.SetDefault("sink_path", "/tmp/readings.db")
	v.SetDefault("tick_interval", time.Second)
	v.SetDefault("start_timeout", 5*time.Second)
	v.SetDefault("net_dev_path", "/proc/net/dev")
	v.SetDefault("include_metrics_on_failure", false)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", true)
}

// BindEnv binds every key to its environment variable
func BindEnv(v *viper.Viper) error {
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}
	return nil
}

// Load builds a Config from v. Defaults and env bindings must already be set.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Bucket:                  v.GetString("bucket"),
		S3Endpoint:              v.GetString("s3_endpoint"),
		S3Region:                v.GetString("s3_region"),
		S3KeyID:                 v.GetString("s3_access_key_id"),
		S3Secret:                v.GetString("s3_secret_access_key"),
		OutputDir:               v.GetString("output_dir"),
		KeyPrefix:               v.GetString("key_prefix"),
		KeySuffix:               v.GetString("key_suffix"),
		Codec:                   strings.ToLower(v.GetString("codec")),
		MonitoringEnabled:       parseFlag(v.GetString("monitor")),
		SinkDriver:              strings.ToLower(v.GetString("sink_driver")),
		SinkPath:                v.GetString("sink_path"),
		TickInterval:            v.GetDuration("tick_interval"),
		StartTimeout:            v.GetDuration("start_timeout"),
		NetDevPath:              v.GetString("net_dev_path"),
		IncludeMetricsOnFailure: v.GetBool("include_metrics_on_failure"),
		CertPath:                v.GetString("cert_path"),
		HeaderDir:               v.GetString("header_dir"),
		ReturnAfterDebug:        parseFlag(v.GetString("return_after_debug")),
		LogLevel:                v.GetString("log_level"),
		LogJSON:                 v.GetBool("log_json"),
		PushgatewayURL:          v.GetString("pushgateway_url"),
		OTLPEndpoint:            v.GetString("otlp_endpoint"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv is the usual entry point: defaults, env, and an optional config file
func FromEnv(configFile string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	if err := BindEnv(v); err != nil {
		return nil, err
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	return Load(v)
}

// Validate checks if the configuration is usable
func (c *Config) Validate() error {
	var errs []error

	switch c.SinkDriver {
	case SinkSQLite, SinkBolt:
	default:
		errs = append(errs, fmt.Errorf("unknown sink driver %q", c.SinkDriver))
	}

	switch c.Codec {
	case CodecProto, CodecJSON:
	default:
		errs = append(errs, fmt.Errorf("unknown codec %q", c.Codec))
	}

	if c.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("tick interval must be positive, got %s", c.TickInterval))
	}
	if c.StartTimeout < 0 {
		errs = append(errs, fmt.Errorf("start timeout must not be negative, got %s", c.StartTimeout))
	}
	if c.SinkPath == "" {
		errs = append(errs, errors.New("sink path is required"))
	}
	if c.KeyPrefix == "" {
		errs = append(errs, errors.New("key prefix is required"))
	}

	return errors.Join(errs...)
}

// parseFlag accepts the Python-style "True"/"False" the deployments set,
// plus the usual Go spellings.
func parseFlag(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on":
		return true
	default:
		return false
	}
}
