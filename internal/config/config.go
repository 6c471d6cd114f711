// Package config loads runtime settings from the environment and an
// optional .env file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Environment keys.
const (
	KeySlackWebhookURL = "SLACK_WEBHOOK_URL"
	KeyAWSRegion       = "AWS_REGION"
	KeyAWSProfile      = "AWS_PROFILE"
	KeyTestInstanceID  = "TEST_INSTANCE_ID"
	KeyEvidenceBucket  = "EVIDENCE_BUCKET"
	KeyCallTimeout     = "CALL_TIMEOUT"
	KeyLogLevel        = "LOG_LEVEL"
	KeyLogFormat       = "LOG_FORMAT"
	KeyNATSURL         = "NATS_URL"
	KeyNATSSubject     = "NATS_SUBJECT"
	KeyNATSQueue       = "NATS_QUEUE"
	KeyNATSDrain       = "NATS_DRAIN_TIMEOUT"
	KeyMetricsAddr     = "METRICS_ADDR"
	KeyMetricsNS       = "CLOUDWATCH_NAMESPACE"
	KeyPolicyFile      = "POLICY_FILE"
)

// Config is the process configuration. Secrets such as the webhook URL
// come from the environment only and must never be committed.
type Config struct {
	AWS       AWSConfig
	Slack     SlackConfig
	Isolation IsolationConfig
	Logging   LoggingConfig
	NATS      NATSConfig
	Metrics   MetricsConfig

	// PolicyFile is the path of the optional gr.yaml policy.
	PolicyFile string
}

// AWSConfig selects the account and region to act in.
type AWSConfig struct {
	Region  string
	Profile string
}

// SlackConfig configures alert delivery.
type SlackConfig struct {
	WebhookURL string
}

// IsolationConfig tunes the isolation flow.
type IsolationConfig struct {
	// TestInstanceID replaces missing or sample instance IDs.
	TestInstanceID string

	// EvidenceBucket enables S3 evidence archival when set.
	EvidenceBucket string

	// CallTimeout bounds each AWS and webhook call.
	CallTimeout time.Duration
}

// LoggingConfig configures the zerolog logger.
type LoggingConfig struct {
	Level  string
	Format string // json or console
}

// NATSConfig configures the finding subscriber used by `gr serve`.
type NATSConfig struct {
	URL     string
	Subject string
	Queue   string

	// DrainTimeout bounds the shutdown wait for in-flight isolations.
	DrainTimeout time.Duration
}

// MetricsConfig configures the Prometheus listener and CloudWatch namespace.
// An empty CloudWatchNamespace disables CloudWatch publishing.
type MetricsConfig struct {
	Addr                string
	CloudWatchNamespace string
}

// Defaults.
const (
	DefaultRegion      = "eu-west-2"
	DefaultCallTimeout = 10 * time.Second
	DefaultNATSURL     = "nats://127.0.0.1:4222"
	DefaultNATSSubject = "findings.guardduty"
	DefaultNATSQueue   = "guardrail"
	DefaultNATSDrain   = 2 * time.Minute
	DefaultMetricsAddr = ":9102"
	DefaultPolicyFile  = "gr.yaml"
)

// Load reads configuration from the environment, after loading .env from
// the working directory when present.
func Load() (*Config, error) {
	// .env is optional.
	_ = godotenv.Load()
	return FromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyAWSRegion, DefaultRegion)
	v.SetDefault(KeyCallTimeout, DefaultCallTimeout.String())
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "json")
	v.SetDefault(KeyNATSURL, DefaultNATSURL)
	v.SetDefault(KeyNATSSubject, DefaultNATSSubject)
	v.SetDefault(KeyNATSQueue, DefaultNATSQueue)
	v.SetDefault(KeyNATSDrain, DefaultNATSDrain.String())
	v.SetDefault(KeyMetricsAddr, DefaultMetricsAddr)
	v.SetDefault(KeyPolicyFile, DefaultPolicyFile)
	for _, k := range []string{KeySlackWebhookURL, KeyAWSProfile, KeyTestInstanceID, KeyEvidenceBucket, KeyMetricsNS} {
		_ = v.BindEnv(k)
	}
	v.AutomaticEnv()
	return v
}

// FromViper builds a Config from v. Exposed for tests and for callers that
// layer flags onto the same viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	timeout, err := parseDuration(v.GetString(KeyCallTimeout), DefaultCallTimeout)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", KeyCallTimeout, err)
	}
	drain, err := parseDuration(v.GetString(KeyNATSDrain), DefaultNATSDrain)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", KeyNATSDrain, err)
	}

	cfg := &Config{
		AWS: AWSConfig{
			Region:  strings.TrimSpace(v.GetString(KeyAWSRegion)),
			Profile: strings.TrimSpace(v.GetString(KeyAWSProfile)),
		},
		Slack: SlackConfig{
			WebhookURL: strings.TrimSpace(v.GetString(KeySlackWebhookURL)),
		},
		Isolation: IsolationConfig{
			TestInstanceID: strings.TrimSpace(v.GetString(KeyTestInstanceID)),
			EvidenceBucket: strings.TrimSpace(v.GetString(KeyEvidenceBucket)),
			CallTimeout:    timeout,
		},
		Logging: LoggingConfig{
			Level:  strings.ToLower(v.GetString(KeyLogLevel)),
			Format: strings.ToLower(v.GetString(KeyLogFormat)),
		},
		NATS: NATSConfig{
			URL:     v.GetString(KeyNATSURL),
			Subject: v.GetString(KeyNATSSubject),
			Queue:   v.GetString(KeyNATSQueue),

			DrainTimeout: drain,
		},
		Metrics: MetricsConfig{
			Addr:                v.GetString(KeyMetricsAddr),
			CloudWatchNamespace: v.GetString(KeyMetricsNS),
		},
		PolicyFile: v.GetString(KeyPolicyFile),
	}
	if cfg.AWS.Region == "" {
		cfg.AWS.Region = DefaultRegion
	}
	return cfg, nil
}

// parseDuration accepts Go durations ("15s") and bare seconds ("15"). An
// empty value yields def.
func parseDuration(s string, def time.Duration) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("must be positive, got %s", s)
		}
		return d, nil
	}
	var secs int
	if _, err := fmt.Sscanf(s, "%d", &secs); err != nil || fmt.Sprint(secs) != s {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	if secs <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", s)
	}
	return time.Duration(secs) * time.Second, nil
}

// Validate reports settings the isolate and serve commands cannot run
// without. A missing webhook is not an error here: isolation proceeds and
// the alert is reported as a configuration warning.
func (c *Config) Validate() []error {
	var errs []error
	if c.Isolation.CallTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", KeyCallTimeout))
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("%s must be json or console, got %q", KeyLogFormat, c.Logging.Format))
	}
	return errs
}
