package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{KeyAWSRegion, KeyCallTimeout, KeySlackWebhookURL, KeyTestInstanceID, KeyLogFormat, KeyNATSDrain} {
		t.Setenv(k, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultRegion, cfg.AWS.Region)
	assert.Equal(t, DefaultCallTimeout, cfg.Isolation.CallTimeout)
	assert.Equal(t, DefaultNATSSubject, cfg.NATS.Subject)
	assert.Equal(t, DefaultNATSDrain, cfg.NATS.DrainTimeout)
	assert.Equal(t, DefaultMetricsAddr, cfg.Metrics.Addr)
	assert.Empty(t, cfg.Slack.WebhookURL)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv(KeySlackWebhookURL, " https://hooks.slack.com/services/T/B/X ")
	t.Setenv(KeyAWSRegion, "us-east-1")
	t.Setenv(KeyTestInstanceID, "i-0test")
	t.Setenv(KeyCallTimeout, "3s")
	t.Setenv(KeyLogLevel, "DEBUG")
	t.Setenv(KeyEvidenceBucket, "ir-evidence")
	t.Setenv(KeyNATSDrain, "45s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://hooks.slack.com/services/T/B/X", cfg.Slack.WebhookURL)
	assert.Equal(t, "us-east-1", cfg.AWS.Region)
	assert.Equal(t, "i-0test", cfg.Isolation.TestInstanceID)
	assert.Equal(t, 3*time.Second, cfg.Isolation.CallTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "ir-evidence", cfg.Isolation.EvidenceBucket)
	assert.Equal(t, 45*time.Second, cfg.NATS.DrainTimeout)
}

func TestFromViper_BareSecondsTimeout(t *testing.T) {
	v := viper.New()
	v.Set(KeyCallTimeout, "15")

	cfg, err := FromViper(v)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, cfg.Isolation.CallTimeout)
}

func TestFromViper_InvalidTimeout(t *testing.T) {
	for _, in := range []string{"soon", "-1s", "0"} {
		v := viper.New()
		v.Set(KeyCallTimeout, in)
		_, err := FromViper(v)
		assert.Error(t, err, "timeout %q", in)
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		Isolation: IsolationConfig{CallTimeout: time.Second},
		Logging:   LoggingConfig{Format: "json"},
	}
	assert.Empty(t, cfg.Validate())

	cfg.Logging.Format = "xml"
	cfg.Isolation.CallTimeout = 0
	assert.Len(t, cfg.Validate(), 2)
}
