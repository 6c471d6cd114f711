package metrics

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cloudwatchsvc "github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/rs/zerolog"
)

// cloudWatchAPIClient is the narrow CloudWatch interface used by CloudWatch.
type cloudWatchAPIClient interface {
	PutMetricData(ctx context.Context, params *cloudwatchsvc.PutMetricDataInput, optFns ...func(*cloudwatchsvc.Options)) (*cloudwatchsvc.PutMetricDataOutput, error)
}

// CloudWatch publishes one data point per handled finding so isolations can
// be alarmed on alongside the rest of the account's metrics.
type CloudWatch struct {
	client    cloudWatchAPIClient
	namespace string
	timeout   time.Duration
	log       zerolog.Logger
}

// NewCloudWatch returns a CloudWatch publisher for namespace.
func NewCloudWatch(client cloudWatchAPIClient, namespace string, log zerolog.Logger) *CloudWatch {
	return &CloudWatch{
		client:    client,
		namespace: namespace,
		timeout:   5 * time.Second,
		log:       log.With().Str("component", "cloudwatch").Logger(),
	}
}

// ObserveIsolation implements engine.OutcomeObserver. Publishing failures
// are logged and dropped.
func (c *CloudWatch) ObserveIsolation(ctx context.Context, outcome string, elapsed time.Duration) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	dims := []cwtypes.Dimension{{Name: aws.String("Outcome"), Value: aws.String(outcome)}}
	_, err := c.client.PutMetricData(ctx, &cloudwatchsvc.PutMetricDataInput{
		Namespace: aws.String(c.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String("Isolations"),
				Dimensions: dims,
				Unit:       cwtypes.StandardUnitCount,
				Value:      aws.Float64(1),
			},
			{
				MetricName: aws.String("IsolationDuration"),
				Dimensions: dims,
				Unit:       cwtypes.StandardUnitMilliseconds,
				Value:      aws.Float64(float64(elapsed.Milliseconds())),
			},
		},
	})
	if err != nil {
		c.log.Warn().Err(err).Str("outcome", outcome).Msg("put metric data failed")
	}
}
