package logger

import (
	"context"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

const defaultNamespace = "FundingSim"

// MetricPutter is the subset of the CloudWatch client used for publishing.
type MetricPutter interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatch publishes per-run gauges. A nil *CloudWatch is valid and
// publishes nothing.
type CloudWatch struct {
	client    MetricPutter
	namespace string
}

// NewCloudWatch loads AWS configuration for region (falling back to
// AWS_REGION) and returns a publisher. On configuration failure it logs a
// warning and returns nil so metrics stay disabled.
func NewCloudWatch(ctx context.Context, region, namespace string) *CloudWatch {
	log := GetLogger().WithComponent("cloudwatch")

	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	opts := []func(*config.LoadOptions) error{}
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		log.WithError(err).Warn("failed to load AWS configuration; CloudWatch metrics disabled")
		return nil
	}

	cw := NewCloudWatchWithClient(cloudwatch.NewFromConfig(cfg), namespace)
	log.WithFields(Fields{"region": region, "namespace": cw.namespace}).Info("initialized CloudWatch client")
	return cw
}

// NewCloudWatchWithClient wraps an existing client.
func NewCloudWatchWithClient(client MetricPutter, namespace string) *CloudWatch {
	if namespace == "" {
		namespace = defaultNamespace
	}
	return &CloudWatch{client: client, namespace: namespace}
}

// Publish sends values as gauges dimensioned by the given string fields.
// Failures are logged and swallowed.
func (c *CloudWatch) Publish(ctx context.Context, values map[string]float64, dimensions Fields) {
	if c == nil || c.client == nil || len(values) == 0 {
		return
	}
	log := GetLogger().WithComponent("cloudwatch")

	dims := make([]cwtypes.Dimension, 0, len(dimensions))
	for k, v := range dimensions {
		if s, ok := v.(string); ok && s != "" {
			dims = append(dims, cwtypes.Dimension{Name: aws.String(k), Value: aws.String(s)})
		}
	}

	data := make([]cwtypes.MetricDatum, 0, len(values))
	names := make([]string, 0, len(values))
	for name, val := range values {
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String(name),
			Dimensions: dims,
			Unit:       cwtypes.StandardUnitNone,
			Value:      aws.Float64(val),
		})
		names = append(names, name)
	}

	if _, err := c.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(c.namespace),
		MetricData: data,
	}); err != nil {
		log.WithError(err).Warn("failed to publish CloudWatch metrics")
		return
	}
	log.WithFields(Fields{"metrics": strings.Join(names, ",")}).Debug("published metrics to CloudWatch")
}

// PublishRunMetrics pushes the ledger totals of one committed run.
func (c *CloudWatch) PublishRunMetrics(ctx context.Context, venue, symbol string, cumulativeFunding, netPnL, accrued, spotPnL float64) {
	c.Publish(ctx, map[string]float64{
		"CumulativeFundingPnL": cumulativeFunding,
		"NetPnL":               netPnL,
		"AccruedFunding":       accrued,
		"SpotPnL":              spotPnL,
	}, Fields{"Venue": venue, "Symbol": symbol})
}
