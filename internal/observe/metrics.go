// Package observe provides metrics emission for the webhook pipeline.
// Dashboards and alerting live outside this repo; this package only pushes
// the raw counters and latencies.
package observe

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"resonate/internal/types"
)

// Metric and dimension names.
const (
	MetricEventProcessed = "WebhookEventProcessed"
	MetricEventLatency   = "WebhookEventLatency"

	DimCategory = "Category"
	DimResult   = "Result"
)

// Result values for the processed-event metric.
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultFailed   = "failed"
)

// WebhookMetrics records webhook processing telemetry. Implementations must
// never fail the request path; emission errors are logged and swallowed.
type WebhookMetrics interface {
	RecordEvent(ctx context.Context, category types.EventCategory, result string)
	RecordLatency(ctx context.Context, category types.EventCategory, duration time.Duration)
}

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchWebhookMetrics implements WebhookMetrics by emitting metrics to
// AWS CloudWatch.
type CloudWatchWebhookMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchWebhookMetrics creates a collector publishing to the given
// CloudWatch namespace.
func NewCloudWatchWebhookMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchWebhookMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchWebhookMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// RecordEvent emits a WebhookEventProcessed count with Category and Result
// dimensions.
func (m *CloudWatchWebhookMetrics) RecordEvent(ctx context.Context, category types.EventCategory, result string) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(MetricEventProcessed),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{Name: aws.String(DimCategory), Value: aws.String(string(category))},
					{Name: aws.String(DimResult), Value: aws.String(result)},
				},
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.ErrorContext(ctx, "failed to record event metric",
			"error", err,
			"category", string(category),
			"result", result,
		)
	}
}

// RecordLatency emits the end-to-end processing latency for one event in
// milliseconds.
func (m *CloudWatchWebhookMetrics) RecordLatency(ctx context.Context, category types.EventCategory, duration time.Duration) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(MetricEventLatency),
				Value:      aws.Float64(float64(duration.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
				Dimensions: []cwtypes.Dimension{
					{Name: aws.String(DimCategory), Value: aws.String(string(category))},
				},
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.ErrorContext(ctx, "failed to record latency metric",
			"error", err,
			"category", string(category),
		)
	}
}

// NoopWebhookMetrics implements WebhookMetrics by doing nothing. Used when
// metrics emission is disabled (local development).
type NoopWebhookMetrics struct{}

func (NoopWebhookMetrics) RecordEvent(context.Context, types.EventCategory, string) {}

func (NoopWebhookMetrics) RecordLatency(context.Context, types.EventCategory, time.Duration) {}

var _ WebhookMetrics = (*CloudWatchWebhookMetrics)(nil)
var _ WebhookMetrics = NoopWebhookMetrics{}
