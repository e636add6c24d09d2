package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resonate/internal/types"
)

type mockCloudWatchClient struct {
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (m *mockCloudWatchClient) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.inputs = append(m.inputs, params)
	return &cloudwatch.PutMetricDataOutput{}, m.err
}

func TestCloudWatchWebhookMetrics_RecordEvent(t *testing.T) {
	client := &mockCloudWatchClient{}
	m := NewCloudWatchWebhookMetrics(client, "Resonate/Billing", nil)

	m.RecordEvent(context.Background(), types.CategorySubscription, ResultOK)

	require.Len(t, client.inputs, 1)
	input := client.inputs[0]
	assert.Equal(t, "Resonate/Billing", *input.Namespace)
	require.Len(t, input.MetricData, 1)

	datum := input.MetricData[0]
	assert.Equal(t, MetricEventProcessed, *datum.MetricName)
	assert.Equal(t, float64(1), *datum.Value)

	dims := map[string]string{}
	for _, d := range datum.Dimensions {
		dims[*d.Name] = *d.Value
	}
	assert.Equal(t, string(types.CategorySubscription), dims[DimCategory])
	assert.Equal(t, ResultOK, dims[DimResult])
}

func TestCloudWatchWebhookMetrics_RecordLatency(t *testing.T) {
	client := &mockCloudWatchClient{}
	m := NewCloudWatchWebhookMetrics(client, "Resonate/Billing", nil)

	m.RecordLatency(context.Background(), types.CategoryCheckoutCompleted, 250*time.Millisecond)

	require.Len(t, client.inputs, 1)
	datum := client.inputs[0].MetricData[0]
	assert.Equal(t, MetricEventLatency, *datum.MetricName)
	assert.Equal(t, float64(250), *datum.Value)
}

func TestCloudWatchWebhookMetrics_EmissionFailureIsSwallowed(t *testing.T) {
	client := &mockCloudWatchClient{err: errors.New("throttled")}
	m := NewCloudWatchWebhookMetrics(client, "Resonate/Billing", nil)

	// Must not panic or propagate; metrics never fail the request path.
	m.RecordEvent(context.Background(), types.CategoryCharge, ResultFailed)
	m.RecordLatency(context.Background(), types.CategoryCharge, time.Second)
}
