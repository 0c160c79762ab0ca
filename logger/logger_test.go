package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
)

func TestWithComponent(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("test")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "test" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	// Ensure environment variables do not override the provided level
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("invalid", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestConfigureInvalidFormat(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	if err := Logger().Configure("info", "xml", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid format")
	}
}

func TestConfigureFileOutput(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	path := filepath.Join(t.TempDir(), "run.log")

	log := Logger()
	if err := log.Configure("info", "json", path, 0); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	log.WithComponent("job").Info("hello")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var line map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(data), &line); err != nil {
		t.Fatalf("log line is not json: %v: %s", err, data)
	}
	if line["message"] != "hello" || line["component"] != "job" {
		t.Fatalf("unexpected log line: %v", line)
	}
	if line["file"] == "" || line["file"] == nil {
		t.Fatalf("caller info missing: %v", line)
	}
}

type fakePutter struct {
	inputs []*cloudwatch.PutMetricDataInput
}

func (f *fakePutter) PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.inputs = append(f.inputs, in)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func TestCloudWatchPublish(t *testing.T) {
	fake := &fakePutter{}
	cw := NewCloudWatchWithClient(fake, "")
	cw.Publish(context.Background(), map[string]float64{"NetPnL": 1.2, "AccruedFunding": 1.2}, Fields{"symbol": "BTC", "count": 3})

	if len(fake.inputs) != 1 {
		t.Fatalf("expected one PutMetricData call, got %d", len(fake.inputs))
	}
	in := fake.inputs[0]
	if *in.Namespace != defaultNamespace {
		t.Fatalf("unexpected namespace %s", *in.Namespace)
	}
	if len(in.MetricData) != 2 {
		t.Fatalf("expected 2 metrics, got %d", len(in.MetricData))
	}
	if dims := in.MetricData[0].Dimensions; len(dims) != 1 || *dims[0].Name != "symbol" {
		t.Fatalf("only string dimensions should be kept: %+v", dims)
	}
}

func TestNilCloudWatchIsNoop(t *testing.T) {
	var cw *CloudWatch
	cw.Publish(context.Background(), map[string]float64{"NetPnL": 1}, nil)
}

func TestPublishRunMetrics(t *testing.T) {
	fake := &fakePutter{}
	NewCloudWatchWithClient(fake, "Test").PublishRunMetrics(context.Background(), "hyperliquid", "BTC", 1.2, 1.2, 0.6, 76.9)

	if len(fake.inputs) != 1 || len(fake.inputs[0].MetricData) != 4 {
		t.Fatalf("expected 4 metrics in one call, got %+v", fake.inputs)
	}
	if dims := fake.inputs[0].MetricData[0].Dimensions; len(dims) != 2 {
		t.Fatalf("expected venue and symbol dimensions, got %+v", dims)
	}
}
