package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/sirupsen/logrus"
)

func TestWithComponent(t *testing.T) {
	log := newLogger()
	entry := log.WithComponent("test")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "test" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	// Ensure environment variables do not override the provided level
	t.Setenv("LOG_LEVEL", "")

	log := newLogger()
	if err := log.Configure("invalid", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid level")
	}
	if err := log.Configure("info", "xml", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid format")
	}
}

func TestConfigureFileOutput(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	path := filepath.Join(t.TempDir(), "ofiflow.log")
	log := newLogger()
	if err := log.Configure("debug", "text", path, 0); err != nil {
		t.Fatalf("configure: %v", err)
	}
	log.WithComponent("test").Debug("written to file")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Fatalf("log line missing from file: %q", data)
	}
}

func TestWithEnv(t *testing.T) {
	t.Setenv("FOO", "bar")
	log := newLogger()
	entry := log.WithComponent("s3_uploader").WithEnv("FOO")
	if v, ok := entry.Entry.Data["FOO"]; !ok || v != "bar" {
		t.Fatalf("env field not set: %v", entry.Entry.Data)
	}
}

func TestResolveLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	if lvl, err := resolveLevel("debug"); err != nil || lvl != logrus.WarnLevel {
		t.Fatalf("LOG_LEVEL should win, got %v, %v", lvl, err)
	}
	t.Setenv("LOG_LEVEL", "loud")
	if lvl, err := resolveLevel("debug"); err != nil || lvl != logrus.DebugLevel {
		t.Fatalf("unparsable LOG_LEVEL should fall back, got %v, %v", lvl, err)
	}
}

func TestJSONFieldNames(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger()
	log.SetOutput(&buf)

	LogPerformanceEntry(log.WithComponent("pipeline"), "pipeline", "resample", 1500*time.Microsecond, nil)

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	for _, key := range []string{"timestamp", "level", "message", "component", "operation", "duration_ms"} {
		if _, ok := line[key]; !ok {
			t.Errorf("missing key %q in %v", key, line)
		}
	}
	if line["duration_ms"] != 1.5 {
		t.Errorf("unexpected duration_ms: %v", line["duration_ms"])
	}
}

func TestCounts(t *testing.T) {
	ResetCounts()
	defer ResetCounts()

	log := newLogger()
	log.SetOutput(&bytes.Buffer{})
	log.WithComponent("exporter").Warn("slow upload")
	log.WithComponent("exporter").Error("upload failed")
	log.WithComponent("pipeline").Warn("empty bucket")

	counts := Counts()
	if len(counts) != 2 {
		t.Fatalf("expected 2 components, got %v", counts)
	}
	if counts[0].Component != "exporter" || counts[0].Warns != 1 || counts[0].Errors != 1 {
		t.Errorf("unexpected exporter counts: %+v", counts[0])
	}
	if counts[1].Component != "pipeline" || counts[1].Warns != 1 || counts[1].Errors != 0 {
		t.Errorf("unexpected pipeline counts: %+v", counts[1])
	}
}

type fakePublisher struct {
	inputs []*cloudwatch.PutMetricDataInput
}

func (f *fakePublisher) PutMetricData(_ context.Context, in *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.inputs = append(f.inputs, in)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func (f *fakePublisher) PutDashboard(context.Context, *cloudwatch.PutDashboardInput, ...func(*cloudwatch.Options)) (*cloudwatch.PutDashboardOutput, error) {
	return &cloudwatch.PutDashboardOutput{}, nil
}

func TestLogMetricPublishes(t *testing.T) {
	fake := &fakePublisher{}
	setCloudWatch(fake, "OfiflowTest", "")
	defer setCloudWatch(nil, "Ofiflow", "")

	log := newLogger()
	log.SetOutput(&bytes.Buffer{})
	log.LogMetric("pipeline", "labeled_rows", 42, "gauge", nil)
	log.LogMetric("pipeline", "ignored", "not a number", "gauge", nil)

	if len(fake.inputs) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(fake.inputs))
	}
	in := fake.inputs[0]
	if *in.Namespace != "OfiflowTest" {
		t.Errorf("unexpected namespace: %s", *in.Namespace)
	}
	if len(in.MetricData) != 1 || *in.MetricData[0].MetricName != "labeled_rows" || *in.MetricData[0].Value != 42 {
		t.Errorf("unexpected metric data: %+v", in.MetricData)
	}
}
