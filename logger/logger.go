package logger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Fields are structured log fields.
type Fields map[string]interface{}

// Log is the process logger. Warnings and errors logged through an Entry
// with a component field are counted for the run report.
type Log struct {
	*logrus.Logger
}

// Entry is a log line under construction.
type Entry struct {
	*logrus.Entry
}

var globalLogger = newLogger()

// newLogger returns a JSON logger on stdout at LOG_LEVEL, or info when the
// variable is unset or unparsable. Configure replaces these settings once
// the config file is loaded.
func newLogger() *Log {
	l := &Log{Logger: logrus.New()}
	l.SetReportCaller(true)
	l.SetFormatter(jsonFormatter())
	l.AddHook(newCallerHook())
	if lvl, err := resolveLevel("info"); err == nil {
		l.SetLevel(lvl)
	}
	return l
}

func GetLogger() *Log {
	return globalLogger
}

// resolveLevel parses level, letting LOG_LEVEL override it.
func resolveLevel(level string) (logrus.Level, error) {
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		if lvl, err := logrus.ParseLevel(strings.ToLower(env)); err == nil {
			return lvl, nil
		}
	}
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("invalid log level '%s'", level)
	}
	return lvl, nil
}

func callerPrettyfier(f *runtime.Frame) (string, string) {
	return "", fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
}

func jsonFormatter() *logrus.JSONFormatter {
	return &logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
		CallerPrettyfier: callerPrettyfier,
	}
}

func (l *Log) entry() *Entry {
	return &Entry{Entry: logrus.NewEntry(l.Logger)}
}

func (l *Log) WithComponent(component string) *Entry {
	return l.entry().WithComponent(component)
}

func (l *Log) WithFields(fields Fields) *Entry {
	return l.entry().WithFields(fields)
}

func (l *Log) WithError(err error) *Entry {
	return l.entry().WithError(err)
}

func (e *Entry) WithComponent(component string) *Entry {
	return &Entry{Entry: e.Entry.WithField("component", component)}
}

func (e *Entry) WithFields(fields Fields) *Entry {
	return &Entry{Entry: e.Entry.WithFields(logrus.Fields(fields))}
}

func (e *Entry) WithError(err error) *Entry {
	return &Entry{Entry: e.Entry.WithError(err)}
}

// WithEnv attaches the values of the named environment variables.
func (e *Entry) WithEnv(envs ...string) *Entry {
	fields := Fields{}
	for _, env := range envs {
		fields[env] = os.Getenv(env)
	}
	return e.WithFields(fields)
}

func (e *Entry) component() (string, bool) {
	c, ok := e.Entry.Data["component"].(string)
	return c, ok
}

func (e *Entry) Warn(args ...interface{}) {
	if c, ok := e.component(); ok {
		recordWarn(c)
	}
	e.Entry.Warn(args...)
}

func (e *Entry) Error(args ...interface{}) {
	if c, ok := e.component(); ok {
		recordError(c)
	}
	e.Entry.Error(args...)
}

// metricValue converts a numeric metric to a CloudWatch value and unit.
// Durations are reported in milliseconds.
func metricValue(value interface{}) (float64, cwtypes.StandardUnit, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), cwtypes.StandardUnitCount, true
	case int32:
		return float64(v), cwtypes.StandardUnitCount, true
	case int64:
		return float64(v), cwtypes.StandardUnitCount, true
	case float32:
		return float64(v), cwtypes.StandardUnitCount, true
	case float64:
		return v, cwtypes.StandardUnitCount, true
	case time.Duration:
		return float64(v.Nanoseconds()) / 1e6, cwtypes.StandardUnitMilliseconds, true
	}
	return 0, "", false
}

// LogMetric logs a metric line and publishes it to CloudWatch when a client
// has been initialised. String fields become metric dimensions.
func (e *Entry) LogMetric(component string, metric string, value interface{}, metricType string, fields Fields) {
	if fields == nil {
		fields = make(Fields)
	}
	if metricType == "" {
		metricType = "counter"
	}
	fields["metric"] = metric
	fields["value"] = value
	fields["metric_type"] = metricType

	e.WithComponent(component).WithFields(fields).Info("metric")

	val, unit, ok := metricValue(value)
	if !ok {
		return
	}

	dims := []cwtypes.Dimension{{Name: aws.String("component"), Value: aws.String(component)}}
	for k, v := range fields {
		if k == "metric" || k == "metric_type" || k == "value" {
			continue
		}
		if s, ok := v.(string); ok {
			dims = append(dims, cwtypes.Dimension{Name: aws.String(k), Value: aws.String(s)})
		}
	}

	publishMetrics(context.Background(), []cwtypes.MetricDatum{{
		MetricName: aws.String(metric),
		Dimensions: dims,
		Unit:       unit,
		Value:      aws.Float64(val),
	}})
}

// LogMetric is Entry.LogMetric on a fresh entry.
func (l *Log) LogMetric(component string, metric string, value interface{}, metricType string, fields Fields) {
	l.entry().LogMetric(component, metric, value, metricType, fields)
}

// Configure applies the logging section of the config. Outputs other than
// stdout and stderr are file paths, rotated by lumberjack when maxAge is set.
func (l *Log) Configure(level string, format string, output string, maxAge int) error {
	lvl, err := resolveLevel(level)
	if err != nil {
		return err
	}
	l.SetLevel(lvl)
	l.SetReportCaller(true)

	switch format {
	case "json", "":
		l.SetFormatter(jsonFormatter())
	case "text":
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:    true,
			TimestampFormat:  time.RFC3339,
			CallerPrettyfier: callerPrettyfier,
		})
	default:
		return fmt.Errorf("invalid log format '%s'", format)
	}

	switch output {
	case "stdout", "":
		l.SetOutput(os.Stdout)
	case "stderr":
		l.SetOutput(os.Stderr)
	default:
		if maxAge > 0 {
			l.SetOutput(&lumberjack.Logger{
				Filename: output,
				MaxAge:   maxAge,
				MaxSize:  100,
				Compress: true,
			})
			return nil
		}
		file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file '%s': %w", output, err)
		}
		l.SetOutput(file)
	}
	return nil
}

// LogPerformanceEntry logs how long one operation of a component took.
func LogPerformanceEntry(entry *Entry, component string, operation string, duration time.Duration, fields Fields) {
	if fields == nil {
		fields = make(Fields)
	}
	fields["duration_ms"] = float64(duration.Nanoseconds()) / 1e6
	fields["operation"] = operation

	entry.WithFields(fields).WithComponent(component).Info("performance metric")
}

// LogDataFlowEntry logs a record count moving from source to destination.
func LogDataFlowEntry(entry *Entry, source string, destination string, recordCount int, dataType string) {
	entry.WithFields(Fields{
		"source":       source,
		"destination":  destination,
		"record_count": recordCount,
		"data_type":    dataType,
		"flow_type":    "data_flow",
	}).Info("data flow metric")
}
