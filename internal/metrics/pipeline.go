package metrics

import (
	"time"

	"ofiflow/logger"
)

// PipelineMetrics summarizes one pipeline run.
type PipelineMetrics struct {
	Bars           int
	LabeledRows    int
	IncompleteRows int
	Resample       time.Duration
	Features       time.Duration
	Labels         time.Duration
}

// ReportPipelineMetrics emits the run summary as metric lines. Each line is
// also published to CloudWatch when a client is configured.
func ReportPipelineMetrics(log *logger.Log, m PipelineMetrics) {
	l := log.WithComponent("pipeline")

	l.LogMetric("pipeline", "bars", m.Bars, "gauge", nil)
	l.LogMetric("pipeline", "labeled_rows", m.LabeledRows, "gauge", nil)
	l.LogMetric("pipeline", "incomplete_rows", m.IncompleteRows, "gauge", nil)
	l.LogMetric("pipeline", "resample_ms", m.Resample, "gauge", nil)
	l.LogMetric("pipeline", "features_ms", m.Features, "gauge", nil)
	l.LogMetric("pipeline", "labels_ms", m.Labels, "gauge", nil)

	SetIncompleteRows(m.IncompleteRows)

	completeRatio := float64(0)
	if m.LabeledRows > 0 {
		completeRatio = float64(m.LabeledRows-m.IncompleteRows) / float64(m.LabeledRows)
	}

	l.WithFields(logger.Fields{
		"bars":            m.Bars,
		"labeled_rows":    m.LabeledRows,
		"incomplete_rows": m.IncompleteRows,
		"complete_ratio":  completeRatio,
		"total_ms":        float64((m.Resample + m.Features + m.Labels).Nanoseconds()) / 1e6,
	}).Info("pipeline metrics")
}
