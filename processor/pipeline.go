package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	appconfig "ofiflow/config"
	"ofiflow/internal/metrics"
	"ofiflow/logger"
	"ofiflow/models"
)

const (
	StageResample = "resample"
	StageFeatures = "features"
	StageLabels   = "labels"
)

// Params are the pipeline settings checked before any stage runs.
type Params struct {
	Interval    time.Duration
	WindowShort int
	WindowLong  int
	Label       LabelOptions
}

func ParamsFromConfig(cfg *appconfig.Config) (Params, error) {
	policy, err := ParseZeroMidPolicy(cfg.Pipeline.ZeroMidPolicy)
	if err != nil {
		return Params{}, err
	}
	p := Params{
		Interval:    cfg.Pipeline.Interval,
		WindowShort: cfg.Pipeline.WindowShort,
		WindowLong:  cfg.Pipeline.WindowLong,
		Label: LabelOptions{
			Horizon:   cfg.Pipeline.Horizon,
			Threshold: cfg.Pipeline.Threshold,
			ZeroMid:   policy,
		},
	}
	return p, p.Validate()
}

func (p Params) Validate() error {
	if p.Interval <= 0 {
		return fmt.Errorf("%w: interval must be greater than 0, got %s", ErrInvalidConfiguration, p.Interval)
	}
	if p.WindowShort <= 0 {
		return fmt.Errorf("%w: window_short must be greater than 0, got %d", ErrInvalidConfiguration, p.WindowShort)
	}
	if p.WindowLong <= 0 {
		return fmt.Errorf("%w: window_long must be greater than 0, got %d", ErrInvalidConfiguration, p.WindowLong)
	}
	return p.Label.validate()
}

// Result is the output of one pipeline run. Each table is owned by the
// result; none shares backing arrays with another.
type Result struct {
	RunID      string
	Bars       []models.Bar
	Features   []models.FeatureRow
	Rows       []models.LabeledRow
	Complete   int
	Incomplete int
	Durations  map[string]time.Duration
}

type Pipeline struct {
	config *appconfig.Config
	log    *logger.Log
	newID  func() string
}

func NewPipeline(cfg *appconfig.Config) *Pipeline {
	return &Pipeline{
		config: cfg,
		log:    logger.GetLogger(),
		newID:  func() string { return uuid.New().String() },
	}
}

// Run resamples, featurizes and labels the two event streams. Parameters
// are checked before any work starts, and ctx is checked between stages.
func (p *Pipeline) Run(ctx context.Context, lob []models.LOBSnapshot, trades []models.Trade) (*Result, error) {
	params, err := ParamsFromConfig(p.config)
	if err != nil {
		metrics.IncrementError("params", ErrorKind(err))
		return nil, err
	}

	res := &Result{RunID: p.newID(), Durations: make(map[string]time.Duration, 3)}
	log := p.log.WithComponent("pipeline").WithFields(logger.Fields{"run_id": res.RunID})
	log.WithFields(logger.Fields{
		"lob_events":   len(lob),
		"trade_events": len(trades),
		"interval":     params.Interval.String(),
		"window_short": params.WindowShort,
		"window_long":  params.WindowLong,
		"horizon":      params.Label.Horizon,
		"threshold":    params.Label.Threshold,
	}).Info("starting pipeline run")

	err = p.stage(ctx, log, res, StageResample, "events", "bars", func() (n int, err error) {
		res.Bars, err = Resample(lob, trades, params.Interval)
		return len(res.Bars), err
	})
	if err != nil {
		return nil, err
	}

	err = p.stage(ctx, log, res, StageFeatures, "bars", "features", func() (n int, err error) {
		res.Features, err = AddOFIFeatures(res.Bars, params.WindowShort, params.WindowLong)
		return len(res.Features), err
	})
	if err != nil {
		return nil, err
	}

	err = p.stage(ctx, log, res, StageLabels, "features", "labeled_rows", func() (n int, err error) {
		res.Rows, err = Label(res.Features, params.Label)
		return len(res.Rows), err
	})
	if err != nil {
		return nil, err
	}

	for _, r := range res.Rows {
		if r.Complete() {
			res.Complete++
		} else {
			res.Incomplete++
		}
	}

	metrics.ReportPipelineMetrics(p.log, metrics.PipelineMetrics{
		Bars:           len(res.Bars),
		LabeledRows:    len(res.Rows),
		IncompleteRows: res.Incomplete,
		Resample:       res.Durations[StageResample],
		Features:       res.Durations[StageFeatures],
		Labels:         res.Durations[StageLabels],
	})

	log.WithFields(logger.Fields{
		"complete_rows":   res.Complete,
		"incomplete_rows": res.Incomplete,
	}).Info("pipeline run finished")

	return res, nil
}

// stage runs fn after a cancellation checkpoint and records its timing.
func (p *Pipeline) stage(ctx context.Context, log *logger.Entry, res *Result, name, source, destination string, fn func() (int, error)) error {
	if err := ctx.Err(); err != nil {
		metrics.IncrementError(name, ErrorKind(err))
		log.WithError(err).WithFields(logger.Fields{"stage": name}).Warn("pipeline canceled before stage")
		return fmt.Errorf("before %s: %w", name, err)
	}

	start := time.Now()
	n, err := fn()
	duration := time.Since(start)
	if err != nil {
		metrics.IncrementError(name, ErrorKind(err))
		log.WithError(err).WithFields(logger.Fields{
			"stage": name,
			"kind":  ErrorKind(err),
		}).Error("pipeline stage failed")
		return fmt.Errorf("%s: %w", name, err)
	}

	res.Durations[name] = duration
	metrics.ObserveStage(name, duration, n)
	logger.LogPerformanceEntry(log, "pipeline", name, duration, logger.Fields{"rows": n})
	logger.LogDataFlowEntry(log, source, destination, n, name)
	return nil
}
