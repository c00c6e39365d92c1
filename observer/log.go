package observer

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/dcshock/checkpipe/logger"
	"github.com/dcshock/checkpipe/pipeline"
)

// LogObserver logs pipeline runs.
type LogObserver struct {
	logger logger.Logger
}

var _ pipeline.Observer = (*LogObserver)(nil)

func NewLogObserver(l logger.Logger) *LogObserver {
	return &LogObserver{logger: l}
}

func (o *LogObserver) BeforePipeline(ctx context.Context, runID, name string) error {
	o.logger.Debug("pipeline starting", zap.String("run_id", runID), zap.String("pipeline", name))
	return nil
}

func (o *LogObserver) AfterPipeline(ctx context.Context, runID string, report pipeline.Report, err error) error {
	fields := []zap.Field{
		zap.String("run_id", runID),
		zap.String("pipeline", report.Pipeline),
		zap.Int("count", report.Count),
	}
	if err != nil {
		o.logger.Error("pipeline failed", append(fields, zap.Error(err), zap.String("kind", Kind(err)))...)
		return nil
	}
	o.logger.Info("pipeline finished", fields...)
	for _, t := range report.Timings {
		o.logger.Debug("timing", zap.String("run_id", runID), zap.String("name", t.Name), zap.Duration("elapsed", t.Elapsed))
	}
	return nil
}

// Kind names the error kind of err for logs and metrics labels.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, pipeline.ErrConfig):
		return "config"
	case errors.Is(err, pipeline.ErrParse):
		return "parse"
	case errors.Is(err, pipeline.ErrPipeline):
		return "pipeline"
	default:
		return "task"
	}
}

type multiObserver []pipeline.Observer

// Multi returns an observer that calls every observer in order. All observers are
// called even when one fails; the errors are joined.
func Multi(observers ...pipeline.Observer) pipeline.Observer {
	var out multiObserver
	for _, o := range observers {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

func (m multiObserver) BeforePipeline(ctx context.Context, runID, name string) error {
	var errs []error
	for _, o := range m {
		errs = append(errs, o.BeforePipeline(ctx, runID, name))
	}
	return errors.Join(errs...)
}

func (m multiObserver) AfterPipeline(ctx context.Context, runID string, report pipeline.Report, err error) error {
	var errs []error
	for _, o := range m {
		errs = append(errs, o.AfterPipeline(ctx, runID, report, err))
	}
	return errors.Join(errs...)
}
