package observer

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dcshock/checkpipe/pipeline"
)

const namespace = "checkpipe"

// MetricsObserver exports run counts, record counts and per-task time.
type MetricsObserver struct {
	runs        *prometheus.CounterVec
	records     prometheus.Counter
	taskSeconds *prometheus.CounterVec
	inflight    prometheus.Gauge
}

var _ pipeline.Observer = (*MetricsObserver)(nil)

// NewMetricsObserver registers the metrics on reg.
func NewMetricsObserver(reg prometheus.Registerer) *MetricsObserver {
	factory := promauto.With(reg)
	return &MetricsObserver{
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "The total number of finished pipeline runs by outcome.",
		}, []string{"status"}),
		records: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "The total number of records pulled from pipeline sources.",
		}),
		taskSeconds: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_seconds_total",
			Help:      "Wall-clock seconds spent in each source and task.",
		}, []string{"name"}),
		inflight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipelines_running",
			Help:      "The number of pipelines currently running.",
		}),
	}
}

func (o *MetricsObserver) BeforePipeline(ctx context.Context, runID, name string) error {
	o.inflight.Inc()
	return nil
}

func (o *MetricsObserver) AfterPipeline(ctx context.Context, runID string, report pipeline.Report, err error) error {
	o.inflight.Dec()
	status := "success"
	if err != nil {
		status = Kind(err) + "_error"
	}
	o.runs.WithLabelValues(status).Inc()
	o.records.Add(float64(report.Count))
	for _, t := range report.Timings {
		o.taskSeconds.WithLabelValues(t.Name).Add(t.Elapsed.Seconds())
	}
	return nil
}
