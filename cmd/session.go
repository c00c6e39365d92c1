package cmd

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/dcshock/checkpipe/config"
	"github.com/dcshock/checkpipe/logger"
	"github.com/dcshock/checkpipe/observer"
	"github.com/dcshock/checkpipe/orchestrator"
	"github.com/dcshock/checkpipe/pipeline"
)

// session is what every command needs for one run config: the config with the flag
// overrides applied, the logger and the observers named by the config.
type session struct {
	cfg         *config.RunConfig
	logger      *logger.ZapLogger
	observer    pipeline.Observer
	metrics     *prometheus.Registry
	metricsFile string
	ledger      string
}

func newSession(path string) (*session, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if part := viper.GetInt(partFlag); part >= 0 {
		cfg.SetPart(part)
	}
	if viper.GetBool(verifyFlag) {
		cfg.VerifyChecksums = true
	}

	level := cfg.Log.Level
	if v := viper.GetString(logLevelFlag); v != "" {
		level = v
	}
	if viper.GetBool(verboseFlag) {
		level = "debug"
	}
	format := cfg.Log.Format
	if v := viper.GetString(logFormatFlag); v != "" {
		format = v
	}
	log, err := logger.NewLogger(format, level)
	if err != nil {
		return nil, pipeline.ConfigErrorf("logger: %v", err)
	}

	s := &session{cfg: cfg, logger: log, metricsFile: cfg.MetricsFile}
	if v := viper.GetString(metricsFileFlag); v != "" {
		s.metricsFile = v
	}
	if s.metricsFile != "" && !filepath.IsAbs(s.metricsFile) {
		s.metricsFile = filepath.Join(cfg.RunPath(), s.metricsFile)
	}

	var observers []pipeline.Observer
	for _, name := range cfg.Observers {
		switch name {
		case "log":
			observers = append(observers, observer.NewLogObserver(log))
		case "metrics":
			observers = append(observers, s.metricsObserver())
		case "ledger":
			s.ledger = filepath.Join(cfg.RunPath(), observer.LedgerFile)
			observers = append(observers, observer.NewLedgerObserver(s.ledger))
		default:
			return nil, pipeline.ConfigErrorf("unknown observer %q (want log, metrics or ledger)", name)
		}
	}
	if s.metricsFile != "" && s.metrics == nil {
		observers = append(observers, s.metricsObserver())
	}
	s.observer = observer.Multi(observers...)
	return s, nil
}

func (s *session) metricsObserver() pipeline.Observer {
	if s.metrics == nil {
		s.metrics = prometheus.NewRegistry()
	}
	return observer.NewMetricsObserver(s.metrics)
}

func (s *session) orchestrator(reg *config.Registry) (*orchestrator.Orchestrator, error) {
	return orchestrator.New(s.cfg, reg,
		orchestrator.WithLogger(s.logger),
		orchestrator.WithObserver(s.observer),
	)
}

// finish exports the metrics and logs how the command ended. The command's own error
// is returned unchanged unless it was nil and the export failed.
func (s *session) finish(runErr error) error {
	if s.metricsFile != "" && s.metrics != nil {
		if err := prometheus.WriteToTextfile(s.metricsFile, s.metrics); err != nil {
			s.logger.Error("write metrics", zap.String("path", s.metricsFile), zap.Error(err))
			if runErr == nil {
				runErr = fmt.Errorf("write metrics: %w", err)
			}
		}
	}
	if runErr != nil {
		s.logger.Error("run failed", zap.String("kind", observer.Kind(runErr)), zap.Error(runErr))
	}
	// Sync on stderr fails on some platforms.
	_ = s.logger.Sync()
	return runErr
}

// ExitCode maps an error to the process exit status: 2 for configuration errors, 1 for
// everything else.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, pipeline.ErrConfig):
		return 2
	default:
		return 1
	}
}
