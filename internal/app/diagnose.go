package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rbright/speakcoach/internal/cli"
	"github.com/rbright/speakcoach/internal/config"
	"github.com/rbright/speakcoach/internal/console"
	"github.com/rbright/speakcoach/internal/diagnosis"
	"github.com/rbright/speakcoach/internal/fsm"
)

func (r Runner) commandDiagnose(ctx context.Context, cfg config.Config, parsed cli.Parsed, logger *slog.Logger) int {
	client, err := newClient(cfg.Server, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	metrics, stopMetrics := r.startMetrics(ctx, cfg.Metrics, logger)
	defer stopMetrics()

	renderer := console.New(r.Stdout)
	controller := diagnosis.NewController(diagnosis.Config{
		Logger:      logger,
		Backend:     client,
		Dialer:      dialerFor(cfg.Server),
		Observer:    renderer,
		Metrics:     metrics,
		OpenTimeout: cfg.Diagnosis.OpenTimeout(),
	})

	if err := controller.Request(ctx, parsed.Kind, parsed.Content); err != nil {
		logger.Debug("diagnosis request returned", "error", err.Error())
	}

	select {
	case <-controller.Done():
	case <-ctx.Done():
		controller.Cancel()
	}

	snap := controller.Snapshot()
	fields := []any{
		"kind", string(snap.Kind),
		"state", snap.State,
		"session_id", snap.SessionID,
		"keywords", len(snap.Keywords),
		"results", len(snap.Results),
	}
	if snap.Err != nil {
		logger.Error("diagnosis failed", append(fields, "error", snap.Err.Error())...)
		return 1
	}
	logger.Info("diagnosis finished", fields...)

	if snap.State == fsm.DiagnosisFailed {
		return 1
	}
	return 0
}
