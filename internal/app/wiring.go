package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/rbright/speakcoach/internal/audio"
	"github.com/rbright/speakcoach/internal/config"
	"github.com/rbright/speakcoach/internal/observability"
	"github.com/rbright/speakcoach/internal/playback"
	"github.com/rbright/speakcoach/internal/pushchan"
	"github.com/rbright/speakcoach/internal/remote"
	"github.com/rbright/speakcoach/internal/version"
)

// selectSink is swapped in tests that cannot reach a pulse server.
var selectSink = audio.SelectSink

// newClient builds the handshake client for the configured coach server.
func newClient(cfg config.ServerConfig, logger *slog.Logger) (*remote.Client, error) {
	return remote.New(cfg.BaseURL, cfg.RequestTimeout(), nil, logger)
}

// dialerFor picks the push channel transport.
func dialerFor(cfg config.ServerConfig) pushchan.Dialer {
	switch cfg.Transport {
	case config.TransportWebSocket:
		header := make(http.Header)
		header.Set("User-Agent", version.UserAgent())
		return pushchan.WebSocketDialer{Header: header, MaxMessageBytes: cfg.MaxEventBytes}
	default:
		return pushchan.SSEDialer{
			Headers:       map[string]string{"User-Agent": version.UserAgent()},
			MaxEventBytes: cfg.MaxEventBytes,
		}
	}
}

// startMetrics always returns live instruments; the listener only runs when configured.
func (r Runner) startMetrics(ctx context.Context, cfg config.MetricsConfig, logger *slog.Logger) (*observability.Metrics, func()) {
	metrics := observability.NewMetrics()
	if cfg.Listen == "" {
		return metrics, func() {}
	}

	serveCtx, cancel := context.WithCancel(ctx)
	addr, errs, err := metrics.Serve(serveCtx, cfg.Listen)
	if err != nil {
		cancel()
		fmt.Fprintf(r.Stderr, "warning: metrics listener disabled: %v\n", err)
		logger.Warn("metrics listener failed", "listen", cfg.Listen, "error", err.Error())
		return metrics, func() {}
	}
	logger.Info("metrics listening", "addr", addr)

	return metrics, func() {
		cancel()
		if err := <-errs; err != nil {
			logger.Warn("metrics listener stopped", "error", err.Error())
		}
	}
}

// newPlayer resolves the pulse sink. Audio failures degrade to silent playback.
func (r Runner) newPlayer(ctx context.Context, cfg config.AudioConfig, logger *slog.Logger) playback.Player {
	if !cfg.Enable {
		return playback.DiscardPlayer{}
	}

	selection, err := selectSink(ctx, cfg.Output, cfg.Fallback)
	if err != nil {
		fmt.Fprintf(r.Stderr, "warning: audio output unavailable (%v); replies will not be played\n", err)
		logger.Warn("audio output unavailable", "error", err.Error())
		return playback.DiscardPlayer{}
	}
	if selection.Warning != "" {
		fmt.Fprintf(r.Stderr, "warning: %s\n", selection.Warning)
	}
	logger.Info("audio output selected", "sink", selection.Device.ID, "fallback", selection.Fallback)
	return audio.NewPlayer(selection.Device, logger)
}
