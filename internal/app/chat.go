package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/rbright/speakcoach/internal/cli"
	"github.com/rbright/speakcoach/internal/config"
	"github.com/rbright/speakcoach/internal/console"
	"github.com/rbright/speakcoach/internal/fsm"
	"github.com/rbright/speakcoach/internal/ipc"
	"github.com/rbright/speakcoach/internal/playback"
	"github.com/rbright/speakcoach/internal/remote"
	"github.com/rbright/speakcoach/internal/session"
	"github.com/rbright/speakcoach/internal/typewriter"
)

func (r Runner) commandChat(ctx context.Context, cfg config.Config, parsed cli.Parsed, logger *slog.Logger) int {
	rec, err := readRecording(parsed.File)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	listener, socketPath, err := acquireControlSocket(ctx, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if listener != nil {
		defer func() {
			_ = listener.Close()
			_ = os.Remove(socketPath)
		}()
	}

	client, err := newClient(cfg.Server, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	metrics, stopMetrics := r.startMetrics(ctx, cfg.Metrics, logger)
	defer stopMetrics()

	renderer := console.New(r.Stdout)
	text := typewriter.New(cfg.Transcript.RevealInterval(), renderer.Reveal)
	defer text.Close()

	player := r.newPlayer(ctx, cfg.Audio, logger)
	queue := playback.NewQueue(logger, playback.NewDecoder(cfg.Audio.DefaultCodec, metrics), player, metrics)
	defer queue.Close()

	controller := session.NewController(session.Config{
		Logger:           logger,
		Backend:          client,
		Dialer:           dialerFor(cfg.Server),
		Text:             text,
		Audio:            queue,
		Observer:         renderer,
		Metrics:          metrics,
		HandshakeTimeout: cfg.Session.HandshakeTimeout(),
	})

	serverCtx, serverCancel := context.WithCancel(ctx)
	defer serverCancel()
	serverErrCh := make(chan error, 1)
	if listener != nil {
		go func() {
			serverErrCh <- ipc.Serve(serverCtx, listener, controller)
		}()
	} else {
		serverErrCh <- nil
	}

	started := time.Now()
	snap, attempts := runChat(ctx, controller, rec, parsed.Retries, logger)

	if snap.State == fsm.StateCompleted {
		// Let the typewriter and speaker catch up before exiting.
		if err := text.WaitSettled(ctx); err != nil {
			logger.Debug("transcript reveal interrupted", "error", err.Error())
		}
		if err := queue.WaitIdle(ctx); err != nil {
			queue.Clear()
			logger.Debug("audio playback interrupted", "error", err.Error())
		}
	}
	renderer.Finish()

	serverCancel()
	if serverErr := <-serverErrCh; serverErr != nil {
		fmt.Fprintf(r.Stderr, "error: ipc server failed: %v\n", serverErr)
		return 1
	}

	logSessionResult(logger, snap, attempts, time.Since(started))

	switch snap.State {
	case fsm.StateCompleted, fsm.StateIdle:
		return 0
	default:
		return 1
	}
}

// runChat drives one recording through start, collaborator retries, and
// external cancellation, and returns the final snapshot.
func runChat(ctx context.Context, ctrl *session.Controller, rec remote.Recording, retries int, logger *slog.Logger) (session.Snapshot, int) {
	attempts := 1
	err := ctrl.Start(ctx, rec)
	for {
		if err != nil {
			logger.Debug("chat attempt returned", "attempt", attempts, "error", err.Error())
		}

		select {
		case <-ctrl.Done():
		case <-ctx.Done():
			ctrl.Cancel()
		}

		snap := ctrl.Snapshot()
		if snap.State != fsm.StateFailed || retries == 0 || ctx.Err() != nil {
			return snap, attempts
		}
		if !snap.CanRetry || !session.IsRetryable(snap.Err) {
			return snap, attempts
		}

		retries--
		attempts++
		err = ctrl.Retry(ctx)
		if errors.Is(err, session.ErrNothingToRetry) {
			return ctrl.Snapshot(), attempts
		}
	}
}

// readRecording loads the captured audio object from disk.
func readRecording(path string) (remote.Recording, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return remote.Recording{}, fmt.Errorf("read recording: %w", err)
	}
	if len(data) == 0 {
		return remote.Recording{}, fmt.Errorf("recording %q is empty", path)
	}
	return remote.Recording{
		Name:        path,
		ContentType: mime.TypeByExtension(filepath.Ext(path)),
		Data:        data,
	}, nil
}

// acquireControlSocket claims the IPC socket so status and cancel can reach
// this chat. Without XDG_RUNTIME_DIR the chat runs uncontrolled.
func acquireControlSocket(ctx context.Context, logger *slog.Logger) (net.Listener, string, error) {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		logger.Warn("ipc control disabled", "error", err.Error())
		return nil, "", nil
	}

	listener, err := ipc.Acquire(ctx, socketPath, 180*time.Millisecond, 8, func(stale string) {
		logger.Warn("removed stale control socket", "path", stale)
	})
	if err != nil {
		return nil, "", err
	}
	return listener, socketPath, nil
}

func logSessionResult(logger *slog.Logger, snap session.Snapshot, attempts int, elapsed time.Duration) {
	if logger == nil {
		return
	}
	fields := []any{
		"state", snap.State,
		"session_id", snap.SessionID,
		"attempts", attempts,
		"duration_ms", elapsed.Milliseconds(),
		"transcript_length", len([]rune(snap.Transcript)),
		"recognized_length", len([]rune(snap.RecognizedText)),
		"suggestions", len(snap.Suggestions),
		"decode_failures", snap.DecodeFailures,
	}

	if snap.Err != nil {
		logger.Error("session failed", append(fields, "error", snap.Err.Error())...)
		return
	}
	logger.Info("session complete", fields...)
}
