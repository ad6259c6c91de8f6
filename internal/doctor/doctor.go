// Package doctor runs readiness diagnostics for config, the coach server, and audio output.
package doctor

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rbright/speakcoach/internal/audio"
	"github.com/rbright/speakcoach/internal/config"
	"github.com/rbright/speakcoach/internal/version"
)

const maxProbeTimeout = 3 * time.Second

// selectSink is swapped in tests that cannot reach a pulse server.
var selectSink = audio.SelectSink

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(cfg config.Loaded) Report {
	checks := []Check{checkConfig(cfg)}

	checks = append(checks, checkEnv("XDG_RUNTIME_DIR", func(v string) bool {
		return strings.TrimSpace(v) != ""
	}, "status and cancel can reach a running chat", "XDG_RUNTIME_DIR is empty; status and cancel are unavailable"))

	checks = append(checks, checkServer(cfg.Config))

	if cfg.Config.Audio.Enable {
		checks = append(checks, checkAudioSelection(cfg.Config))
	} else {
		checks = append(checks, Check{Name: "audio.sink", Pass: true, Message: "audio disabled; replies are decoded but not played"})
	}

	if cfg.Config.Metrics.Listen != "" {
		checks = append(checks, checkListen(cfg.Config.Metrics.Listen))
	}

	return Report{Checks: checks}
}

// checkConfig summarizes where configuration came from.
func checkConfig(cfg config.Loaded) Check {
	message := fmt.Sprintf("loaded %q", cfg.Path)
	if !cfg.Exists {
		message = fmt.Sprintf("%q not found; using defaults", cfg.Path)
	}
	if n := len(cfg.Warnings); n > 0 && cfg.Exists {
		message = fmt.Sprintf("%s (%d warnings)", message, n)
	}
	return Check{Name: "config", Pass: true, Message: message}
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	value := os.Getenv(name)
	if predicate(value) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

// checkServer probes the coach base URL. Any non-5xx answer counts as reachable
// since the backend need not serve its root.
func checkServer(cfg config.Config) Check {
	base := strings.TrimSpace(cfg.Server.BaseURL)
	if base == "" {
		return Check{Name: "server", Pass: false, Message: "server.base_url is empty"}
	}

	timeout := cfg.Server.RequestTimeout()
	if timeout <= 0 || timeout > maxProbeTimeout {
		timeout = maxProbeTimeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base, nil)
	if err != nil {
		return Check{Name: "server", Pass: false, Message: fmt.Sprintf("invalid base url: %v", err)}
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Check{Name: "server", Pass: false, Message: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return Check{Name: "server", Pass: false, Message: fmt.Sprintf("HTTP %d from %s", resp.StatusCode, base)}
	}
	return Check{Name: "server", Pass: true, Message: fmt.Sprintf("reachable at %s (HTTP %d, transport %s)", base, resp.StatusCode, cfg.Server.Transport)}
}

// checkAudioSelection runs live sink selection to surface selection/fallback issues.
func checkAudioSelection(cfg config.Config) Check {
	selection, err := selectSink(context.Background(), cfg.Audio.Output, cfg.Audio.Fallback)
	if err != nil {
		return Check{Name: "audio.sink", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.sink", Pass: true, Message: message}
}

// checkListen verifies the metrics address can be bound.
func checkListen(addr string) Check {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return Check{Name: "metrics.listen", Pass: false, Message: err.Error()}
	}
	_ = ln.Close()
	return Check{Name: "metrics.listen", Pass: true, Message: fmt.Sprintf("%s is free", addr)}
}
