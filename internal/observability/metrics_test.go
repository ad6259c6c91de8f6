package observability

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func findMetric(t *testing.T, m *Metrics, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if labelsMatch(metric, labels) {
				return metric
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return nil
}

func labelsMatch(metric *dto.Metric, want map[string]string) bool {
	got := make(map[string]string, len(metric.GetLabel()))
	for _, pair := range metric.GetLabel() {
		got[pair.GetName()] = pair.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestAudioResourcesGaugeTracksLiveClips(t *testing.T) {
	m := NewMetrics()

	m.ClipMaterialized("mp3")
	m.ClipMaterialized("wav")
	m.ClipReleased()
	require.Equal(t, 1.0, findMetric(t, m, "speakcoach_audio_resources_live", nil).GetGauge().GetValue())

	m.ClipReleased()
	require.Equal(t, 0.0, findMetric(t, m, "speakcoach_audio_resources_live", nil).GetGauge().GetValue())
	require.Equal(t, 1.0, findMetric(t, m, "speakcoach_audio_clips_total", map[string]string{"codec": "mp3"}).GetCounter().GetValue())
}

func TestSessionCounters(t *testing.T) {
	m := NewMetrics()

	m.SessionTransition("streaming")
	m.SessionTransition("streaming")
	m.StreamEvent("text_delta")
	m.DecodeFailure()
	m.SegmentDone("played")
	m.DiagnosisOutcome("grammar", "completed")
	m.ObserveHandshakeLatency(120 * time.Millisecond)

	require.Equal(t, 2.0, findMetric(t, m, "speakcoach_session_transitions_total", map[string]string{"state": "streaming"}).GetCounter().GetValue())
	require.Equal(t, 1.0, findMetric(t, m, "speakcoach_stream_events_total", map[string]string{"event": "text_delta"}).GetCounter().GetValue())
	require.Equal(t, 1.0, findMetric(t, m, "speakcoach_decode_failures_total", nil).GetCounter().GetValue())
	require.Equal(t, 1.0, findMetric(t, m, "speakcoach_audio_segments_total", map[string]string{"outcome": "played"}).GetCounter().GetValue())
	require.Equal(t, 1.0, findMetric(t, m, "speakcoach_diagnosis_outcomes_total", map[string]string{"kind": "grammar", "state": "completed"}).GetCounter().GetValue())
	require.Equal(t, uint64(1), findMetric(t, m, "speakcoach_handshake_latency_ms", nil).GetHistogram().GetSampleCount())
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.SessionTransition("failed")
	m.StreamEvent("end")
	m.DecodeFailure()
	m.ObserveHandshakeLatency(time.Second)
	m.ClipMaterialized("pcm")
	m.ClipReleased()
	m.SegmentDone("played")
	m.DiagnosisOutcome("grammar", "failed")
	require.Nil(t, m.Registry())
}

func TestServeExposesMetrics(t *testing.T) {
	m := NewMetrics()
	m.DecodeFailure()

	ctx, cancel := context.WithCancel(context.Background())
	addr, errs, err := m.Serve(ctx, "127.0.0.1:0")
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "speakcoach_decode_failures_total 1")

	health, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	_ = health.Body.Close()
	require.Equal(t, http.StatusNoContent, health.StatusCode)

	cancel()
	select {
	case err := <-errs:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("metrics server did not shut down")
	}
}
