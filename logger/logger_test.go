package logger

import (
	"bytes"
	"os"
	"strings"
	"sync/atomic"
	"testing"
)

func TestWithComponent(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("scheduler")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "scheduler" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	// Ensure environment variables do not override the provided level
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("invalid", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestWithEnv(t *testing.T) {
	os.Setenv("DLOB_HTTP_URL", "https://dlob.example")
	log := Logger()
	entry := log.WithEnv("DLOB_HTTP_URL")
	if v, ok := entry.Entry.Data["DLOB_HTTP_URL"]; !ok || v != "https://dlob.example" {
		t.Fatalf("env field not set: %v", entry.Entry.Data)
	}
}

func TestLogMetricEmitsOnce(t *testing.T) {
	log := Logger()
	var buf bytes.Buffer
	log.SetOutput(&buf)

	log.LogMetric("health_monitor", "StrategyDemotion", 1, "", Fields{"from": "dlob_server_polling"})

	out := buf.String()
	if got := strings.Count(out, `"message":"metric"`); got != 1 {
		t.Fatalf("expected exactly one metric entry, got %d in: %s", got, out)
	}
	if !strings.Contains(out, `"metric":"StrategyDemotion"`) || !strings.Contains(out, `"value":1`) {
		t.Errorf("metric fields missing: %s", out)
	}
	if !strings.Contains(out, `"metric_type":"counter"`) {
		t.Errorf("empty metric type should default to counter: %s", out)
	}
}

func TestLogDataFlowEntry(t *testing.T) {
	log := Logger()
	var buf bytes.Buffer
	log.SetOutput(&buf)

	LogDataFlowEntry(log.WithComponent("recorder"), "perp_0", "s3", 42, "l2_levels")

	out := buf.String()
	if !strings.Contains(out, `"record_count":42`) || !strings.Contains(out, `"flow_type":"data_flow"`) {
		t.Errorf("data flow fields missing: %s", out)
	}
	if !strings.Contains(out, `"source":"perp_0"`) || !strings.Contains(out, `"destination":"s3"`) {
		t.Errorf("flow endpoints missing: %s", out)
	}
}

func TestReadCountersFeedReport(t *testing.T) {
	streamBefore := atomic.LoadInt64(&streamReads)
	pollBefore := atomic.LoadInt64(&pollReads)

	IncrementStreamRead(128)
	IncrementStreamRead(64)
	IncrementPollRead(3)

	if got := atomic.LoadInt64(&streamReads) - streamBefore; got != 2 {
		t.Errorf("stream reads delta = %d, want 2", got)
	}
	if got := atomic.LoadInt64(&pollReads) - pollBefore; got != 1 {
		t.Errorf("poll reads delta = %d, want 1", got)
	}

	v, ok := channels.Load("stream_ws")
	if !ok {
		t.Fatal("stream_ws channel stat missing")
	}
	cs := v.(*channelStat)
	if atomic.LoadInt64(&cs.bytes) < 192 {
		t.Errorf("stream_ws bytes = %d, want at least 192", atomic.LoadInt64(&cs.bytes))
	}
}
