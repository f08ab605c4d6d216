package bootstrap

import (
	"testing"

	"go.uber.org/zap/zaptest"

	"micbridge/internal/domain"
)

func TestBuildSuccess(t *testing.T) {
	t.Setenv("MICBRIDGE_SERVER_URL", "ws://localhost:8000")
	t.Setenv("MICBRIDGE_BATTERY_SYSFS", t.TempDir())

	services, err := Build(noopEventSink{}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if services.Coordinator == nil || services.Store == nil || services.API == nil {
		t.Fatalf("incomplete service graph: %+v", services)
	}
	if status := services.Coordinator.Status(); status.State != domain.RecordingStateIdle {
		t.Fatalf("expected idle coordinator, got %+v", status)
	}
}

func TestBuildFailsWithoutServerURL(t *testing.T) {
	t.Setenv("MICBRIDGE_SERVER_URL", "")

	if _, err := Build(noopEventSink{}, zaptest.NewLogger(t)); err == nil {
		t.Fatalf("expected build error without server URL")
	}
}

func TestHTTPBaseURLMapping(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"wss://speech.example.com":   "https://speech.example.com",
		"ws://localhost:8000":        "http://localhost:8000",
		"https://speech.example.com": "https://speech.example.com",
	}
	for in, want := range cases {
		if got := httpBaseURL(in); got != want {
			t.Fatalf("httpBaseURL(%q) = %q, want %q", in, got, want)
		}
	}
}

type noopEventSink struct{}

func (noopEventSink) StateChanged(_ domain.RecordingState, _ domain.RecordingStateReason) {}
func (noopEventSink) Transcription(_ domain.TranscriptionEntry)                           {}
func (noopEventSink) RecordingError(_ domain.ErrorCode, _ string)                         {}
