// Package sink fans coordinator events out to the log and, for transcription
// lines, an optional writer (the CLI points it at stdout).
package sink

import (
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"micbridge/internal/domain"
)

// ZapSink implements ports.EventSink.
type ZapSink struct {
	logger *zap.Logger

	mu  sync.Mutex
	out io.Writer
}

func New(logger *zap.Logger, out io.Writer) *ZapSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapSink{logger: logger, out: out}
}

func (s *ZapSink) StateChanged(state domain.RecordingState, reason domain.RecordingStateReason) {
	s.logger.Info("recording state changed",
		zap.String("state", string(state)),
		zap.String("reason", string(reason)))
}

func (s *ZapSink) Transcription(entry domain.TranscriptionEntry) {
	s.logger.Info("transcription received",
		zap.Int("chunk_id", entry.ChunkID),
		zap.String("text", entry.Text))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out != nil {
		fmt.Fprintln(s.out, entry.Text)
	}
}

func (s *ZapSink) RecordingError(code domain.ErrorCode, detail string) {
	s.logger.Error("recording error",
		zap.String("code", string(code)),
		zap.String("detail", detail))
}
