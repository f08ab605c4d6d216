package usecase

import (
	"bytes"
	"context"
	"sync"

	"micbridge/internal/domain"
	"micbridge/internal/ports"
)

type activeRecording struct {
	sessionID string
	cancel    context.CancelFunc
	audio     ports.AudioSession
	channel   ports.Channel
	buf       *chunkBuffer

	stateMu sync.Mutex
	state   domain.RecordingState

	// stopCh cancels the chunk ticker loop; closed exactly once.
	stopCh   chan struct{}
	stopOnce sync.Once

	// complete closes when the server acknowledges the end handshake.
	complete     chan struct{}
	completeOnce sync.Once

	pumpDone   chan struct{}
	loopDone   chan struct{}
	eventsDone chan struct{}

	// chunkID is owned by the chunk loop and, after the loop has exited,
	// by the finalize path for the flush chunk.
	chunkID int

	// serverErrs is touched only from the server-events goroutine.
	serverErrs int
}

func (r *activeRecording) setState(state domain.RecordingState) {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	r.state = state
}

func (r *activeRecording) getState() domain.RecordingState {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.state
}

func (r *activeRecording) signalStop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

func (r *activeRecording) signalComplete() {
	r.completeOnce.Do(func() { close(r.complete) })
}

// chunkBuffer accumulates captured PCM between ticks. Cut swaps the buffer
// out, so capture of the next chunk proceeds while the previous one is in
// flight.
type chunkBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *chunkBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *chunkBuffer) Cut() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := append([]byte(nil), b.buf.Bytes()...)
	b.buf.Reset()
	return out
}
