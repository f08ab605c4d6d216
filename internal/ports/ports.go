package ports

import (
	"context"
	"io"

	"micbridge/internal/domain"
	"micbridge/internal/protocol"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is a live microphone capture stream.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// BatteryReader reads the device battery best-effort; implementations return
// an error when the level is unavailable rather than guessing.
type BatteryReader interface {
	Read() (domain.BatteryInfo, error)
}

// Channel is an open bidirectional message channel to the server. Send
// marshals and queues a frame; Events yields decoded server frames until the
// channel closes.
type Channel interface {
	Send(msg any) error
	Events() <-chan protocol.ServerMessage
	Close() error
}

// ChannelDialer opens transport channels.
type ChannelDialer interface {
	Dial(ctx context.Context) (Channel, error)
}

// EventSink receives coordinator state changes and errors.
type EventSink interface {
	StateChanged(state domain.RecordingState, reason domain.RecordingStateReason)
	Transcription(entry domain.TranscriptionEntry)
	RecordingError(code domain.ErrorCode, detail string)
}
