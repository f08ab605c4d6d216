package domain

import "time"

// RecordingState models the chunk-upload lifecycle.
type RecordingState string

const (
	RecordingStateIdle       RecordingState = "idle"
	RecordingStateConnecting RecordingState = "connecting"
	RecordingStateStreaming  RecordingState = "streaming"
	RecordingStateStopping   RecordingState = "stopping"
	RecordingStateError      RecordingState = "error"
)

// RecordingStateReason provides a structured reason for state transitions.
type RecordingStateReason string

const (
	ReasonConnecting         RecordingStateReason = "connecting"
	ReasonStreamingStarted   RecordingStateReason = "streaming_started"
	ReasonStreamingRestarted RecordingStateReason = "streaming_restarted"
	ReasonUserStopped        RecordingStateReason = "user_stopped"
	ReasonLowBattery         RecordingStateReason = "low_battery"
	ReasonChannelClosed      RecordingStateReason = "channel_closed"
	ReasonServerErrors       RecordingStateReason = "server_errors"
	ReasonConnectFailed      RecordingStateReason = "connect_failed"
	ReasonStopped            RecordingStateReason = "stopped"
)

// ErrorCode identifies non-fatal and fatal coordinator errors.
type ErrorCode string

const (
	ErrorCodeConnect      ErrorCode = "connect"
	ErrorCodeCaptureStart ErrorCode = "capture_start"
	ErrorCodeCaptureStop  ErrorCode = "capture_stop"
	ErrorCodeCaptureRead  ErrorCode = "capture_read"
	ErrorCodeChunkSend    ErrorCode = "chunk_send"
	ErrorCodeServer       ErrorCode = "server"
	ErrorCodeBattery      ErrorCode = "battery"
)

// Session is one user-initiated recording run. Battery fields are nil when
// the level could not be read.
type Session struct {
	ID              string        `json:"id"`
	ServerSessionID string        `json:"server_session_id,omitempty"`
	Username        string        `json:"username,omitempty"`
	StartTime       time.Time     `json:"start_time"`
	LastChunkSent   time.Time     `json:"last_chunk_sent,omitempty"`
	StartBattery    *int          `json:"start_battery,omitempty"`
	CurrentBattery  *int          `json:"current_battery,omitempty"`
	StopBattery     *int          `json:"stop_battery,omitempty"`
	IsActive        bool          `json:"is_active"`
	ChunksSent      int           `json:"chunks_sent"`
	ChunkInterval   time.Duration `json:"chunk_interval"`
}

// TranscriptionEntry is one line of recognized text. Entries are never
// mutated after insertion; ordering is arrival order.
type TranscriptionEntry struct {
	Text       string    `json:"text"`
	ChunkID    int       `json:"chunk_id,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// BatteryInfo is a point-in-time battery reading.
type BatteryInfo struct {
	Level    int  `json:"level"`
	Charging bool `json:"charging"`
}

// Status summarizes the coordinator's current state.
type Status struct {
	State     RecordingState `json:"state"`
	Active    bool           `json:"active"`
	SessionID string         `json:"session_id,omitempty"`
}
