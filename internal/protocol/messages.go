// Package protocol defines the JSON frames exchanged with the transcription
// server over the websocket channel.
package protocol

import (
	"encoding/json"
	"fmt"
)

// MessageType identifies a frame on the wire.
type MessageType string

// Client to server frame types.
const (
	TypeInit  MessageType = "init"
	TypeAudio MessageType = "audio"
	TypePing  MessageType = "ping"
	TypeEnd   MessageType = "end"
)

// Server to client frame types.
const (
	TypeInitialized     MessageType = "initialized"
	TypeTranscription   MessageType = "transcription"
	TypeAudioReceived   MessageType = "audio_received"
	TypeSessionComplete MessageType = "session_complete"
	TypePong            MessageType = "pong"
	TypeError           MessageType = "error"
)

// InitMessage opens a session immediately after the channel connects.
type InitMessage struct {
	Type     MessageType `json:"type"`
	Username string      `json:"username"`
}

func NewInitMessage(username string) InitMessage {
	return InitMessage{Type: TypeInit, Username: username}
}

// AudioMessage carries one base64-encoded audio chunk.
type AudioMessage struct {
	Type      MessageType `json:"type"`
	Data      string      `json:"data"`
	ChunkID   int         `json:"chunk_id"`
	Language  string      `json:"language"`
	SessionID string      `json:"session_id,omitempty"`
	Timestamp int64       `json:"timestamp,omitempty"`
}

func NewAudioMessage(chunkID int, data string, language string) AudioMessage {
	if language == "" {
		language = "en"
	}
	return AudioMessage{Type: TypeAudio, Data: data, ChunkID: chunkID, Language: language}
}

// PingMessage is a keepalive sent while streaming.
type PingMessage struct {
	Type    MessageType `json:"type"`
	ChunkID int         `json:"chunk_id,omitempty"`
}

func NewPingMessage(chunkID int) PingMessage {
	return PingMessage{Type: TypePing, ChunkID: chunkID}
}

// EndMessage announces the session is finished and a close is coming.
type EndMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

func NewEndMessage(sessionID string) EndMessage {
	return EndMessage{Type: TypeEnd, SessionID: sessionID}
}

// ServerMessage is the envelope for every frame the server sends. Fields are
// populated per Type; unknown types are preserved so callers can log and
// ignore them.
type ServerMessage struct {
	Type MessageType `json:"type"`

	// initialized
	SessionID    string `json:"session_id,omitempty"`
	SessionCount int    `json:"session_count,omitempty"`
	Username     string `json:"username,omitempty"`

	// transcription
	Text      string  `json:"text,omitempty"`
	ChunkID   int     `json:"chunk_id,omitempty"`
	Timestamp float64 `json:"timestamp,omitempty"`

	// audio_received
	Chunk    int    `json:"chunk,omitempty"`
	Filename string `json:"filename,omitempty"`

	// session_complete
	TotalChunks int `json:"total_chunks,omitempty"`

	// error
	Message string `json:"message,omitempty"`
}

// Known reports whether the frame type is one this client understands.
func (m ServerMessage) Known() bool {
	switch m.Type {
	case TypeInitialized, TypeTranscription, TypeAudioReceived,
		TypeSessionComplete, TypePong, TypeError:
		return true
	}
	return false
}

// Decode parses a server frame. A frame with an unrecognized type decodes
// successfully; only malformed JSON or a missing type is an error.
func Decode(payload []byte) (ServerMessage, error) {
	var msg ServerMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return ServerMessage{}, fmt.Errorf("invalid server frame: %w", err)
	}
	if msg.Type == "" {
		return ServerMessage{}, fmt.Errorf("server frame missing type")
	}
	return msg, nil
}
