package messages

import (
	"time"

	"github.com/bytedance/sonic"
)

// Error codes
const (
	ErrCodeInvalidMessage   = "INVALID_MESSAGE"
	ErrCodeJobFailed        = "JOB_FAILED"
	ErrCodeConnectionClosed = "CONNECTION_CLOSED"
	ErrCodeRoomBusy         = "ROOM_BUSY"
	ErrCodeMaxJobs          = "MAX_JOBS"
)

// Message types
const (
	TypeTranscript = "transcript"
	TypeStatus     = "status"
	TypeError      = "error"
	TypeControl    = "control"
)

// Job statuses carried in status messages
const (
	StatusConnected  = "connected"
	StatusJobStarted = "job_started"
	StatusSpeaking   = "user_speaking"
	StatusSilent     = "user_silent"
	StatusJobEnded   = "job_ended"
	StatusPong       = "pong"
)

// ServerMessage is sent to websocket subscribers and, for transcripts, on
// the room data channel.
type ServerMessage struct {
	Type      string      `json:"type"` // "transcript", "status", "error"
	JobID     string      `json:"jobId,omitempty"`
	Room      string      `json:"room,omitempty"`
	Timestamp int64       `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// TranscriptPayload is one line of conversation
type TranscriptPayload struct {
	Participant string `json:"participant"`
	Role        string `json:"role"` // "user", "assistant"
	Text        string `json:"text"`
	Final       bool   `json:"final"`
}

// StatusPayload contains status updates
type StatusPayload struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ErrorPayload contains error information
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newMessage(typ, jobID, room string, payload interface{}) *ServerMessage {
	return &ServerMessage{
		Type:      typ,
		JobID:     jobID,
		Room:      room,
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	}
}

// NewTranscriptMessage creates a transcript message
func NewTranscriptMessage(jobID, room, participant, role, text string) *ServerMessage {
	return newMessage(TypeTranscript, jobID, room, TranscriptPayload{
		Participant: participant,
		Role:        role,
		Text:        text,
		Final:       true,
	})
}

// NewStatusMessage creates a status message
func NewStatusMessage(jobID, room, status, message string) *ServerMessage {
	return newMessage(TypeStatus, jobID, room, StatusPayload{
		Status:  status,
		Message: message,
	})
}

// NewErrorMessage creates an error message
func NewErrorMessage(jobID, room, code, message string) *ServerMessage {
	return newMessage(TypeError, jobID, room, ErrorPayload{
		Code:    code,
		Message: message,
	})
}

// Encode marshals a message for the wire.
func Encode(msg *ServerMessage) ([]byte, error) {
	return sonic.Marshal(msg)
}
