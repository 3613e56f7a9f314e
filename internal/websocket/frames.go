package websocket

import (
	"encoding/json"

	"github.com/agrovision/advisory-chat/internal/domain"
)

type FrameType string

const (
	FrameMessage FrameType = "message"
	// FrameSynced marks the end of the history replay. Everything after it is live.
	FrameSynced FrameType = "synced"
)

// Frame is the JSON text frame pushed to clients.
type Frame struct {
	Type         FrameType       `json:"type"`
	Message      *domain.Message `json:"message,omitempty"`
	LastSequence int64           `json:"last_sequence"`
}

func encodeMessage(msg *domain.Message) ([]byte, error) {
	return json.Marshal(Frame{Type: FrameMessage, Message: msg, LastSequence: msg.Sequence})
}

func encodeSynced(last int64) ([]byte, error) {
	return json.Marshal(Frame{Type: FrameSynced, LastSequence: last})
}
