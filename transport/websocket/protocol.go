package websocket

import (
	"encoding/json"
	"time"
)

// Inbound message types
const (
	msgSubscribe   = "subscribe"
	msgUnsubscribe = "unsubscribe"
	msgCommand     = "command"
	msgQuery       = "query"
	msgPing        = "ping"
)

// Outbound frame types
const (
	frameEvent    = "event"
	frameResponse = "response"
	frameError    = "error"
	framePong     = "pong"
)

// Message is the inbound client envelope. ID correlates a request with
// its response; frames pushed by the server carry no ID.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
	ID   string          `json:"id,omitempty"`
}

// Frame is the outbound server envelope
type Frame struct {
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	ID        string    `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func responseFrame(id string, data any) Frame {
	return Frame{Type: frameResponse, Data: data, ID: id, Timestamp: time.Now()}
}

func errorFrame(id, msg string) Frame {
	return Frame{Type: frameError, Data: map[string]any{"error": msg}, ID: id, Timestamp: time.Now()}
}

func eventFrame(data any) Frame {
	return Frame{Type: frameEvent, Data: data, Timestamp: time.Now()}
}

func pongFrame(id string) Frame {
	return Frame{Type: framePong, ID: id, Timestamp: time.Now()}
}
