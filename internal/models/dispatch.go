package models

import (
	"encoding/json"
	"time"
)

// Channel is a route a notification can take to reach a user
type Channel string

const (
	ChannelSocket Channel = "socket"
	ChannelPush   Channel = "push"
	ChannelLocal  Channel = "local"
	ChannelAlert  Channel = "alert"
)

// DispatchResult is the outcome of one delivery attempt on one channel.
// Counts are per token (push) or per connection (socket), never per user.
type DispatchResult struct {
	Sent    int     `json:"sent"`
	Failed  int     `json:"failed"`
	Channel Channel `json:"channel"`
}

// Envelope is the JSON message exchanged over a live connection.
// Type is the discriminator the mobile clients switch on.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEnvelope marshals payload into an envelope of the given type
func NewEnvelope(messageType string, payload interface{}) (Envelope, error) {
	env := Envelope{Type: messageType, Timestamp: time.Now().UTC()}
	if payload == nil {
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return env, err
	}
	env.Data = raw
	return env, nil
}
