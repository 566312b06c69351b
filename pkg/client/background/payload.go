// Package background receives notification payloads while the app has no
// foreground UI, stages them in a durable pending queue, and replays them
// in arrival order when the app resumes.
package background

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownPayload marks a payload that matches no known shape; it is dropped
var ErrUnknownPayload = errors.New("background: unknown payload shape")

// Variant tags the shape a payload arrived in
type Variant int

const (
	VariantUnknown Variant = iota
	// VariantNested: {"notification": {"title", "body"}, "data": {...}}
	VariantNested
	// VariantFlat: {"title", "body", "data", ...} at the top level
	VariantFlat
	// VariantJSONString: a JSON string whose contents are one of the above
	VariantJSONString
)

func (v Variant) String() string {
	switch v {
	case VariantNested:
		return "nested"
	case VariantFlat:
		return "flat"
	case VariantJSONString:
		return "json_string"
	}
	return "unknown"
}

// Action is the canonical form every accepted payload is normalised into
type Action struct {
	NotificationID string                 `json:"notificationId,omitempty"`
	Type           string                 `json:"type,omitempty"`
	Title          string                 `json:"title"`
	Body           string                 `json:"body"`
	Data           map[string]interface{} `json:"data,omitempty"`
}

// Payload is a decoded background payload
type Payload struct {
	Variant Variant
	Action  Action
}

type nestedShape struct {
	Notification *struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	} `json:"notification"`
	Data map[string]interface{} `json:"data"`
}

type flatShape struct {
	Title *string                `json:"title"`
	Body  *string                `json:"body"`
	Type  string                 `json:"type"`
	ID    string                 `json:"notificationId"`
	Data  map[string]interface{} `json:"data"`
}

// Decode normalises raw into a Payload. Payloads of unknown shape return
// ErrUnknownPayload instead of being guessed at.
func Decode(raw []byte) (Payload, error) {
	return decode(raw, true)
}

func decode(raw []byte, allowString bool) (Payload, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Payload{}, ErrUnknownPayload
	}

	if raw[0] == '"' {
		if !allowString {
			return Payload{}, ErrUnknownPayload
		}
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return Payload{}, fmt.Errorf("%w: %v", ErrUnknownPayload, err)
		}
		p, err := decode([]byte(inner), false)
		if err != nil {
			return Payload{}, err
		}
		p.Variant = VariantJSONString
		return p, nil
	}

	var nested nestedShape
	if err := json.Unmarshal(raw, &nested); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrUnknownPayload, err)
	}
	if nested.Notification != nil {
		return Payload{Variant: VariantNested, Action: fromData(nested.Notification.Title, nested.Notification.Body, nested.Data)}, nil
	}

	var flat flatShape
	if err := json.Unmarshal(raw, &flat); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrUnknownPayload, err)
	}
	if flat.Body != nil {
		a := fromData(deref(flat.Title), *flat.Body, flat.Data)
		if flat.Type != "" {
			a.Type = flat.Type
		}
		if flat.ID != "" {
			a.NotificationID = flat.ID
		}
		return Payload{Variant: VariantFlat, Action: a}, nil
	}
	return Payload{}, ErrUnknownPayload
}

// fromData lifts the routing keys the server adds to the push data
func fromData(title, body string, data map[string]interface{}) Action {
	a := Action{Title: title, Body: body, Data: data}
	if v, ok := data["notificationId"].(string); ok {
		a.NotificationID = v
	}
	if v, ok := data["type"].(string); ok {
		a.Type = v
	}
	return a
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
