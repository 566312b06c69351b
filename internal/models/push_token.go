package models

import "time"

// TokenKind tells real device tokens apart from simulator placeholders.
// It is set once at registration time from what the client reports.
type TokenKind string

const (
	TokenKindReal      TokenKind = "real"
	TokenKindSimulator TokenKind = "simulator"
)

// PushToken holds a device push token in the push_tokens collection
type PushToken struct {
	Token        string    `json:"token" bson:"token"` // unique
	UserID       string    `json:"userId" bson:"userId"`
	Platform     string    `json:"platform" bson:"platform"` // "ios" or "android"
	Kind         TokenKind `json:"kind" bson:"kind"`
	IsActive     bool      `json:"isActive" bson:"isActive"`
	RegisteredAt time.Time `json:"registeredAt" bson:"registeredAt"`
	LastUsedAt   time.Time `json:"lastUsedAt" bson:"lastUsedAt"`
}

// IsSimulator reports whether the token is a simulator placeholder
func (t PushToken) IsSimulator() bool {
	return t.Kind == TokenKindSimulator
}

// RegisterPushTokenRequest defines the request body for registering a device token
type RegisterPushTokenRequest struct {
	Token       string `json:"token" validate:"required,min=8,max=512"`
	Platform    string `json:"platform" validate:"required,oneof=ios android web"`
	IsSimulator bool   `json:"isSimulator"`
}
