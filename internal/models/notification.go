package models

import "time"

// NotificationType identifies the domain event a notification was raised for
type NotificationType string

const (
	NotificationMessageReceived       NotificationType = "message_received"
	NotificationFriendRequest         NotificationType = "friend_request"
	NotificationFriendRequestAccepted NotificationType = "friend_request_accepted"
	NotificationEventReminder         NotificationType = "event_reminder"
	NotificationEventInvite           NotificationType = "event_invite"
	NotificationFriendCheckIn         NotificationType = "friend_check_in"
	NotificationPointsEarned          NotificationType = "points_earned"
	NotificationStreakMilestone       NotificationType = "streak_milestone"
	NotificationBadgeEarned           NotificationType = "badge_earned"
	NotificationSystem                NotificationType = "system"
)

// Priority is the delivery priority of a notification
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Valid reports whether p is one of the known priorities
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Notification is the durable record of a notification sent to a user.
// It is stored either in MongoDB (bson tags) or PostgreSQL (gorm tags).
type Notification struct {
	ID        string                 `json:"id" bson:"_id" gorm:"primaryKey;size:24"`
	UserID    string                 `json:"userId" bson:"userId" gorm:"size:64;index"`
	Type      NotificationType       `json:"type" bson:"type" gorm:"size:40;index"`
	Title     string                 `json:"title" bson:"title"`
	Body      string                 `json:"body" bson:"body"`
	Data      map[string]interface{} `json:"data,omitempty" bson:"data,omitempty" gorm:"serializer:json"`
	Priority  Priority               `json:"priority" bson:"priority" gorm:"size:10"`
	IsRead    bool                   `json:"isRead" bson:"isRead" gorm:"index"`
	ReadAt    *time.Time             `json:"readAt,omitempty" bson:"readAt,omitempty"` // set iff IsRead
	CreatedAt time.Time              `json:"createdAt" bson:"createdAt" gorm:"index"`
	ExpiresAt *time.Time             `json:"expiresAt,omitempty" bson:"expiresAt,omitempty" gorm:"index"`
}

// MarkRead flips the record to read and stamps ReadAt
func (n *Notification) MarkRead(at time.Time) {
	n.IsRead = true
	n.ReadAt = &at
}
