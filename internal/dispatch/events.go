package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/anonto42/dogpark/backend/internal/models"
)

const previewLength = 100

func preview(text string) string {
	r := []rune(text)
	if len(r) <= previewLength {
		return text
	}
	return string(r[:previewLength-3]) + "..."
}

// MessageReceived notifies a user about a new chat message
func (o *Orchestrator) MessageReceived(ctx context.Context, recipientID, senderID, senderName, conversationID, text string) (*models.Notification, error) {
	return o.Dispatch(ctx, Request{
		UserID: recipientID,
		Type:   models.NotificationMessageReceived,
		Title:  senderName,
		Body:   preview(text),
		Data: map[string]interface{}{
			"senderId":       senderID,
			"conversationId": conversationID,
		},
		Priority: models.PriorityHigh,
	})
}

// FriendRequest notifies a user that someone wants to be friends
func (o *Orchestrator) FriendRequest(ctx context.Context, recipientID, requesterID, requesterName, requestID string) (*models.Notification, error) {
	return o.Dispatch(ctx, Request{
		UserID: recipientID,
		Type:   models.NotificationFriendRequest,
		Title:  "New friend request",
		Body:   fmt.Sprintf("%s wants to be your friend", requesterName),
		Data: map[string]interface{}{
			"requesterId": requesterID,
			"requestId":   requestID,
		},
		Priority: models.PriorityMedium,
	})
}

// FriendRequestAccepted tells the requester their request was accepted
func (o *Orchestrator) FriendRequestAccepted(ctx context.Context, requesterID, accepterID, accepterName string) (*models.Notification, error) {
	return o.Dispatch(ctx, Request{
		UserID:   requesterID,
		Type:     models.NotificationFriendRequestAccepted,
		Title:    "Friend request accepted",
		Body:     fmt.Sprintf("%s accepted your friend request", accepterName),
		Data:     map[string]interface{}{"friendId": accepterID},
		Priority: models.PriorityMedium,
	})
}

// EventReminder reminds an attendee of an upcoming park event. The record
// expires once the event has started.
func (o *Orchestrator) EventReminder(ctx context.Context, userID, eventID, eventTitle string, startsAt time.Time) (*models.Notification, error) {
	req := Request{
		UserID: userID,
		Type:   models.NotificationEventReminder,
		Title:  "Event starting soon",
		Body:   fmt.Sprintf("%s starts at %s", eventTitle, startsAt.Format("15:04")),
		Data: map[string]interface{}{
			"eventId":  eventID,
			"startsAt": startsAt.UTC().Format(time.RFC3339),
		},
		Priority: models.PriorityHigh,
	}
	if ttl := time.Until(startsAt); ttl > 0 {
		req.TTL = ttl
	}
	return o.Dispatch(ctx, req)
}

// EventInvite notifies a user they were invited to an event
func (o *Orchestrator) EventInvite(ctx context.Context, userID, inviterName, eventID, eventTitle string) (*models.Notification, error) {
	return o.Dispatch(ctx, Request{
		UserID:   userID,
		Type:     models.NotificationEventInvite,
		Title:    "Event invitation",
		Body:     fmt.Sprintf("%s invited you to %s", inviterName, eventTitle),
		Data:     map[string]interface{}{"eventId": eventID},
		Priority: models.PriorityMedium,
	})
}

// FriendCheckIn tells a user that a friend checked in at a park
func (o *Orchestrator) FriendCheckIn(ctx context.Context, userID, friendID, friendName, parkID, parkName string) (*models.Notification, error) {
	return o.Dispatch(ctx, Request{
		UserID: userID,
		Type:   models.NotificationFriendCheckIn,
		Title:  "Friend at the park",
		Body:   fmt.Sprintf("%s just checked in at %s", friendName, parkName),
		Data: map[string]interface{}{
			"friendId": friendID,
			"parkId":   parkID,
		},
		Priority: models.PriorityLow,
		TTL:      6 * time.Hour,
	})
}

// PointsEarned reports points awarded to the user
func (o *Orchestrator) PointsEarned(ctx context.Context, userID string, points int, reason string) (*models.Notification, error) {
	return o.Dispatch(ctx, Request{
		UserID: userID,
		Type:   models.NotificationPointsEarned,
		Title:  fmt.Sprintf("+%d points", points),
		Body:   reason,
		Data: map[string]interface{}{
			"points": points,
			"reason": reason,
		},
		Priority: models.PriorityLow,
	})
}

// StreakMilestone celebrates a visit streak
func (o *Orchestrator) StreakMilestone(ctx context.Context, userID string, days int) (*models.Notification, error) {
	return o.Dispatch(ctx, Request{
		UserID:   userID,
		Type:     models.NotificationStreakMilestone,
		Title:    "Streak milestone",
		Body:     fmt.Sprintf("You have visited the park %d days in a row", days),
		Data:     map[string]interface{}{"days": days},
		Priority: models.PriorityMedium,
	})
}

// BadgeEarned announces a new badge
func (o *Orchestrator) BadgeEarned(ctx context.Context, userID, badgeID, badgeName string) (*models.Notification, error) {
	return o.Dispatch(ctx, Request{
		UserID:   userID,
		Type:     models.NotificationBadgeEarned,
		Title:    "New badge",
		Body:     fmt.Sprintf("You earned the %s badge", badgeName),
		Data:     map[string]interface{}{"badgeId": badgeID},
		Priority: models.PriorityMedium,
	})
}
