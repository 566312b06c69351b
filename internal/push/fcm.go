package push

import (
	"context"
	"fmt"

	"firebase.google.com/go/v4/messaging"
	"github.com/anonto42/dogpark/backend/internal/models"
)

// fcmMaxBatch is the SendEach limit of Firebase Cloud Messaging
const fcmMaxBatch = 500

type fcmSender interface {
	SendEach(ctx context.Context, messages []*messaging.Message) (*messaging.BatchResponse, error)
}

// FCMGateway delivers through Firebase Cloud Messaging
type FCMGateway struct {
	client fcmSender
}

// NewFCMGateway wraps a Firebase messaging client
func NewFCMGateway(client *messaging.Client) *FCMGateway {
	return &FCMGateway{client: client}
}

func (g *FCMGateway) MaxBatchSize() int { return fcmMaxBatch }

// Send submits the batch with SendEach; responses are index aligned with messages
func (g *FCMGateway) Send(ctx context.Context, messages []Message) ([]Ticket, error) {
	if len(messages) == 0 {
		return nil, nil
	}
	out := make([]*messaging.Message, len(messages))
	for i, m := range messages {
		out[i] = toFCM(m)
	}

	resp, err := g.client.SendEach(ctx, out)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBatchFailed, err)
	}

	tickets := make([]Ticket, len(messages))
	for i, m := range messages {
		tickets[i] = Ticket{Token: m.To, Status: TicketError, Reason: ReasonUnknown, Message: "missing response"}
		if i >= len(resp.Responses) || resp.Responses[i] == nil {
			continue
		}
		r := resp.Responses[i]
		if r.Success {
			tickets[i] = Ticket{Token: m.To, Status: TicketOK, ID: r.MessageID}
			continue
		}
		tickets[i].Reason = fcmReason(r.Error)
		if r.Error != nil {
			tickets[i].Message = r.Error.Error()
		}
	}
	return tickets, nil
}

func fcmReason(err error) ErrorReason {
	switch {
	case err == nil:
		return ReasonUnknown
	case messaging.IsUnregistered(err):
		return ReasonDeviceUnregistered
	case messaging.IsInvalidArgument(err):
		return ReasonInvalidArgument
	case messaging.IsQuotaExceeded(err):
		return ReasonQuotaExceeded
	case messaging.IsUnavailable(err):
		return ReasonUnavailable
	}
	return ReasonUnknown
}

func toFCM(m Message) *messaging.Message {
	androidPriority := "normal"
	apnsPriority := "5"
	if m.Priority == models.PriorityHigh || m.Priority == models.PriorityUrgent {
		androidPriority = "high"
		apnsPriority = "10"
	}
	return &messaging.Message{
		Token: m.To,
		Data:  m.Data,
		Notification: &messaging.Notification{
			Title: m.Title,
			Body:  m.Body,
		},
		Android: &messaging.AndroidConfig{
			Priority: androidPriority,
			Notification: &messaging.AndroidNotification{
				ChannelID: m.ChannelHint,
			},
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{"apns-priority": apnsPriority},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{Sound: "default"},
			},
		},
	}
}
