package push

import (
	"context"
	"errors"

	"github.com/anonto42/dogpark/backend/internal/models"
)

// ErrBatchFailed marks a batch the gateway did not accept as a whole
// (timeout, transport error). Token states are left untouched.
var ErrBatchFailed = errors.New("push: batch failed")

// Message is one outgoing push addressed to a single device token
type Message struct {
	To          string
	Title       string
	Body        string
	Data        map[string]string
	ChannelHint string
	Priority    models.Priority
}

type TicketStatus string

const (
	TicketOK    TicketStatus = "ok"
	TicketError TicketStatus = "error"
)

// ErrorReason is the structured failure reason of a ticket
type ErrorReason string

const (
	ReasonNone               ErrorReason = ""
	ReasonDeviceUnregistered ErrorReason = "DeviceNotRegistered"
	ReasonInvalidArgument    ErrorReason = "InvalidArgument"
	ReasonQuotaExceeded      ErrorReason = "QuotaExceeded"
	ReasonUnavailable        ErrorReason = "Unavailable"
	ReasonUnknown            ErrorReason = "Unknown"
)

// Ticket is the per-message delivery outcome returned by a gateway
type Ticket struct {
	Token   string
	Status  TicketStatus
	ID      string
	Reason  ErrorReason
	Message string
}

// Permanent reports whether the ticket proves the token will never work again
func (t Ticket) Permanent() bool {
	return t.Status == TicketError && t.Reason == ReasonDeviceUnregistered
}

// Gateway submits batches to an external push service. Send returns one
// ticket per message, or an error when the batch as a whole failed.
type Gateway interface {
	Send(ctx context.Context, messages []Message) ([]Ticket, error)
	MaxBatchSize() int
}
