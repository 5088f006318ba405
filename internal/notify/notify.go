// Package notify delivers booking notifications off the request path.
package notify

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// MessageKind identifies what happened to a booking.
type MessageKind string

const (
	KindBookingConfirmed MessageKind = "booking.confirmed"
	KindBookingCancelled MessageKind = "booking.cancelled"
)

// Message is a notification for one recipient.
type Message struct {
	Kind      MessageKind `json:"kind"`
	Recipient string      `json:"recipient"`
	Subject   string      `json:"subject"`
	Body      string      `json:"body"`
	UserID    string      `json:"user_id"`
	BookingID string      `json:"booking_id"`
	EventID   string      `json:"event_id"`
	Tickets   int         `json:"number_of_tickets"`
	CreatedAt time.Time   `json:"created_at"`
}

// Notifier hands a message to the notification service.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// LogNotifier writes messages to the log instead of delivering them. It is
// used when no message broker is configured.
type LogNotifier struct {
	log *zap.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Send(_ context.Context, msg Message) error {
	n.log.Info("notification",
		zap.String("kind", string(msg.Kind)),
		zap.String("recipient", msg.Recipient),
		zap.String("subject", msg.Subject),
		zap.String("booking_id", msg.BookingID),
	)
	return nil
}
