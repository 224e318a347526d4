// Package notify defines the notification collaborator. Dispatch is
// fire-and-forget: a delivery failure never rolls back the transition that
// produced it, and retries are the collaborator's responsibility.
package notify

import (
	"context"
)

// Message is one notification request produced by a Notification node.
type Message struct {
	Channel   string                 `json:"channel,omitempty"`
	Recipient string                 `json:"recipient"`
	Template  string                 `json:"template"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, message *Message) error
}
