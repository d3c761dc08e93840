// Package email delivers operator notifications, such as lost offline changes.
package email

import (
	"context"
	"time"
)

// SendRequest is one outgoing message.
type SendRequest struct {
	To      []string
	From    string // e.g. "Betania <noreply@betania.local>"; empty uses the sender default
	Subject string
	HTML    string
	Text    string            // plain-text alternative, optional
	Tags    map[string]string // provider-side labels for filtering, optional
}

// SendResult is the provider's acknowledgement.
type SendResult struct {
	MessageID string
	SentAt    time.Time
}

// Sender delivers email through an external provider.
type Sender interface {
	Send(ctx context.Context, req SendRequest) (SendResult, error)
}
