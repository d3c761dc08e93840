package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/resend/resend-go/v2"
)

// ErrNoRecipients is returned for a request without addresses.
var ErrNoRecipients = errors.New("email has no recipients")

// ResendSender sends email through the Resend API.
type ResendSender struct {
	client *resend.Client
	from   string
}

// NewResendSender creates a ResendSender.
// PRE: apiKey is a Resend API key; from is a valid sender address
// POST: Returns a ready sender
func NewResendSender(apiKey, from string) *ResendSender {
	return &ResendSender{client: resend.NewClient(apiKey), from: from}
}

// NewResendSenderWithBaseURL points the sender at another API host.
// PRE: baseURL is an absolute URL
// POST: Returns a sender using httpClient, or an error for a malformed URL
func NewResendSenderWithBaseURL(httpClient *http.Client, apiKey, from, baseURL string) (*ResendSender, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("resend base url: %w", err)
	}
	client := resend.NewCustomClient(httpClient, apiKey)
	client.BaseURL = u
	return &ResendSender{client: client, from: from}, nil
}

// Send delivers one message.
// PRE: req has at least one recipient and a subject
// POST: The message is accepted by Resend; returns its id
func (s *ResendSender) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	if len(req.To) == 0 {
		return SendResult{}, ErrNoRecipients
	}
	from := req.From
	if from == "" {
		from = s.from
	}

	params := &resend.SendEmailRequest{
		From:    from,
		To:      req.To,
		Subject: req.Subject,
		Html:    req.HTML,
		Text:    req.Text,
		Tags:    tags(req.Tags),
	}

	sent, err := s.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		slog.Error("resend_send_failed", "error", err, "to", req.To, "subject", req.Subject)
		return SendResult{}, fmt.Errorf("resend send failed: %w", err)
	}

	slog.Info("resend_sent", "message_id", sent.Id, "to", req.To, "subject", req.Subject)
	return SendResult{MessageID: sent.Id, SentAt: time.Now()}, nil
}

// tags converts labels to Resend tags in a stable order.
func tags(m map[string]string) []resend.Tag {
	if len(m) == 0 {
		return nil
	}
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]resend.Tag, 0, len(names))
	for _, name := range names {
		out = append(out, resend.Tag{Name: name, Value: m[name]})
	}
	return out
}
