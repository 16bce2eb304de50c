// email.go implements the builtin.destination.email client.
//
// The current implementation logs the rendered email instead of calling a
// transactional provider. Replace sendViaProvider with a real Resend (or
// SendGrid, SES) API call when connection.type == "email" destinations go
// live; the chain builtin and error classification around it stay the same.
package dispatcher

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/arc-self/rotor/internal/model"
)

// EmailDispatcher renders and sends an event as a transactional email.
type EmailDispatcher struct {
	logger *zap.Logger
}

// NewEmailDispatcher creates an EmailDispatcher.
func NewEmailDispatcher(logger *zap.Logger) *EmailDispatcher {
	return &EmailDispatcher{logger: logger}
}

// Deliver renders event for the destination described by conn.Credentials
// ({to, subject}) and sends it.
//
// Currently a stub — replace sendViaProvider's body with an actual HTTP
// POST to the provider API:
//
//	POST https://api.resend.com/emails
//	Authorization: Bearer <api_key>
//	{ "from": "...", "to": [...], "subject": "...", "html": "..." }
func (d *EmailDispatcher) Deliver(ctx context.Context, conn model.Connection, event *model.Event) error {
	to, _ := conn.Credentials["to"].(string)
	subject, _ := conn.Credentials["subject"].(string)
	if to == "" {
		return fmt.Errorf("email destination %s: missing \"to\" in credentials", conn.ID)
	}

	return d.sendViaProvider(ctx, to, subject, event)
}

func (d *EmailDispatcher) sendViaProvider(ctx context.Context, to, subject string, event *model.Event) error {
	// TODO: wire a real HTTP call + API key here once a provider is chosen.
	d.logger.Info("email dispatched (stub)",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.String("messageId", event.MessageID),
	)
	return nil
}
