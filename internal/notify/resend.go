package notify

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/resend/resend-go/v2"
	"github.com/sirupsen/logrus"
)

// ResendNotifier emails each message to a fixed moderator address.
type ResendNotifier struct {
	client *resend.Client
	from   string
	to     []string
	log    logrus.FieldLogger
}

func NewResendNotifier(apiKey, from string, to []string, log logrus.FieldLogger) *ResendNotifier {
	return &ResendNotifier{
		client: resend.NewClient(apiKey),
		from:   from,
		to:     to,
		log:    log,
	}
}

func (n *ResendNotifier) Publish(ctx context.Context, message Message) error {
	params := &resend.SendEmailRequest{
		From:    n.from,
		To:      n.to,
		Subject: message.Subject,
		Text:    message.Body,
		Html:    renderHTML(message),
	}

	sent, err := n.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	n.log.WithField("email_id", sent.Id).Debug("notification email sent")
	return nil
}

func renderHTML(message Message) string {
	lines := strings.Split(message.Body, "\n")
	for i, l := range lines {
		lines[i] = html.EscapeString(l)
	}
	return fmt.Sprintf(`<div style="font-family: sans-serif; max-width: 480px; margin: 0 auto; padding: 24px;">
	<h2 style="color: #333;">%s</h2>
	<p style="line-height: 1.5;">%s</p>
</div>`, html.EscapeString(message.Subject), strings.Join(lines, "<br>"))
}
