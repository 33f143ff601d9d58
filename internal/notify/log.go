package notify

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogNotifier writes messages to the application log. Used when no
// email delivery is configured.
type LogNotifier struct {
	log logrus.FieldLogger
}

func NewLogNotifier(log logrus.FieldLogger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Publish(ctx context.Context, message Message) error {
	n.log.WithField("subject", message.Subject).Info(message.Body)
	return nil
}
