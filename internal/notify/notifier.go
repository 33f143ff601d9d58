package notify

import (
	"context"
	"fmt"
	"strings"

	"simats-hub/internal/models"
)

// Notifier publishes a message to the moderators' channel.
type Notifier interface {
	Publish(ctx context.Context, message Message) error
}

type Message struct {
	Subject string
	Body    string
}

// NewFeedbackMessage summarises a freshly posted entry.
func NewFeedbackMessage(f *models.Feedback) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Course: %s (%s)\n", f.CourseName, f.CourseCode)
	fmt.Fprintf(&b, "Faculty: %s\n", f.FacultyName)
	fmt.Fprintf(&b, "Rating: %s\n", strings.Repeat("★", f.Rating))
	fmt.Fprintf(&b, "Posted by: %s\n", f.UserName())
	fmt.Fprintf(&b, "Feedback: %s", f.Reason)

	return Message{
		Subject: fmt.Sprintf("New feedback for %s", f.CourseCode),
		Body:    b.String(),
	}
}
