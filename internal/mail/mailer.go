package mail

import (
	"context"
	"fmt"
)

// Message is a plain-text email handed to a Sender.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers messages. Failures must propagate so callers can
// compensate (the reset flow rolls back its token state on error).
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// ResetMessage composes the password-reset email around the reset URL
// carrying the one-time plaintext token.
func ResetMessage(to, resetURL string) Message {
	body := fmt.Sprintf("Forgot your password? Submit a PATCH request with your new password and passwordConfirm to: %s\nIf you didn't forget your password, please ignore this email!", resetURL)
	return Message{
		To:      to,
		Subject: "Your password reset token (valid for 10 min)",
		Body:    body,
	}
}
