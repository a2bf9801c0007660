// Package provider defines the interface for email delivery backends.
package provider

import (
	"context"
	"fmt"

	"github.com/shineum/mailbridge/internal/email"
)

// Provider is the remote mail service a translated message is handed to.
// Implementations own their own retry and timeout policy. A Provider is
// shared across sessions and must be safe for concurrent use.
type Provider interface {
	// Send submits the message.
	Send(ctx context.Context, msg *email.Message) error

	// SendAndSaveCopy submits the message and stores a copy in folder.
	SendAndSaveCopy(ctx context.Context, msg *email.Message, folder email.WellKnownFolder) error

	// Name returns the human-readable name of this provider.
	Name() string
}

// RejectedError is a definitive rejection reported by a provider with an
// SMTP-equivalent reply code.
type RejectedError struct {
	Provider string
	Code     int
	Reason   string
	Err      error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s rejected message (%d): %s", e.Provider, e.Code, e.Reason)
}

func (e *RejectedError) Unwrap() error {
	return e.Err
}

// SMTPCode returns the SMTP reply code for the rejection.
func (e *RejectedError) SMTPCode() int {
	return e.Code
}
