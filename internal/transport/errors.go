package transport

import (
	"fmt"

	"github.com/shineum/mailbridge/internal/email"
)

// CodeSendOnBehalfDenied is the status carried by PermissionDeniedError,
// after the SMTP "user not local" relay refusal.
const CodeSendOnBehalfDenied = 551

// CodeSendFailed is the status carried by SendFailedError.
const CodeSendFailed = 451

// noDetailMessage stands in for failures that carry no text.
const noDetailMessage = "no detailed message provided"

// sendOnBehalfDenied is the service text for a principal that may not send
// as the requested From address.
const sendOnBehalfDenied = "The user account which was used to submit this request does not have the right to send mail on behalf of the specified sending account"

// ProtocolError is a failure already expressed as a messaging-protocol
// reply. The executor passes these through unchanged.
type ProtocolError interface {
	error
	SMTPCode() int
}

// PermissionDeniedError reports that the authenticated principal may not
// send on behalf of From.
type PermissionDeniedError struct {
	From       string
	// Recipients are the effective recipients, after any overrides.
	Recipients []email.Address
	Code       int
	Err        error
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("could not send: insufficient right to send on behalf of '%s'", e.From)
}

func (e *PermissionDeniedError) Unwrap() error {
	return e.Err
}

// SMTPCode returns the reply code for the refusal.
func (e *PermissionDeniedError) SMTPCode() int {
	return e.Code
}

// SendFailedError wraps any other send failure.
type SendFailedError struct {
	Message string
	Err     error
}

func (e *SendFailedError) Error() string {
	return e.Message
}

func (e *SendFailedError) Unwrap() error {
	return e.Err
}

// SMTPCode returns the reply code for a generic failure.
func (e *SendFailedError) SMTPCode() int {
	return CodeSendFailed
}
