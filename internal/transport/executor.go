// Package transport submits translated messages to a provider and
// classifies the failures it reports.
package transport

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/shineum/mailbridge/internal/email"
	"github.com/shineum/mailbridge/internal/provider"
)

// Executor sends translated messages through one provider. It does not
// retry; retry policy belongs to the provider or the caller.
type Executor struct {
	provider provider.Provider
	saveCopy bool
}

// NewExecutor creates an Executor. With saveCopy set, every send also
// stores a copy in the sender's Sent Items folder.
func NewExecutor(p provider.Provider, saveCopy bool) *Executor {
	return &Executor{
		provider: p,
		saveCopy: saveCopy,
	}
}

// Send submits msg. Failures are returned as a ProtocolError:
// *PermissionDeniedError, *SendFailedError, or the provider's own
// protocol-level error unchanged.
func (e *Executor) Send(ctx context.Context, msg *email.Message) error {
	var err error
	if e.saveCopy {
		err = e.provider.SendAndSaveCopy(ctx, msg, email.FolderSentItems)
	} else {
		err = e.provider.Send(ctx, msg)
	}

	if err != nil {
		classified := Classify(err, msg)
		slog.Error("send failed",
			"provider", e.provider.Name(),
			"error", classified,
		)
		return classified
	}

	slog.Info("message sent",
		"provider", e.provider.Name(),
		"recipients", len(msg.Recipients()),
		"attachments", len(msg.Attachments),
		"saved_copy", e.saveCopy,
	)
	return nil
}

// Classify maps a provider failure for msg onto the error taxonomy.
func Classify(err error, msg *email.Message) error {
	if err == nil {
		return nil
	}

	var protoErr ProtocolError
	if errors.As(err, &protoErr) {
		return err
	}

	text := err.Error()
	if strings.Contains(text, sendOnBehalfDenied) {
		from := ""
		if msg.From != nil {
			from = msg.From.String()
		}
		return &PermissionDeniedError{
			From:       from,
			Recipients: msg.Recipients(),
			Code:       CodeSendOnBehalfDenied,
			Err:        err,
		}
	}

	if text == "" {
		text = noDetailMessage
	}
	return &SendFailedError{Message: text, Err: err}
}
