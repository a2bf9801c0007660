// Package relay turns raw RFC 5322 messages into outbound sends: it parses,
// resolves recipients against the SMTP envelope, translates and hands the
// result to a sender.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shineum/mailbridge/internal/email"
	"github.com/shineum/mailbridge/internal/parser"
	"github.com/shineum/mailbridge/internal/source"
	"github.com/shineum/mailbridge/internal/translate"
)

// ErrMalformedMessage is returned by Deliver when the raw message cannot
// be parsed.
var ErrMalformedMessage = errors.New("malformed message")

// ErrNoRecipients is returned when neither the headers nor the overrides
// name a recipient.
var ErrNoRecipients = errors.New("message has no recipients")

// Sender submits translated messages. *transport.Executor implements it.
type Sender interface {
	Send(ctx context.Context, msg *email.Message) error
}

// Envelope is the SMTP envelope a message arrived with.
type Envelope struct {
	From       string
	Recipients []string
}

// Relay delivers messages through a Sender.
type Relay struct {
	sender Sender
}

// New creates a Relay.
func New(s Sender) *Relay {
	return &Relay{sender: s}
}

// Deliver parses raw and sends it. Envelope recipients that the To and Cc
// headers do not name are delivered as Bcc; a message without any
// recipient headers goes To every envelope recipient. A message without a
// From header takes the envelope sender.
func (r *Relay) Deliver(ctx context.Context, raw []byte, env Envelope) error {
	msg, err := parser.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	if len(msg.From) == 0 && env.From != "" {
		msg.From = []source.Address{source.Structured("", env.From)}
	}

	to, bcc := EnvelopeOverrides(msg, env.Recipients)
	return r.DeliverMessage(ctx, msg, to, nil, bcc)
}

// DeliverMessage translates msg with the given recipient overrides and
// sends it.
func (r *Relay) DeliverMessage(ctx context.Context, msg *source.Message, to, cc, bcc []source.Address) error {
	out := translate.Translate(msg, to, cc, bcc)
	if len(out.Recipients()) == 0 {
		return ErrNoRecipients
	}
	return r.sender.Send(ctx, out)
}

// Translate parses raw and translates it without sending.
func Translate(raw []byte) (*email.Message, error) {
	msg, err := parser.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return translate.Translate(msg, nil, nil, nil), nil
}

// EnvelopeOverrides computes recipient overrides from the envelope. It
// returns to overrides only when msg declares no recipients at all, and
// bcc overrides for envelope recipients missing from the To and Cc headers.
func EnvelopeOverrides(msg *source.Message, recipients []string) (to, bcc []source.Address) {
	if len(recipients) == 0 {
		return nil, nil
	}

	if len(msg.To) == 0 && len(msg.Cc) == 0 && len(msg.Bcc) == 0 {
		return structured(recipients), nil
	}

	visible := make(map[string]bool, len(msg.To)+len(msg.Cc))
	for _, a := range msg.To {
		visible[mailboxKey(a)] = true
	}
	for _, a := range msg.Cc {
		visible[mailboxKey(a)] = true
	}

	var hidden []string
	for _, rcpt := range recipients {
		if visible[strings.ToLower(rcpt)] {
			continue
		}
		hidden = append(hidden, rcpt)
	}
	if len(hidden) > 0 {
		slog.Debug("envelope recipients delivered as bcc", "count", len(hidden))
	}
	return nil, structured(hidden)
}

func mailboxKey(a source.Address) string {
	if a.Kind() == source.AddressOpaque {
		return strings.ToLower(strings.TrimSpace(a.Raw()))
	}
	return strings.ToLower(a.Mailbox())
}

func structured(list []string) []source.Address {
	if len(list) == 0 {
		return nil
	}
	result := make([]source.Address, 0, len(list))
	for _, s := range list {
		result = append(result, source.Structured("", s))
	}
	return result
}
