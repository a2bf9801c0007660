package translate

import (
	"github.com/shineum/mailbridge/internal/email"
	"github.com/shineum/mailbridge/internal/source"
)

// Translate builds a new outbound message from msg. Non-empty to, cc and
// bcc replace the recipients declared in the message headers for that
// category. Translate performs no I/O.
func Translate(msg *source.Message, to, cc, bcc []source.Address) *email.Message {
	out := &email.Message{
		Headers: HeaderProperties(msg.Headers),
		Subject: msg.Subject,
		From:    fromAddress(msg.From),
		To:      mapRecipients("to", to, msg.To),
		Cc:      mapRecipients("cc", cc, msg.Cc),
		Bcc:     mapRecipients("bcc", bcc, msg.Bcc),
	}

	out.Body, out.Attachments = Decompose(msg.Body, false)
	return out
}
