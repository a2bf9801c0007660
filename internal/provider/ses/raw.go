package ses

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	"github.com/shineum/mailbridge/internal/email"
)

// messageIDDomain is the right-hand side of generated Message-IDs.
const messageIDDomain = "mailbridge.local"

// structuralHeaders are rewritten by buildRawMessage and never copied from
// the message's header properties.
var structuralHeaders = map[string]bool{
	"from":                      true,
	"to":                        true,
	"cc":                        true,
	"bcc":                       true,
	"reply-to":                  true,
	"subject":                   true,
	"mime-version":              true,
	"content-type":              true,
	"content-transfer-encoding": true,
	"content-disposition":       true,
}

// buildRawMessage renders msg as a MIME message. Inline attachments are
// grouped with the body in a multipart/related part; file attachments
// follow in the outer multipart/mixed.
func buildRawMessage(sender string, replyTo *email.Address, msg *email.Message) ([]byte, error) {
	var h mail.Header
	h.Set("MIME-Version", "1.0")

	for _, prop := range msg.Headers {
		if structuralHeaders[strings.ToLower(prop.Name)] {
			continue
		}
		h.Add(prop.Name, prop.Value)
	}

	h.SetAddressList("From", []*mail.Address{{Address: sender}})
	setAddresses(&h, "To", msg.To)
	setAddresses(&h, "Cc", msg.Cc)
	if replyTo != nil {
		setAddresses(&h, "Reply-To", []email.Address{*replyTo})
	}
	h.SetSubject(msg.Subject)

	if !h.Has("Message-Id") {
		h.SetMessageID(uuid.NewString() + "@" + messageIDDomain)
	}
	if !h.Has("Date") {
		h.SetDate(time.Now())
	}
	h.SetContentType("multipart/mixed", nil)

	var buf bytes.Buffer
	w, err := message.CreateWriter(&buf, h.Header)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}

	var inline, files []email.Attachment
	for _, att := range msg.Attachments {
		if att.IsInline() {
			inline = append(inline, att)
		} else {
			files = append(files, att)
		}
	}

	if err := writeBodyGroup(w, msg.Body, inline); err != nil {
		return nil, err
	}
	for _, att := range files {
		if err := writeAttachment(w, att); err != nil {
			return nil, err
		}
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish message: %w", err)
	}
	return buf.Bytes(), nil
}

func setAddresses(h *mail.Header, key string, list []email.Address) {
	if len(list) == 0 {
		return
	}
	addrs := make([]*mail.Address, 0, len(list))
	for _, a := range list {
		addrs = append(addrs, &mail.Address{Name: a.Name, Address: a.Address})
	}
	h.SetAddressList(key, addrs)
}

// writeBodyGroup writes the display body, wrapped with its inline
// attachments in multipart/related when there are any.
func writeBodyGroup(w *message.Writer, body email.Body, inline []email.Attachment) error {
	if len(inline) == 0 {
		return writeBody(w, body)
	}

	var rh message.Header
	rh.SetContentType("multipart/related", nil)
	related, err := w.CreatePart(rh)
	if err != nil {
		return fmt.Errorf("failed to create related part: %w", err)
	}

	if err := writeBody(related, body); err != nil {
		return err
	}
	for _, att := range inline {
		if err := writeAttachment(related, att); err != nil {
			return err
		}
	}
	return related.Close()
}

func writeBody(w *message.Writer, body email.Body) error {
	mediaType := "text/plain"
	if body.Kind == email.BodyHTML {
		mediaType = "text/html"
	}

	var bh message.Header
	bh.SetContentType(mediaType, map[string]string{"charset": "utf-8"})
	bh.Set("Content-Transfer-Encoding", "quoted-printable")

	return writePart(w, bh, []byte(body.Text))
}

func writeAttachment(w *message.Writer, att email.Attachment) error {
	contentType := att.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	var ah message.Header
	ah.Set("Content-Type", contentType)
	ah.Set("Content-Transfer-Encoding", "base64")
	if att.IsInline() {
		ah.Set("Content-Id", "<"+att.ContentID+">")
		ah.SetContentDisposition("inline", nil)
	} else {
		ah.SetContentDisposition("attachment", map[string]string{"filename": att.Name})
	}

	return writePart(w, ah, att.Content())
}

func writePart(w *message.Writer, h message.Header, content []byte) error {
	part, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("failed to create part: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(content)); err != nil {
		return fmt.Errorf("failed to write part: %w", err)
	}
	return part.Close()
}
