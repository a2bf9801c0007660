// Package email defines the flat outbound message handed to delivery providers.
package email

import (
	"bytes"
	"fmt"
	"strings"
)

// BodyKind is the rendering type of a message body.
type BodyKind int

const (
	// BodyText is a plain text body.
	BodyText BodyKind = iota
	// BodyHTML is an HTML body.
	BodyHTML
)

func (k BodyKind) String() string {
	switch k {
	case BodyText:
		return "Text"
	case BodyHTML:
		return "HTML"
	default:
		return fmt.Sprintf("BodyKind(%d)", int(k))
	}
}

// Body is the single display body of an outbound message.
type Body struct {
	Kind BodyKind
	Text string
}

// TextBody returns a plain text body.
func TextBody(s string) Body {
	return Body{Kind: BodyText, Text: s}
}

// HTMLBody returns an HTML body.
func HTMLBody(s string) Body {
	return Body{Kind: BodyHTML, Text: s}
}

// Address is a recipient or sender as the delivery service expects it.
// Name is empty for bare addresses.
type Address struct {
	Name    string
	Address string
}

// String renders the address in display form.
func (a Address) String() string {
	if a.Name == "" {
		return a.Address
	}
	return fmt.Sprintf("%s <%s>", a.Name, a.Address)
}

// HeaderProperty mirrors one original header line as a named string value.
type HeaderProperty struct {
	Name  string
	Value string
}

// WellKnownFolder names a mailbox folder the delivery service resolves itself.
type WellKnownFolder string

// FolderSentItems is the sender's "Sent Items" folder.
const FolderSentItems WellKnownFolder = "sentitems"

// Message is a fully translated outbound message. Headers keeps every
// source header in order, duplicates included.
type Message struct {
	Headers     []HeaderProperty
	Subject     string
	From        *Address
	To          []Address
	Cc          []Address
	Bcc         []Address
	Body        Body
	Attachments []Attachment
}

// Recipients returns To, Cc and Bcc in that order.
func (m *Message) Recipients() []Address {
	all := make([]Address, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	all = append(all, m.To...)
	all = append(all, m.Cc...)
	all = append(all, m.Bcc...)
	return all
}

// HeaderValues returns the values of every header property named name,
// in order. Name matching is case-insensitive.
func (m *Message) HeaderValues(name string) []string {
	var values []string
	for _, h := range m.Headers {
		if strings.EqualFold(h.Name, name) {
			values = append(values, h.Value)
		}
	}
	return values
}

// Attachment is a file carried by an outbound message. Content is copied
// on creation and cannot be changed afterwards.
type Attachment struct {
	Name        string
	ContentID   string
	ContentType string
	inline      bool
	content     []byte
}

// NewFileAttachment creates a regular attachment.
func NewFileAttachment(name, contentType string, content []byte) Attachment {
	return Attachment{
		Name:        name,
		ContentType: contentType,
		content:     bytes.Clone(content),
	}
}

// NewInlineAttachment creates an attachment referenced from the body by
// its content id. The content id doubles as the attachment name.
func NewInlineAttachment(contentID, contentType string, content []byte) Attachment {
	return Attachment{
		Name:        contentID,
		ContentID:   contentID,
		ContentType: contentType,
		inline:      true,
		content:     bytes.Clone(content),
	}
}

// IsInline reports whether the attachment was registered by content id.
func (a Attachment) IsInline() bool {
	return a.inline
}

// Content returns a copy of the attachment bytes.
func (a Attachment) Content() []byte {
	return bytes.Clone(a.content)
}

// Size returns the attachment length in bytes.
func (a Attachment) Size() int {
	return len(a.content)
}
