// Package source models an inbound mail message as a read-only tree of
// MIME parts, the input side of translation.
package source

import (
	"fmt"
	"strings"
)

// Kind classifies a part for body decomposition.
type Kind int

const (
	// KindTextPlain is a text/plain leaf.
	KindTextPlain Kind = iota
	// KindTextOther is any other text/* leaf.
	KindTextOther
	// KindMultipartAlternative groups equivalent renderings.
	KindMultipartAlternative
	// KindMultipartOther is any other multipart/* group.
	KindMultipartOther
	// KindOpaque is a non-text, non-multipart leaf.
	KindOpaque
)

func (k Kind) String() string {
	switch k {
	case KindTextPlain:
		return "TextPlain"
	case KindTextOther:
		return "TextOther"
	case KindMultipartAlternative:
		return "MultipartAlternative"
	case KindMultipartOther:
		return "MultipartOther"
	case KindOpaque:
		return "Opaque"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Part is one node of a message body. The zero value is an empty
// text/plain leaf.
type Part struct {
	kind        Kind
	mediaType   string
	contentType string
	contentID   string
	hasCID      bool
	fileName    string
	content     []byte
	text        string
	children    []*Part
}

// PartOption sets an optional attribute while building a Part.
type PartOption func(*Part)

// WithContentID marks the part with a Content-ID header value.
func WithContentID(id string) PartOption {
	return func(p *Part) {
		p.contentID = id
		p.hasCID = true
	}
}

// WithFileName sets the declared file name.
func WithFileName(name string) PartOption {
	return func(p *Part) {
		p.fileName = name
	}
}

// WithContentType overrides the raw declared Content-Type string.
func WithContentType(ct string) PartOption {
	return func(p *Part) {
		p.contentType = ct
	}
}

// WithText sets the decoded text of a text part when it differs from
// the raw content, e.g. after charset conversion.
func WithText(s string) PartOption {
	return func(p *Part) {
		p.text = s
	}
}

// NewLeaf builds a non-multipart part. mediaType is the bare lowercased
// media type (e.g. "text/html") and decides the part's Kind.
func NewLeaf(mediaType string, content []byte, opts ...PartOption) *Part {
	p := &Part{
		kind:        KindOf(mediaType),
		mediaType:   mediaType,
		contentType: mediaType,
		content:     content,
		text:        string(content),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewMultipart builds a multipart group. raw is the encoded multipart body
// used when the whole group is carried as an attachment.
func NewMultipart(mediaType string, raw []byte, children []*Part, opts ...PartOption) *Part {
	p := &Part{
		kind:        KindOf(mediaType),
		mediaType:   mediaType,
		contentType: mediaType,
		content:     raw,
		children:    children,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// KindOf maps a bare media type to a Kind.
func KindOf(mediaType string) Kind {
	switch {
	case mediaType == "text/plain":
		return KindTextPlain
	case strings.HasPrefix(mediaType, "text/"):
		return KindTextOther
	case mediaType == "multipart/alternative":
		return KindMultipartAlternative
	case strings.HasPrefix(mediaType, "multipart/"):
		return KindMultipartOther
	default:
		return KindOpaque
	}
}

// Kind returns the part's classification.
func (p *Part) Kind() Kind { return p.kind }

// MediaType returns the bare lowercased media type.
func (p *Part) MediaType() string { return p.mediaType }

// ContentType returns the raw declared Content-Type.
func (p *Part) ContentType() string { return p.contentType }

// ContentID returns the Content-ID value and whether the header was present.
func (p *Part) ContentID() (string, bool) { return p.contentID, p.hasCID }

// FileName returns the declared file name, or "".
func (p *Part) FileName() string { return p.fileName }

// Bytes returns the part content. The slice is shared; callers must not
// modify it.
func (p *Part) Bytes() []byte { return p.content }

// Text returns the decoded text of a text part.
func (p *Part) Text() string { return p.text }

// Children returns the ordered children of a multipart part.
func (p *Part) Children() []*Part { return p.children }

// AddressKind tags the Address variants.
type AddressKind int

const (
	// AddressStructured has a parsed mailbox and optional display name.
	AddressStructured AddressKind = iota
	// AddressOpaque is a raw string that could not be parsed.
	AddressOpaque
)

// Address is either a structured mailbox or an opaque raw string.
type Address struct {
	kind    AddressKind
	name    string
	mailbox string
	raw     string
}

// Structured returns a parsed address.
func Structured(name, mailbox string) Address {
	return Address{kind: AddressStructured, name: name, mailbox: mailbox}
}

// Opaque returns an unparsed address.
func Opaque(raw string) Address {
	return Address{kind: AddressOpaque, raw: raw}
}

// Kind returns the variant tag.
func (a Address) Kind() AddressKind { return a.kind }

// PersonalName returns the display name of a structured address.
func (a Address) PersonalName() string { return a.name }

// Mailbox returns the addr-spec of a structured address.
func (a Address) Mailbox() string { return a.mailbox }

// Raw returns the raw text of an opaque address.
func (a Address) Raw() string { return a.raw }

func (a Address) String() string {
	switch a.kind {
	case AddressOpaque:
		return a.raw
	default:
		if a.name == "" {
			return a.mailbox
		}
		return fmt.Sprintf("%q <%s>", a.name, a.mailbox)
	}
}

// HeaderField is one header line of the source message.
type HeaderField struct {
	Name  string
	Value string
}

// Message is a parsed inbound message. To, Cc and Bcc are the recipients
// declared by the message's own headers.
type Message struct {
	Headers []HeaderField
	Subject string
	From    []Address
	To      []Address
	Cc      []Address
	Bcc     []Address
	Body    *Part
}
