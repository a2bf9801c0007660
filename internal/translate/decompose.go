// Package translate converts a parsed source message into the flat
// outbound message a delivery provider sends.
package translate

import (
	"log/slog"
	"strconv"

	"github.com/shineum/mailbridge/internal/email"
	"github.com/shineum/mailbridge/internal/source"
)

// Decompose walks a body tree and returns the single display body together
// with every attachment found, in pre-order. With asAttachment set, a
// multipart group contributes all of its children as attachments instead of
// using the first one as the body.
//
// Unsupported parts in body position yield an empty text body; nothing here
// fails.
func Decompose(part *source.Part, asAttachment bool) (email.Body, []email.Attachment) {
	return decompose(part, asAttachment, nil)
}

func decompose(part *source.Part, asAttachment bool, atts []email.Attachment) (email.Body, []email.Attachment) {
	if part == nil {
		return email.TextBody(""), atts
	}

	switch kind := part.Kind(); {
	case kind == source.KindTextPlain:
		return email.TextBody(part.Text()), atts

	case kind == source.KindTextOther:
		slog.Debug("handling non-plain text part as HTML", "content_type", part.ContentType())
		return email.HTMLBody(part.Text()), atts

	case kind == source.KindMultipartAlternative && !asAttachment:
		body := foldAlternatives(part.Children())
		// Second pass over the same group in attachment mode. The result body
		// is discarded; only attachments it registers are kept.
		_, atts = decompose(part, true, atts)
		return body, atts

	case kind == source.KindMultipartOther:
		body := email.TextBody("")
		children := part.Children()
		start := 0
		if !asAttachment && len(children) > 0 {
			body, atts = decompose(children[0], false, atts)
			start = 1
		}
		for i := start; i < len(children); i++ {
			atts = append(atts, toAttachment(children[i], i))
		}
		return body, atts

	default:
		return email.TextBody(""), atts
	}
}

// alternativeAccumulator holds the running state of an alternative scan.
// Each kind keeps its own buffer and the body follows the last child seen.
type alternativeAccumulator struct {
	html string
	text string
	body email.Body
}

// step folds one alternative child into the accumulator. Only exact
// text/html and text/plain children take part.
func (acc alternativeAccumulator) step(child *source.Part) alternativeAccumulator {
	switch child.MediaType() {
	case "text/html":
		acc.html += child.Text()
		acc.body = email.HTMLBody(acc.html)
	case "text/plain":
		acc.text += child.Text()
		acc.body = email.TextBody(acc.text)
	}
	return acc
}

// foldAlternatives reduces the children of an alternative group to one
// body. The kind of the last html or plain child wins.
func foldAlternatives(children []*source.Part) email.Body {
	acc := alternativeAccumulator{body: email.TextBody("")}
	for _, child := range children {
		acc = acc.step(child)
	}
	return acc.body
}

// toAttachment registers one child of a multipart group. index is the
// child's position within its parent and names unnamed files.
func toAttachment(part *source.Part, index int) email.Attachment {
	content := part.Bytes()

	if id, ok := part.ContentID(); ok {
		slog.Debug("attached inline content",
			"bytes", len(content),
			"content_id", id,
		)
		return email.NewInlineAttachment(id, part.ContentType(), content)
	}

	name := part.FileName()
	if name == "" {
		name = strconv.Itoa(index)
	}
	slog.Debug("attached file",
		"bytes", len(content),
		"name", name,
		"content_type", part.ContentType(),
	)
	return email.NewFileAttachment(name, part.ContentType(), content)
}
