// Package parser reads RFC 5322 messages into the source part tree.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"

	"github.com/shineum/mailbridge/internal/source"
)

// Parse parses a raw message into a source.Message. Every part's content is
// read exactly once while the tree is built. Malformed nested parts are
// logged and skipped rather than failing the whole message.
func Parse(raw []byte) (*source.Message, error) {
	return Read(bytes.NewReader(raw))
}

// Read is Parse over a stream.
func Read(r io.Reader) (*source.Message, error) {
	entity, err := message.Read(r)
	if err != nil && !tolerable(err) {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if err != nil {
		slog.Warn("message body decoding incomplete", "error", err)
	}

	mediaType, params, _ := entity.Header.ContentType()
	if strings.HasPrefix(mediaType, "multipart/") && params["boundary"] == "" {
		return nil, errors.New("multipart message missing boundary")
	}

	header := mail.Header{Header: entity.Header}
	result := &source.Message{
		Headers: headerFields(entity.Header),
		Subject: subject(header),
		From:    addressList(header, "From"),
		To:      addressList(header, "To"),
		Cc:      addressList(header, "Cc"),
		Bcc:     addressList(header, "Bcc"),
	}

	body, err := readPart(entity, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to read message body: %w", err)
	}
	result.Body = body

	return result, nil
}

// maxDepth bounds multipart nesting.
const maxDepth = 32

// readPart converts one entity and, for multipart entities, its children.
func readPart(entity *message.Entity, depth int) (*source.Part, error) {
	rawContentType := entity.Header.Get("Content-Type")
	mediaType, params, err := entity.Header.ContentType()
	if err != nil || mediaType == "" {
		if rawContentType != "" {
			slog.Warn("failed to parse content type, treating as plain text",
				"content_type", rawContentType,
				"error", err,
			)
		}
		mediaType = "text/plain"
		params = nil
	}
	if rawContentType == "" {
		rawContentType = mediaType
	}

	content, err := io.ReadAll(entity.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s part: %w", mediaType, err)
	}

	opts := partOptions(entity.Header, rawContentType)

	if !strings.HasPrefix(mediaType, "multipart/") {
		if strings.HasPrefix(mediaType, "text/") {
			opts = append(opts, source.WithText(decodeText(content, params["charset"])))
		}
		return source.NewLeaf(mediaType, content, opts...), nil
	}

	var children []*source.Part
	if depth >= maxDepth {
		slog.Warn("multipart nesting too deep, dropping children",
			"content_type", mediaType,
			"depth", depth,
		)
		return source.NewMultipart(mediaType, content, nil, opts...), nil
	}

	group, err := message.New(entity.Header, bytes.NewReader(content))
	if err != nil && !tolerable(err) {
		slog.Warn("failed to open multipart part", "content_type", mediaType, "error", err)
		return source.NewMultipart(mediaType, content, nil, opts...), nil
	}

	mr := group.MultipartReader()
	for mr != nil {
		child, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !tolerable(err) {
			slog.Warn("failed to read next part",
				"content_type", mediaType,
				"error", err,
			)
			break
		}
		part, err := readPart(child, depth+1)
		if err != nil {
			slog.Warn("failed to decode nested part, keeping an empty placeholder",
				"content_type", child.Header.Get("Content-Type"),
				"error", err,
			)
			part = placeholder(child.Header)
		}
		children = append(children, part)
	}

	return source.NewMultipart(mediaType, content, children, opts...), nil
}

// partOptions carries the identifying headers of a part over to its
// source node.
func partOptions(h message.Header, rawContentType string) []source.PartOption {
	opts := []source.PartOption{source.WithContentType(rawContentType)}
	if h.Has("Content-Id") {
		opts = append(opts, source.WithContentID(contentID(h.Get("Content-Id"))))
	}
	if name := fileName(h); name != "" {
		opts = append(opts, source.WithFileName(name))
	}
	return opts
}

// placeholder stands in for a part whose body could not be decoded. It is
// an empty opaque leaf that keeps the part's position among its siblings
// and its content type, content-id and file name.
func placeholder(h message.Header) *source.Part {
	rawContentType := h.Get("Content-Type")
	if rawContentType == "" {
		rawContentType = "application/octet-stream"
	}
	return source.NewLeaf("application/octet-stream", nil, partOptions(h, rawContentType)...)
}

// tolerable reports whether a go-message error still leaves a usable
// entity. Bodies with an unknown charset or transfer encoding are kept as
// raw bytes.
func tolerable(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}

// headerFields copies the header in its original order, duplicates included.
func headerFields(h message.Header) []source.HeaderField {
	fields := h.Fields()
	result := make([]source.HeaderField, 0, fields.Len())
	for fields.Next() {
		result = append(result, source.HeaderField{
			Name:  fields.Key(),
			Value: fields.Value(),
		})
	}
	return result
}

func subject(h mail.Header) string {
	s, err := h.Subject()
	if err != nil {
		return h.Get("Subject")
	}
	return s
}

// addressList parses an address header. Values that are not valid RFC 5322
// address lists are kept as opaque comma-separated entries.
func addressList(h mail.Header, key string) []source.Address {
	if !h.Has(key) {
		return nil
	}

	addrs, err := h.AddressList(key)
	if err != nil {
		raw := h.Get(key)
		slog.Debug("address list not RFC 5322, keeping raw entries",
			"header", key,
			"error", err,
		)
		parts := strings.Split(raw, ",")
		result := make([]source.Address, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, source.Opaque(trimmed))
			}
		}
		return result
	}

	result := make([]source.Address, 0, len(addrs))
	for _, addr := range addrs {
		result = append(result, source.Structured(addr.Name, addr.Address))
	}
	return result
}

// contentID strips the angle brackets around a Content-ID value.
func contentID(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "<")
	return strings.TrimSuffix(v, ">")
}

// fileName returns the Content-Disposition filename, falling back to the
// Content-Type name parameter.
func fileName(h message.Header) string {
	ah := mail.AttachmentHeader{Header: h}
	if name, err := ah.Filename(); err == nil && name != "" {
		return name
	}
	if _, params, err := h.ContentType(); err == nil && params["name"] != "" {
		return params["name"]
	}
	return ""
}
