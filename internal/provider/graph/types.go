// Package graph implements a Provider that sends emails via the Microsoft Graph API.
package graph

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/shineum/mailbridge/internal/email"
)

// internetHeadersPropertySet is the MAPI PS_INTERNET_HEADERS property set.
const internetHeadersPropertySet = "{00020386-0000-0000-C000-000000000046}"

// HeaderMerge decides how repeated header names are folded into a single
// extended property, since Graph requires unique property ids.
type HeaderMerge string

const (
	// HeaderMergeJoin joins repeated values with ", ".
	HeaderMergeJoin HeaderMerge = "join"
	// HeaderMergeFirst keeps the first value.
	HeaderMergeFirst HeaderMerge = "first"
	// HeaderMergeLast keeps the last value.
	HeaderMergeLast HeaderMerge = "last"
)

// ParseHeaderMerge validates a merge policy name. Empty means join.
func ParseHeaderMerge(s string) (HeaderMerge, error) {
	switch HeaderMerge(strings.ToLower(s)) {
	case "", HeaderMergeJoin:
		return HeaderMergeJoin, nil
	case HeaderMergeFirst:
		return HeaderMergeFirst, nil
	case HeaderMergeLast:
		return HeaderMergeLast, nil
	default:
		return "", fmt.Errorf("unknown header merge policy %q", s)
	}
}

// sendMailRequest is the top-level request body for the Graph API sendMail endpoint.
type sendMailRequest struct {
	Message         sendMailMessage `json:"message"`
	SaveToSentItems bool            `json:"saveToSentItems"`
}

// sendMailMessage represents the message portion of a sendMail request.
type sendMailMessage struct {
	Subject                       string             `json:"subject"`
	Body                          messageBody        `json:"body"`
	From                          *recipient         `json:"from,omitempty"`
	ToRecipients                  []recipient        `json:"toRecipients"`
	CcRecipients                  []recipient        `json:"ccRecipients,omitempty"`
	BccRecipients                 []recipient        `json:"bccRecipients,omitempty"`
	Attachments                   []graphAttachment  `json:"attachments,omitempty"`
	SingleValueExtendedProperties []extendedProperty `json:"singleValueExtendedProperties,omitempty"`
}

// messageBody represents the body of an email message.
type messageBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

// recipient represents an email recipient.
type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

// emailAddress represents an email address in a Graph API request.
type emailAddress struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

// graphAttachment represents a file attachment in a Graph API request.
type graphAttachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType,omitempty"`
	ContentBytes string `json:"contentBytes"`
	ContentID    string `json:"contentId,omitempty"`
	IsInline     bool   `json:"isInline"`
}

// extendedProperty is a single-value MAPI property.
type extendedProperty struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// graphErrorResponse represents an error response from the Graph API.
type graphErrorResponse struct {
	Error graphError `json:"error"`
}

// graphError represents the error detail in a Graph API error response.
type graphError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// buildSendMailRequest converts a translated message into a Graph API
// sendMail request body.
func buildSendMailRequest(msg *email.Message, saveToSentItems bool, merge HeaderMerge) *sendMailRequest {
	body := messageBody{
		ContentType: "text",
		Content:     msg.Body.Text,
	}
	if msg.Body.Kind == email.BodyHTML {
		body.ContentType = "html"
	}

	var from *recipient
	if msg.From != nil {
		r := toRecipient(*msg.From)
		from = &r
	}

	attachments := make([]graphAttachment, 0, len(msg.Attachments))
	for _, att := range msg.Attachments {
		attachments = append(attachments, graphAttachment{
			ODataType:    "#microsoft.graph.fileAttachment",
			Name:         att.Name,
			ContentType:  att.ContentType,
			ContentBytes: base64.StdEncoding.EncodeToString(att.Content()),
			ContentID:    att.ContentID,
			IsInline:     att.IsInline(),
		})
	}

	return &sendMailRequest{
		Message: sendMailMessage{
			Subject:                       msg.Subject,
			Body:                          body,
			From:                          from,
			ToRecipients:                  toRecipients(msg.To),
			CcRecipients:                  toRecipients(msg.Cc),
			BccRecipients:                 toRecipients(msg.Bcc),
			Attachments:                   attachments,
			SingleValueExtendedProperties: headerProperties(msg.Headers, merge),
		},
		SaveToSentItems: saveToSentItems,
	}
}

func toRecipient(a email.Address) recipient {
	return recipient{EmailAddress: emailAddress{Name: a.Name, Address: a.Address}}
}

func toRecipients(list []email.Address) []recipient {
	result := make([]recipient, 0, len(list))
	for _, a := range list {
		result = append(result, toRecipient(a))
	}
	return result
}

// headerProperties maps header properties onto PS_INTERNET_HEADERS extended
// properties, one per distinct name (case-insensitive) in first-seen order.
func headerProperties(headers []email.HeaderProperty, merge HeaderMerge) []extendedProperty {
	if len(headers) == 0 {
		return nil
	}

	index := make(map[string]int, len(headers))
	props := make([]extendedProperty, 0, len(headers))
	for _, h := range headers {
		key := strings.ToLower(h.Name)
		i, seen := index[key]
		if !seen {
			index[key] = len(props)
			props = append(props, extendedProperty{
				ID:    headerPropertyID(h.Name),
				Value: h.Value,
			})
			continue
		}

		switch merge {
		case HeaderMergeFirst:
		case HeaderMergeLast:
			props[i].Value = h.Value
		default:
			props[i].Value += ", " + h.Value
		}
	}
	return props
}

// headerPropertyID returns the extended property id for an internet header.
func headerPropertyID(name string) string {
	return fmt.Sprintf("String %s Name %s", internetHeadersPropertySet, name)
}
