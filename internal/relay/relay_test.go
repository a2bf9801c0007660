package relay

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shineum/mailbridge/internal/email"
	"github.com/shineum/mailbridge/internal/source"
	"github.com/shineum/mailbridge/internal/transport"
)

type recordingSender struct {
	sent []*email.Message
	err  error
}

func (s *recordingSender) Send(_ context.Context, msg *email.Message) error {
	s.sent = append(s.sent, msg)
	return s.err
}

func rawMessage(headers ...string) []byte {
	lines := append(headers, "Subject: Hello", "Content-Type: text/plain", "", "body")
	return []byte(strings.Join(lines, "\r\n"))
}

func addresses(list []email.Address) []string {
	result := make([]string, 0, len(list))
	for _, a := range list {
		result = append(result, a.Address)
	}
	return result
}

func TestDeliver_EnvelopeRecipients(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		headers    []string
		recipients []string
		wantTo     []string
		wantCc     []string
		wantBcc    []string
	}{
		{
			name:       "recipients match headers",
			headers:    []string{"From: a@example.com", "To: b@example.com", "Cc: c@example.com"},
			recipients: []string{"b@example.com", "C@Example.com"},
			wantTo:     []string{"b@example.com"},
			wantCc:     []string{"c@example.com"},
		},
		{
			name:       "hidden recipient becomes bcc",
			headers:    []string{"From: a@example.com", "To: b@example.com"},
			recipients: []string{"b@example.com", "hidden@example.com"},
			wantTo:     []string{"b@example.com"},
			wantBcc:    []string{"hidden@example.com"},
		},
		{
			name:       "bcc header replaced by envelope",
			headers:    []string{"From: a@example.com", "To: b@example.com", "Bcc: old@example.com"},
			recipients: []string{"new@example.com"},
			wantTo:     []string{"b@example.com"},
			wantBcc:    []string{"new@example.com"},
		},
		{
			name:       "no recipient headers",
			headers:    []string{"From: a@example.com"},
			recipients: []string{"x@example.com", "y@example.com"},
			wantTo:     []string{"x@example.com", "y@example.com"},
		},
		{
			name:    "no envelope recipients",
			headers: []string{"From: a@example.com", "To: b@example.com", "Bcc: d@example.com"},
			wantTo:  []string{"b@example.com"},
			wantBcc: []string{"d@example.com"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sender := &recordingSender{}
			err := New(sender).Deliver(context.Background(), rawMessage(tt.headers...), Envelope{
				From:       "a@example.com",
				Recipients: tt.recipients,
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(sender.sent) != 1 {
				t.Fatalf("sent: got %d, want 1", len(sender.sent))
			}

			msg := sender.sent[0]
			checks := []struct {
				category string
				got      []string
				want     []string
			}{
				{"To", addresses(msg.To), tt.wantTo},
				{"Cc", addresses(msg.Cc), tt.wantCc},
				{"Bcc", addresses(msg.Bcc), tt.wantBcc},
			}
			for _, c := range checks {
				if strings.Join(c.got, ",") != strings.Join(c.want, ",") {
					t.Errorf("%s: got %v, want %v", c.category, c.got, c.want)
				}
			}
		})
	}
}

func TestDeliver_EnvelopeSenderFillsMissingFrom(t *testing.T) {
	t.Parallel()

	sender := &recordingSender{}
	err := New(sender).Deliver(context.Background(), rawMessage("To: b@example.com"), Envelope{
		From:       "bounce@example.com",
		Recipients: []string{"b@example.com"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	from := sender.sent[0].From
	if from == nil || from.Address != "bounce@example.com" {
		t.Errorf("From: got %v, want bounce@example.com", from)
	}
}

func TestDeliver_HeaderFromWins(t *testing.T) {
	t.Parallel()

	sender := &recordingSender{}
	err := New(sender).Deliver(context.Background(), rawMessage("From: Boss <boss@example.com>", "To: b@example.com"), Envelope{
		From:       "bounce@example.com",
		Recipients: []string{"b@example.com"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	from := sender.sent[0].From
	if from == nil || from.String() != "Boss <boss@example.com>" {
		t.Errorf("From: got %v, want Boss <boss@example.com>", from)
	}
}

func TestDeliver_MalformedMessage(t *testing.T) {
	t.Parallel()

	raw := []byte("Content-Type: multipart/mixed\r\n\r\nno boundary")
	sender := &recordingSender{}

	err := New(sender).Deliver(context.Background(), raw, Envelope{Recipients: []string{"b@example.com"}})
	if !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("error: got %v, want ErrMalformedMessage", err)
	}
	if len(sender.sent) != 0 {
		t.Error("malformed message must not be sent")
	}
}

func TestDeliver_SenderError(t *testing.T) {
	t.Parallel()

	sendErr := errors.New("boom")
	sender := &recordingSender{err: sendErr}

	err := New(sender).Deliver(context.Background(), rawMessage("To: b@example.com"), Envelope{})
	if !errors.Is(err, sendErr) {
		t.Errorf("error: got %v, want %v", err, sendErr)
	}
}

func TestDeliverMessage_Overrides(t *testing.T) {
	t.Parallel()

	msg := &source.Message{
		Subject: "s",
		To:      []source.Address{source.Structured("", "declared@example.com")},
		Body:    source.NewLeaf("text/plain", []byte("hi")),
	}
	sender := &recordingSender{}

	err := New(sender).DeliverMessage(context.Background(), msg,
		nil,
		[]source.Address{source.Structured("Carol", "carol@example.com")},
		nil,
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := sender.sent[0]
	if got := addresses(out.To); len(got) != 1 || got[0] != "declared@example.com" {
		t.Errorf("To: got %v", got)
	}
	if len(out.Cc) != 1 || out.Cc[0].String() != "Carol <carol@example.com>" {
		t.Errorf("Cc: got %v", out.Cc)
	}
}

func TestDeliverMessage_NoRecipients(t *testing.T) {
	t.Parallel()

	msg := &source.Message{Body: source.NewLeaf("text/plain", []byte("hi"))}
	sender := &recordingSender{}

	err := New(sender).DeliverMessage(context.Background(), msg, nil, nil, nil)
	if !errors.Is(err, ErrNoRecipients) {
		t.Errorf("error: got %v, want ErrNoRecipients", err)
	}
	if len(sender.sent) != 0 {
		t.Error("message without recipients must not be sent")
	}
}

func TestTranslate(t *testing.T) {
	t.Parallel()

	msg, err := Translate(rawMessage("From: a@example.com", "To: b@example.com"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Subject != "Hello" {
		t.Errorf("Subject: got %q, want %q", msg.Subject, "Hello")
	}
	if msg.Body.Kind != email.BodyText || msg.Body.Text != "body" {
		t.Errorf("Body: got %+v", msg.Body)
	}
	if len(msg.Headers) != 4 {
		t.Errorf("Headers: got %d, want 4", len(msg.Headers))
	}
}

func TestTranslate_CorruptBodyKeepsAttachment(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: a@example.com",
		"To: b@example.com",
		"Subject: Corrupt",
		`Content-Type: multipart/mixed; boundary="b1"`,
		"",
		"--b1",
		"Content-Type: text/plain",
		"Content-Transfer-Encoding: base64",
		"",
		"!!!!not-base64!!!!",
		"--b1",
		`Content-Type: application/pdf; name="a.pdf"`,
		"Content-Transfer-Encoding: base64",
		"",
		"JVBERi0xLjQK",
		"--b1--",
		"",
	}, "\r\n"))

	msg, err := Translate(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Body.Text != "" {
		t.Errorf("Body.Text: got %q, want empty", msg.Body.Text)
	}
	if len(msg.Attachments) != 1 {
		t.Fatalf("Attachments: got %d, want 1", len(msg.Attachments))
	}
	if got := msg.Attachments[0].Name; got != "a.pdf" {
		t.Errorf("attachment name: got %q, want %q", got, "a.pdf")
	}
}

// denyingProvider refuses every submission with the send-on-behalf failure.
type denyingProvider struct{}

func (denyingProvider) Send(context.Context, *email.Message) error {
	return errors.New("Graph API error (HTTP 403): The user account which was used to submit this request does not have the right to send mail on behalf of the specified sending account.")
}

func (p denyingProvider) SendAndSaveCopy(ctx context.Context, msg *email.Message, _ email.WellKnownFolder) error {
	return p.Send(ctx, msg)
}

func (denyingProvider) Name() string { return "denying" }

func TestDeliverMessage_PermissionDeniedReportsOverrides(t *testing.T) {
	t.Parallel()

	msg := &source.Message{
		From: []source.Address{source.Structured("", "boss@example.com")},
		To:   []source.Address{source.Structured("", "declared@example.com")},
		Body: source.NewLeaf("text/plain", []byte("hi")),
	}
	r := New(transport.NewExecutor(denyingProvider{}, false))

	err := r.DeliverMessage(context.Background(), msg,
		[]source.Address{source.Structured("", "override@example.com")},
		nil,
		nil,
	)

	var denied *transport.PermissionDeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("error: got %T (%v), want *transport.PermissionDeniedError", err, err)
	}
	if got := addresses(denied.Recipients); len(got) != 1 || got[0] != "override@example.com" {
		t.Errorf("Recipients: got %v, want [override@example.com]", got)
	}
}
