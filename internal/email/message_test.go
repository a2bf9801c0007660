package email

import (
	"bytes"
	"testing"
)

func TestAttachment_ContentIsImmutable(t *testing.T) {
	t.Parallel()

	src := []byte("original")
	att := NewFileAttachment("a.txt", "text/plain", src)

	src[0] = 'X'
	if got := string(att.Content()); got != "original" {
		t.Errorf("Content after source mutation: got %q, want %q", got, "original")
	}

	out := att.Content()
	out[0] = 'Y'
	if got := string(att.Content()); got != "original" {
		t.Errorf("Content after result mutation: got %q, want %q", got, "original")
	}
	if att.Size() != len("original") {
		t.Errorf("Size: got %d, want %d", att.Size(), len("original"))
	}
}

func TestNewInlineAttachment(t *testing.T) {
	t.Parallel()

	att := NewInlineAttachment("<img1>", "image/png", []byte{0x89, 'P', 'N', 'G'})

	if !att.IsInline() {
		t.Error("expected inline attachment")
	}
	if att.Name != "<img1>" {
		t.Errorf("Name: got %q, want %q", att.Name, "<img1>")
	}
	if att.ContentID != "<img1>" {
		t.Errorf("ContentID: got %q, want %q", att.ContentID, "<img1>")
	}
	if !bytes.Equal(att.Content(), []byte{0x89, 'P', 'N', 'G'}) {
		t.Errorf("Content: got %v", att.Content())
	}
}

func TestNewFileAttachment_NotInline(t *testing.T) {
	t.Parallel()

	att := NewFileAttachment("doc.pdf", "application/pdf", nil)
	if att.IsInline() {
		t.Error("file attachment must not be inline")
	}
	if att.ContentID != "" {
		t.Errorf("ContentID: got %q, want empty", att.ContentID)
	}
}

func TestBodyKind_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind BodyKind
		want string
	}{
		{BodyText, "Text"},
		{BodyHTML, "HTML"},
		{BodyKind(7), "BodyKind(7)"},
	}

	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("String(): got %q, want %q", got, tt.want)
		}
	}
}

func TestAddress_String(t *testing.T) {
	t.Parallel()

	if got := (Address{Address: "a@example.com"}).String(); got != "a@example.com" {
		t.Errorf("bare: got %q", got)
	}
	if got := (Address{Name: "Alice", Address: "a@example.com"}).String(); got != "Alice <a@example.com>" {
		t.Errorf("named: got %q", got)
	}
}

func TestMessage_RecipientsAndHeaders(t *testing.T) {
	t.Parallel()

	msg := &Message{
		Headers: []HeaderProperty{
			{Name: "Received", Value: "from a"},
			{Name: "X-Tag", Value: "t"},
			{Name: "received", Value: "from b"},
		},
		To:  []Address{{Address: "to@example.com"}},
		Cc:  []Address{{Address: "cc@example.com"}},
		Bcc: []Address{{Address: "bcc@example.com"}},
	}

	all := msg.Recipients()
	if len(all) != 3 {
		t.Fatalf("Recipients: got %d, want 3", len(all))
	}
	if all[2].Address != "bcc@example.com" {
		t.Errorf("Recipients[2]: got %q, want %q", all[2].Address, "bcc@example.com")
	}

	values := msg.HeaderValues("Received")
	if len(values) != 2 || values[0] != "from a" || values[1] != "from b" {
		t.Errorf("HeaderValues: got %v", values)
	}
}
