// Package stdout implements a Provider that prints emails to standard output.
package stdout

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/shineum/mailbridge/internal/email"
)

const separator = "========================================\n"

// Provider prints messages in a human-readable format. It is safe for
// concurrent use; each message is written as one block.
type Provider struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewWithWriter creates a Provider that writes to w.
func NewWithWriter(w io.Writer) *Provider {
	return &Provider{writer: w}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stdout"
}

// Send prints msg.
func (p *Provider) Send(_ context.Context, msg *email.Message) error {
	return p.write(format(msg, ""))
}

// SendAndSaveCopy prints msg followed by the folder the copy would be saved to.
func (p *Provider) SendAndSaveCopy(_ context.Context, msg *email.Message, folder email.WellKnownFolder) error {
	return p.write(format(msg, folder))
}

func (p *Provider) write(s string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := io.WriteString(p.writer, s); err != nil {
		return fmt.Errorf("stdout: write failed: %w", err)
	}
	return nil
}

func format(msg *email.Message, savedTo email.WellKnownFolder) string {
	var b strings.Builder

	b.WriteString(separator)
	if msg.From != nil {
		fmt.Fprintf(&b, "From: %s\n", msg.From)
	}
	fmt.Fprintf(&b, "To: %s\n", joinAddresses(msg.To))
	if len(msg.Cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s\n", joinAddresses(msg.Cc))
	}
	if len(msg.Bcc) > 0 {
		fmt.Fprintf(&b, "Bcc: %s\n", joinAddresses(msg.Bcc))
	}
	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	if ids := msg.HeaderValues("Message-Id"); len(ids) > 0 {
		fmt.Fprintf(&b, "Message-ID: %s\n", ids[0])
	}
	if len(msg.Headers) > 0 {
		fmt.Fprintf(&b, "Headers: %d\n", len(msg.Headers))
	}
	if savedTo != "" {
		fmt.Fprintf(&b, "Saved-To: %s\n", savedTo)
	}

	fmt.Fprintf(&b, "Body (%s):\n", msg.Body.Kind)
	b.WriteString(msg.Body.Text + "\n")

	if len(msg.Attachments) > 0 {
		attachments := make([]string, 0, len(msg.Attachments))
		for _, att := range msg.Attachments {
			desc := fmt.Sprintf("%s (%s)", att.Name, formatSize(att.Size()))
			if att.IsInline() {
				desc += " inline"
			}
			attachments = append(attachments, desc)
		}
		fmt.Fprintf(&b, "Attachments: %s\n", strings.Join(attachments, ", "))
	}

	b.WriteString(separator)
	return b.String()
}

func joinAddresses(list []email.Address) string {
	parts := make([]string, 0, len(list))
	for _, a := range list {
		parts = append(parts, a.String())
	}
	return strings.Join(parts, ", ")
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
