package cmd

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/shineum/mailbridge/internal/config"
	"github.com/shineum/mailbridge/internal/email"
	"github.com/shineum/mailbridge/internal/relay"
)

// translatedMessage is the YAML view of an outbound message.
type translatedMessage struct {
	Subject     string           `yaml:"subject"`
	From        string           `yaml:"from,omitempty"`
	To          []string         `yaml:"to,omitempty"`
	Cc          []string         `yaml:"cc,omitempty"`
	Bcc         []string         `yaml:"bcc,omitempty"`
	Body        translatedBody   `yaml:"body"`
	Headers     []translatedPair `yaml:"headers,omitempty"`
	Attachments []translatedFile `yaml:"attachments,omitempty"`
}

type translatedBody struct {
	Kind    string `yaml:"kind"`
	Content string `yaml:"content"`
}

type translatedPair struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

type translatedFile struct {
	Name        string `yaml:"name"`
	ContentType string `yaml:"content_type,omitempty"`
	ContentID   string `yaml:"content_id,omitempty"`
	Inline      bool   `yaml:"inline"`
	Size        int    `yaml:"size"`
}

func newTranslateCmd(load func() (*config.Config, error)) *cobra.Command {
	var file string

	translateCmd := &cobra.Command{
		Use:   "translate",
		Short: "Print the translated form of a message without sending it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			slog.SetDefault(newLogger(cmd.ErrOrStderr(), cfg.Logging))

			in, err := openInput(file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			defer in.Close()

			raw, err := io.ReadAll(in)
			if err != nil {
				return fmt.Errorf("failed to read input: %w", err)
			}

			msg, err := relay.Translate(raw)
			if err != nil {
				return err
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(newTranslatedMessage(msg)); err != nil {
				return fmt.Errorf("failed to encode message: %w", err)
			}
			return enc.Close()
		},
	}

	translateCmd.Flags().StringVarP(&file, "file", "f", "", `RFC 5322 message file ("-" for stdin)`)
	_ = translateCmd.MarkFlagRequired("file")

	return translateCmd
}

func newTranslatedMessage(msg *email.Message) translatedMessage {
	out := translatedMessage{
		Subject: msg.Subject,
		To:      addressStrings(msg.To),
		Cc:      addressStrings(msg.Cc),
		Bcc:     addressStrings(msg.Bcc),
		Body: translatedBody{
			Kind:    msg.Body.Kind.String(),
			Content: msg.Body.Text,
		},
	}
	if msg.From != nil {
		out.From = msg.From.String()
	}
	for _, h := range msg.Headers {
		out.Headers = append(out.Headers, translatedPair{Name: h.Name, Value: h.Value})
	}
	for _, a := range msg.Attachments {
		out.Attachments = append(out.Attachments, translatedFile{
			Name:        a.Name,
			ContentType: a.ContentType,
			ContentID:   a.ContentID,
			Inline:      a.IsInline(),
			Size:        a.Size(),
		})
	}
	return out
}

func addressStrings(list []email.Address) []string {
	if len(list) == 0 {
		return nil
	}
	result := make([]string, 0, len(list))
	for _, a := range list {
		result = append(result, a.String())
	}
	return result
}
