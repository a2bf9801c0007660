package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/emersion/go-mbox"
	"github.com/emersion/go-message/mail"
	"github.com/spf13/cobra"

	"github.com/shineum/mailbridge/internal/config"
	"github.com/shineum/mailbridge/internal/parser"
	"github.com/shineum/mailbridge/internal/relay"
	"github.com/shineum/mailbridge/internal/source"
	"github.com/shineum/mailbridge/internal/transport"
)

type sendOptions struct {
	file     string
	mboxFile string
	to       []string
	cc       []string
	bcc      []string
	saveCopy bool
}

// recipientOverrides holds parsed --to, --cc and --bcc values.
type recipientOverrides struct {
	to, cc, bcc []source.Address
}

func newSendCmd(load func() (*config.Config, error)) *cobra.Command {
	var opts sendOptions

	sendCmd := &cobra.Command{
		Use:   "send",
		Short: "Submit messages without running the SMTP relay",
		Long: `Submit a single RFC 5322 message (--file) or every message of an mbox
archive (--mbox) through the configured provider. Use "-" to read from
standard input.

Recipient flags replace the corresponding header list of every message.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			slog.SetDefault(newLogger(cmd.ErrOrStderr(), cfg.Logging))

			if cmd.Flags().Changed("save-copy") {
				cfg.Transport.SaveCopy = opts.saveCopy
			}

			overrides, err := opts.overrides()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			prov, err := newProvider(ctx, cfg, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			r := relay.New(transport.NewExecutor(prov, cfg.Transport.SaveCopy))

			if opts.file != "" {
				in, err := openInput(opts.file, cmd.InOrStdin())
				if err != nil {
					return err
				}
				defer in.Close()
				return sendOne(ctx, r, in, overrides)
			}

			in, err := openInput(opts.mboxFile, cmd.InOrStdin())
			if err != nil {
				return err
			}
			defer in.Close()

			sent, total, err := sendMbox(ctx, r, in, overrides)
			fmt.Fprintf(cmd.ErrOrStderr(), "sent %d of %d messages\n", sent, total)
			return err
		},
	}

	sendCmd.Flags().StringVarP(&opts.file, "file", "f", "", "RFC 5322 message file")
	sendCmd.Flags().StringVar(&opts.mboxFile, "mbox", "", "mbox archive")
	sendCmd.Flags().StringSliceVar(&opts.to, "to", nil, "replace the To recipients")
	sendCmd.Flags().StringSliceVar(&opts.cc, "cc", nil, "replace the Cc recipients")
	sendCmd.Flags().StringSliceVar(&opts.bcc, "bcc", nil, "replace the Bcc recipients")
	sendCmd.Flags().BoolVar(&opts.saveCopy, "save-copy", false, "save a copy to Sent Items (overrides transport.save_copy)")
	sendCmd.MarkFlagsOneRequired("file", "mbox")
	sendCmd.MarkFlagsMutuallyExclusive("file", "mbox")

	return sendCmd
}

func (o sendOptions) overrides() (recipientOverrides, error) {
	var (
		result recipientOverrides
		err    error
	)
	if result.to, err = parseAddresses(o.to); err != nil {
		return result, fmt.Errorf("invalid --to: %w", err)
	}
	if result.cc, err = parseAddresses(o.cc); err != nil {
		return result, fmt.Errorf("invalid --cc: %w", err)
	}
	if result.bcc, err = parseAddresses(o.bcc); err != nil {
		return result, fmt.Errorf("invalid --bcc: %w", err)
	}
	return result, nil
}

func parseAddresses(list []string) ([]source.Address, error) {
	if len(list) == 0 {
		return nil, nil
	}
	result := make([]source.Address, 0, len(list))
	for _, s := range list {
		addr, err := mail.ParseAddress(s)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", s, err)
		}
		result = append(result, source.Structured(addr.Name, addr.Address))
	}
	return result, nil
}

func openInput(path string, stdin io.Reader) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	return f, nil
}

func sendOne(ctx context.Context, r *relay.Relay, in io.Reader, o recipientOverrides) error {
	msg, err := parser.Read(in)
	if err != nil {
		return fmt.Errorf("%w: %v", relay.ErrMalformedMessage, err)
	}
	return r.DeliverMessage(ctx, msg, o.to, o.cc, o.bcc)
}

// sendMbox submits every message of an mbox archive. A message that fails
// is logged and skipped; the failures are joined into the returned error.
func sendMbox(ctx context.Context, r *relay.Relay, in io.Reader, o recipientOverrides) (sent, total int, err error) {
	reader := mbox.NewReader(in)
	var errs []error

	for {
		if err := ctx.Err(); err != nil {
			return sent, total, errors.Join(append(errs, err)...)
		}

		msgReader, err := reader.NextMessage()
		if err == io.EOF {
			break
		}
		if err != nil {
			return sent, total, errors.Join(append(errs, fmt.Errorf("failed to read mbox: %w", err))...)
		}
		total++

		if err := sendOne(ctx, r, msgReader, o); err != nil {
			slog.Warn("failed to send mbox message", "index", total, "error", err)
			errs = append(errs, fmt.Errorf("message %d: %w", total, err))
			continue
		}
		sent++
	}

	return sent, total, errors.Join(errs...)
}
