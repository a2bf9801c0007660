package cmd

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shineum/mailbridge/internal/config"
	"github.com/shineum/mailbridge/internal/relay"
	"github.com/shineum/mailbridge/internal/smtp"
	smtptls "github.com/shineum/mailbridge/internal/tls"
	"github.com/shineum/mailbridge/internal/transport"
)

func newServeCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the SMTP relay",
		Long: `Run an SMTP server that relays every accepted message to the
configured provider. Envelope recipients missing from the To and Cc
headers are delivered as Bcc.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			slog.SetDefault(newLogger(cmd.OutOrStdout(), cfg.Logging))

			tlsConfig, err := smtptls.LoadOrGenerateTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.SMTP.Hostname)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, os.Interrupt)
			defer stop()

			prov, err := newProvider(ctx, cfg, cmd.OutOrStdout())
			if err != nil {
				return err
			}

			server := smtp.New(smtp.ServerConfig{
				ListenAddr:     cfg.SMTP.Listen,
				Hostname:       cfg.SMTP.Hostname,
				Deliverer:      relay.New(transport.NewExecutor(prov, cfg.Transport.SaveCopy)),
				TLSConfig:      tlsConfig,
				AuthUsername:   cfg.SMTP.Username,
				AuthPassword:   cfg.SMTP.Password,
				MaxMessageSize: cfg.SMTP.MaxMessageSize,
			})

			slog.Info("starting mailbridge",
				"listen", cfg.SMTP.Listen,
				"provider", prov.Name(),
				"auth_enabled", cfg.AuthEnabled(),
				"save_copy", cfg.Transport.SaveCopy,
			)

			// Blocks until a signal or the parent context stops it.
			if err := server.ListenAndServe(ctx); err != nil {
				return err
			}

			slog.Info("mailbridge stopped")
			return nil
		},
	}
}
