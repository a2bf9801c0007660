/*
Package cmd provides the CLI commands for mailbridge.
*/
package cmd

import (
	"context"
	"io"
	"log/slog"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/shineum/mailbridge/internal/config"
)

// Execute builds the command tree and runs it.
func Execute() error {
	return NewRootCmd().ExecuteContext(context.Background())
}

// NewRootCmd returns the mailbridge root command with every subcommand
// attached.
func NewRootCmd() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "mailbridge",
		Short: "Relay RFC 5322 mail to Microsoft Graph, AWS SES or stdout",
		Long: `mailbridge accepts RFC 5322 messages, flattens their MIME tree into a
single body plus attachments and submits them to a mail-sending service.

Example:
  mailbridge serve                          # Run the SMTP relay
  mailbridge send --file msg.eml --to a@b   # Submit one message directly
  mailbridge send --mbox archive.mbox       # Submit every message in an mbox
  mailbridge translate --file msg.eml       # Show the translated message`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to YAML configuration file (optional)")

	load := func() (*config.Config, error) {
		return loadConfig(cfgFile)
	}

	rootCmd.AddCommand(newServeCmd(load))
	rootCmd.AddCommand(newSendCmd(load))
	rootCmd.AddCommand(newTranslateCmd(load))

	return rootCmd
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given, then validates it.
func loadConfig(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFromFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger returns a slog logger backed by a charmbracelet/log handler
// writing to w in the configured format.
func newLogger(w io.Writer, cfg config.LoggingConfig) *slog.Logger {
	level, err := charmlog.ParseLevel(cfg.Level)
	if err != nil {
		level = charmlog.InfoLevel
	}

	formatter := charmlog.JSONFormatter
	switch cfg.Format {
	case "logfmt":
		formatter = charmlog.LogfmtFormatter
	case "text":
		formatter = charmlog.TextFormatter
	}

	handler := charmlog.NewWithOptions(w, charmlog.Options{
		Level:           level,
		Formatter:       formatter,
		ReportTimestamp: true,
	})
	return slog.New(handler)
}
