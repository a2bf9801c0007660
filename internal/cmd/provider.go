package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/shineum/mailbridge/internal/config"
	"github.com/shineum/mailbridge/internal/provider"
	"github.com/shineum/mailbridge/internal/provider/graph"
	"github.com/shineum/mailbridge/internal/provider/ses"
	"github.com/shineum/mailbridge/internal/provider/stdout"
)

// newProvider builds the delivery backend selected by cfg. The stdout
// provider writes to out.
func newProvider(ctx context.Context, cfg *config.Config, out io.Writer) (provider.Provider, error) {
	switch name := cfg.ResolvedProvider(); name {
	case config.ProviderGraph:
		merge, err := graph.ParseHeaderMerge(cfg.Graph.HeaderMerge)
		if err != nil {
			return nil, err
		}
		slog.Info("using Microsoft Graph provider",
			"sender", cfg.Graph.Sender,
			"header_merge", merge,
		)
		return graph.New(graph.Config{
			TenantID:     cfg.Graph.TenantID,
			ClientID:     cfg.Graph.ClientID,
			ClientSecret: cfg.Graph.ClientSecret,
			Sender:       cfg.Graph.Sender,
			HeaderMerge:  merge,
			Timeout:      cfg.Graph.Timeout,
		}), nil

	case config.ProviderSES:
		slog.Info("using AWS SES provider",
			"region", cfg.SES.Region,
			"sender", cfg.SES.Sender,
		)
		p, err := ses.New(ctx, ses.Config{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
			Sender:          cfg.SES.Sender,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create SES provider: %w", err)
		}
		return p, nil

	case config.ProviderStdout:
		slog.Info("using stdout provider")
		return stdout.NewWithWriter(out), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}
