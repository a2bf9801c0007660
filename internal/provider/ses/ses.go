// Package ses implements a Provider that sends emails via AWS SES v2.
package ses

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/shineum/mailbridge/internal/email"
	"github.com/shineum/mailbridge/internal/provider"
)

const providerName = "ses"

// maxRetries is the maximum number of retry attempts for transient failures.
const maxRetries = 3

// baseRetryDelay is the initial delay for exponential backoff.
const baseRetryDelay = 1 * time.Second

// Config holds the configuration for creating an SES provider.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Sender          string
}

// SendEmailAPI is the subset of the SES v2 client used by Provider.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Provider sends messages via the AWS SES v2 API.
type Provider struct {
	sender string
	client SendEmailAPI
	delay  func(attempt int) time.Duration
}

// New creates an SES provider. Static credentials are used when both keys
// are set; otherwise the default AWS credential chain applies.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewWithClient(cfg.Sender, sesv2.NewFromConfig(awsCfg)), nil
}

// NewWithClient creates an SES provider around an existing client.
func NewWithClient(sender string, client SendEmailAPI) *Provider {
	return &Provider{
		sender: sender,
		client: client,
		delay:  backoffDelay,
	}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return providerName
}

// SendAndSaveCopy sends msg. SES keeps no mailbox, so no copy is stored.
func (p *Provider) SendAndSaveCopy(ctx context.Context, msg *email.Message, folder email.WellKnownFolder) error {
	slog.Warn("SES has no mailbox, sending without saving a copy", "folder", string(folder))
	return p.Send(ctx, msg)
}

// Send delivers msg. Messages with attachments or header properties are
// sent as raw MIME; anything else uses the SES simple format.
func (p *Provider) Send(ctx context.Context, msg *email.Message) error {
	input, err := p.buildInput(msg)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			slog.Debug("retrying SES API request",
				"attempt", attempt,
				"max_retries", maxRetries,
			)
			if err := sleepWithContext(ctx, p.delay(attempt)); err != nil {
				return fmt.Errorf("context cancelled during retry wait: %w", err)
			}
		}

		out, err := p.client.SendEmail(ctx, input)
		if err == nil {
			slog.Debug("SES accepted message", "message_id", aws.ToString(out.MessageId))
			return nil
		}

		if rejected := asRejected(err); rejected != nil {
			return rejected
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = err
		slog.Warn("SES API error",
			"attempt", attempt,
			"error", err,
		)
	}

	return fmt.Errorf("SES API request failed after %d retries: %w", maxRetries, lastErr)
}

func (p *Provider) buildInput(msg *email.Message) (*sesv2.SendEmailInput, error) {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(p.sender),
		Destination: &types.Destination{
			ToAddresses:  addressStrings(msg.To),
			CcAddresses:  addressStrings(msg.Cc),
			BccAddresses: addressStrings(msg.Bcc),
		},
	}

	if len(msg.Attachments) == 0 && len(msg.Headers) == 0 {
		if replyTo := p.replyTo(msg); replyTo != nil {
			input.ReplyToAddresses = []string{replyTo.String()}
		}
		input.Content = &types.EmailContent{Simple: buildSimpleContent(msg)}
		return input, nil
	}

	raw, err := buildRawMessage(p.sender, p.replyTo(msg), msg)
	if err != nil {
		return nil, fmt.Errorf("failed to build raw message: %w", err)
	}
	input.Content = &types.EmailContent{Raw: &types.RawMessage{Data: raw}}
	return input, nil
}

// replyTo returns the message From when it differs from the verified sender.
func (p *Provider) replyTo(msg *email.Message) *email.Address {
	if msg.From == nil || strings.EqualFold(msg.From.Address, p.sender) {
		return nil
	}
	return msg.From
}

// buildSimpleContent creates SES simple content for a message without
// attachments.
func buildSimpleContent(msg *email.Message) *types.Message {
	content := &types.Content{
		Data:    aws.String(msg.Body.Text),
		Charset: aws.String("UTF-8"),
	}

	body := &types.Body{}
	if msg.Body.Kind == email.BodyHTML {
		body.Html = content
	} else {
		body.Text = content
	}

	return &types.Message{
		Subject: &types.Content{
			Data:    aws.String(msg.Subject),
			Charset: aws.String("UTF-8"),
		},
		Body: body,
	}
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

// asRejected maps SES rejections that retrying cannot fix onto
// provider.RejectedError. It returns nil for any other error.
func asRejected(err error) *provider.RejectedError {
	var (
		rejected    *types.MessageRejected
		notVerified *types.MailFromDomainNotVerifiedException
		suspended   *types.AccountSuspendedException
		paused      *types.SendingPausedException
	)

	reject := func(code int, reason string) *provider.RejectedError {
		return &provider.RejectedError{Provider: providerName, Code: code, Reason: reason, Err: err}
	}

	switch {
	case errors.As(err, &rejected):
		return reject(554, rejected.ErrorMessage())
	case errors.As(err, &notVerified):
		return reject(550, notVerified.ErrorMessage())
	case errors.As(err, &suspended):
		return reject(554, suspended.ErrorMessage())
	case errors.As(err, &paused):
		return reject(451, paused.ErrorMessage())
	default:
		return nil
	}
}

// backoffDelay returns 1s, 2s, 4s for attempts 1, 2, 3.
func backoffDelay(attempt int) time.Duration {
	return baseRetryDelay << (attempt - 1)
}

// sleepWithContext waits for the specified duration or until the context is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
