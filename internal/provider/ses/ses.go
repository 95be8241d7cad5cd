// Package ses implements a Provider that submits raw MIME messages via AWS
// SES v2.
package ses

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/shineum/smtp-mailer-lite/internal/message"
)

// Config holds the configuration for creating a Provider.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string

	// Sender overrides the envelope sender. The message's From header is
	// not changed.
	Sender string
}

// Provider sends messages through the SES v2 SendEmail API.
type Provider struct {
	sender string
	client SendEmailAPI
	logger *slog.Logger
}

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// New creates a Provider. Static credentials are used when both keys are
// set, the default AWS credential chain otherwise.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Provider, error) {
	var opts []func(*awsconfig.LoadOptions) error

	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewWithClient(cfg.Sender, sesv2.NewFromConfig(awsCfg), logger), nil
}

// NewWithClient creates a Provider with a custom client, used for testing.
func NewWithClient(sender string, client SendEmailAPI, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		sender: sender,
		client: client,
		logger: logger,
	}
}

// Send submits the encoded message as-is. Recipients, Bcc included, are
// passed as the destination since the headers never name Bcc addresses.
func (p *Provider) Send(ctx context.Context, msg *message.Message) error {
	out, err := p.client.SendEmail(ctx, buildRawInput(p.sender, msg))
	if err != nil {
		return fmt.Errorf("SES SendEmail failed: %w", err)
	}

	p.logger.Info("message sent",
		"provider", p.Name(),
		"message_id", aws.ToString(out.MessageId),
		"recipients", len(msg.Recipients),
	)
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "ses"
}

func buildRawInput(sender string, msg *message.Message) *sesv2.SendEmailInput {
	from := sender
	if from == "" {
		from = msg.From
	}

	return &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination: &types.Destination{
			ToAddresses:  msg.To,
			CcAddresses:  msg.Cc,
			BccAddresses: msg.Bcc,
		},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{
				Data: msg.Bytes(),
			},
		},
	}
}
