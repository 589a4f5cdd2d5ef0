package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/lalithlochan/solarops/internal/db"
)

var (
	errMissingTo      = fmt.Errorf("%w: email payload missing 'to' field", ErrRecipientRejected)
	errMissingSubject = fmt.Errorf("%w: email payload missing 'subject' field", ErrRecipientRejected)
	errMissingBody    = fmt.Errorf("%w: email payload missing 'html_body' field", ErrRecipientRejected)
)

// sesAPI is the part of the SES client the sender uses
type sesAPI interface {
	SendEmail(ctx context.Context, in *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESSender delivers customer emails through AWS SES
type SESSender struct {
	client sesAPI
	from   string
	logger *zap.Logger
}

type SESConfig struct {
	Region    string
	FromEmail string
	Endpoint  string
}

func NewSESSender(ctx context.Context, cfg SESConfig, logger *zap.Logger) (*SESSender, error) {
	if cfg.FromEmail == "" {
		return nil, errors.New("ses sender requires a from address")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config: %w", err)
	}
	return &SESSender{
		client: ses.NewFromConfig(awsCfg, func(o *ses.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
		}),
		from:   cfg.FromEmail,
		logger: logger,
	}, nil
}

// Send sends one HTML email. A text part is attached when the payload has one.
func (s *SESSender) Send(ctx context.Context, notif *db.Notification) error {
	if notif.Channel != db.ChannelEmail {
		return fmt.Errorf("SES sender only supports email, got: %s", notif.Channel)
	}

	var payload db.EmailPayload
	if err := json.Unmarshal(notif.Payload, &payload); err != nil {
		return fmt.Errorf("%w: invalid email payload: %v", ErrRecipientRejected, err)
	}

	switch {
	case payload.To == "":
		return errMissingTo
	case payload.Subject == "":
		return errMissingSubject
	case payload.HTMLBody == "":
		return errMissingBody
	}
	if _, err := mail.ParseAddress(payload.To); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrRecipientRejected, payload.To, err)
	}

	body := &types.Body{
		Html: &types.Content{
			Data:    aws.String(payload.HTMLBody),
			Charset: aws.String("UTF-8"),
		},
	}
	if payload.TextBody != "" {
		body.Text = &types.Content{
			Data:    aws.String(payload.TextBody),
			Charset: aws.String("UTF-8"),
		}
	}

	input := &ses.SendEmailInput{
		Source: aws.String(s.from),
		Destination: &types.Destination{
			ToAddresses: []string{payload.To},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(payload.Subject),
				Charset: aws.String("UTF-8"),
			},
			Body: body,
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		if rejectedBySES(err) {
			return fmt.Errorf("%w: ses send failed: %v", ErrRecipientRejected, err)
		}
		return fmt.Errorf("ses send failed: %w", err)
	}

	s.logger.Info("email sent via SES",
		zap.String("id", notif.ID.String()),
		zap.String("fault_id", notif.FaultID.String()),
		zap.String("to", payload.To),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)

	return nil
}

// rejectedBySES reports whether SES refused this message rather than failing as a
// relay. Throttling, paused sending and transport errors are relay failures.
func rejectedBySES(err error) bool {
	var rejected *types.MessageRejected
	if errors.As(err, &rejected) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "InvalidParameterValue"
	}
	return false
}

// SupportsChannel checks if this sender supports the email channel
func (s *SESSender) SupportsChannel(channel string) bool {
	return channel == db.ChannelEmail
}
