package sns

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"

	"github.com/lalithlochan/solarops/internal/db"
	"github.com/lalithlochan/solarops/internal/sqs"
)

// Config holds SNS configuration. Endpoint overrides the AWS endpoint, for LocalStack.
type Config struct {
	Region   string
	TopicARN string
	Endpoint string
}

type snsAPI interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Publisher fans fault events out through a topic. The notifier's queue is one
// subscriber; other consumers can subscribe with a filter policy on the
// tenant_id and kind attributes.
type Publisher struct {
	client   snsAPI
	topicARN string
	logger   *zap.Logger
}

// NewPublisher creates an SNS publisher for the given topic
func NewPublisher(ctx context.Context, cfg Config, logger *zap.Logger) (*Publisher, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	logger.Info("sns publisher initialized",
		zap.String("topic_arn", cfg.TopicARN),
	)

	return &Publisher{
		client:   client,
		topicARN: cfg.TopicARN,
		logger:   logger,
	}, nil
}

// PublishFaultEvent publishes the event in the same body format the queue
// consumer reads, and returns the SNS message id
func (p *Publisher) PublishFaultEvent(ctx context.Context, ev *db.FaultEvent) (string, error) {
	payload, err := json.Marshal(sqs.Message{Event: ev, EnqueuedAt: time.Now().UnixNano()})
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(string(payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"kind": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(ev.Kind)),
			},
			"tenant_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(ev.TenantID.String()),
			},
		},
	}

	result, err := p.client.Publish(ctx, input)
	if err != nil {
		p.logger.Error("failed to publish fault event",
			zap.Error(err),
			zap.String("event_id", ev.EventID),
		)
		return "", fmt.Errorf("failed to publish to SNS: %w", err)
	}

	return aws.ToString(result.MessageId), nil
}
