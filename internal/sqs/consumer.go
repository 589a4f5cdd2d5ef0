package sqs

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/lalithlochan/solarops/internal/db"
)

// Delivery is one received queue message
type Delivery struct {
	MessageID     string
	ReceiptHandle string
	ReceiveCount  int
	Event         *db.FaultEvent
}

// Consumer long-polls the queue for fault events.
type Consumer struct {
	client            sqsAPI
	queueURL          string
	waitSeconds       int32
	visibilityTimeout int32
	logger            *zap.Logger
}

// NewConsumer creates a new SQS consumer.
func NewConsumer(ctx context.Context, cfg Config, logger *zap.Logger) (*Consumer, error) {
	client, err := newClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	logger.Info("sqs consumer initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return &Consumer{
		client:            client,
		queueURL:          cfg.QueueURL,
		waitSeconds:       20,
		visibilityTimeout: 60,
		logger:            logger,
	}, nil
}

// ReceiveEvent waits for one message. It returns nil, nil when the long poll
// times out empty. A body that cannot be decoded is returned together with
// ErrMalformedMessage so the caller still holds its receipt handle.
func (c *Consumer) ReceiveEvent(ctx context.Context) (*Delivery, error) {
	input := &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     c.waitSeconds,
		VisibilityTimeout:   c.visibilityTimeout,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	}

	result, err := c.client.ReceiveMessage(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("sqs receive failed: %w", err)
	}

	if len(result.Messages) == 0 {
		return nil, nil
	}

	raw := result.Messages[0]
	d := &Delivery{
		MessageID:     aws.ToString(raw.MessageId),
		ReceiptHandle: aws.ToString(raw.ReceiptHandle),
	}
	if n, err := strconv.Atoi(raw.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]); err == nil {
		d.ReceiveCount = n
	}

	msg, err := decodeBody(aws.ToString(raw.Body))
	if err != nil {
		c.logger.Error("failed to decode message",
			zap.Error(err),
			zap.String("message_id", d.MessageID),
		)
		return d, err
	}
	d.Event = msg.Event

	return d, nil
}

// DeleteMessage removes a message from SQS after it has been handled.
func (c *Consumer) DeleteMessage(ctx context.Context, receiptHandle string) error {
	input := &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	}

	if _, err := c.client.DeleteMessage(ctx, input); err != nil {
		return fmt.Errorf("sqs delete failed: %w", err)
	}

	return nil
}
