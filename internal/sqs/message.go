package sqs

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lalithlochan/solarops/internal/db"
)

// ErrMalformedMessage is returned for a body that does not decode to a fault event
var ErrMalformedMessage = errors.New("malformed fault event message")

// Message is the body written to the queue
type Message struct {
	Event      *db.FaultEvent `json:"event"`
	EnqueuedAt int64          `json:"enqueued_at"`
}

// snsEnvelope is what SNS writes to a subscribed queue when raw delivery is off
type snsEnvelope struct {
	Type      string `json:"Type"`
	MessageID string `json:"MessageId"`
	TopicArn  string `json:"TopicArn"`
	Message   string `json:"Message"`
}

// decodeBody accepts both a plain Message and one wrapped by an SNS subscription
func decodeBody(body string) (*Message, error) {
	var env snsEnvelope
	if err := json.Unmarshal([]byte(body), &env); err == nil && env.Type == "Notification" && env.Message != "" {
		body = env.Message
	}

	var msg Message
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if msg.Event == nil {
		return nil, fmt.Errorf("%w: no event", ErrMalformedMessage)
	}
	return &msg, nil
}
