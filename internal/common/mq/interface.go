package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Producer publishes messages to a topic.
type Producer interface {
	Publish(ctx context.Context, topic string, message *Message) error
	Close() error
}

// Message is one record on a topic. Records sharing a Key land on the same partition.
type Message struct {
	Key       string
	Body      []byte
	Headers   map[string]string
	Timestamp time.Time
}

// NewJSONMessage encodes v as the body of a message keyed by key.
func NewJSONMessage(key string, v interface{}) (*Message, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode message body failed: %w", err)
	}
	return &Message{Key: key, Body: body, Timestamp: time.Now()}, nil
}

// WithHeader sets a header and returns m for chaining.
func (m *Message) WithHeader(key, value string) *Message {
	if m.Headers == nil {
		m.Headers = make(map[string]string)
	}
	m.Headers[key] = value
	return m
}
