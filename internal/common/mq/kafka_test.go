package mq

import (
	"testing"
	"time"
)

func TestToKafkaMessage(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msg := (&Message{
		Key:       "sub-1",
		Body:      []byte(`{"status":"accepted"}`),
		Timestamp: ts,
	}).WithHeader("event", "verdict.final")

	km := toKafkaMessage("judge.verdict.final", msg)
	if km.Topic != "judge.verdict.final" {
		t.Fatalf("topic = %q", km.Topic)
	}
	if string(km.Key) != "sub-1" {
		t.Fatalf("key = %q", km.Key)
	}
	if !km.Time.Equal(ts) {
		t.Fatalf("time = %v", km.Time)
	}

	headers := make(map[string]string, len(km.Headers))
	for _, h := range km.Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers["event"] != "verdict.final" {
		t.Fatalf("custom header missing: %v", headers)
	}
	if headers[headerKey] != "sub-1" {
		t.Fatalf("key header missing: %v", headers)
	}
	if headers[headerTimestamp] != ts.Format(time.RFC3339Nano) {
		t.Fatalf("timestamp header = %q", headers[headerTimestamp])
	}
}

func TestNewKafkaProducerRequiresBrokers(t *testing.T) {
	if _, err := NewKafkaProducer(KafkaConfig{}); err == nil {
		t.Fatalf("expected error without brokers")
	}
}

func TestNewJSONMessage(t *testing.T) {
	msg, err := NewJSONMessage("sub-2", map[string]int{"passed": 3})
	if err != nil {
		t.Fatalf("new message: %v", err)
	}
	if msg.Key != "sub-2" || string(msg.Body) != `{"passed":3}` || msg.Timestamp.IsZero() {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if _, err := NewJSONMessage("bad", make(chan int)); err == nil {
		t.Fatalf("expected encode error")
	}

	km := toKafkaMessage("t", &Message{Body: []byte("x")})
	if km.Time.IsZero() {
		t.Fatalf("zero timestamp should default to now")
	}
	for _, h := range km.Headers {
		if h.Key == headerKey {
			t.Fatalf("unkeyed message should not carry a key header")
		}
	}
}
