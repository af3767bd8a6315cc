package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"

	"github.com/Additional-Code/orderpipe/internal/config"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("expected a write deadline")
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaClient_Publish(t *testing.T) {
	w := &fakeWriter{}
	c := &kafkaClient{writer: w, topic: "orders.pipeline.runs", timeout: time.Second, logger: zap.NewNop()}

	err := c.Publish(context.Background(), Message{
		Key:     []byte("run-1"),
		Value:   []byte(`{"status":"succeeded"}`),
		Headers: map[string]string{"strategy": "chunked"},
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(w.msgs))
	}
	got := w.msgs[0]
	if string(got.Key) != "run-1" || got.Topic != "" {
		t.Fatalf("unexpected message: %+v", got)
	}
	if len(got.Headers) != 1 || got.Headers[0].Key != "strategy" || string(got.Headers[0].Value) != "chunked" {
		t.Fatalf("unexpected headers: %+v", got.Headers)
	}
}

func TestKafkaClient_PublishError(t *testing.T) {
	boom := errors.New("broker down")
	c := &kafkaClient{writer: &fakeWriter{err: boom}, topic: "t", logger: zap.NewNop()}
	if err := c.Publish(context.Background(), Message{}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped broker error, got %v", err)
	}
}

func TestNewClient_DisabledIsNoop(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	cfg := config.Config{Messaging: config.Messaging{Driver: "kafka", Kafka: config.Kafka{Topic: "runs"}}}

	c, err := NewClient(lc, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, ok := c.(noopClient); !ok || c.Topic() != "runs" {
		t.Fatalf("expected noop client, got %T", c)
	}
	if err := c.Publish(context.Background(), Message{}); err != nil {
		t.Fatalf("noop publish: %v", err)
	}

	cfg.Messaging.Enabled = true
	cfg.Messaging.Driver = "nats"
	if _, err := NewClient(lc, cfg, zap.NewNop()); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}
