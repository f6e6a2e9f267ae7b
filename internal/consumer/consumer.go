// Package consumer receives batch envelopes of Verify-KO events from a
// NATS JetStream work queue and drives the ingestion service. It owns
// the redelivery signaling: a failed invocation is NAK-ed with an
// exponentially growing delay so the identical batch comes back.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/pagopa/pagopa-nodo-verifyko-to-tablestorage/internal/logging"
	"github.com/pagopa/pagopa-nodo-verifyko-to-tablestorage/internal/service"
)

// InvocationIDHeader carries the publisher-assigned correlation ID. A
// UUID is generated when the publisher sets none.
const InvocationIDHeader = "Invocation-Id"

const (
	baseRetryDelay = 10 * time.Minute
	maxRetryDelay  = 24 * time.Hour
)

// Envelope is the wire shape of one delivered batch: an ordered sequence
// of raw event bodies and the positionally matching side-channel
// property maps. Events are kept as raw bytes so the archived body is
// byte-identical to what was published.
type Envelope struct {
	Events     []json.RawMessage `json:"events"`
	Properties []map[string]any  `json:"properties"`
}

// Ingester processes one invocation; an error requests redelivery.
type Ingester interface {
	Ingest(ctx context.Context, inv service.Invocation) error
}

// Config holds the JetStream wiring for the event stream.
type Config struct {
	URL           string
	Stream        string
	Subject       string
	ConsumerName  string
	AckWait       time.Duration
	MaxAckPending int
}

// Consumer binds a durable JetStream consumer to the ingestion service.
type Consumer struct {
	conn     *nats.Conn
	consumer jetstream.Consumer
	svc      Ingester
	logger   *logging.Logger
}

// New connects to NATS and ensures the stream and durable consumer
// exist. MaxDeliver is the first delivery plus the retry budget, so the
// delivery layer abandons a batch after service.MaxRetryCount retries.
func New(ctx context.Context, cfg Config, svc Ingester, logger *logging.Logger) (*Consumer, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name("verifyko-ingester"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.Stream,
		Subjects:  []string{cfg.Subject},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create/update stream %s: %w", cfg.Stream, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          cfg.ConsumerName,
		Durable:       cfg.ConsumerName,
		FilterSubject: cfg.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       cfg.AckWait,
		MaxDeliver:    service.MaxRetryCount + 1,
		MaxAckPending: cfg.MaxAckPending,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create/update consumer %s: %w", cfg.ConsumerName, err)
	}

	return &Consumer{
		conn:     conn,
		consumer: cons,
		svc:      svc,
		logger:   logger,
	}, nil
}

// Start begins consuming envelopes. The returned stop function drains
// the consumer and closes the connection.
func (c *Consumer) Start(ctx context.Context) (func(), error) {
	consumeCtx, err := c.consumer.Consume(func(msg jetstream.Msg) {
		c.handle(ctx, msg)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	return func() {
		consumeCtx.Stop()
		c.conn.Close()
	}, nil
}

func (c *Consumer) handle(ctx context.Context, msg jetstream.Msg) {
	inv := service.Invocation{ID: invocationID(msg)}
	if meta, err := msg.Metadata(); err == nil {
		inv.RetryIndex = int(meta.NumDelivered) - 1
	}

	ctx = logging.WithInvocationID(ctx, inv.ID)

	var env Envelope
	if err := json.Unmarshal(msg.Data(), &env); err != nil {
		// A malformed envelope cannot improve on redelivery; keep the
		// at-least-once contract anyway and let the delivery budget
		// expire it.
		c.logger.ErrorContext(ctx, "[ALERT][VerifyKOToTS] malformed batch envelope", "error", err)
		c.nak(ctx, msg, inv.RetryIndex)
		return
	}

	inv.Events = make([]string, len(env.Events))
	for i, raw := range env.Events {
		inv.Events[i] = string(raw)
	}
	inv.Properties = env.Properties

	if err := c.svc.Ingest(ctx, inv); err != nil {
		c.nak(ctx, msg, inv.RetryIndex)
		return
	}

	if err := msg.Ack(); err != nil {
		c.logger.WarnContext(ctx, "failed to ack processed batch", "error", err)
	}
}

func (c *Consumer) nak(ctx context.Context, msg jetstream.Msg, retryIndex int) {
	delay := RetryDelay(retryIndex)
	c.logger.WarnContext(ctx, "scheduling batch redelivery",
		"retry_index", retryIndex,
		"delay", delay.String(),
	)
	if err := msg.NakWithDelay(delay); err != nil {
		c.logger.WarnContext(ctx, "failed to nak batch", "error", err)
	}
}

func invocationID(msg jetstream.Msg) string {
	if headers := msg.Headers(); headers != nil {
		if id := headers.Get(InvocationIDHeader); id != "" {
			return id
		}
	}
	return uuid.New().String()
}

// RetryDelay returns the redelivery backoff for a given retry index:
// 10m doubling per attempt, capped at 24h (10m, 20m, 40m, 1h20m, 2h40m,
// 5h20m, 10h40m across the full retry budget).
func RetryDelay(retryIndex int) time.Duration {
	if retryIndex < 0 {
		retryIndex = 0
	}
	if retryIndex > 10 {
		return maxRetryDelay
	}
	delay := baseRetryDelay << uint(retryIndex)
	if delay > maxRetryDelay {
		return maxRetryDelay
	}
	return delay
}
