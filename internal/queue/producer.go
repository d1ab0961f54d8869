package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"basegraph.app/statetrail/internal/model"
)

// TransitionMessage announces a committed state change.
type TransitionMessage struct {
	TransitionID int64
	Identifier   string
	FromState    string
	ToState      string
	Kind         model.TransitionKind
	OccurredAt   time.Time
	TraceID      *string
}

func NewTransitionMessage(t model.StateTransition, traceID string) TransitionMessage {
	msg := TransitionMessage{
		TransitionID: t.ID,
		Identifier:   t.Identifier,
		FromState:    t.FromState,
		ToState:      t.ToState,
		Kind:         t.Kind,
		OccurredAt:   t.OccurredAt,
	}
	if traceID != "" {
		msg.TraceID = &traceID
	}
	return msg
}

type Producer interface {
	Publish(ctx context.Context, msg TransitionMessage) error
	Close() error
}

// streamClient is the subset of *redis.Client the producer needs.
type streamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Close() error
}

type redisProducer struct {
	client streamClient
	stream string
	logger *slog.Logger
}

func NewRedisProducer(client streamClient, stream string, logger *slog.Logger) Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisProducer{
		client: client,
		stream: stream,
		logger: logger,
	}
}

func (p *redisProducer) Publish(ctx context.Context, msg TransitionMessage) error {
	fields := map[string]any{
		"transition_id": strconv.FormatInt(msg.TransitionID, 10),
		"identifier":    msg.Identifier,
		"from_state":    msg.FromState,
		"to_state":      msg.ToState,
		"kind":          string(msg.Kind),
		"occurred_at":   msg.OccurredAt.UTC().Format(time.RFC3339Nano),
	}

	if msg.TraceID != nil && *msg.TraceID != "" {
		fields["trace_id"] = *msg.TraceID
	}

	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: fields,
	}).Result()
	if err != nil {
		return fmt.Errorf("publish transition: %w", err)
	}

	p.logger.InfoContext(ctx, "published transition", "stream_id", id, "identifier", msg.Identifier, "from_state", msg.FromState, "to_state", msg.ToState)
	return nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}

type noopProducer struct{}

// NewNoopProducer discards messages. Used when no Redis URL is configured.
func NewNoopProducer() Producer {
	return noopProducer{}
}

func (noopProducer) Publish(context.Context, TransitionMessage) error { return nil }

func (noopProducer) Close() error { return nil }
