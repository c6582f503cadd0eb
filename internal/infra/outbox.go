package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/teeline/settlement/internal/domain"
)

// OutboxSource is the slice of the outbox repository the relay needs.
type OutboxSource interface {
	FetchUnpublished(ctx context.Context, limit int) ([]domain.OutboxRecord, error)
	MarkPublished(ctx context.Context, ids []int64) error
}

// RelayMessage is one outbox event rendered for a sink.
type RelayMessage struct {
	Topic     string
	Key       []byte
	Value     []byte
	EventID   string
	EventType string
}

// Publisher is a relay sink.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, msg RelayMessage) error
}

// OutboxRelay polls the event_outbox table and publishes events to every sink.
// Events are relayed in sequence order; a failed publish stops the batch so later
// events are not delivered ahead of it.
type OutboxRelay struct {
	source      OutboxSource
	sinks       []Publisher
	logger      *slog.Logger
	interval    time.Duration
	batchSize   int
	topicPrefix string
}

// NewOutboxRelay creates a new outbox relay.
func NewOutboxRelay(source OutboxSource, sinks []Publisher, topicPrefix string, interval time.Duration, batchSize int, logger *slog.Logger) *OutboxRelay {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &OutboxRelay{
		source:      source,
		sinks:       sinks,
		logger:      logger,
		interval:    interval,
		batchSize:   batchSize,
		topicPrefix: topicPrefix,
	}
}

// Run polls until ctx is cancelled.
func (p *OutboxRelay) Run(ctx context.Context) {
	p.logger.Info("outbox relay started", "interval", p.interval, "batch_size", p.batchSize, "sinks", len(p.sinks))

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("outbox relay stopped")
			return
		case <-ticker.C:
			if _, err := p.PollOnce(ctx); err != nil {
				p.logger.Error("outbox poll error", "error", err)
			}
		}
	}
}

// PollOnce relays one batch and returns how many events were marked published.
func (p *OutboxRelay) PollOnce(ctx context.Context) (int, error) {
	events, err := p.source.FetchUnpublished(ctx, p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	ids := make([]int64, 0, len(events))
	var publishErr error
	for _, e := range events {
		if err := p.publish(ctx, e); err != nil {
			publishErr = err
			break
		}
		ids = append(ids, e.SeqID)
	}

	if len(ids) > 0 {
		if err := p.source.MarkPublished(ctx, ids); err != nil {
			return 0, fmt.Errorf("mark published: %w", err)
		}
		p.logger.Debug("outbox batch relayed", "published", len(ids))
	}
	return len(ids), publishErr
}

func (p *OutboxRelay) publish(ctx context.Context, e domain.OutboxRecord) error {
	msg, err := p.render(e)
	if err != nil {
		return err
	}
	for _, sink := range p.sinks {
		if err := sink.Publish(ctx, msg); err != nil {
			p.logger.Error("outbox publish failed",
				"sink", sink.Name(), "event_id", e.EventID, "event_type", e.EventType, "error", err)
			return fmt.Errorf("publish %s to %s: %w", e.EventID, sink.Name(), err)
		}
	}
	return nil
}

func (p *OutboxRelay) render(e domain.OutboxRecord) (RelayMessage, error) {
	value, err := json.Marshal(map[string]interface{}{
		"event_id":       e.EventID,
		"aggregate_type": e.AggregateType,
		"aggregate_id":   e.AggregateID,
		"event_type":     e.EventType,
		"headers":        e.Headers,
		"payload":        e.Payload,
		"occurred_at":    e.OccurredAt,
	})
	if err != nil {
		return RelayMessage{}, fmt.Errorf("encode event %s: %w", e.EventID, err)
	}

	key := e.PartitionKey
	if key == "" {
		key = e.AggregateID
	}
	return RelayMessage{
		Topic:     e.Topic(p.topicPrefix),
		Key:       []byte(key),
		Value:     value,
		EventID:   e.EventID.String(),
		EventType: string(e.EventType),
	}, nil
}
