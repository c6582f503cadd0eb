package repository

import (
	"context"

	"github.com/teeline/settlement/internal/domain"
)

type outboxRepo struct {
	db DBTX
}

// Insert writes an outbox event.
func (r *outboxRepo) Insert(ctx context.Context, draft domain.OutboxDraft) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO event_outbox
		  (event_id, aggregate_type, aggregate_id, event_type, partition_key, headers, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		draft.EventID,
		string(draft.AggregateType),
		draft.AggregateID,
		string(draft.EventType),
		draft.PartitionKey,
		[]byte(draft.Headers),
		[]byte(draft.Payload),
		draft.OccurredAt,
	)
	if err != nil {
		return persistErr("insert outbox event", err)
	}
	return nil
}

func (r *outboxRepo) FetchUnpublished(ctx context.Context, limit int) ([]domain.OutboxRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, event_id, aggregate_type, aggregate_id, event_type,
		       partition_key, headers, payload, occurred_at
		FROM event_outbox
		WHERE published_at IS NULL
		ORDER BY id ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, persistErr("fetch unpublished events", err)
	}
	defer rows.Close()

	var events []domain.OutboxRecord
	for rows.Next() {
		var rec domain.OutboxRecord
		var aggType, evtType string
		var headers, payload []byte
		err := rows.Scan(&rec.SeqID, &rec.EventID, &aggType, &rec.AggregateID,
			&evtType, &rec.PartitionKey, &headers, &payload, &rec.OccurredAt)
		if err != nil {
			return nil, persistErr("scan outbox row", err)
		}
		rec.AggregateType = domain.AggregateType(aggType)
		rec.EventType = domain.EventType(evtType)
		rec.Headers = headers
		rec.Payload = payload
		events = append(events, rec)
	}
	return events, rows.Err()
}

func (r *outboxRepo) MarkPublished(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx, `UPDATE event_outbox SET published_at = now() WHERE id = ANY($1)`, ids)
	if err != nil {
		return persistErr("mark published", err)
	}
	return nil
}
