package repository

import (
	"context"
	"fmt"

	"github.com/attaboy/adaptiveauth/internal/domain"
	"github.com/jackc/pgx/v5"
)

const insertOutboxSQL = `
	INSERT INTO event_outbox
	  ("eventId", "aggregateType", "aggregateId", "eventType", "partitionKey", "headers", "payload", "occurredAt")
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

type outboxRepo struct{}

// NewOutboxRepository returns a pgx-backed OutboxRepository.
func NewOutboxRepository() OutboxRepository {
	return &outboxRepo{}
}

// Insert writes one outbox event using the camelCase column names shared
// with the relay.
func (r *outboxRepo) Insert(ctx context.Context, db DBTX, draft domain.OutboxDraft) error {
	if _, err := db.Exec(ctx, insertOutboxSQL, outboxArgs(draft)...); err != nil {
		return fmt.Errorf("insert outbox event %s: %w", draft.EventType, err)
	}
	return nil
}

// InsertBatch writes drafts in one round trip, in order.
func (r *outboxRepo) InsertBatch(ctx context.Context, tx pgx.Tx, drafts []domain.OutboxDraft) error {
	if len(drafts) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, d := range drafts {
		b.Queue(insertOutboxSQL, outboxArgs(d)...)
	}
	results := tx.SendBatch(ctx, b)
	for _, d := range drafts {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("insert outbox event %s: %w", d.EventType, err)
		}
	}
	return results.Close()
}

// Pending counts events not yet relayed.
func (r *outboxRepo) Pending(ctx context.Context, db DBTX) (int, error) {
	var n int
	if err := db.QueryRow(ctx, `SELECT COUNT(*) FROM event_outbox`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending events: %w", err)
	}
	return n, nil
}

func outboxArgs(d domain.OutboxDraft) []interface{} {
	return []interface{}{
		d.EventID,
		string(d.AggregateType),
		d.AggregateID,
		string(d.EventType),
		d.PartitionKey,
		d.Headers,
		d.Payload,
		d.OccurredAt,
	}
}

func (r *outboxRepo) FetchUnpublished(ctx context.Context, db DBTX, limit int) ([]domain.OutboxRow, error) {
	rows, err := db.Query(ctx, `
		SELECT "id", "eventId", "aggregateType", "aggregateId", "eventType",
		       "partitionKey", "headers", "payload", "occurredAt"
		FROM event_outbox
		ORDER BY "id" ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch unpublished events: %w", err)
	}
	defer rows.Close()

	var events []domain.OutboxRow
	for rows.Next() {
		var e domain.OutboxRow
		err := rows.Scan(&e.SeqID, &e.EventID, &e.AggregateType, &e.AggregateID,
			&e.EventType, &e.PartitionKey, &e.Headers, &e.Payload, &e.OccurredAt)
		if err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *outboxRepo) MarkPublished(ctx context.Context, db DBTX, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := db.Exec(ctx, `DELETE FROM event_outbox WHERE "id" = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("mark published: %w", err)
	}
	return nil
}
