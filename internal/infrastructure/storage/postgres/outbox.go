package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"

	"concreterp/internal/core/id"
	"concreterp/internal/domain/arkik"
	"concreterp/pkg/logger"
)

// OutboxStatus represents the state of an outbox message.
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusPublished OutboxStatus = "published"
	OutboxStatusFailed    OutboxStatus = "failed"
)

// Event types written by this service.
const (
	EventBalanceRecalculationRequested = "BalanceRecalculationRequested"
	EventPendingTransfersRequested     = "PendingTransfersRequested"
)

// MaxOutboxRetries is the number of failed attempts after which a message is failed.
const MaxOutboxRetries = 5

// OutboxMessage is one row of sys_outbox.
type OutboxMessage struct {
	ID            id.ID        `db:"id"`
	AggregateType string       `db:"aggregate_type"`
	AggregateID   id.ID        `db:"aggregate_id"`
	EventType     string       `db:"event_type"`
	Payload       []byte       `db:"payload"`
	Status        OutboxStatus `db:"status"`
	RetryCount    int          `db:"retry_count"`
	LastError     *string      `db:"last_error"`
	NextRetryAt   *time.Time   `db:"next_retry_at"`
	CreatedAt     time.Time    `db:"created_at"`
	PublishedAt   *time.Time   `db:"published_at"`
}

// BalanceRecalculationPayload asks for update_client_balance(client, site).
type BalanceRecalculationPayload struct {
	ClientID id.ID  `json:"client_id"`
	SiteID   *id.ID `json:"site_id,omitempty"`
}

// PendingTransfersPayload asks to apply the pending reassignments of a session.
type PendingTransfersPayload struct {
	PlantID   id.ID `json:"plant_id"`
	SessionID id.ID `json:"session_id"`
}

// DomainEvent is an event to be written to the outbox.
type DomainEvent struct {
	AggregateType string
	AggregateID   id.ID
	EventType     string
	Payload       any
}

// OutboxPublisher writes events to sys_outbox through the querier in context,
// so events commit together with the surrounding transaction.
type OutboxPublisher struct {
	txManager *TxManager
	now       func() time.Time
}

var _ arkik.EventPublisher = (*OutboxPublisher)(nil)

// NewOutboxPublisher creates a new outbox publisher.
func NewOutboxPublisher(txManager *TxManager) *OutboxPublisher {
	return &OutboxPublisher{txManager: txManager, now: time.Now}
}

const insertOutboxSQL = `INSERT INTO sys_outbox (id, aggregate_type, aggregate_id, event_type, payload, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

// PublishBatch writes events in one round-trip.
func (p *OutboxPublisher) PublishBatch(ctx context.Context, events []DomainEvent) error {
	now := p.now().UTC()
	queries := make([]BatchQuery, 0, len(events))
	for _, e := range events {
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", e.EventType, err)
		}
		queries = append(queries, BatchQuery{
			SQL:  insertOutboxSQL,
			Args: []any{id.New(), e.AggregateType, e.AggregateID, e.EventType, payload, OutboxStatusPending, now},
		})
	}
	if err := ExecBatch(ctx, p.txManager.GetQuerier(ctx), queries); err != nil {
		return fmt.Errorf("insert outbox messages: %w", err)
	}
	return nil
}

// RequestBalanceRecalculation enqueues one event per balance key.
func (p *OutboxPublisher) RequestBalanceRecalculation(ctx context.Context, keys []arkik.BalanceKey) error {
	events := make([]DomainEvent, 0, len(keys))
	for _, k := range keys {
		payload := BalanceRecalculationPayload{ClientID: k.ClientID}
		if !id.IsNil(k.SiteID) {
			site := k.SiteID
			payload.SiteID = &site
		}
		events = append(events, DomainEvent{
			AggregateType: "client",
			AggregateID:   k.ClientID,
			EventType:     EventBalanceRecalculationRequested,
			Payload:       payload,
		})
	}
	return p.PublishBatch(ctx, events)
}

// RequestPendingTransfers enqueues a deferred transfer run for a session.
func (p *OutboxPublisher) RequestPendingTransfers(ctx context.Context, plantID, sessionID id.ID) error {
	return p.PublishBatch(ctx, []DomainEvent{{
		AggregateType: "arkik_import_session",
		AggregateID:   sessionID,
		EventType:     EventPendingTransfersRequested,
		Payload:       PendingTransfersPayload{PlantID: plantID, SessionID: sessionID},
	}})
}

// OutboxHandler processes outbox messages.
type OutboxHandler interface {
	Handle(ctx context.Context, msg *OutboxMessage) error
}

// OutboxRelay claims due messages and hands them to a handler.
type OutboxRelay struct {
	txManager *TxManager
	batchSize int
	lease     time.Duration
	handler   OutboxHandler
}

// NewOutboxRelay creates a new outbox relay.
func NewOutboxRelay(txManager *TxManager, batchSize int, handler OutboxHandler) *OutboxRelay {
	return &OutboxRelay{
		txManager: txManager,
		batchSize: batchSize,
		lease:     5 * time.Minute,
		handler:   handler,
	}
}

// claimOutboxSQL pushes next_retry_at forward for the claimed rows so a
// concurrent relay skips them while they are handled.
const claimOutboxSQL = `UPDATE sys_outbox
SET next_retry_at = NOW() + make_interval(secs => $3)
WHERE id IN (
	SELECT id FROM sys_outbox
	WHERE status = $1
	  AND (next_retry_at IS NULL OR next_retry_at <= NOW())
	ORDER BY created_at
	LIMIT $2
	FOR UPDATE SKIP LOCKED
)
RETURNING id, aggregate_type, aggregate_id, event_type, payload, status,
          retry_count, last_error, next_retry_at, created_at, published_at`

// ProcessBatch handles one batch of due messages and returns how many succeeded.
func (r *OutboxRelay) ProcessBatch(ctx context.Context) (int, error) {
	var messages []*OutboxMessage
	err := pgxscan.Select(ctx, r.txManager.GetQuerier(ctx), &messages, claimOutboxSQL,
		OutboxStatusPending, r.batchSize, r.lease.Seconds())
	if err != nil {
		return 0, fmt.Errorf("claim outbox messages: %w", err)
	}

	processed := 0
	for _, msg := range messages {
		if err := r.processMessage(ctx, msg); err != nil {
			logger.Warn(ctx, "outbox message failed",
				"message_id", msg.ID,
				"event_type", msg.EventType,
				"retry", msg.RetryCount+1,
				"error", err,
			)
			continue
		}
		processed++
	}
	return processed, nil
}

func (r *OutboxRelay) processMessage(ctx context.Context, msg *OutboxMessage) error {
	q := r.txManager.GetQuerier(ctx)
	if err := r.handler.Handle(ctx, msg); err != nil {
		nextRetry := time.Now().UTC().Add(time.Duration(msg.RetryCount+1) * time.Minute)
		_, updateErr := q.Exec(ctx, `UPDATE sys_outbox
SET retry_count = retry_count + 1,
    last_error = $1,
    next_retry_at = $2,
    status = CASE WHEN retry_count + 1 >= $3 THEN $4 ELSE status END
WHERE id = $5`, err.Error(), nextRetry, MaxOutboxRetries, OutboxStatusFailed, msg.ID)
		if updateErr != nil {
			return fmt.Errorf("record outbox failure: %w", updateErr)
		}
		return err
	}

	_, err := q.Exec(ctx, `UPDATE sys_outbox SET status = $1, published_at = $2 WHERE id = $3`,
		OutboxStatusPublished, time.Now().UTC(), msg.ID)
	return err
}

// MoveToDLQ moves failed messages to the dead letter table.
func (r *OutboxRelay) MoveToDLQ(ctx context.Context) (int64, error) {
	result, err := r.txManager.GetQuerier(ctx).Exec(ctx, `WITH moved AS (
	DELETE FROM sys_outbox
	WHERE status = $1
	RETURNING *
)
INSERT INTO sys_outbox_dlq
SELECT *, NOW() AS failed_at, last_error AS failure_reason FROM moved`, OutboxStatusFailed)
	if err != nil {
		return 0, fmt.Errorf("move to DLQ: %w", err)
	}
	return result.RowsAffected(), nil
}
