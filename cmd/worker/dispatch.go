package main

import (
	"context"
	"encoding/json"
	"fmt"

	"concreterp/internal/core/batch"
	"concreterp/internal/core/id"
	"concreterp/internal/domain/arkik"
	"concreterp/internal/infrastructure/storage/postgres"
	"concreterp/pkg/logger"
)

// BalanceRecalculator runs update_client_balance for one client and site.
type BalanceRecalculator interface {
	RecalculateBalance(ctx context.Context, key arkik.BalanceKey) error
}

// TransferRunner applies the pending reassignments of a session.
type TransferRunner interface {
	ApplyPendingTransfers(ctx context.Context, plantID, sessionID id.ID) (*batch.Result[arkik.AppliedTransfer], error)
}

// Dispatcher routes outbox messages to their handlers.
type Dispatcher struct {
	balances  BalanceRecalculator
	transfers TransferRunner
}

var _ postgres.OutboxHandler = (*Dispatcher)(nil)

// NewDispatcher creates the outbox dispatcher.
func NewDispatcher(balances BalanceRecalculator, transfers TransferRunner) *Dispatcher {
	return &Dispatcher{balances: balances, transfers: transfers}
}

// Handle processes one message. A returned error schedules a retry.
func (d *Dispatcher) Handle(ctx context.Context, msg *postgres.OutboxMessage) error {
	switch msg.EventType {
	case postgres.EventBalanceRecalculationRequested:
		var p postgres.BalanceRecalculationPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("decode %s payload: %w", msg.EventType, err)
		}
		key := arkik.BalanceKey{ClientID: p.ClientID}
		if p.SiteID != nil {
			key.SiteID = *p.SiteID
		}
		return d.balances.RecalculateBalance(ctx, key)

	case postgres.EventPendingTransfersRequested:
		var p postgres.PendingTransfersPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("decode %s payload: %w", msg.EventType, err)
		}
		res, err := d.transfers.ApplyPendingTransfers(ctx, p.PlantID, p.SessionID)
		if err != nil {
			return err
		}
		if failed := res.Errors(); len(failed) > 0 {
			return fmt.Errorf("%d of %d transfers failed, first: %s",
				len(failed), len(failed)+len(res.Succeeded), failed[0].Error)
		}
		logger.Info(ctx, "pending transfers applied",
			"session_id", p.SessionID,
			"applied", len(res.Succeeded),
			"skipped", len(res.Failed),
		)
		return nil

	default:
		logger.Warn(ctx, "unknown outbox event, acknowledging", "event_type", msg.EventType, "message_id", msg.ID)
		return nil
	}
}
