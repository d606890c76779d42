package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/klauspost/compress/zstd"

	appctx "concreterp/internal/core/context"
	"concreterp/internal/core/id"
	"concreterp/internal/domain/inventory/fifo"
)

// AuditAction represents the type of audited operation.
type AuditAction string

const (
	AuditActionReallocate AuditAction = "reallocate"
)

// CompressionAlgo specifies how Changes is stored.
type CompressionAlgo string

const (
	CompressionNone CompressionAlgo = "none"
	CompressionZstd CompressionAlgo = "zstd"
)

const remisionMaterialEntity = "remision_material"

// DefaultCompressThreshold is the change size above which snapshots are zstd-compressed.
const DefaultCompressThreshold = 4 * 1024

// AuditEntry is one row of sys_audit.
type AuditEntry struct {
	ID                id.ID           `db:"id" json:"id"`
	EntityType        string          `db:"entity_type" json:"entity_type"`
	EntityID          id.ID           `db:"entity_id" json:"entity_id"`
	Action            AuditAction     `db:"action" json:"action"`
	UserID            string          `db:"user_id" json:"user_id"`
	Changes           json.RawMessage `db:"changes" json:"changes"`
	ChangesCompressed []byte          `db:"changes_compressed" json:"-"`
	CompressionAlgo   CompressionAlgo `db:"compression_algo" json:"-"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
}

// AuditService stores change snapshots in sys_audit.
type AuditService struct {
	txManager         *TxManager
	encoder           *zstd.Encoder
	decoder           *zstd.Decoder
	compressThreshold int
}

var _ fifo.Auditor = (*AuditService)(nil)

// NewAuditService creates a new audit service.
func NewAuditService(txManager *TxManager) (*AuditService, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &AuditService{
		txManager:         txManager,
		encoder:           encoder,
		decoder:           decoder,
		compressThreshold: DefaultCompressThreshold,
	}, nil
}

// Prepare fills defaults and compresses large change sets.
func (s *AuditService) Prepare(ctx context.Context, entry *AuditEntry) {
	if entry.UserID == "" {
		entry.UserID = appctx.GetUserID(ctx)
	}
	if id.IsNil(entry.ID) {
		entry.ID = id.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	entry.CompressionAlgo = CompressionNone
	if len(entry.Changes) > s.compressThreshold {
		entry.ChangesCompressed = s.encoder.EncodeAll(entry.Changes, nil)
		entry.Changes = nil
		entry.CompressionAlgo = CompressionZstd
	}
}

// Log records an audit entry in the transaction of ctx.
func (s *AuditService) Log(ctx context.Context, entry AuditEntry) error {
	s.Prepare(ctx, &entry)
	_, err := s.txManager.GetQuerier(ctx).Exec(ctx, `INSERT INTO sys_audit (
	id, entity_type, entity_id, action, user_id, changes, changes_compressed, compression_algo, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.EntityType, entry.EntityID, entry.Action, entry.UserID,
		entry.Changes, entry.ChangesCompressed, entry.CompressionAlgo, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// RecordReplacedAllocations snapshots the allocation set removed by a re-run.
func (s *AuditService) RecordReplacedAllocations(ctx context.Context, remisionMaterialID id.ID, replaced []fifo.Allocation) error {
	changes, err := json.Marshal(map[string]any{"replaced_allocations": replaced})
	if err != nil {
		return fmt.Errorf("marshal replaced allocations: %w", err)
	}
	return s.Log(ctx, AuditEntry{
		EntityType: remisionMaterialEntity,
		EntityID:   remisionMaterialID,
		Action:     AuditActionReallocate,
		Changes:    changes,
	})
}

// Decode restores compressed changes in place.
func (s *AuditService) Decode(entry *AuditEntry) error {
	if entry.CompressionAlgo != CompressionZstd || len(entry.ChangesCompressed) == 0 {
		return nil
	}
	raw, err := s.decoder.DecodeAll(entry.ChangesCompressed, nil)
	if err != nil {
		return fmt.Errorf("decompress changes: %w", err)
	}
	entry.Changes = raw
	entry.ChangesCompressed = nil
	entry.CompressionAlgo = CompressionNone
	return nil
}

// EntityHistory returns the newest audit entries of an entity, decompressed.
func (s *AuditService) EntityHistory(ctx context.Context, entityType string, entityID id.ID, limit int) ([]AuditEntry, error) {
	var entries []AuditEntry
	err := pgxscan.Select(ctx, s.txManager.GetQuerier(ctx), &entries, `SELECT id, entity_type, entity_id, action, user_id,
       changes, changes_compressed, compression_algo, created_at
FROM sys_audit
WHERE entity_type = $1 AND entity_id = $2
ORDER BY created_at DESC
LIMIT $3`, entityType, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit history: %w", err)
	}
	for i := range entries {
		if err := s.Decode(&entries[i]); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// AllocationHistory returns the replaced allocation snapshots of a remision material line.
func (s *AuditService) AllocationHistory(ctx context.Context, remisionMaterialID id.ID, limit int) ([]AuditEntry, error) {
	return s.EntityHistory(ctx, remisionMaterialEntity, remisionMaterialID, limit)
}
