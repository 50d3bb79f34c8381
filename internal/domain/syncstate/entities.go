package syncstate

import (
	"context"
	"time"
)

// Cursor is the last fully processed block of a named sync stream.
type Cursor struct {
	ID              uint64    `gorm:"primaryKey;column:id"`
	Stream          string    `gorm:"size:64;not null;uniqueIndex:ux_sync_state_stream"`
	LastSyncedBlock uint64    `gorm:"not null;default:0"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime"`
}

func (Cursor) TableName() string { return "sync_state" }

// ProcessedTx records an on-chain transaction whose effects were applied to the ledger.
type ProcessedTx struct {
	ID          uint64    `gorm:"primaryKey;column:id"`
	Stream      string    `gorm:"size:64;not null;uniqueIndex:ux_processed_stream_tx"`
	TxHash      string    `gorm:"size:66;not null;uniqueIndex:ux_processed_stream_tx"`
	BlockNumber uint64    `gorm:"not null;index"`
	ProcessedAt time.Time `gorm:"autoCreateTime"`
}

func (ProcessedTx) TableName() string { return "processed_transactions" }

type Repository interface {
	// LastSynced returns 0 for a stream never seen.
	LastSynced(ctx context.Context, stream string) (uint64, error)
	// Advance upserts the cursor; it never moves backwards.
	Advance(ctx context.Context, stream string, block uint64) error
	// Reset rewinds the stream to 0.
	Reset(ctx context.Context, stream string) error
	// MarkProcessed returns false when the tx was already recorded for the stream.
	MarkProcessed(ctx context.Context, stream, txHash string, block uint64) (bool, error)
	IsProcessed(ctx context.Context, stream, txHash string) (bool, error)
	PurgeProcessed(ctx context.Context, stream string) (int64, error)
}

// LockKey names the lock that serializes every ledger writer of a stream.
func LockKey(stream string) string { return "sync:" + stream }
