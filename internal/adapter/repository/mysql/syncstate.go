package mysql

import (
	"context"
	"errors"
	"strings"

	"spv-ledger/internal/domain/syncstate"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SyncStateRepository struct{ db *gorm.DB }

func NewSyncStateRepository(db *gorm.DB) *SyncStateRepository { return &SyncStateRepository{db: db} }

func (r *SyncStateRepository) LastSynced(ctx context.Context, stream string) (uint64, error) {
	var out syncstate.Cursor
	res := r.db.WithContext(ctx).Where("stream = ?", stream).First(&out)
	if errors.Is(res.Error, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	return out.LastSyncedBlock, res.Error
}

func (r *SyncStateRepository) Advance(ctx context.Context, stream string, block uint64) error {
	// insert-if-absent, then a guarded update keeps the cursor monotonic
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "stream"}}, DoNothing: true}).
		Create(&syncstate.Cursor{Stream: stream, LastSyncedBlock: block}).Error; err != nil {
		return err
	}
	return r.db.WithContext(ctx).
		Model(&syncstate.Cursor{}).
		Where("stream = ? AND last_synced_block < ?", stream, block).
		Update("last_synced_block", block).Error
}

func (r *SyncStateRepository) Reset(ctx context.Context, stream string) error {
	return r.db.WithContext(ctx).
		Model(&syncstate.Cursor{}).
		Where("stream = ?", stream).
		Update("last_synced_block", 0).Error
}

func (r *SyncStateRepository) MarkProcessed(ctx context.Context, stream, txHash string, block uint64) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "stream"}, {Name: "tx_hash"}}, DoNothing: true}).
		Create(&syncstate.ProcessedTx{Stream: stream, TxHash: strings.ToLower(txHash), BlockNumber: block})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *SyncStateRepository) IsProcessed(ctx context.Context, stream, txHash string) (bool, error) {
	var n int64
	res := r.db.WithContext(ctx).
		Model(&syncstate.ProcessedTx{}).
		Where("stream = ? AND tx_hash = ?", stream, strings.ToLower(txHash)).
		Count(&n)
	return n > 0, res.Error
}

func (r *SyncStateRepository) PurgeProcessed(ctx context.Context, stream string) (int64, error) {
	res := r.db.WithContext(ctx).Where("stream = ?", stream).Delete(&syncstate.ProcessedTx{})
	return res.RowsAffected, res.Error
}
