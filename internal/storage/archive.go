package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cdpnetmon/internal/ctxkeys"
	"cdpnetmon/pkg/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SnapshotRow 一次归档
type SnapshotRow struct {
	ID        string `gorm:"primaryKey;size:36"`
	Session   string `gorm:"index;size:64"`
	Selection string `gorm:"size:16"`
	Count     int
	CreatedAt time.Time
}

// RequestRow 归档中的一条请求，Data 为完整记录的 JSON
type RequestRow struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	SnapshotID   string `gorm:"index;size:36"`
	Position     int
	RequestID    string `gorm:"index;size:128"`
	Method       string `gorm:"size:16"`
	URL          string
	ResourceType string `gorm:"size:32"`
	State        string `gorm:"size:24"`
	Status       int
	Size         int64
	DurationMS   float64
	ErrorText    string
	Data         string
	StartedAt    time.Time
}

// SaveSnapshot 在一个事务中写入快照及其记录，返回快照 ID
func (d *DB) SaveSnapshot(ctx context.Context, session domain.SessionID, sel domain.Selection, recs []domain.RequestRecord) (string, error) {
	id := uuid.NewString()
	ctx = ctxkeys.WithTraceID(ctx, id)

	rows := make([]RequestRow, 0, len(recs))
	for i := range recs {
		row, err := toRow(id, i, recs[i])
		if err != nil {
			return "", err
		}
		rows = append(rows, row)
	}

	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		snap := SnapshotRow{ID: id, Session: string(session), Selection: string(sel), Count: len(recs), CreatedAt: time.Now()}
		if err := tx.Create(&snap).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(rows, 200).Error
	})
	if err != nil {
		return "", fmt.Errorf("save snapshot: %w", err)
	}
	d.log.Info("快照已归档", "snapshot", id, "selection", sel, "count", len(recs))
	return id, nil
}

// ListSnapshots 按时间倒序列出归档
func (d *DB) ListSnapshots(ctx context.Context, limit int) ([]SnapshotRow, error) {
	var out []SnapshotRow
	q := d.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return out, nil
}

// LoadSnapshot 读取归档中的记录，保持归档时的顺序
func (d *DB) LoadSnapshot(ctx context.Context, id string) ([]domain.RequestRecord, error) {
	ctx = ctxkeys.WithTraceID(ctx, id)
	var snap SnapshotRow
	if err := d.db.WithContext(ctx).First(&snap, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	var rows []RequestRow
	if err := d.db.WithContext(ctx).Where("snapshot_id = ?", id).Order("position").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load snapshot rows: %w", err)
	}
	out := make([]domain.RequestRecord, 0, len(rows))
	for _, row := range rows {
		var rec domain.RequestRecord
		if err := json.Unmarshal([]byte(row.Data), &rec); err != nil {
			return nil, fmt.Errorf("decode %s: %w", row.RequestID, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// DeleteSnapshot 删除归档
func (d *DB) DeleteSnapshot(ctx context.Context, id string) error {
	ctx = ctxkeys.WithTraceID(ctx, id)
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&SnapshotRow{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrSnapshotNotFound
		}
		return tx.Where("snapshot_id = ?", id).Delete(&RequestRow{}).Error
	})
}

func toRow(snapshot string, pos int, rec domain.RequestRecord) (RequestRow, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return RequestRow{}, fmt.Errorf("encode %s: %w", rec.ID, err)
	}
	row := RequestRow{
		SnapshotID:   snapshot,
		Position:     pos,
		RequestID:    string(rec.ID),
		Method:       rec.Method,
		URL:          rec.URL,
		ResourceType: rec.ResourceType,
		State:        string(rec.State),
		ErrorText:    rec.ErrorText,
		Data:         string(data),
		StartedAt:    rec.StartedAt,
	}
	if rec.Status != nil {
		row.Status = *rec.Status
	}
	if rec.Size != nil {
		row.Size = *rec.Size
	}
	if rec.Duration != nil {
		row.DurationMS = float64(*rec.Duration) / float64(time.Millisecond)
	}
	return row, nil
}
