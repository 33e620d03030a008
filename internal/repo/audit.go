package repo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/perfmon-backend/internal/domain"
)

// AuditEntry is one row to append to the audit log.
type AuditEntry struct {
	Entity   string
	EntityID string
	Action   string
	Payload  any
}

// WriteAudit appends entries in one batch. Pass the transaction that performed
// the mutation so the audit trail commits or rolls back with it.
func WriteAudit(ctx context.Context, db *gorm.DB, actor string, entries ...AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]domain.AuditLog, 0, len(entries))
	for _, e := range entries {
		var diff datatypes.JSON
		if e.Payload != nil {
			b, err := json.Marshal(e.Payload)
			if err != nil {
				return err
			}
			diff = datatypes.JSON(b)
		}
		rows = append(rows, domain.AuditLog{
			ID:        uuid.NewString(),
			Entity:    e.Entity,
			EntityID:  e.EntityID,
			Action:    e.Action,
			Actor:     actor,
			Diff:      diff,
			CreatedAt: now,
		})
	}
	return db.WithContext(ctx).CreateInBatches(rows, 200).Error
}

// ListAudit returns the most recent audit rows for an entity type, newest first.
func ListAudit(ctx context.Context, db *gorm.DB, entity string, limit int) ([]domain.AuditLog, error) {
	if limit <= 0 {
		limit = 100
	}
	q := db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if entity != "" {
		q = q.Where("entity = ?", entity)
	}
	var out []domain.AuditLog
	err := q.Find(&out).Error
	return out, err
}
