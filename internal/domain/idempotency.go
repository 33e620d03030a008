package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Idempotency stores the response of a completed import commit, keyed by
// (actor, scope, key), so a retried request with the same Idempotency-Key
// replays the original result instead of committing twice.
type Idempotency struct {
	ID        string         `gorm:"type:TEXT NOT NULL;primaryKey"`
	Actor     string         `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_actor_scope_key,priority:1"`
	Scope     string         `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_actor_scope_key,priority:2"`
	Key       string         `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_actor_scope_key,priority:3"`
	Status    int            `gorm:"type:INTEGER NOT NULL"`
	Body      datatypes.JSON `gorm:"type:TEXT NOT NULL"`
	CreatedAt time.Time      `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt time.Time      `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
