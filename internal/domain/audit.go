package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Audit actions.
const (
	ActionCreate     = "create"
	ActionUpdate     = "update"
	ActionDelete     = "delete"
	ActionDeactivate = "deactivate"
	ActionPublish    = "publish"
)

// AuditLog is an append-only record of a mutation made through the API or an
// import commit. Diff holds the written payload as JSON.
type AuditLog struct {
	ID        string         `json:"id"        gorm:"type:char(36);primaryKey"`
	Entity    string         `json:"entity"    gorm:"type:varchar(64);not null;index:idx_audit_entity,priority:1"`
	EntityID  string         `json:"entity_id" gorm:"type:varchar(128);not null;index:idx_audit_entity,priority:2"`
	Action    string         `json:"action"    gorm:"type:varchar(16);not null"`
	Actor     string         `json:"actor"     gorm:"type:varchar(64)"`
	Diff      datatypes.JSON `json:"diff"      swaggertype:"object"`
	CreatedAt time.Time      `json:"created_at" gorm:"index"`
}

// TableName returns the database table name for AuditLog.
func (AuditLog) TableName() string { return "audit_logs" }
