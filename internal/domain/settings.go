package domain

import "time"

// Setting is one version of the engine parameters. Writes append a new row
// with Version+1; readers use the highest version.
//
// Fields:
//   - Threshold: absolute deviation percentage at which a trigger is High.
//   - ConsecutiveDays: High days in a row before a trigger notifies.
//   - CooldownDays: quiet days after a notification for the same pair.
//   - DueHours: response window added to the trigger day.
type Setting struct {
	ID              uint      `json:"-"                gorm:"primaryKey"`
	Version         int       `json:"version"          gorm:"not null;uniqueIndex"`
	Threshold       float64   `json:"threshold"        gorm:"not null"`
	ConsecutiveDays int       `json:"consecutive_days" gorm:"not null"`
	CooldownDays    int       `json:"cooldown_days"    gorm:"not null"`
	DueHours        int       `json:"due_hours"        gorm:"not null"`
	UpdatedBy       string    `json:"updated_by"       gorm:"type:varchar(64)"`
	CreatedAt       time.Time `json:"created_at"`
}

// TableName returns the database table name for Setting.
func (Setting) TableName() string { return "settings" }
