package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Trigger severities.
const (
	SeverityLow  = "Low"
	SeverityHigh = "High"
)

// Trigger statuses.
const (
	TriggerOpen      = "open"
	TriggerReminded  = "reminded"
	TriggerResponded = "responded"
	TriggerClosed    = "closed"
)

// Trigger is the deviation record of one (day, service, unit) actual. It is
// created by the deviation engine and refreshed in place on later runs; it is
// never deleted.
//
// Fields:
//   - Day / Date: Jalali day id and its Gregorian midnight (UTC).
//   - Budget / Actual: the compared figures (quantity when the actual has one,
//     otherwise financial).
//   - DeviationPct: (actual-budget)/budget*100, nil when the budget is zero.
//   - Severity: High iff |DeviationPct| >= ThresholdUsed.
//   - SettingsVersion: version of the settings record the run used.
//   - Streak: consecutive High days for the pair ending at Day.
//   - Notify: the trigger opened a streak long enough to notify, outside the
//     cooldown window.
//   - DueAt: Date + due_hours.
//   - Status: open → reminded → responded → closed.
//   - Updated: set when a recompute changed the trigger, cleared when the
//     detail endpoint marks it seen.
type Trigger struct {
	ID              uint      `json:"id"               gorm:"primaryKey"`
	Day             string    `json:"date_shamsi"      gorm:"column:date_shamsi;type:varchar(10);not null;uniqueIndex:ux_trigger_key,priority:1"`
	Date            time.Time `json:"date"             gorm:"not null;index"`
	ServiceCode     string    `json:"service_code"     gorm:"type:varchar(64);not null;uniqueIndex:ux_trigger_key,priority:2;index"`
	UnitID          uint      `json:"unit_id"          gorm:"not null;uniqueIndex:ux_trigger_key,priority:3"`
	Budget          float64   `json:"budget"`
	Actual          float64   `json:"actual"`
	DeviationPct    *float64  `json:"deviation_pct"`
	Severity        string    `json:"severity"         gorm:"type:varchar(8);not null"`
	ThresholdUsed   float64   `json:"threshold_used"`
	SettingsVersion int       `json:"settings_version"`
	Streak          int       `json:"streak"`
	Notify          bool      `json:"notify"`
	AssignedHeadID  *uint     `json:"assigned_head_id"`
	DueAt           time.Time `json:"due_at"`
	Status          string    `json:"status"           gorm:"type:varchar(16);not null;default:'open';index"`
	Updated         bool      `json:"updated"          gorm:"not null;default:false"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TableName returns the database table name for Trigger.
func (Trigger) TableName() string { return "triggers" }

// SameComputed reports whether the engine-owned fields of t and o are equal.
// Status, Updated and timestamps are not compared.
func (t Trigger) SameComputed(o Trigger) bool {
	return t.Date.Equal(o.Date) &&
		t.Budget == o.Budget &&
		t.Actual == o.Actual &&
		floatPtrEqual(t.DeviationPct, o.DeviationPct) &&
		t.Severity == o.Severity &&
		t.ThresholdUsed == o.ThresholdUsed &&
		t.SettingsVersion == o.SettingsVersion &&
		t.Streak == o.Streak &&
		t.Notify == o.Notify &&
		uintPtrEqual(t.AssignedHeadID, o.AssignedHeadID) &&
		t.DueAt.Equal(o.DueAt)
}

// Response is a head's written answer to a trigger.
//
// Fields:
//   - FreeText: at most 1000 runes.
//   - Actions: up to three {text, owner, due_date} objects.
type Response struct {
	ID          uint           `json:"id"           gorm:"primaryKey"`
	TriggerID   uint           `json:"trigger_id"   gorm:"not null;index"`
	FreeText    string         `json:"free_text"    gorm:"type:text;not null"`
	SampleRef   string         `json:"sample_ref"`
	Actions     datatypes.JSON `json:"actions"      swaggertype:"array,object"`
	SubmittedBy string         `json:"submitted_by" gorm:"type:varchar(64)"`
	SubmittedAt time.Time      `json:"submitted_at" gorm:"index"`

	Trigger *Trigger `json:"-" gorm:"foreignKey:TriggerID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Response.
func (Response) TableName() string { return "responses" }

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func uintPtrEqual(a, b *uint) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
