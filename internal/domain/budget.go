package domain

import "time"

// Snapshot statuses.
const (
	SnapshotDraft     = "draft"
	SnapshotPublished = "published"
	SnapshotArchived  = "archived"
)

// BudgetSnapshot is an immutable version of the annual budget ledger for a
// (year, scenario). At most one snapshot per pair is published; the store
// enforces it with a partial unique index (see repo.AutoMigrate).
//
// Fields:
//   - PrevSnapshotID: the snapshot that was published when this one replaced
//     it, nil for the first version.
//   - Version: 1-based counter within (year, scenario).
type BudgetSnapshot struct {
	ID             uint      `json:"id"               gorm:"primaryKey"`
	Year           int       `json:"year"             gorm:"not null;index:idx_snapshot_pair,priority:1"`
	Scenario       string    `json:"scenario"         gorm:"type:varchar(64);not null;index:idx_snapshot_pair,priority:2"`
	Version        int       `json:"version"          gorm:"not null"`
	Status         string    `json:"status"           gorm:"type:varchar(16);not null;check:status IN ('draft','published','archived')"`
	PrevSnapshotID *uint     `json:"prev_snapshot_id"`
	CreatedBy      string    `json:"created_by"       gorm:"type:varchar(64)"`
	CreatedAt      time.Time `json:"created_at"       gorm:"index"`
}

// TableName returns the database table name for BudgetSnapshot.
func (BudgetSnapshot) TableName() string { return "budget_snapshots" }

// BudgetAnnual is one line of a snapshot. UnitID nil means the line covers the
// service as a whole.
type BudgetAnnual struct {
	ID          uint     `json:"id"           gorm:"primaryKey"`
	SnapshotID  uint     `json:"snapshot_id"  gorm:"not null;index"`
	Year        int      `json:"year"         gorm:"not null"`
	Scenario    string   `json:"scenario"     gorm:"type:varchar(64);not null"`
	Version     string   `json:"version"      gorm:"type:varchar(32)"`
	ServiceCode string   `json:"service_code" gorm:"type:varchar(64);not null;index"`
	UnitID      *uint    `json:"unit_id"`
	AnnualQty   *float64 `json:"annual_qty"`
	AnnualFin   *float64 `json:"annual_fin"`
	Currency    string   `json:"currency"     gorm:"type:varchar(8);not null"`
	Notes       string   `json:"notes"`

	Snapshot *BudgetSnapshot `json:"-" gorm:"foreignKey:SnapshotID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for BudgetAnnual.
func (BudgetAnnual) TableName() string { return "budget_annual" }

// BudgetDaily is the planned figure of a (day, service, unit) after spreading
// the annual budget over the calendar.
type BudgetDaily struct {
	ID          uint      `json:"id"           gorm:"primaryKey"`
	Day         string    `json:"date_shamsi"  gorm:"column:date_shamsi;type:varchar(10);not null;index:idx_budget_daily_key,priority:1"`
	Date        time.Time `json:"date"         gorm:"not null"`
	ServiceCode string    `json:"service_code" gorm:"type:varchar(64);not null;index:idx_budget_daily_key,priority:2"`
	UnitID      *uint     `json:"unit_id"      gorm:"index:idx_budget_daily_key,priority:3"`
	SnapshotID  uint      `json:"snapshot_id"  gorm:"not null"`
	BudgetQty   *float64  `json:"budget_qty"`
	BudgetFin   *float64  `json:"budget_fin"`
}

// TableName returns the database table name for BudgetDaily.
func (BudgetDaily) TableName() string { return "budget_daily" }

// Value mirrors OpsActualDaily.Value so plan and actual compare like for like.
func (b BudgetDaily) Value(preferQty bool) (float64, bool) {
	if preferQty {
		if b.BudgetQty != nil {
			return *b.BudgetQty, true
		}
		return 0, false
	}
	if b.BudgetFin != nil {
		return *b.BudgetFin, true
	}
	return 0, false
}

// Recompute job kinds and statuses.
const (
	RecomputeBudget     = "budget"
	RecomputeDeviations = "deviations"

	JobPending = "pending"
	JobDone    = "done"
	JobFailed  = "failed"
)

// RecomputeJob is a queued request to rebuild daily budgets and triggers,
// written in the same transaction as the budget commit that needs it.
type RecomputeJob struct {
	ID         uint       `json:"id"          gorm:"primaryKey"`
	Kind       string     `json:"kind"        gorm:"type:varchar(32);not null"`
	SnapshotID *uint      `json:"snapshot_id"`
	Status     string     `json:"status"      gorm:"type:varchar(16);not null;default:'pending';index"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at"`
}

// TableName returns the database table name for RecomputeJob.
func (RecomputeJob) TableName() string { return "recompute_jobs" }
