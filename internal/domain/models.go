// Package domain defines the persistence models of the performance-monitoring
// backend: the organizational structure, the imported reference and fact
// tables, budget snapshots, triggers and the bookkeeping records around them.
// These types are mapped with GORM and shared by the repository, importer,
// engine and service layers.
package domain

import "time"

// Management is the top level of the organizational tree.
//
// Fields:
//   - ID: surrogate primary key.
//   - Name: display name, unique across managements.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
type Management struct {
	ID        uint      `json:"id"         gorm:"primaryKey"`
	Name      string    `json:"name"       gorm:"type:varchar(255);not null;uniqueIndex"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Management.
func (Management) TableName() string { return "managements" }

// Unit belongs to exactly one management. Deleting a management that still
// owns units is refused by the foreign key.
type Unit struct {
	ID           uint      `json:"id"            gorm:"primaryKey"`
	ManagementID uint      `json:"management_id" gorm:"not null;index"`
	Name         string    `json:"name"          gorm:"type:varchar(255);not null"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	Management *Management `json:"-" gorm:"foreignKey:ManagementID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

// TableName returns the database table name for Unit.
func (Unit) TableName() string { return "units" }

// Head is a person who can lead units and own service assignments.
type Head struct {
	ID        uint      `json:"id"         gorm:"primaryKey"`
	FullName  string    `json:"full_name"  gorm:"type:varchar(255);not null"`
	Phone     string    `json:"phone"      gorm:"type:varchar(32)"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Head.
func (Head) TableName() string { return "heads" }

// HeadTenure records that a head led a unit for a closed range of days.
// For one (head, unit) pair the ranges never overlap; ValidTo nil means the
// tenure is still running.
//
// Fields:
//   - HeadID / UnitID: the subject pair.
//   - ValidFrom / ValidTo: inclusive civil days (midnight UTC).
//   - IsCurrent: asserted by the caller or derived from today's date.
type HeadTenure struct {
	ID        uint       `json:"id"         gorm:"primaryKey"`
	HeadID    uint       `json:"head_id"    gorm:"not null;index:idx_tenure_subject,priority:1"`
	UnitID    uint       `json:"unit_id"    gorm:"not null;index:idx_tenure_subject,priority:2"`
	ValidFrom time.Time  `json:"valid_from" gorm:"not null"`
	ValidTo   *time.Time `json:"valid_to"`
	IsCurrent bool       `json:"is_current" gorm:"not null;default:false"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`

	Head *Head `json:"-" gorm:"foreignKey:HeadID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
	Unit *Unit `json:"-" gorm:"foreignKey:UnitID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

// TableName returns the database table name for HeadTenure.
func (HeadTenure) TableName() string { return "head_tenures" }

// ServiceAssignment maps a service to the unit (and optionally management and
// head) responsible for it over a closed range of days.
type ServiceAssignment struct {
	ID           uint       `json:"id"            gorm:"primaryKey"`
	ServiceCode  string     `json:"service_code"  gorm:"type:varchar(64);not null;index:idx_assignment_subject,priority:1"`
	UnitID       *uint      `json:"unit_id"       gorm:"index:idx_assignment_subject,priority:2"`
	ManagementID *uint      `json:"management_id"`
	HeadID       *uint      `json:"head_id"`
	ValidFrom    time.Time  `json:"valid_from"    gorm:"not null"`
	ValidTo      *time.Time `json:"valid_to"`
	IsCurrent    bool       `json:"is_current"    gorm:"not null;default:false"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// TableName returns the database table name for ServiceAssignment.
func (ServiceAssignment) TableName() string { return "service_assignments" }

// Service is an entry of the service catalog, keyed by its code.
// Services are never deleted; an import may deactivate them.
type Service struct {
	Code      string    `json:"code"      gorm:"type:varchar(64);primaryKey"`
	Name      string    `json:"name"      gorm:"type:varchar(255);not null"`
	UOM       string    `json:"uom"       gorm:"column:uom;type:varchar(32);not null"`
	BaseQty   *float64  `json:"base_qty"`
	BaseFin   *float64  `json:"base_fin"`
	IsActive  bool      `json:"is_active" gorm:"not null;default:true"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Service.
func (Service) TableName() string { return "services" }

// CalendarDay is one day of the fiscal calendar, keyed by its Jalali day id
// ("1404-01-01"). WeightRaw is the operating weight before per-month
// normalization: 0 for Fridays, official holidays and summer break, 0.5 for
// Thursdays and 1 otherwise.
type CalendarDay struct {
	Day               string    `json:"date_shamsi"         gorm:"column:date_shamsi;type:varchar(10);primaryKey"`
	Date              time.Time `json:"date"                gorm:"not null;index"`
	JalaliMonth       int       `json:"jalali_month"        gorm:"not null;index"`
	WeekdayName       string    `json:"weekday_name"        gorm:"type:varchar(32)"`
	IsFriday          bool      `json:"is_friday"`
	IsThursday        bool      `json:"is_thursday"`
	IsOfficialHoliday bool      `json:"is_official_holiday"`
	IsSummerBreak     bool      `json:"is_summer_break"`
	WeightRaw         float64   `json:"weight_raw"          gorm:"not null"`
}

// TableName returns the database table name for CalendarDay.
func (CalendarDay) TableName() string { return "calendar_days" }

// SeasonalityMonth holds last year's actual for a month. ServiceCode empty is
// the organization-wide series; SeasonWeight is Actual1403 over the sum of its
// series.
type SeasonalityMonth struct {
	ID           uint    `json:"id"            gorm:"primaryKey"`
	ServiceCode  string  `json:"service_code"  gorm:"type:varchar(64);not null;default:'';uniqueIndex:ux_season_key,priority:1"`
	Month        int     `json:"month"         gorm:"not null;uniqueIndex:ux_season_key,priority:2;check:month BETWEEN 1 AND 12"`
	Actual1403   float64 `json:"actual_1403"   gorm:"column:actual_1403;not null"`
	SeasonWeight float64 `json:"season_weight" gorm:"not null;default:0"`
}

// TableName returns the database table name for SeasonalityMonth.
func (SeasonalityMonth) TableName() string { return "seasonality_months" }

// OpsActualDaily is one operational actual for (day, service, unit).
type OpsActualDaily struct {
	ID          uint      `json:"id"           gorm:"primaryKey"`
	Day         string    `json:"date_shamsi"  gorm:"column:date_shamsi;type:varchar(10);not null;uniqueIndex:ux_ops_key,priority:1"`
	Date        time.Time `json:"date"         gorm:"not null"`
	ServiceCode string    `json:"service_code" gorm:"type:varchar(64);not null;uniqueIndex:ux_ops_key,priority:2"`
	UnitID      uint      `json:"unit_id"      gorm:"not null;uniqueIndex:ux_ops_key,priority:3"`
	ActualQty   *float64  `json:"actual_qty"`
	ActualFin   *float64  `json:"actual_fin"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for OpsActualDaily.
func (OpsActualDaily) TableName() string { return "ops_actual_daily" }

// Value returns the figure compared against the plan: quantity when present,
// otherwise the financial amount.
func (o OpsActualDaily) Value() (float64, bool) {
	if o.ActualQty != nil {
		return *o.ActualQty, true
	}
	if o.ActualFin != nil {
		return *o.ActualFin, true
	}
	return 0, false
}
