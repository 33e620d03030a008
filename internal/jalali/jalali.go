// Package jalali implements the Solar Hijri (Jalali) civil calendar used by the
// fiscal data: parsing "1404/01/05" style day ids, month lengths, leap years and
// conversion to Gregorian instants.
//
// The leap-year rule follows the 33-year break table of the astronomical
// calendar (valid for years -61..3177).
package jalali

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidDate is returned for malformed or out-of-range dates.
var ErrInvalidDate = errors.New("invalid jalali date")

// Date is a Jalali calendar day.
type Date struct {
	Year  int
	Month int
	Day   int
}

var breaks = [...]int{-61, 9, 38, 199, 426, 686, 756, 818, 1111, 1181, 1210, 1635, 2060, 2097, 2192, 2262, 2324, 2394, 2456, 3178}

// Parse accepts "YYYY/MM/DD" or "YYYY-MM-DD" (zero padding optional).
func Parse(s string) (Date, error) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "/", "-")
	parts := strings.Split(s, "-")
	if len(parts) != 3 {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	var n [3]int
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
		}
		n[i] = v
	}
	d := Date{Year: n[0], Month: n[1], Day: n[2]}
	if !d.Valid() {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return d, nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Date {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// String renders the canonical, lexically sortable form "YYYY-MM-DD".
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// Valid reports whether d names a real day.
func (d Date) Valid() bool {
	if d.Year <= breaks[0] || d.Year >= breaks[len(breaks)-1] {
		return false
	}
	if d.Month < 1 || d.Month > 12 {
		return false
	}
	return d.Day >= 1 && d.Day <= MonthLength(d.Year, d.Month)
}

// IsLeap reports whether Esfand of year has 30 days.
func IsLeap(year int) bool {
	leap, _, _ := calendar(year)
	return leap == 0
}

// MonthLength returns the number of days in month of year.
func MonthLength(year, month int) int {
	switch {
	case month >= 1 && month <= 6:
		return 31
	case month >= 7 && month <= 11:
		return 30
	case month == 12:
		if IsLeap(year) {
			return 30
		}
		return 29
	}
	return 0
}

// YearLength is 366 in leap years and 365 otherwise.
func YearLength(year int) int {
	if IsLeap(year) {
		return 366
	}
	return 365
}

// Time returns midnight UTC of the Gregorian day matching d.
func (d Date) Time() time.Time {
	_, gy, march := calendar(d.Year)
	offset := (d.Month-1)*31 - (d.Month/7)*(d.Month-7) + d.Day - 1
	return time.Date(gy, time.March, march, 0, 0, 0, 0, time.UTC).AddDate(0, 0, offset)
}

// AddDays returns the day n days after d (n may be negative).
func (d Date) AddDays(n int) Date {
	return FromTime(d.Time().AddDate(0, 0, n))
}

// FromTime converts the Gregorian calendar day of t to a Jalali date.
func FromTime(t time.Time) Date {
	t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	jy := t.Year() - 621
	start := Date{Year: jy, Month: 1, Day: 1}.Time()
	if t.Before(start) {
		jy--
		start = Date{Year: jy, Month: 1, Day: 1}.Time()
	}
	days := int(t.Sub(start).Hours() / 24)
	m := 1
	for m < 12 && days >= MonthLength(jy, m) {
		days -= MonthLength(jy, m)
		m++
	}
	return Date{Year: jy, Month: m, Day: days + 1}
}

// Weekday of d in the Gregorian sense (Friday is the weekly holiday).
func (d Date) Weekday() time.Weekday { return d.Time().Weekday() }

// calendar returns the leap remainder (0 means leap), the Gregorian year in
// which the Jalali year starts and the March day of Farvardin 1.
func calendar(jy int) (leap, gy, march int) {
	gy = jy + 621
	leapJ := -14
	jp := breaks[0]
	jump := 0
	for i := 1; i < len(breaks); i++ {
		jm := breaks[i]
		jump = jm - jp
		if jy < jm {
			break
		}
		leapJ += jump/33*8 + (jump%33)/4
		jp = jm
	}
	n := jy - jp
	leapJ += n/33*8 + (n%33+3)/4
	if jump%33 == 4 && jump-n == 4 {
		leapJ++
	}
	leapG := gy/4 - (gy/100+1)*3/4 - 150
	march = 20 + leapJ - leapG
	if jump-n < 6 {
		n = n - jump + (jump+4)/33*33
	}
	leap = ((n+1)%33 - 1) % 4
	if leap == -1 {
		leap = 4
	}
	return leap, gy, march
}
