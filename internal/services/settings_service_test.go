package services

import (
	"context"
	"errors"
	"testing"
)

func TestSettings_SeedThenUpdate(t *testing.T) {
	db := newDB(t)
	s := NewSettingsService(db, testDefaults)
	ctx := context.Background()

	cur, err := s.Current(ctx)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if cur.Version != 1 || cur.Threshold != 10 || cur.UpdatedBy != "system" {
		t.Fatalf("seeded = %+v", cur)
	}
	// A second read uses the cache and does not append.
	if again, _ := s.Current(ctx); again.Version != 1 {
		t.Fatalf("second read = %+v", again)
	}

	for _, bad := range []SettingsInput{
		{Threshold: 0, ConsecutiveDays: 1, CooldownDays: 0, DueHours: 1},
		{Threshold: 10, ConsecutiveDays: 0, CooldownDays: 0, DueHours: 1},
		{Threshold: 10, ConsecutiveDays: 1, CooldownDays: -1, DueHours: 1},
		{Threshold: 10, ConsecutiveDays: 1, CooldownDays: 0, DueHours: 745},
	} {
		if _, err := s.Update(ctx, "admin", bad); !errors.Is(err, ErrInvalidSettings) {
			t.Fatalf("Update(%+v) err = %v; want ErrInvalidSettings", bad, err)
		}
	}

	up, err := s.Update(ctx, "admin", SettingsInput{Threshold: 25, ConsecutiveDays: 3, CooldownDays: 7, DueHours: 48})
	if err != nil || up.Version != 2 || up.UpdatedBy != "admin" {
		t.Fatalf("Update = %+v, %v", up, err)
	}
	if cur, _ := s.Current(ctx); cur.Version != 2 || cur.Threshold != 25 {
		t.Fatalf("after update = %+v", cur)
	}

	// Another instance starts from the stored latest version.
	fresh := NewSettingsService(db, testDefaults)
	if cur, _ := fresh.Current(ctx); cur.Version != 2 {
		t.Fatalf("fresh instance = %+v", cur)
	}
}
