// internal/domain/idempotency_test.go
package domain

import (
	"testing"
	"time"

	"gorm.io/datatypes"
)

func TestIdempotency_Migration_Indexes_AndInsert(t *testing.T) {
	db := newDomainDB(t)
	if err := db.AutoMigrate(&Idempotency{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	m := db.Migrator()
	if !m.HasIndex(&Idempotency{}, "ux_actor_scope_key") {
		t.Fatalf("expected composite index ux_actor_scope_key to exist")
	}

	now := time.Now().UTC()
	rec := &Idempotency{
		ID:        "id-1",
		Actor:     "u1",
		Scope:     "import:services",
		Key:       "k1",
		Status:    200,
		Body:      datatypes.JSON(`{"created":["S1"]}`),
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
	if err := db.Create(rec).Error; err != nil {
		t.Fatalf("insert valid: %v", err)
	}

	var got Idempotency
	if err := db.First(&got, "id = ?", "id-1").Error; err != nil {
		t.Fatalf("readback: %v", err)
	}
	if got.Actor != "u1" || got.Scope != "import:services" || got.Status != 200 || string(got.Body) != `{"created":["S1"]}` {
		t.Fatalf("unexpected row: %+v", got)
	}

	dup := *rec
	dup.ID = "id-2"
	if err := db.Create(&dup).Error; err == nil {
		t.Fatalf("expected UNIQUE constraint violation on (actor, scope, key)")
	}
}
