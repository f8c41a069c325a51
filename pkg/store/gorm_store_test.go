package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"plantcare/pkg/domain"
	"plantcare/pkg/events"
)

type recordedChanges struct {
	mu      sync.Mutex
	changes []events.Change
}

func (r *recordedChanges) Publish(_ context.Context, change events.Change) error {
	r.mu.Lock()
	r.changes = append(r.changes, change)
	r.mu.Unlock()
	return nil
}

func (r *recordedChanges) kinds(path string) []events.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Kind
	for _, c := range r.changes {
		if c.Path == path {
			out = append(out, c.Kind)
		}
	}
	return out
}

func newSQLiteStore(t *testing.T, options ...GormStoreOption) *GormStore {
	t.Helper()
	dsn := "sqlite:" + filepath.Join(t.TempDir(), "plantcare.db")
	s, err := NewGormStore(dsn, options...)
	if err != nil {
		t.Fatalf("new sqlite store: %v", err)
	}
	return s
}

func seedPlant(t *testing.T, s *GormStore, owner, id string) domain.PlantRef {
	t.Helper()
	now := time.Now().UTC()
	err := s.CreatePlant(context.Background(), domain.Plant{
		ID:               id,
		OwnerID:          owner,
		Name:             "Fern " + id,
		WateringInterval: 3,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	if err != nil {
		t.Fatalf("create plant: %v", err)
	}
	return domain.PlantRef{UserID: owner, PlantID: id}
}

func seedWatering(t *testing.T, s *GormStore, ref domain.PlantRef, id string, at time.Time) {
	t.Helper()
	err := s.AddWatering(context.Background(), domain.Watering{
		ID:           id,
		PlantID:      ref.PlantID,
		OwnerID:      ref.UserID,
		WateringDate: at,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("add watering: %v", err)
	}
}

func TestGormStoreUsers(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	if err := s.SaveUser(ctx, domain.User{ID: "u1", Email: "a@example.com", PasswordHash: "h", CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("save user: %v", err)
	}
	exists, err := s.HasUserEmail(ctx, "a@example.com")
	if err != nil || !exists {
		t.Fatalf("has email: exists=%v err=%v", exists, err)
	}
	if err := s.UpdateUserName(ctx, "u1", "Ada"); err != nil {
		t.Fatalf("update name: %v", err)
	}
	u, ok, err := s.GetUserByEmail(ctx, "a@example.com")
	if err != nil || !ok {
		t.Fatalf("get by email: ok=%v err=%v", ok, err)
	}
	if u.Name != "Ada" || u.ID != "u1" {
		t.Fatalf("unexpected user %+v", u)
	}
	if _, ok, err := s.GetUserByID(ctx, "missing"); err != nil || ok {
		t.Fatalf("missing user: ok=%v err=%v", ok, err)
	}
}

func TestGormStorePlantsAreScopedByOwner(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	ref := seedPlant(t, s, "u1", "p1")
	seedPlant(t, s, "u2", "p2")

	if _, ok, err := s.GetPlant(ctx, domain.PlantRef{UserID: "u2", PlantID: "p1"}); err != nil || ok {
		t.Fatalf("foreign owner read: ok=%v err=%v", ok, err)
	}
	plants, err := s.ListPlants(ctx, "u1")
	if err != nil {
		t.Fatalf("list plants: %v", err)
	}
	if len(plants) != 1 || plants[0].ID != "p1" {
		t.Fatalf("unexpected plants %+v", plants)
	}

	name := "Monstera"
	interval := 5
	updated, ok, err := s.UpdatePlant(ctx, ref, PlantPatch{Name: &name, WateringInterval: &interval})
	if err != nil || !ok {
		t.Fatalf("update plant: ok=%v err=%v", ok, err)
	}
	if updated.Name != name || updated.WateringInterval != interval {
		t.Fatalf("unexpected update %+v", updated)
	}
	if _, ok, err := s.UpdatePlant(ctx, domain.PlantRef{UserID: "u2", PlantID: "p1"}, PlantPatch{Name: &name}); err != nil || ok {
		t.Fatalf("foreign owner update: ok=%v err=%v", ok, err)
	}
}

func TestGormStoreIDsAreUniquePerOwner(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	mine := seedPlant(t, s, "u1", "p1")
	theirs := seedPlant(t, s, "u2", "p1")
	seedWatering(t, s, mine, "w1", time.Now().UTC())
	seedWatering(t, s, theirs, "w1", time.Now().UTC())
	// Same watering id under a second plant of the same owner.
	other := seedPlant(t, s, "u1", "p2")
	seedWatering(t, s, other, "w1", time.Now().UTC())

	if deleted, err := s.DeletePlant(ctx, mine); err != nil || !deleted {
		t.Fatalf("delete plant: deleted=%v err=%v", deleted, err)
	}
	if _, ok, err := s.GetPlant(ctx, theirs); err != nil || !ok {
		t.Fatalf("other owner's plant with the same id: ok=%v err=%v", ok, err)
	}
	if deleted, err := s.DeleteWatering(ctx, theirs, "w1"); err != nil || !deleted {
		t.Fatalf("delete watering: deleted=%v err=%v", deleted, err)
	}
	for _, ref := range []domain.PlantRef{mine, other} {
		if got, _ := s.ListWaterings(ctx, ref); len(got) != 1 {
			t.Fatalf("waterings of %s = %d, want 1", ref.Path(), len(got))
		}
	}
}

func TestGormStoreLastWateringDate(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	ref := seedPlant(t, s, "u1", "p1")

	last := time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)
	if err := s.SetLastWateringDate(ctx, ref, &last); err != nil {
		t.Fatalf("set last watering: %v", err)
	}
	p, _, err := s.GetPlant(ctx, ref)
	if err != nil {
		t.Fatalf("get plant: %v", err)
	}
	if p.LastWateringDate == nil || !p.LastWateringDate.Equal(last) {
		t.Fatalf("last watering = %v, want %v", p.LastWateringDate, last)
	}
	if err := s.SetLastWateringDate(ctx, ref, nil); err != nil {
		t.Fatalf("clear last watering: %v", err)
	}
	p, _, err = s.GetPlant(ctx, ref)
	if err != nil {
		t.Fatalf("get plant: %v", err)
	}
	if p.LastWateringDate != nil {
		t.Fatalf("expected cleared last watering, got %v", p.LastWateringDate)
	}
}

func TestGormStoreWateringsNewestFirst(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	ref := seedPlant(t, s, "u1", "p1")
	seedWatering(t, s, ref, "w1", time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC))
	seedWatering(t, s, ref, "w2", time.Date(2024, 1, 3, 8, 0, 0, 0, time.UTC))

	waterings, err := s.ListWaterings(ctx, ref)
	if err != nil {
		t.Fatalf("list waterings: %v", err)
	}
	if len(waterings) != 2 || waterings[0].ID != "w2" || waterings[1].ID != "w1" {
		t.Fatalf("unexpected order %+v", waterings)
	}
	ok, err := s.DeleteWatering(ctx, ref, "w2")
	if err != nil || !ok {
		t.Fatalf("delete watering: ok=%v err=%v", ok, err)
	}
	ok, err = s.DeleteWatering(ctx, ref, "w2")
	if err != nil || ok {
		t.Fatalf("second delete: ok=%v err=%v", ok, err)
	}
}

func TestGormStoreDeletePlantLeavesSubtree(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	ref := seedPlant(t, s, "u1", "p1")
	seedWatering(t, s, ref, "w1", time.Now().UTC())

	ok, err := s.DeletePlant(ctx, ref)
	if err != nil || !ok {
		t.Fatalf("delete plant: ok=%v err=%v", ok, err)
	}
	waterings, err := s.ListWaterings(ctx, ref)
	if err != nil {
		t.Fatalf("list waterings: %v", err)
	}
	if len(waterings) != 1 {
		t.Fatalf("expected waterings to await the cascade, got %d", len(waterings))
	}
}

func TestGormStoreDeletePlantSubtreeIsScoped(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	target := seedPlant(t, s, "u1", "p1")
	sibling := seedPlant(t, s, "u1", "p2")
	seedWatering(t, s, target, "w1", time.Now().UTC())
	seedWatering(t, s, target, "w2", time.Now().UTC())
	seedWatering(t, s, sibling, "w3", time.Now().UTC())
	// Same plant id under another user must survive.
	seedWatering(t, s, domain.PlantRef{UserID: "u2", PlantID: "p1"}, "w4", time.Now().UTC())

	removed, err := s.DeletePlantSubtree(ctx, target)
	if err != nil {
		t.Fatalf("delete subtree: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	if got, _ := s.ListWaterings(ctx, sibling); len(got) != 1 {
		t.Fatalf("sibling waterings = %d, want 1", len(got))
	}
	if got, _ := s.ListWaterings(ctx, domain.PlantRef{UserID: "u2", PlantID: "p1"}); len(got) != 1 {
		t.Fatalf("other user's waterings = %d, want 1", len(got))
	}
	removed, err = s.DeletePlantSubtree(ctx, target)
	if err != nil || removed != 0 {
		t.Fatalf("second delete subtree: removed=%d err=%v", removed, err)
	}
}

func TestGormStorePublishesChanges(t *testing.T) {
	rec := &recordedChanges{}
	s := newSQLiteStore(t, WithPublisher(rec))
	ctx := context.Background()
	ref := seedPlant(t, s, "u1", "p1")
	seedWatering(t, s, ref, "w1", time.Now().UTC())
	if _, err := s.DeletePlant(ctx, ref); err != nil {
		t.Fatalf("delete plant: %v", err)
	}
	if _, err := s.DeletePlant(ctx, ref); err != nil {
		t.Fatalf("delete plant twice: %v", err)
	}

	kinds := rec.kinds(ref.Path())
	if len(kinds) != 2 || kinds[0] != events.Created || kinds[1] != events.Deleted {
		t.Fatalf("plant changes = %v", kinds)
	}
	if kinds := rec.kinds(ref.WateringPath("w1")); len(kinds) != 1 || kinds[0] != events.Created {
		t.Fatalf("watering changes = %v", kinds)
	}
}
