package app_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"stay_chat/internal/app"
	"stay_chat/internal/domain"
	"stay_chat/internal/storage/memdoc"
)

func seedMessages(t *testing.T, store domain.DocStore, roomID string, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		_, err := store.Add(ctx, domain.MessagesCollection, map[string]any{
			"roomId":     roomID,
			"text":       fmt.Sprintf("message %d", i),
			"senderId":   "u1",
			"senderRole": "guest",
		})
		if err != nil {
			t.Fatalf("seed message %d: %v", i, err)
		}
	}
}

func liveCount(t *testing.T, store domain.DocStore, roomID string) int {
	t.Helper()
	docs, err := store.Query(context.Background(), domain.MessagesCollection, []domain.Filter{{Field: "roomId", Equals: roomID}})
	if err != nil {
		t.Fatalf("query live: %v", err)
	}
	return len(docs)
}

func archivedDocs(t *testing.T, store domain.DocStore, roomID string) []domain.Document {
	t.Helper()
	docs, err := store.Query(context.Background(), domain.ArchiveCollection, []domain.Filter{{Field: "roomId", Equals: roomID}})
	if err != nil {
		t.Fatalf("query archive: %v", err)
	}
	return docs
}

func TestRegister_WithRoomNumberEqualsRegisterThenCheckIn(t *testing.T) {
	store := memdoc.New()
	lc := app.NewLifecycle(store)
	ctx := context.Background()

	// one-step path: registration with a room number collapses check-in
	p1, err := lc.Register(ctx, "guest-1", "Ana", spanish, "101")
	if err != nil {
		t.Fatalf("register with room: %v", err)
	}
	if !p1.IsCheckedIn || p1.RoomID != "101" {
		t.Fatalf("one-step profile not checked in: %+v", p1)
	}

	// two-step QR path
	if _, err := lc.Register(ctx, "guest-2", "Bob", french, ""); err != nil {
		t.Fatalf("register without room: %v", err)
	}
	room2, err := lc.CheckIn(ctx, "guest-2")
	if err != nil {
		t.Fatalf("check in: %v", err)
	}
	p2, err := lc.Profile(ctx, "guest-2")
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if !p2.IsCheckedIn || p2.RoomID != room2.ID {
		t.Fatalf("two-step profile not checked in: %+v", p2)
	}

	// both paths end in the same observable state
	rooms, err := lc.Rooms(ctx)
	if err != nil {
		t.Fatalf("rooms: %v", err)
	}
	if len(rooms) != 2 {
		t.Fatalf("expected 2 rooms, got %d", len(rooms))
	}
	for _, r := range rooms {
		if r.Status != domain.RoomOccupied {
			t.Fatalf("room %s not occupied: %s", r.ID, r.Status)
		}
	}
	if room2.ID == "101" {
		t.Fatalf("generated room id collided with human-entered number")
	}
}

func TestRegister_MissingIdentity(t *testing.T) {
	lc := app.NewLifecycle(memdoc.New())
	_, err := lc.Register(context.Background(), "", "Ana", spanish, "")
	if !errors.Is(err, domain.ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}
}

func TestCheckOut_ArchivesAcrossBatches(t *testing.T) {
	store := memdoc.New()
	lc := app.NewLifecycle(store)
	ctx := context.Background()

	if _, err := lc.Register(ctx, "guest-1", "Ana", spanish, "101"); err != nil {
		t.Fatalf("register: %v", err)
	}
	// 850 messages spans five 400-op batches (two ops per message)
	seedMessages(t, store, "101", 850)

	if err := lc.CheckOut(ctx, "101"); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	if n := liveCount(t, store, "101"); n != 0 {
		t.Fatalf("live messages remain: %d", n)
	}
	arch := archivedDocs(t, store, "101")
	if len(arch) != 850 {
		t.Fatalf("archive count: got %d want 850", len(arch))
	}
	for _, d := range arch {
		orig, _ := d.Fields["originalMessageId"].(string)
		if orig == "" || orig != d.ID {
			t.Fatalf("archived doc %s missing originalMessageId (%q)", d.ID, orig)
		}
		if _, ok := d.Fields["archivedAt"].(string); !ok {
			t.Fatalf("archived doc %s missing archivedAt", d.ID)
		}
	}

	// room terminal, occupant released
	rooms, _ := lc.Rooms(ctx)
	if rooms[0].Status != domain.RoomCheckedOut {
		t.Fatalf("room status: %s", rooms[0].Status)
	}
	p, err := lc.Profile(ctx, "guest-1")
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if p.IsCheckedIn || p.RoomID != "" {
		t.Fatalf("occupant not released: %+v", p)
	}
}

// flakyStore fails the Nth batch write, then recovers.
type flakyStore struct {
	domain.DocStore
	batches int32
	failAt  int32
}

func (s *flakyStore) BatchWrite(ctx context.Context, ops []domain.WriteOp) error {
	n := atomic.AddInt32(&s.batches, 1)
	if s.failAt > 0 && n == s.failAt {
		return errors.New("store unavailable")
	}
	return s.DocStore.BatchWrite(ctx, ops)
}

func TestCheckOut_PartialFailureThenRerunDoesNotDuplicate(t *testing.T) {
	inner := memdoc.New()
	ctx := context.Background()

	// register goes through the flaky wrapper too; its batch is call #1 and
	// the first archival batch is call #2
	store := &flakyStore{DocStore: inner, failAt: 3}
	lc := app.NewLifecycle(store)
	if _, err := lc.Register(ctx, "guest-1", "Ana", spanish, "101"); err != nil {
		t.Fatalf("register: %v", err)
	}
	seedMessages(t, inner, "101", 500)

	// batch 1 (200 messages) commits, batch 2 fails
	err := lc.CheckOut(ctx, "101")
	if !errors.Is(err, domain.ErrCheckOut) {
		t.Fatalf("expected ErrCheckOut, got %v", err)
	}
	if got := len(archivedDocs(t, inner, "101")); got != 200 {
		t.Fatalf("after partial failure: archived %d want 200", got)
	}
	if got := liveCount(t, inner, "101"); got != 300 {
		t.Fatalf("after partial failure: live %d want 300", got)
	}

	// re-run against the remaining live set; archive writes are keyed by
	// original id and merge, so committed batches are not duplicated
	store.failAt = 0
	if err := lc.CheckOut(ctx, "101"); err != nil {
		t.Fatalf("re-run checkout: %v", err)
	}
	if got := len(archivedDocs(t, inner, "101")); got != 500 {
		t.Fatalf("after re-run: archived %d want 500", got)
	}
	if got := liveCount(t, inner, "101"); got != 0 {
		t.Fatalf("after re-run: live %d want 0", got)
	}
}

func TestRoom_LoadsSingleRecord(t *testing.T) {
	store := memdoc.New()
	lc := app.NewLifecycle(store)
	ctx := context.Background()

	if _, err := lc.Register(ctx, "guest-1", "Ana", spanish, "101"); err != nil {
		t.Fatalf("register: %v", err)
	}

	room, err := lc.Room(ctx, "101")
	if err != nil {
		t.Fatalf("room: %v", err)
	}
	if room.ID != "101" || room.GuestLanguage.Code != "es-ES" || room.Status != domain.RoomOccupied {
		t.Fatalf("unexpected room: %+v", room)
	}

	if _, err := lc.Room(ctx, "absent"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for absent room, got %v", err)
	}
}

func TestCheckIn_RequiresRegistration(t *testing.T) {
	lc := app.NewLifecycle(memdoc.New())
	_, err := lc.CheckIn(context.Background(), "ghost")
	if !errors.Is(err, domain.ErrCheckIn) {
		t.Fatalf("expected ErrCheckIn, got %v", err)
	}
}

func TestCheckIn_Idempotent(t *testing.T) {
	store := memdoc.New()
	lc := app.NewLifecycle(store)
	ctx := context.Background()

	if _, err := lc.Register(ctx, "guest-1", "Ana", spanish, ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	r1, err := lc.CheckIn(ctx, "guest-1")
	if err != nil {
		t.Fatalf("first check-in: %v", err)
	}
	r2, err := lc.CheckIn(ctx, "guest-1")
	if err != nil {
		t.Fatalf("second check-in: %v", err)
	}
	if r1.ID != r2.ID {
		t.Fatalf("repeat check-in allocated a new room: %s vs %s", r1.ID, r2.ID)
	}
}
