package memdoc_test

import (
	"context"
	"sync"
	"testing"

	"stay_chat/internal/domain"
	"stay_chat/internal/storage/memdoc"
)

func TestStore_SetGetMerge(t *testing.T) {
	s := memdoc.New()
	ctx := context.Background()

	if err := s.Set(ctx, "users/u1", map[string]any{"name": "Ana", "roomId": "101"}, false); err != nil {
		t.Fatalf("set: %v", err)
	}
	d, ok, err := s.Get(ctx, "users/u1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if d.ID != "u1" || d.Fields["name"] != "Ana" {
		t.Fatalf("unexpected doc: %+v", d)
	}
	first := d.WriteTime

	// merge keeps untouched fields and bumps the write time
	if err := s.Set(ctx, "users/u1", map[string]any{"roomId": ""}, true); err != nil {
		t.Fatalf("merge: %v", err)
	}
	d, _, _ = s.Get(ctx, "users/u1")
	if d.Fields["name"] != "Ana" || d.Fields["roomId"] != "" {
		t.Fatalf("merge lost fields: %+v", d.Fields)
	}
	if d.WriteTime <= first {
		t.Fatalf("write time not monotonic: %d then %d", first, d.WriteTime)
	}

	// replace drops unmentioned fields
	if err := s.Set(ctx, "users/u1", map[string]any{"name": "Bob"}, false); err != nil {
		t.Fatalf("replace: %v", err)
	}
	d, _, _ = s.Get(ctx, "users/u1")
	if _, still := d.Fields["roomId"]; still {
		t.Fatalf("replace kept old fields: %+v", d.Fields)
	}
}

func TestStore_QueryEqualityFilters(t *testing.T) {
	s := memdoc.New()
	ctx := context.Background()

	for _, room := range []string{"101", "101", "102"} {
		if _, err := s.Add(ctx, "public/messages", map[string]any{"roomId": room}); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	docs, err := s.Query(ctx, "public/messages", []domain.Filter{{Field: "roomId", Equals: "101"}})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("filtered query: got %d want 2", len(docs))
	}
	all, _ := s.Query(ctx, "public/messages", nil)
	if len(all) != 3 {
		t.Fatalf("unfiltered query: got %d want 3", len(all))
	}
}

func TestStore_BatchWriteLimitAndAtomicMove(t *testing.T) {
	s := memdoc.New()
	ctx := context.Background()

	too := make([]domain.WriteOp, domain.MaxBatchOps+1)
	for i := range too {
		too[i] = domain.WriteOp{Kind: domain.WriteSet, Path: "x/y", Fields: map[string]any{}}
	}
	if err := s.BatchWrite(ctx, too); err == nil {
		t.Fatalf("oversized batch accepted")
	}

	id, _ := s.Add(ctx, "public/messages", map[string]any{"roomId": "101", "text": "hi"})
	err := s.BatchWrite(ctx, []domain.WriteOp{
		{Kind: domain.WriteSet, Path: "public/archived_messages/" + id, Fields: map[string]any{"roomId": "101", "originalMessageId": id}, Merge: true},
		{Kind: domain.WriteDelete, Path: "public/messages/" + id},
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "public/messages/"+id); ok {
		t.Fatalf("live doc survived the move")
	}
	if _, ok, _ := s.Get(ctx, "public/archived_messages/"+id); !ok {
		t.Fatalf("archived doc missing")
	}
}

func TestStore_SubscribeConcurrentWritesConvergeToFreshest(t *testing.T) {
	s := memdoc.New()
	ctx := context.Background()

	const writes = 50
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < writes; i++ {
			if _, err := s.Add(ctx, "public/messages", map[string]any{"roomId": "101"}); err != nil {
				t.Errorf("add: %v", err)
				return
			}
		}
	}()

	// subscribing mid-write-storm: the initial snapshot races the change
	// deliveries, and an older result set must never land after a newer one
	var mu sync.Mutex
	var last []domain.Document
	cancel, err := s.Subscribe(ctx, "public/messages", []domain.Filter{{Field: "roomId", Equals: "101"}}, func(docs []domain.Document) {
		mu.Lock()
		last = docs
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	<-done
	cancel()

	mu.Lock()
	defer mu.Unlock()
	if len(last) != writes {
		t.Fatalf("final snapshot regressed: got %d docs want %d", len(last), writes)
	}
}

func TestStore_SubscribeInitialChangeAndCancel(t *testing.T) {
	s := memdoc.New()
	ctx := context.Background()

	var mu sync.Mutex
	var snapshots [][]domain.Document
	cancel, err := s.Subscribe(ctx, "public/messages", []domain.Filter{{Field: "roomId", Equals: "101"}}, func(docs []domain.Document) {
		mu.Lock()
		snapshots = append(snapshots, docs)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	mu.Lock()
	if len(snapshots) != 1 || len(snapshots[0]) != 0 {
		t.Fatalf("expected one empty initial snapshot, got %+v", snapshots)
	}
	mu.Unlock()

	if _, err := s.Add(ctx, "public/messages", map[string]any{"roomId": "101"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	// a write to another room still notifies the collection; the handler
	// receives the filtered set
	if _, err := s.Add(ctx, "public/messages", map[string]any{"roomId": "999"}); err != nil {
		t.Fatalf("add other: %v", err)
	}

	mu.Lock()
	last := snapshots[len(snapshots)-1]
	n := len(snapshots)
	mu.Unlock()
	if len(last) != 1 {
		t.Fatalf("filtered snapshot: got %d docs", len(last))
	}

	cancel()
	if _, err := s.Add(ctx, "public/messages", map[string]any{"roomId": "101"}); err != nil {
		t.Fatalf("add after cancel: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(snapshots) != n {
		t.Fatalf("handler fired after cancel")
	}
}
