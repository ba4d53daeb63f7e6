package app

import (
	"context"
	"sort"
	"sync"

	"stay_chat/internal/domain"
)

const (
	// FeedPerRoomLimit caps what each per-room subscription contributes.
	FeedPerRoomLimit = 20
	// FeedOverallLimit caps the published cross-room list.
	FeedOverallLimit = 100
)

// Feed composes one live message subscription per room of interest into a
// single list ranked by message recency. Chat volume per room is small and
// bounded, so every per-room update recomputes and republishes the whole
// list; correctness and simplicity over incremental merging.
type Feed struct {
	store domain.DocStore
}

func NewFeed(store domain.DocStore) *Feed {
	return &Feed{store: store}
}

// FeedSubscription is a live cross-room view. SetRooms switches the room set
// wholesale: every existing per-room listener is released and a fresh set is
// established, so no stale listener can leak.
type FeedSubscription struct {
	store domain.DocStore
	emit  func([]domain.FeedItem)

	mu      sync.Mutex
	closed  bool
	gen     int // bumped on every SetRooms; stale deliveries are discarded
	perRoom map[string][]domain.FeedItem
	cancels map[string]domain.CancelFunc
}

// Subscribe establishes the initial room set and returns the live handle.
// emit receives the full ranked list on every underlying change.
func (f *Feed) Subscribe(ctx context.Context, roomIDs []string, emit func([]domain.FeedItem)) (*FeedSubscription, error) {
	sub := &FeedSubscription{
		store:   f.store,
		emit:    emit,
		perRoom: make(map[string][]domain.FeedItem),
		cancels: make(map[string]domain.CancelFunc),
	}
	if err := sub.SetRooms(ctx, roomIDs); err != nil {
		return nil, err
	}
	return sub, nil
}

// SetRooms tears down all per-room listeners and establishes the given set.
func (sub *FeedSubscription) SetRooms(ctx context.Context, roomIDs []string) error {
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return nil
	}
	sub.gen++
	gen := sub.gen
	old := sub.cancels
	sub.cancels = make(map[string]domain.CancelFunc, len(roomIDs))
	sub.perRoom = make(map[string][]domain.FeedItem, len(roomIDs))
	sub.mu.Unlock()

	// cancel outside the lock: a cancel blocks until any in-flight delivery
	// returns, and deliveries take the lock
	for _, cancel := range old {
		cancel()
	}

	for _, roomID := range roomIDs {
		roomID := roomID
		room := domain.Room{ID: roomID}
		if doc, ok, err := sub.store.Get(ctx, domain.RoomsCollection+"/"+roomID); err == nil && ok {
			room = roomFromDoc(doc)
		}

		filters := []domain.Filter{{Field: "roomId", Equals: roomID}}
		cancel, err := sub.store.Subscribe(ctx, domain.MessagesCollection, filters, func(docs []domain.Document) {
			sub.update(gen, roomID, room, messagesFromDocs(docs))
		})
		if err != nil {
			return err
		}

		sub.mu.Lock()
		if sub.closed || sub.gen != gen {
			sub.mu.Unlock()
			cancel()
			return nil
		}
		sub.cancels[roomID] = cancel
		sub.mu.Unlock()
	}

	if len(roomIDs) == 0 {
		sub.mu.Lock()
		if !sub.closed && sub.gen == gen {
			sub.emit(nil)
		}
		sub.mu.Unlock()
	}
	return nil
}

// Close releases every per-room listener. No emission follows its return.
func (sub *FeedSubscription) Close() {
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return
	}
	sub.closed = true
	old := sub.cancels
	sub.cancels = nil
	sub.mu.Unlock()

	for _, cancel := range old {
		cancel()
	}
}

// update recomputes one room's slice and republishes the merged list.
func (sub *FeedSubscription) update(gen int, roomID string, room domain.Room, msgs []domain.Message) {
	items := RankRoom(roomID, room, msgs)

	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed || sub.gen != gen {
		return
	}
	sub.perRoom[roomID] = items

	var all []domain.FeedItem
	for _, chunk := range sub.perRoom {
		all = append(all, chunk...)
	}
	sub.emit(RankFeed(all))
}

// RankRoom sorts one room's messages newest first and truncates to the
// per-room contribution cap.
func RankRoom(roomID string, room domain.Room, msgs []domain.Message) []domain.FeedItem {
	sorted := append([]domain.Message(nil), msgs...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Timestamp != sorted[j].Timestamp {
			return sorted[i].Timestamp > sorted[j].Timestamp
		}
		return sorted[i].ID > sorted[j].ID
	})
	if len(sorted) > FeedPerRoomLimit {
		sorted = sorted[:FeedPerRoomLimit]
	}
	items := make([]domain.FeedItem, len(sorted))
	for i, m := range sorted {
		items[i] = domain.FeedItem{RoomID: roomID, Room: room, Message: m}
	}
	return items
}

// RankFeed flattens per-room slices into the single published list: newest
// first, capped.
func RankFeed(items []domain.FeedItem) []domain.FeedItem {
	out := append([]domain.FeedItem(nil), items...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Message.Timestamp != out[j].Message.Timestamp {
			return out[i].Message.Timestamp > out[j].Message.Timestamp
		}
		return out[i].Message.ID > out[j].Message.ID
	})
	if len(out) > FeedOverallLimit {
		out = out[:FeedOverallLimit]
	}
	return out
}
