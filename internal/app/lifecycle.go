package app

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"stay_chat/internal/adapters/observability"
	"stay_chat/internal/domain"
)

// Lifecycle owns room existence and the occupancy state machine:
// UNBOOKED -> OCCUPIED -> CHECKED_OUT (terminal; a checked-out id is never
// reused).
type Lifecycle struct {
	store domain.DocStore
}

func NewLifecycle(store domain.DocStore) *Lifecycle {
	return &Lifecycle{store: store}
}

// Register creates or overwrites the caller's profile. A non-empty room
// number collapses registration and check-in into one atomic step.
func (s *Lifecycle) Register(ctx context.Context, userID, name string, lang domain.Language, roomNumber string) (domain.UserProfile, error) {
	if userID == "" {
		return domain.UserProfile{}, fmt.Errorf("%w: missing identity", domain.ErrAuthentication)
	}
	now := time.Now().UTC()

	created := now
	if prev, ok, err := s.store.Get(ctx, domain.UsersCollection+"/"+userID); err != nil {
		return domain.UserProfile{}, fmt.Errorf("%w: %v", domain.ErrRegistration, err)
	} else if ok {
		if t := ftime(prev.Fields, "createdAt"); !t.IsZero() {
			created = t
		}
	}

	profile := domain.UserProfile{
		ID:        userID,
		Name:      name,
		Language:  lang,
		Role:      domain.RoleGuest,
		CreatedAt: created,
		UpdatedAt: now,
	}

	if roomNumber == "" {
		if err := s.store.Set(ctx, domain.UsersCollection+"/"+userID, userFields(profile), false); err != nil {
			return domain.UserProfile{}, fmt.Errorf("%w: %v", domain.ErrRegistration, err)
		}
		return profile, nil
	}

	profile.RoomID = roomNumber
	profile.IsCheckedIn = true
	room := domain.Room{
		ID:            roomNumber,
		GuestName:     name,
		GuestLanguage: lang,
		Status:        domain.RoomOccupied,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	// last write wins on concurrent check-in to the same number; the room
	// write merges so the loser's fields converge
	err := s.store.BatchWrite(ctx, []domain.WriteOp{
		{Kind: domain.WriteSet, Path: domain.UsersCollection + "/" + userID, Fields: userFields(profile)},
		{Kind: domain.WriteSet, Path: domain.RoomsCollection + "/" + roomNumber, Fields: roomFields(room), Merge: true},
	})
	if err != nil {
		return domain.UserProfile{}, fmt.Errorf("%w: %v", domain.ErrRegistration, err)
	}
	return profile, nil
}

// CheckIn is the QR-scan path: a registered profile with no room gets a fresh
// generated room token.
func (s *Lifecycle) CheckIn(ctx context.Context, userID string) (domain.Room, error) {
	doc, ok, err := s.store.Get(ctx, domain.UsersCollection+"/"+userID)
	if err != nil {
		return domain.Room{}, fmt.Errorf("%w: %v", domain.ErrCheckIn, err)
	}
	if !ok {
		return domain.Room{}, fmt.Errorf("%w: profile %s not registered", domain.ErrCheckIn, userID)
	}
	profile := userFromDoc(doc)
	if profile.IsCheckedIn && profile.RoomID != "" {
		rd, ok, err := s.store.Get(ctx, domain.RoomsCollection+"/"+profile.RoomID)
		if err == nil && ok {
			return roomFromDoc(rd), nil
		}
	}

	roomID, err := s.freshRoomID(ctx)
	if err != nil {
		return domain.Room{}, fmt.Errorf("%w: %v", domain.ErrCheckIn, err)
	}

	now := time.Now().UTC()
	room := domain.Room{
		ID:            roomID,
		GuestName:     profile.Name,
		GuestLanguage: profile.Language,
		Status:        domain.RoomOccupied,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err = s.store.BatchWrite(ctx, []domain.WriteOp{
		{Kind: domain.WriteSet, Path: domain.RoomsCollection + "/" + roomID, Fields: roomFields(room)},
		{Kind: domain.WriteSet, Path: domain.UsersCollection + "/" + userID, Merge: true, Fields: map[string]any{
			"roomId":      roomID,
			"isCheckedIn": true,
			"updatedAt":   now.Format(time.RFC3339Nano),
		}},
	})
	if err != nil {
		return domain.Room{}, fmt.Errorf("%w: %v", domain.ErrCheckIn, err)
	}
	return room, nil
}

// freshRoomID generates a token that does not collide with any existing room.
func (s *Lifecycle) freshRoomID(ctx context.Context) (string, error) {
	for i := 0; i < 3; i++ {
		id := uuid.NewString()
		_, exists, err := s.store.Get(ctx, domain.RoomsCollection+"/"+id)
		if err != nil {
			return "", err
		}
		if !exists {
			return id, nil
		}
	}
	return "", fmt.Errorf("room id generation kept colliding")
}

// messagesPerBatch keeps each archival batch within the store's op ceiling:
// every message costs one archive write plus one live delete.
const messagesPerBatch = domain.MaxBatchOps / 2

// CheckOut evacuates the room's live messages into the archive in sequential
// atomic batches, then marks the room checked out and releases the occupant.
// A failure on batch k leaves batches 1..k-1 durably archived; nothing is
// rolled back. The archive write is keyed by the original message id and
// merges, so re-running after a partial failure does not duplicate.
func (s *Lifecycle) CheckOut(ctx context.Context, roomID string) error {
	docs, err := s.store.Query(ctx, domain.MessagesCollection, []domain.Filter{{Field: "roomId", Equals: roomID}})
	if err != nil {
		return fmt.Errorf("%w: query live messages: %v", domain.ErrCheckOut, err)
	}

	archivedAt := time.Now().UTC()
	for start := 0; start < len(docs); start += messagesPerBatch {
		end := start + messagesPerBatch
		if end > len(docs) {
			end = len(docs)
		}
		ops := make([]domain.WriteOp, 0, (end-start)*2)
		for _, d := range docs[start:end] {
			ops = append(ops,
				domain.WriteOp{
					Kind:   domain.WriteSet,
					Path:   domain.ArchiveCollection + "/" + d.ID,
					Fields: archiveFields(d, archivedAt),
					Merge:  true,
				},
				domain.WriteOp{Kind: domain.WriteDelete, Path: d.Path},
			)
		}
		if err := s.store.BatchWrite(ctx, ops); err != nil {
			observability.ObserveArchiveBatch("error")
			return fmt.Errorf("%w: archive batch at %d: %v", domain.ErrCheckOut, start, err)
		}
		observability.ObserveArchiveBatch("ok")
	}

	now := time.Now().UTC()
	err = s.store.Set(ctx, domain.RoomsCollection+"/"+roomID, map[string]any{
		"status":    string(domain.RoomCheckedOut),
		"updatedAt": now.Format(time.RFC3339Nano),
	}, true)
	if err != nil {
		return fmt.Errorf("%w: mark room: %v", domain.ErrCheckOut, err)
	}

	occupants, err := s.store.Query(ctx, domain.UsersCollection, []domain.Filter{{Field: "roomId", Equals: roomID}})
	if err != nil {
		return fmt.Errorf("%w: find occupant: %v", domain.ErrCheckOut, err)
	}
	for _, o := range occupants {
		err := s.store.Set(ctx, o.Path, map[string]any{
			"roomId":      "",
			"isCheckedIn": false,
			"updatedAt":   now.Format(time.RFC3339Nano),
		}, true)
		if err != nil {
			return fmt.Errorf("%w: release occupant %s: %v", domain.ErrCheckOut, o.ID, err)
		}
	}

	log.Info().Str("room", roomID).Int("archived", len(docs)).Msg("room checked out")
	return nil
}

// Room loads one room record.
func (s *Lifecycle) Room(ctx context.Context, roomID string) (domain.Room, error) {
	doc, ok, err := s.store.Get(ctx, domain.RoomsCollection+"/"+roomID)
	if err != nil {
		return domain.Room{}, err
	}
	if !ok {
		return domain.Room{}, fmt.Errorf("%w: room %s", domain.ErrNotFound, roomID)
	}
	return roomFromDoc(doc), nil
}

// Profile loads a guest profile.
func (s *Lifecycle) Profile(ctx context.Context, userID string) (domain.UserProfile, error) {
	doc, ok, err := s.store.Get(ctx, domain.UsersCollection+"/"+userID)
	if err != nil {
		return domain.UserProfile{}, err
	}
	if !ok {
		return domain.UserProfile{}, domain.ErrNotFound
	}
	return userFromDoc(doc), nil
}

// Rooms lists every room ordered by message recency, newest first. Served
// from Room records only; no message scan.
func (s *Lifecycle) Rooms(ctx context.Context) ([]domain.Room, error) {
	docs, err := s.store.Query(ctx, domain.RoomsCollection, nil)
	if err != nil {
		return nil, err
	}
	rooms := make([]domain.Room, 0, len(docs))
	for _, d := range docs {
		rooms = append(rooms, roomFromDoc(d))
	}
	sort.Slice(rooms, func(i, j int) bool {
		if !rooms[i].LastMessageAt.Equal(rooms[j].LastMessageAt) {
			return rooms[i].LastMessageAt.After(rooms[j].LastMessageAt)
		}
		return rooms[i].UpdatedAt.After(rooms[j].UpdatedAt)
	})
	return rooms, nil
}
