package app

import (
	"context"
	"fmt"
	"time"

	"stay_chat/internal/domain"
)

// Roster tracks which rooms a staff member follows.
type Roster struct {
	store domain.DocStore
}

func NewRoster(store domain.DocStore) *Roster {
	return &Roster{store: store}
}

// EnsureProfile creates an empty-roster staff profile if none exists.
// Idempotent; an existing profile is returned untouched.
func (s *Roster) EnsureProfile(ctx context.Context, staffID, name string, lang domain.Language) (domain.StaffProfile, error) {
	doc, ok, err := s.store.Get(ctx, domain.StaffCollection+"/"+staffID)
	if err != nil {
		return domain.StaffProfile{}, err
	}
	if ok {
		return staffFromDoc(doc), nil
	}
	p := domain.StaffProfile{
		ID:        staffID,
		Name:      name,
		Language:  lang,
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.store.Set(ctx, domain.StaffCollection+"/"+staffID, staffFields(p), false); err != nil {
		return domain.StaffProfile{}, err
	}
	return p, nil
}

// Follow adds roomID to the member's followed set.
func (s *Roster) Follow(ctx context.Context, staffID, roomID string) (domain.StaffProfile, error) {
	return s.toggle(ctx, staffID, roomID, true)
}

// Unfollow removes roomID from the member's followed set.
func (s *Roster) Unfollow(ctx context.Context, staffID, roomID string) (domain.StaffProfile, error) {
	return s.toggle(ctx, staffID, roomID, false)
}

func (s *Roster) toggle(ctx context.Context, staffID, roomID string, follow bool) (domain.StaffProfile, error) {
	doc, ok, err := s.store.Get(ctx, domain.StaffCollection+"/"+staffID)
	if err != nil {
		return domain.StaffProfile{}, err
	}
	if !ok {
		return domain.StaffProfile{}, fmt.Errorf("%w: staff %s", domain.ErrNotFound, staffID)
	}
	p := staffFromDoc(doc)

	rooms := make([]string, 0, len(p.FollowedRooms)+1)
	for _, r := range p.FollowedRooms {
		if r != roomID {
			rooms = append(rooms, r)
		}
	}
	if follow {
		rooms = append(rooms, roomID)
	}
	p.FollowedRooms = rooms
	p.UpdatedAt = time.Now().UTC()

	err = s.store.Set(ctx, domain.StaffCollection+"/"+staffID, map[string]any{
		"followedRooms": rooms,
		"updatedAt":     p.UpdatedAt.Format(time.RFC3339Nano),
	}, true)
	if err != nil {
		return domain.StaffProfile{}, err
	}
	return p, nil
}
