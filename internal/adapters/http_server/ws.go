package httpserver

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"stay_chat/internal/adapters/observability"
	"stay_chat/internal/domain"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// origin policy is enforced upstream
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamRoom pushes the room's full ordered message list on every change.
// Replace, not patch: each frame is the whole recomputed view for the
// requested viewer language.
func (h *Handlers) streamRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	viewer := domain.LanguageByCode(r.URL.Query().Get("lang"))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	var wmu sync.Mutex
	emit := func(msgs []domain.OrderedMessage) {
		wmu.Lock()
		defer wmu.Unlock()
		if err := conn.WriteJSON(msgs); err != nil {
			log.Debug().Err(err).Str("room", roomID).Msg("room stream write failed")
		}
	}

	cancel, err := h.Channel.Subscribe(r.Context(), roomID, viewer, emit)
	if err != nil {
		log.Error().Err(err).Str("room", roomID).Msg("room subscription failed")
		return
	}
	untrack := h.Runtime.Track(cancel)
	observability.SubscriptionOpened()
	defer func() {
		cancel()
		untrack()
		observability.SubscriptionClosed()
	}()

	// hold the stream open until the client goes away
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// feedControl is the client's room-set switch: either an explicit id list or
// the "show all rooms" toggle.
type feedControl struct {
	All   bool     `json:"all"`
	Rooms []string `json:"rooms"`
}

// streamFeed pushes the ranked cross-room feed. The initial room set comes
// from query params (staff=<id> for the followed set, all=1, or rooms=a,b);
// the client may switch sets mid-stream with a control frame, which tears
// down every per-room listener and establishes a fresh set.
func (h *Handlers) streamFeed(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	initial, err := h.resolveFeedRooms(r.Context(), feedControl{
		All:   q.Get("all") == "1",
		Rooms: splitRooms(q.Get("rooms")),
	}, q.Get("staff"))
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	var wmu sync.Mutex
	emit := func(items []domain.FeedItem) {
		if items == nil {
			items = []domain.FeedItem{}
		}
		wmu.Lock()
		defer wmu.Unlock()
		if err := conn.WriteJSON(items); err != nil {
			log.Debug().Err(err).Msg("feed stream write failed")
		}
	}

	sub, err := h.Feed.Subscribe(r.Context(), initial, emit)
	if err != nil {
		log.Error().Err(err).Msg("feed subscription failed")
		return
	}
	untrack := h.Runtime.Track(domain.CancelFunc(sub.Close))
	observability.SubscriptionOpened()
	defer func() {
		sub.Close()
		untrack()
		observability.SubscriptionClosed()
	}()

	for {
		var ctl feedControl
		if err := conn.ReadJSON(&ctl); err != nil {
			return
		}
		rooms, err := h.resolveFeedRooms(r.Context(), ctl, q.Get("staff"))
		if err != nil {
			log.Warn().Err(err).Msg("feed retarget failed")
			continue
		}
		if err := sub.SetRooms(r.Context(), rooms); err != nil {
			log.Warn().Err(err).Msg("feed retarget failed")
		}
	}
}

func (h *Handlers) resolveFeedRooms(ctx context.Context, ctl feedControl, staffID string) ([]string, error) {
	if ctl.All {
		rooms, err := h.Lifecycle.Rooms(ctx)
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(rooms))
		for _, room := range rooms {
			ids = append(ids, room.ID)
		}
		return ids, nil
	}
	if len(ctl.Rooms) > 0 {
		return ctl.Rooms, nil
	}
	if staffID != "" {
		p, err := h.Roster.EnsureProfile(ctx, staffID, "", domain.HotelDefault)
		if err != nil {
			return nil, err
		}
		return p.FollowedRooms, nil
	}
	return nil, nil
}

func splitRooms(csv string) []string {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
