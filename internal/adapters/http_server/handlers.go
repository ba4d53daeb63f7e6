package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"stay_chat/internal/app"
	"stay_chat/internal/domain"
)

type Handlers struct {
	Lifecycle *app.Lifecycle
	Channel   *app.Channel
	Feed      *app.Feed
	Roster    *app.Roster
	Runtime   *app.Runtime
}

type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func (s *Server) MountHandlers(h *Handlers) {
	s.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) })

	s.mux.Group(func(r chi.Router) {
		r.Use(Timeout(15 * time.Second))
		r.Post("/v1/register", h.register)
		r.Post("/v1/checkin", h.checkIn)
		r.Get("/v1/rooms", h.listRooms)
		r.Post("/v1/rooms/{id}/checkout", h.checkOut)
		r.Get("/v1/rooms/{id}/messages", h.listMessages)
		r.Post("/v1/rooms/{id}/messages", h.sendMessage)
		r.Post("/v1/staff/{id}/profile", h.staffProfile)
		r.Post("/v1/staff/{id}/follow", h.follow)
		r.Post("/v1/staff/{id}/unfollow", h.unfollow)
	})

	// live streams; outside the request timeout, a websocket has no deadline
	// and must reach the raw connection
	s.mux.Get("/v1/rooms/{id}/stream", h.streamRoom)
	s.mux.Get("/v1/feed/stream", h.streamFeed)
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(problem{Type: "about:blank", Title: title, Status: status, Detail: detail}); err != nil {
		log.Error().Err(err).Msg("write JSON problem response failed")
	}
}

// writeError maps the operation error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrAuthentication):
		writeProblem(w, http.StatusUnauthorized, "Not Authenticated", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, domain.ErrRegistration),
		errors.Is(err, domain.ErrCheckIn),
		errors.Is(err, domain.ErrCheckOut),
		errors.Is(err, domain.ErrSend):
		writeProblem(w, http.StatusConflict, "Operation Failed", err.Error())
	default:
		writeProblem(w, http.StatusInternalServerError, "Internal Error", "unexpected failure")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("write JSON response failed")
	}
}

// callerID is the authenticated identity, bootstrapped upstream.
func callerID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

func (h *Handlers) register(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name         string `json:"name"`
		LanguageCode string `json:"languageCode"`
		RoomNumber   string `json:"roomNumber"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	p, err := h.Lifecycle.Register(r.Context(), callerID(r), in.Name, domain.LanguageByCode(in.LanguageCode), in.RoomNumber)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handlers) checkIn(w http.ResponseWriter, r *http.Request) {
	room, err := h.Lifecycle.CheckIn(r.Context(), callerID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (h *Handlers) checkOut(w http.ResponseWriter, r *http.Request) {
	if err := h.Lifecycle.CheckOut(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.Lifecycle.Rooms(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rooms)
}

func (h *Handlers) listMessages(w http.ResponseWriter, r *http.Request) {
	viewer := domain.LanguageByCode(r.URL.Query().Get("lang"))
	msgs, err := h.Channel.Snapshot(r.Context(), chi.URLParam(r, "id"), viewer)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *Handlers) sendMessage(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	var in struct {
		Text                     string `json:"text"`
		CounterpartyLanguageCode string `json:"counterpartyLanguageCode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}

	sender, viewer, counterparty, err := h.resolveSender(r, roomID)
	if err != nil {
		writeError(w, err)
		return
	}
	if in.CounterpartyLanguageCode != "" {
		counterparty = domain.LanguageByCode(in.CounterpartyLanguageCode)
	}

	if err := h.Channel.Send(r.Context(), roomID, sender, in.Text, viewer, counterparty); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// resolveSender derives identity and the two conversation languages from the
// caller's profile and the room record. Guests converse with the hotel
// default language; staff converse with the room's guest language.
func (h *Handlers) resolveSender(r *http.Request, roomID string) (app.Sender, domain.Language, domain.Language, error) {
	id := callerID(r)
	if id == "" {
		return app.Sender{}, domain.Language{}, domain.Language{}, domain.ErrAuthentication
	}

	if r.Header.Get("X-Role") == string(domain.RoleStaff) {
		p, err := h.Roster.EnsureProfile(r.Context(), id, r.Header.Get("X-Name"), domain.HotelDefault)
		if err != nil {
			return app.Sender{}, domain.Language{}, domain.Language{}, err
		}
		counterparty := domain.HotelDefault
		room, err := h.Lifecycle.Room(r.Context(), roomID)
		switch {
		case err == nil:
			counterparty = room.GuestLanguage
		case !errors.Is(err, domain.ErrNotFound):
			// a missing room is the send path's problem; a store failure is ours
			return app.Sender{}, domain.Language{}, domain.Language{}, err
		}
		return app.Sender{ID: p.ID, Name: p.Name, Role: domain.RoleStaff}, p.Language, counterparty, nil
	}

	p, err := h.Lifecycle.Profile(r.Context(), id)
	if err != nil {
		return app.Sender{}, domain.Language{}, domain.Language{}, err
	}
	return app.Sender{ID: p.ID, Name: p.Name, Role: domain.RoleGuest}, p.Language, domain.HotelDefault, nil
}

func (h *Handlers) staffProfile(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name         string `json:"name"`
		LanguageCode string `json:"languageCode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	p, err := h.Roster.EnsureProfile(r.Context(), chi.URLParam(r, "id"), in.Name, domain.LanguageByCode(in.LanguageCode))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handlers) follow(w http.ResponseWriter, r *http.Request) {
	h.toggleFollow(w, r, true)
}

func (h *Handlers) unfollow(w http.ResponseWriter, r *http.Request) {
	h.toggleFollow(w, r, false)
}

func (h *Handlers) toggleFollow(w http.ResponseWriter, r *http.Request, follow bool) {
	var in struct {
		RoomID string `json:"roomId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	staffID := chi.URLParam(r, "id")
	var (
		p   domain.StaffProfile
		err error
	)
	if follow {
		p, err = h.Roster.Follow(r.Context(), staffID, in.RoomID)
	} else {
		p, err = h.Roster.Unfollow(r.Context(), staffID, in.RoomID)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
