package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"stay_chat/internal/adapters/observability"
	"stay_chat/internal/domain"
)

// UntranslatedPrefix marks text the gateway could not translate; the tagged
// copy of the source text is stored in place of a translation so delivery
// never blocks on the gateway.
const UntranslatedPrefix = "[untranslated] "

// previewRunes bounds the room-card preview stored on the Room record.
const previewRunes = 80

// Channel is the per-room live view over messages, parameterized by a viewer
// language.
type Channel struct {
	store domain.DocStore
	tr    domain.Translator

	mu       sync.Mutex
	inflight map[string]struct{} // sender ids with a send in progress
}

func NewChannel(store domain.DocStore, tr domain.Translator) *Channel {
	return &Channel{store: store, tr: tr, inflight: make(map[string]struct{})}
}

// Subscribe emits the full recomputed ordered list on every change to the
// room's message set (replace, not patch). The change feed carries no order
// guarantee; ordering is imposed here on each emission.
func (s *Channel) Subscribe(ctx context.Context, roomID string, viewer domain.Language, emit func([]domain.OrderedMessage)) (domain.CancelFunc, error) {
	filters := []domain.Filter{{Field: "roomId", Equals: roomID}}
	return s.store.Subscribe(ctx, domain.MessagesCollection, filters, func(docs []domain.Document) {
		emit(OrderMessages(messagesFromDocs(docs), viewer))
	})
}

// Snapshot is the one-shot form of Subscribe, for initial render.
func (s *Channel) Snapshot(ctx context.Context, roomID string, viewer domain.Language) ([]domain.OrderedMessage, error) {
	docs, err := s.store.Query(ctx, domain.MessagesCollection, []domain.Filter{{Field: "roomId", Equals: roomID}})
	if err != nil {
		return nil, err
	}
	return OrderMessages(messagesFromDocs(docs), viewer), nil
}

// OrderMessages sorts ascending by the store's write timestamp — unassigned
// timestamps order first — and overlays the viewer's stored translation where
// one exists.
func OrderMessages(msgs []domain.Message, viewer domain.Language) []domain.OrderedMessage {
	sorted := append([]domain.Message(nil), msgs...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Timestamp != sorted[j].Timestamp {
			return sorted[i].Timestamp < sorted[j].Timestamp
		}
		return sorted[i].ID < sorted[j].ID
	})
	out := make([]domain.OrderedMessage, len(sorted))
	for i, m := range sorted {
		display := m.Text
		if m.Language.Code != viewer.Code {
			if t, ok := m.Translations[viewer.Code]; ok {
				display = t
			}
		}
		out[i] = domain.OrderedMessage{Message: m, DisplayText: display}
	}
	return out
}

// Sender identifies the composing party of an outbound message.
type Sender struct {
	ID   string
	Name string
	Role domain.Role
}

// Send translates (best effort), persists, and touches the room's recency
// fields. One send may be in flight per composer at a time.
func (s *Channel) Send(ctx context.Context, roomID string, sender Sender, body string, viewer, counterparty domain.Language) error {
	if strings.TrimSpace(body) == "" {
		return fmt.Errorf("%w: empty message", domain.ErrSend)
	}

	s.mu.Lock()
	if _, busy := s.inflight[sender.ID]; busy {
		s.mu.Unlock()
		return fmt.Errorf("%w: a send is already in flight", domain.ErrSend)
	}
	s.inflight[sender.ID] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.inflight, sender.ID)
		s.mu.Unlock()
	}()

	// checkout is a hard boundary: nothing may be appended afterward
	roomDoc, ok, err := s.store.Get(ctx, domain.RoomsCollection+"/"+roomID)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSend, err)
	}
	if !ok {
		return fmt.Errorf("%w: room %s does not exist", domain.ErrSend, roomID)
	}
	if roomFromDoc(roomDoc).Status == domain.RoomCheckedOut {
		return fmt.Errorf("%w: room %s is checked out", domain.ErrSend, roomID)
	}

	msg := domain.Message{
		RoomID:     roomID,
		Text:       body,
		Language:   viewer,
		SenderID:   sender.ID,
		SenderName: sender.Name,
		SenderRole: sender.Role,
	}

	// same language code on both sides never invokes the gateway
	if viewer.Code != counterparty.Code {
		tr, terr := s.tr.Translate(ctx, body, viewer.Code, counterparty.Code)
		if terr != nil {
			// degraded, not failed: tag the source text and deliver anyway
			observability.ObserveTranslation("unavailable")
			log.Warn().Err(terr).Str("room", roomID).Msg("translation unavailable, sending tagged original")
			msg.Translations = map[string]string{counterparty.Code: UntranslatedPrefix + body}
		} else {
			observability.ObserveTranslation("ok")
			msg.Translations = map[string]string{counterparty.Code: tr.Translated}
			msg.TranslationMeta = map[string]domain.TranslationMeta{counterparty.Code: {
				Provider:     tr.Provider,
				Confidence:   tr.Confidence,
				DetectedLang: tr.DetectedLang,
			}}
		}
	}

	if _, err := s.store.Add(ctx, domain.MessagesCollection, messageFields(msg)); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSend, err)
	}

	now := time.Now().UTC()
	err = s.store.Set(ctx, domain.RoomsCollection+"/"+roomID, map[string]any{
		"lastMessageAt":      now.Format(time.RFC3339Nano),
		"lastMessagePreview": truncate(body, previewRunes),
		"updatedAt":          now.Format(time.RFC3339Nano),
	}, true)
	if err != nil {
		// the message is durably persisted; recency metadata is best effort
		log.Warn().Err(err).Str("room", roomID).Msg("room recency touch failed")
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
