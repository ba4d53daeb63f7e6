package app

import (
	"time"

	"stay_chat/internal/domain"
)

// Document fields round-trip through JSON in the redis store, so every reader
// here tolerates both the native Go shapes written by the services and the
// decoded shapes (map[string]any, []any, float64) coming back.

/********** field readers **********/

func fstr(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func fbool(m map[string]any, key string) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return false
}

func fint64(m map[string]any, key string) int64 {
	switch v := m[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

func ftime(m map[string]any, key string) time.Time {
	s, ok := m[key].(string)
	if !ok || s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func flang(m map[string]any, key string) domain.Language {
	switch v := m[key].(type) {
	case domain.Language:
		return v
	case map[string]any:
		return domain.Language{Label: str(v["label"]), Code: str(v["code"])}
	case map[string]string:
		return domain.Language{Label: v["label"], Code: v["code"]}
	}
	return domain.Language{}
}

func fstrs(m map[string]any, key string) []string {
	switch v := m[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func fstrmap(m map[string]any, key string) map[string]string {
	switch v := m[key].(type) {
	case map[string]string:
		out := make(map[string]string, len(v))
		for k, s := range v {
			out[k] = s
		}
		return out
	case map[string]any:
		out := make(map[string]string, len(v))
		for k, e := range v {
			if s, ok := e.(string); ok {
				out[k] = s
			}
		}
		return out
	}
	return nil
}

func fmeta(m map[string]any, key string) map[string]domain.TranslationMeta {
	raw, ok := m[key]
	if !ok {
		return nil
	}
	out := map[string]domain.TranslationMeta{}
	switch v := raw.(type) {
	case map[string]domain.TranslationMeta:
		for k, tm := range v {
			out[k] = tm
		}
	case map[string]any:
		for k, e := range v {
			em, ok := e.(map[string]any)
			if !ok {
				continue
			}
			out[k] = domain.TranslationMeta{
				Provider:     str(em["provider"]),
				Confidence:   num(em["confidence"]),
				DetectedLang: str(em["detectedLang"]),
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func num(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

func langFields(l domain.Language) map[string]any {
	return map[string]any{"label": l.Label, "code": l.Code}
}

/********** users **********/

func userFromDoc(d domain.Document) domain.UserProfile {
	return domain.UserProfile{
		ID:          d.ID,
		Name:        fstr(d.Fields, "name"),
		Language:    flang(d.Fields, "language"),
		Role:        domain.RoleGuest,
		RoomID:      fstr(d.Fields, "roomId"),
		IsCheckedIn: fbool(d.Fields, "isCheckedIn"),
		CreatedAt:   ftime(d.Fields, "createdAt"),
		UpdatedAt:   ftime(d.Fields, "updatedAt"),
	}
}

func userFields(p domain.UserProfile) map[string]any {
	return map[string]any{
		"name":        p.Name,
		"language":    langFields(p.Language),
		"role":        string(domain.RoleGuest),
		"roomId":      p.RoomID,
		"isCheckedIn": p.IsCheckedIn,
		"createdAt":   p.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt":   p.UpdatedAt.Format(time.RFC3339Nano),
	}
}

/********** staff **********/

func staffFromDoc(d domain.Document) domain.StaffProfile {
	return domain.StaffProfile{
		ID:            d.ID,
		Name:          fstr(d.Fields, "name"),
		Language:      flang(d.Fields, "language"),
		FollowedRooms: fstrs(d.Fields, "followedRooms"),
		UpdatedAt:     ftime(d.Fields, "updatedAt"),
	}
}

func staffFields(p domain.StaffProfile) map[string]any {
	rooms := p.FollowedRooms
	if rooms == nil {
		rooms = []string{}
	}
	return map[string]any{
		"name":          p.Name,
		"language":      langFields(p.Language),
		"followedRooms": rooms,
		"updatedAt":     p.UpdatedAt.Format(time.RFC3339Nano),
	}
}

/********** rooms **********/

func roomFromDoc(d domain.Document) domain.Room {
	return domain.Room{
		ID:                 d.ID,
		GuestName:          fstr(d.Fields, "guestName"),
		GuestLanguage:      flang(d.Fields, "guestLanguage"),
		Status:             domain.RoomStatus(fstr(d.Fields, "status")),
		LastMessageAt:      ftime(d.Fields, "lastMessageAt"),
		LastMessagePreview: fstr(d.Fields, "lastMessagePreview"),
		CreatedAt:          ftime(d.Fields, "createdAt"),
		UpdatedAt:          ftime(d.Fields, "updatedAt"),
	}
}

func roomFields(r domain.Room) map[string]any {
	return map[string]any{
		"guestName":     r.GuestName,
		"guestLanguage": langFields(r.GuestLanguage),
		"status":        string(r.Status),
		"createdAt":     r.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt":     r.UpdatedAt.Format(time.RFC3339Nano),
	}
}

/********** messages **********/

func messageFromDoc(d domain.Document) domain.Message {
	return domain.Message{
		ID:              d.ID,
		RoomID:          fstr(d.Fields, "roomId"),
		Text:            fstr(d.Fields, "text"),
		Language:        flang(d.Fields, "language"),
		SenderID:        fstr(d.Fields, "senderId"),
		SenderName:      fstr(d.Fields, "senderName"),
		SenderRole:      domain.Role(fstr(d.Fields, "senderRole")),
		Timestamp:       d.WriteTime,
		Translations:    fstrmap(d.Fields, "translations"),
		TranslationMeta: fmeta(d.Fields, "translationMeta"),
	}
}

func messagesFromDocs(docs []domain.Document) []domain.Message {
	out := make([]domain.Message, 0, len(docs))
	for _, d := range docs {
		out = append(out, messageFromDoc(d))
	}
	return out
}

func messageFields(m domain.Message) map[string]any {
	f := map[string]any{
		"roomId":     m.RoomID,
		"text":       m.Text,
		"language":   langFields(m.Language),
		"senderId":   m.SenderID,
		"senderName": m.SenderName,
		"senderRole": string(m.SenderRole),
	}
	if len(m.Translations) > 0 {
		f["translations"] = m.Translations
	}
	if len(m.TranslationMeta) > 0 {
		meta := map[string]any{}
		for code, tm := range m.TranslationMeta {
			meta[code] = map[string]any{
				"provider":     tm.Provider,
				"confidence":   tm.Confidence,
				"detectedLang": tm.DetectedLang,
			}
		}
		f["translationMeta"] = meta
	}
	return f
}

// archiveFields copies a live message document into its archive shape. The
// original write time is preserved as an explicit field since the archive
// write gets its own store timestamp.
func archiveFields(d domain.Document, archivedAt time.Time) map[string]any {
	f := make(map[string]any, len(d.Fields)+3)
	for k, v := range d.Fields {
		f[k] = v
	}
	f["archivedAt"] = archivedAt.Format(time.RFC3339Nano)
	f["originalMessageId"] = d.ID
	f["timestamp"] = int64(d.WriteTime)
	return f
}
