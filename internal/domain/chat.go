package domain

import "time"

// Language is an immutable catalog value. Code is a BCP 47 tag.
type Language struct {
	Label string `json:"label"`
	Code  string `json:"code"`
}

// HotelDefault is the language staff replies are assumed to be written in
// when a counterparty language cannot be determined.
var HotelDefault = Language{Label: "English", Code: "en-US"}

var Languages = []Language{
	HotelDefault,
	{Label: "Español", Code: "es-ES"},
	{Label: "Français", Code: "fr-FR"},
	{Label: "Deutsch", Code: "de-DE"},
	{Label: "Português", Code: "pt-BR"},
	{Label: "日本語", Code: "ja-JP"},
	{Label: "한국어", Code: "ko-KR"},
	{Label: "中文", Code: "zh-CN"},
	{Label: "العربية", Code: "ar-SA"},
}

// LanguageByCode resolves a catalog entry. Unknown codes still yield a usable
// value (the code itself as label) so stored documents never round-trip to an
// empty language.
func LanguageByCode(code string) Language {
	for _, l := range Languages {
		if l.Code == code {
			return l
		}
	}
	if code == "" {
		return HotelDefault
	}
	return Language{Label: code, Code: code}
}

type Role string

const (
	RoleGuest Role = "guest"
	RoleStaff Role = "staff"
)

type RoomStatus string

const (
	RoomOccupied   RoomStatus = "occupied"
	RoomCheckedOut RoomStatus = "checked_out"
)

// UserProfile is one authenticated guest identity. RoomID/IsCheckedIn are
// mutated only by check-in and check-out.
type UserProfile struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Language    Language  `json:"language"`
	Role        Role      `json:"role"`
	RoomID      string    `json:"roomId,omitempty"`
	IsCheckedIn bool      `json:"isCheckedIn"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type StaffProfile struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Language      Language  `json:"language"`
	FollowedRooms []string  `json:"followedRooms"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Room is a conversation scope. ID is either a human-entered room number or a
// generated token; both key the same collection. A checked-out room is
// terminal and its id is never reused.
type Room struct {
	ID                 string     `json:"id"`
	GuestName          string     `json:"guestName"`
	GuestLanguage      Language   `json:"guestLanguage"`
	Status             RoomStatus `json:"status"`
	LastMessageAt      time.Time  `json:"lastMessageAt,omitempty"`
	LastMessagePreview string     `json:"lastMessagePreview,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// TranslationMeta records where a stored translation came from.
type TranslationMeta struct {
	Provider     string  `json:"provider"`
	Confidence   float64 `json:"confidence"`
	DetectedLang string  `json:"detectedLang"`
}

// Message is immutable after send; checkout moves it (not copies it) into the
// archive namespace. Translations holds at most one entry, keyed by the
// counterparty's language code.
type Message struct {
	ID              string                     `json:"id"`
	RoomID          string                     `json:"roomId"`
	Text            string                     `json:"text"`
	Language        Language                   `json:"language"`
	SenderID        string                     `json:"senderId"`
	SenderName      string                     `json:"senderName"`
	SenderRole      Role                       `json:"senderRole"`
	Timestamp       Timestamp                  `json:"timestamp"`
	Translations    map[string]string          `json:"translations,omitempty"`
	TranslationMeta map[string]TranslationMeta `json:"translationMeta,omitempty"`
}

// OrderedMessage is a Message as presented to one viewer: DisplayText is the
// stored translation for the viewer's language when one exists, the original
// text otherwise.
type OrderedMessage struct {
	Message
	DisplayText string `json:"displayText"`
}

// FeedItem is one entry of the staff cross-room feed.
type FeedItem struct {
	RoomID  string  `json:"roomId"`
	Room    Room    `json:"room"`
	Message Message `json:"message"`
}
