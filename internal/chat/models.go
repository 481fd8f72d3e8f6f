// internal/chat/models.go

package chat

import (
	"time"
)

// Status tracks a message's position in the optimistic-send lifecycle.
// History loads and server echoes are always confirmed; locally inserted
// messages start pending and either get reconciled or, once the
// confirmation watch expires, marked failed.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// UserInfo is the denormalized user snapshot attached to messages and
// participants.
type UserInfo struct {
	ID          string `json:"id" validate:"required"`
	Username    string `json:"username" validate:"required"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// ReplyRef is the snapshot of a reply target carried on the replying
// message, so the preview renders without a round trip.
type ReplyRef struct {
	ID      string   `json:"id"`
	Content string   `json:"content,omitempty"`
	Sender  UserInfo `json:"sender"`
}

// Media references an already-uploaded attachment.
type Media struct {
	URL  string `json:"url" validate:"required,url"`
	Kind string `json:"kind" validate:"required,oneof=image video audio file"`
}

// Message is one unit of conversation content. Provisional messages carry
// a locally generated id with a "local-" prefix; that id is never promoted
// to a canonical one, the whole message gets replaced on reconciliation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Sender         UserInfo  `json:"sender"`
	Content        string    `json:"content,omitempty"`
	ReplyTo        *ReplyRef `json:"reply_to,omitempty"`
	Media          *Media    `json:"media,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	Status Status `json:"-"`
}

// Provisional reports whether the message is still local-only.
func (m *Message) Provisional() bool {
	return m.Status == StatusPending || m.Status == StatusFailed
}

// Conversation kinds
const (
	KindDirect = "direct"
	KindRoom   = "room"
)

// Conversation is a direct chat or a pod room.
type Conversation struct {
	ID           string         `json:"id" validate:"required"`
	Kind         string         `json:"kind" validate:"required,oneof=direct room"`
	Name         string         `json:"name,omitempty"`
	IsPrivate    bool           `json:"is_private,omitempty"`
	Participants []*Participant `json:"participants,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Participant represents conversation membership.
type Participant struct {
	UserID   string    `json:"user_id" validate:"required"`
	Role     string    `json:"role,omitempty"`
	JoinedAt time.Time `json:"joined_at"`
	User     *UserInfo `json:"user,omitempty"`
}
