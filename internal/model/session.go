package model

import (
	"sort"
	"strings"
	"time"
)

type Role string

const (
	RoleUser    Role = "user"
	RoleCashier Role = "cashier"
	RoleBot     Role = "bot"
	RoleAdmin   Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleCashier, RoleBot, RoleAdmin:
		return true
	}
	return false
}

// IsOperator reports whether the role may pick up customer sessions.
func (r Role) IsOperator() bool {
	return r == RoleCashier || r == RoleAdmin
}

type SessionStatus string

const (
	SessionStatusOpen    SessionStatus = "open"
	SessionStatusPending SessionStatus = "pending"
	SessionStatusClosed  SessionStatus = "closed"
)

type Initiator string

const (
	InitiatorCustomer Initiator = "customer"
	InitiatorOperator Initiator = "operator"
	InitiatorBot      Initiator = "bot"
)

type ContentType string

const (
	ContentTypeText  ContentType = "text"
	ContentTypeImage ContentType = "image"
	ContentTypeFile  ContentType = "file"
)

func (c ContentType) Valid() bool {
	switch c {
	case ContentTypeText, ContentTypeImage, ContentTypeFile:
		return true
	}
	return false
}

// Actor is a participant of a chat, either a customer or an operator.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

type ChatSession struct {
	ID          string        `json:"id"`
	CustomerID  string        `json:"customerId"`
	OperatorID  string        `json:"operatorId,omitempty"`
	Status      SessionStatus `json:"status"`
	InitiatedBy Initiator     `json:"initiatedBy"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

func (s ChatSession) Assigned() bool {
	return s.OperatorID != ""
}

type Reaction struct {
	Emoji     string `json:"emoji"`
	ReactorID string `json:"reactorId,omitempty"`
}

func (r Reaction) Key() string {
	return r.Emoji + "#" + r.ReactorID
}

type ChatMessage struct {
	ID          string      `json:"id"`
	SessionID   string      `json:"sessionId"`
	SenderID    string      `json:"senderId"`
	SenderRole  Role        `json:"senderRole"`
	Content     string      `json:"content"`
	ContentType ContentType `json:"contentType"`
	SentAt      time.Time   `json:"sentAt"`
	ReadAt      *time.Time  `json:"readAt,omitempty"`
	ReplyToID   string      `json:"replyToId,omitempty"`
	Deleted     bool        `json:"deleted,omitempty"`
	Edited      bool        `json:"edited,omitempty"`
	EditedAt    *time.Time  `json:"editedAt,omitempty"`
	Reactions   []Reaction  `json:"reactions,omitempty"`
}

// Less orders messages by sent time, breaking ties by id.
func Less(a, b ChatMessage) bool {
	if !a.SentAt.Equal(b.SentAt) {
		return a.SentAt.Before(b.SentAt)
	}
	return a.ID < b.ID
}

// NormalizeReactions collapses a reaction list into a set keyed by emoji and
// reactor. Later entries win over earlier ones with the same key.
func NormalizeReactions(in []Reaction) []Reaction {
	if len(in) == 0 {
		return nil
	}
	byKey := make(map[string]Reaction, len(in))
	for _, r := range in {
		r.Emoji = strings.TrimSpace(r.Emoji)
		if r.Emoji == "" {
			continue
		}
		byKey[r.Key()] = r
	}
	out := make([]Reaction, 0, len(byKey))
	for _, r := range byKey {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Emoji != out[j].Emoji {
			return out[i].Emoji < out[j].Emoji
		}
		return out[i].ReactorID < out[j].ReactorID
	})
	if len(out) == 0 {
		return nil
	}
	return out
}

type SessionSummary struct {
	SessionID          string        `json:"sessionId"`
	CustomerID         string        `json:"customerId"`
	OperatorID         string        `json:"operatorId,omitempty"`
	Status             SessionStatus `json:"status"`
	LastMessageAt      time.Time     `json:"lastMessageAt"`
	LastMessagePreview string        `json:"lastMessagePreview,omitempty"`
}

// MessagePage is one page of history in ascending order. Final is set when the
// store knows there is nothing older.
type MessagePage struct {
	Messages []ChatMessage `json:"messages"`
	Final    bool          `json:"final"`
}
