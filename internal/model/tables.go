package model

import (
	"fmt"
	"time"
)

const (
	SessionsTable         = "ChatSessions"
	MessagesTable         = "ChatMessages"
	CustomerSessionsTable = "CustomerSessions"
)

// TimeLayout is fixed width so stored timestamps sort lexicographically.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeLayout)
}

func ParseTime(ts string) time.Time {
	if ts == "" {
		return time.Time{}
	}
	t, err := time.Parse(TimeLayout, ts)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return time.Time{}
		}
	}
	return t.UTC()
}

func MessageSortKey(sentAt time.Time, messageID string) string {
	return fmt.Sprintf("%s#%s", FormatTime(sentAt), messageID)
}

type SessionItem struct {
	SessionID          string            `dynamodbav:"sessionId"`
	CustomerID         string            `dynamodbav:"customerId"`
	OperatorID         string            `dynamodbav:"operatorId,omitempty"`
	Status             SessionStatus     `dynamodbav:"status"`
	InitiatedBy        Initiator         `dynamodbav:"initiatedBy"`
	Metadata           map[string]string `dynamodbav:"metadata,omitempty"`
	CreatedAt          string            `dynamodbav:"createdAt"`
	UpdatedAt          string            `dynamodbav:"updatedAt"`
	LastMessageAt      string            `dynamodbav:"lastMessageAt"`
	LastMessagePreview string            `dynamodbav:"lastMessagePreview,omitempty"`
}

func (i SessionItem) ToSession() ChatSession {
	return ChatSession{
		ID:          i.SessionID,
		CustomerID:  i.CustomerID,
		OperatorID:  i.OperatorID,
		Status:      i.Status,
		InitiatedBy: i.InitiatedBy,
		CreatedAt:   ParseTime(i.CreatedAt),
		UpdatedAt:   ParseTime(i.UpdatedAt),
	}
}

func (i SessionItem) ToSummary() SessionSummary {
	return SessionSummary{
		SessionID:          i.SessionID,
		CustomerID:         i.CustomerID,
		OperatorID:         i.OperatorID,
		Status:             i.Status,
		LastMessageAt:      ParseTime(i.LastMessageAt),
		LastMessagePreview: i.LastMessagePreview,
	}
}

// CustomerSessionItem points a customer at their current session.
type CustomerSessionItem struct {
	CustomerID       string `dynamodbav:"customerId"`
	CurrentSessionID string `dynamodbav:"currentSessionId"`
	UpdatedAt        string `dynamodbav:"updatedAt"`
}

type ReactionItem struct {
	Emoji     string `dynamodbav:"emoji"`
	ReactorID string `dynamodbav:"reactorId,omitempty"`
}

type MessageItem struct {
	SessionID   string         `dynamodbav:"sessionId"`
	SortKey     string         `dynamodbav:"sortKey"`
	MessageID   string         `dynamodbav:"messageId"`
	SenderID    string         `dynamodbav:"senderId"`
	SenderRole  Role           `dynamodbav:"senderRole"`
	Content     string         `dynamodbav:"content"`
	ContentType ContentType    `dynamodbav:"contentType"`
	SentAt      string         `dynamodbav:"sentAt"`
	ReadAt      string         `dynamodbav:"readAt,omitempty"`
	ReplyToID   string         `dynamodbav:"replyToId,omitempty"`
	Deleted     bool           `dynamodbav:"deleted,omitempty"`
	EditedAt    string         `dynamodbav:"editedAt,omitempty"`
	Reactions   []ReactionItem `dynamodbav:"reactions,omitempty"`

	// ReactionsVersion counts reaction writes; updates are conditional on it.
	ReactionsVersion int64 `dynamodbav:"reactionsVersion,omitempty"`
}

func (i MessageItem) ToMessage() ChatMessage {
	msg := ChatMessage{
		ID:          i.MessageID,
		SessionID:   i.SessionID,
		SenderID:    i.SenderID,
		SenderRole:  i.SenderRole,
		Content:     i.Content,
		ContentType: i.ContentType,
		SentAt:      ParseTime(i.SentAt),
		ReplyToID:   i.ReplyToID,
		Deleted:     i.Deleted,
	}
	if t := ParseTime(i.ReadAt); !t.IsZero() {
		msg.ReadAt = &t
	}
	if t := ParseTime(i.EditedAt); !t.IsZero() {
		msg.Edited = true
		msg.EditedAt = &t
	}
	if len(i.Reactions) > 0 {
		msg.Reactions = make([]Reaction, len(i.Reactions))
		for idx, r := range i.Reactions {
			msg.Reactions[idx] = Reaction{Emoji: r.Emoji, ReactorID: r.ReactorID}
		}
	}
	return msg
}

func ReactionItems(in []Reaction) []ReactionItem {
	if len(in) == 0 {
		return nil
	}
	out := make([]ReactionItem, len(in))
	for i, r := range in {
		out[i] = ReactionItem{Emoji: r.Emoji, ReactorID: r.ReactorID}
	}
	return out
}
