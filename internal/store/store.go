package store

import (
	"context"
	"time"
)

// NoItem is the wire sentinel for "not scoped to any listing".
const NoItem = "no-item"

// Profile is the public snippet of a user that travels with every message.
type Profile struct {
	ID       string `json:"id" validate:"required,uuid"`
	Nickname string `json:"nickname" validate:"max=100"`
	Fullname string `json:"fullname" validate:"max=200"`
	Image    string `json:"image" validate:"max=2048"`
}

// NewMessage is the input of AppendMessage.
type NewMessage struct {
	SenderID   string `json:"senderId" validate:"required,uuid"`
	ReceiverID string `json:"receiverId" validate:"required,uuid,nefield=SenderID"`
	Text       string `json:"text" validate:"required"`
	ItemID     string `json:"itemId,omitempty" validate:"max=128"`
}

// Message is a persisted message with both participants already resolved.
type Message struct {
	ID        string    `json:"id"`
	Sender    Profile   `json:"senderId"`
	Receiver  Profile   `json:"receiverId"`
	Text      string    `json:"text"`
	ItemID    string    `json:"itemId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`

	// Seq is the insertion sequence inside one store; it breaks createdAt ties.
	Seq int64 `json:"-"`
}

// Counterpart returns the participant that is not userID.
func (m *Message) Counterpart(userID string) Profile {
	if m.Sender.ID == userID {
		return m.Receiver
	}
	return m.Sender
}

// Newer reports whether m sorts after o in conversation order.
func (m *Message) Newer(o *Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.After(o.CreatedAt)
	}
	return m.Seq > o.Seq
}

// Store is the durable log of conversation history plus the user profiles
// needed to enrich it. Messages are append-only.
type Store interface {
	UpsertUser(ctx context.Context, p *Profile) error
	GetUser(ctx context.Context, id string) (*Profile, error)

	AppendMessage(ctx context.Context, msg NewMessage) (*Message, error)
	// History returns the messages exchanged between userA and userB in
	// ascending order. An empty itemID or NoItem returns every item.
	History(ctx context.Context, userA, userB, itemID string) ([]*Message, error)
	MessagesInvolving(ctx context.Context, userID string) ([]*Message, error)

	Close() error
}

// LatestQuerier is implemented by backends that can compute the most recent
// message per counterpart in a single query.
type LatestQuerier interface {
	LatestPerCounterpart(ctx context.Context, userID string) ([]*Message, error)
}

// NormalizeItemID maps the NoItem sentinel to the empty string.
func NormalizeItemID(itemID string) string {
	if itemID == NoItem {
		return ""
	}
	return itemID
}
