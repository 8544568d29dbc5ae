// Package conversation derives the per-user conversation list from the
// message log. Nothing here is cached: every call re-reads the store, so a
// list requested after a successful append always includes that message.
package conversation

import (
	"context"
	"fmt"
	"sort"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/pelusa-v/lostfound-chat/internal/store"
)

// Conversation is one row of a user's inbox: a counterpart and the most
// recent message exchanged with them across all items.
type Conversation struct {
	ID          string         `json:"id"`
	OtherUser   store.Profile  `json:"otherUser"`
	LastMessage *store.Message `json:"lastMessage"`
}

// Aggregator computes conversation lists from a store.
type Aggregator struct {
	src store.Store
	log *zap.Logger
}

func NewAggregator(src store.Store, log *zap.Logger) *Aggregator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Aggregator{src: src, log: log.With(zap.String("component", "conversation"))}
}

// ConversationsFor returns one Conversation per counterpart of userID, newest
// first. Backends that implement store.LatestQuerier answer with a single
// grouping query; the others are scanned and reduced in memory.
func (a *Aggregator) ConversationsFor(ctx context.Context, userID string) ([]Conversation, error) {
	if err := store.ValidateUserID(userID); err != nil {
		return nil, err
	}

	if q, ok := a.src.(store.LatestQuerier); ok {
		latest, err := q.LatestPerCounterpart(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("querying latest messages: %w", err)
		}
		return build(userID, latest), nil
	}

	msgs, err := a.src.MessagesInvolving(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("scanning messages: %w", err)
	}
	a.log.Debug("reduced conversations in memory",
		zap.String("user", userID), zap.Int("messages", len(msgs)))
	return Reduce(userID, msgs), nil
}

// Reduce groups msgs by the participant that is not userID and keeps the
// newest message of each group. msgs may be in any order.
func Reduce(userID string, msgs []*store.Message) []Conversation {
	groups := lo.GroupBy(msgs, func(m *store.Message) string {
		return m.Counterpart(userID).ID
	})
	latest := lo.MapToSlice(groups, func(_ string, group []*store.Message) *store.Message {
		return lo.MaxBy(group, func(a, b *store.Message) bool { return a.Newer(b) })
	})
	return build(userID, latest)
}

// build turns one message per counterpart into sorted conversations. Both
// strategies end here, so their output order is identical.
func build(userID string, latest []*store.Message) []Conversation {
	out := lo.Map(latest, func(m *store.Message, _ int) Conversation {
		other := m.Counterpart(userID)
		return Conversation{ID: other.ID, OtherUser: other, LastMessage: m}
	})
	sortConversations(out)
	return out
}

// sortConversations orders by last message, newest first; equal timestamps
// fall back to insertion order and then to counterpart id.
func sortConversations(convs []Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		a, b := convs[i].LastMessage, convs[j].LastMessage
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		if a.Seq != b.Seq {
			return a.Seq > b.Seq
		}
		return convs[i].ID < convs[j].ID
	})
}
