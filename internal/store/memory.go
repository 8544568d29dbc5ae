package store

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

type memoryRecord struct {
	id         string
	senderID   string
	receiverID string
	text       string
	itemID     string
	seq        int64
	createdAt  int64
}

// MemoryStore is a process-local Store. History is lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]Profile
	messages []memoryRecord
	seq      int64

	clock *Clock
	log   *zap.Logger
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore(log *zap.Logger, opts ...Option) *MemoryStore {
	if log == nil {
		log = zap.NewNop()
	}
	o := buildOptions(opts)
	return &MemoryStore{
		users: map[string]Profile{},
		clock: o.clock,
		log:   log.With(zap.String("component", "store")),
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) UpsertUser(_ context.Context, p *Profile) error {
	if err := ValidateProfile(p); err != nil {
		return err
	}
	s.mu.Lock()
	s.users[p.ID] = *p
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*Profile, error) {
	if err := ValidateUserID(id); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &p, nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, msg NewMessage) (*Message, error) {
	if err := ValidateNewMessage(msg); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[msg.SenderID]; !ok {
		return nil, ErrUserNotFound
	}
	if _, ok := s.users[msg.ReceiverID]; !ok {
		return nil, ErrUserNotFound
	}

	s.seq++
	rec := memoryRecord{
		id:         uuid.NewString(),
		senderID:   msg.SenderID,
		receiverID: msg.ReceiverID,
		text:       msg.Text,
		itemID:     NormalizeItemID(msg.ItemID),
		seq:        s.seq,
		createdAt:  s.clock.Next().UnixNano(),
	}
	s.messages = append(s.messages, rec)

	s.log.Debug("appended message", zap.String("id", rec.id))
	return s.enrich(rec), nil
}

func (s *MemoryStore) History(_ context.Context, userA, userB, itemID string) ([]*Message, error) {
	if err := ValidateUserID(userA); err != nil {
		return nil, err
	}
	if err := ValidateUserID(userB); err != nil {
		return nil, err
	}
	item := NormalizeItemID(itemID)

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(func(r memoryRecord) bool {
		pair := (r.senderID == userA && r.receiverID == userB) ||
			(r.senderID == userB && r.receiverID == userA)
		return pair && (item == "" || r.itemID == item)
	}), nil
}

func (s *MemoryStore) MessagesInvolving(_ context.Context, userID string) ([]*Message, error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(func(r memoryRecord) bool {
		return r.senderID == userID || r.receiverID == userID
	}), nil
}

// collect keeps insertion order, which equals (createdAt, seq) order because
// the clock is monotonic and appends are serialised by mu.
func (s *MemoryStore) collect(keep func(memoryRecord) bool) []*Message {
	return lo.FilterMap(s.messages, func(r memoryRecord, _ int) (*Message, bool) {
		if !keep(r) {
			return nil, false
		}
		return s.enrich(r), true
	})
}

// enrich resolves profiles at read time so profile updates show up in history,
// matching the SQLite join. Callers hold mu.
func (s *MemoryStore) enrich(r memoryRecord) *Message {
	return &Message{
		ID:        r.id,
		Sender:    s.users[r.senderID],
		Receiver:  s.users[r.receiverID],
		Text:      r.text,
		ItemID:    r.itemID,
		CreatedAt: unixNano(r.createdAt),
		Seq:       r.seq,
	}
}
