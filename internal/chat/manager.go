package chat

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/pelusa-v/lostfound-chat/internal/conversation"
	"github.com/pelusa-v/lostfound-chat/internal/store"
)

const (
	reasonSendFailed          = "Failed to send message"
	reasonHistoryFailed       = "Failed to fetch message history"
	reasonConversationsFailed = "Failed to fetch conversations"
)

// ChatManager routes intents from connections to the store and fans results
// out to rooms. Each connection is served on its own goroutine; no lock is
// held while the store is working.
type ChatManager struct {
	store         store.Store
	conversations *conversation.Aggregator
	registry      *Registry
	bufferSize    int
	log           *zap.Logger
}

func NewChatManager(st store.Store, registry *Registry, bufferSize int, log *zap.Logger) *ChatManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &ChatManager{
		store:         st,
		conversations: conversation.NewAggregator(st, log),
		registry:      registry,
		bufferSize:    bufferSize,
		log:           log.With(zap.String("component", "chat")),
	}
}

func (m *ChatManager) Registry() *Registry { return m.registry }

// NewClient wraps a fresh connection.
func (m *ChatManager) NewClient(conn ConnLike) *Client {
	return NewClient(conn, m.bufferSize)
}

// Serve runs the connection until it fails or ctx is cancelled, then removes
// it from its room. Frames from one connection are handled strictly in order.
func (m *ChatManager) Serve(ctx context.Context, c *Client) {
	m.log.Debug("client connected", zap.String("client", c.Id))

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.WritePump()
	}()
	// cancellation unblocks ReadPump by closing the connection
	cancelled := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(cancelled)
		c.Close()
		_ = c.Conn.Close()
	})

	c.ReadPump(func(data []byte) { m.HandleFrame(ctx, c, data) })

	m.Disconnect(c)
	<-writerDone
	// the transport may recycle Conn once Serve returns, so nothing started
	// here may touch it afterwards
	if !stop() {
		<-cancelled
	}
	_ = c.Conn.Close()
}

// Disconnect drops c from the registry and stops its writer. Responses still
// in flight for c are discarded.
func (m *ChatManager) Disconnect(c *Client) {
	userID, joined := m.registry.Leave(c)
	c.Close()
	m.log.Debug("client disconnected",
		zap.String("client", c.Id),
		zap.String("user", userID),
		zap.Bool("joined", joined))
}

// HandleFrame decodes one raw frame and dispatches it.
func (m *ChatManager) HandleFrame(ctx context.Context, c *Client, data []byte) {
	in, err := DecodeIntent(data)
	if err != nil {
		m.rejectFrame(ctx, c, err)
		return
	}
	m.Dispatch(ctx, c, in)
}

func (m *ChatManager) rejectFrame(ctx context.Context, c *Client, err error) {
	var decodeErr *DecodeError
	reason := "Malformed frame"
	event := ""
	if errors.As(err, &decodeErr) {
		reason, event = decodeErr.Reason, decodeErr.Event
	}
	m.log.Debug("rejected frame",
		zap.String("client", c.Id),
		zap.String("event", event),
		zap.String("reason", reason))

	if event == EventSendMessage {
		m.reply(ctx, c, EventMessageError, MessageErrorPayload{Error: reason})
		return
	}
	m.reply(ctx, c, EventError, ErrorPayload{Msg: reason})
}

// Dispatch runs one decoded intent for c.
func (m *ChatManager) Dispatch(ctx context.Context, c *Client, in Intent) {
	switch in := in.(type) {
	case JoinIntent:
		m.Join(c, in.UserID)

	case SendIntent:
		if _, err := m.SendMessage(ctx, c, in); err != nil {
			m.reply(ctx, c, EventMessageError, MessageErrorPayload{Error: m.clientReason(err, reasonSendFailed)})
		}

	case HistoryIntent:
		msgs, err := m.History(ctx, in)
		if err != nil {
			m.reply(ctx, c, EventError, ErrorPayload{Msg: m.clientReason(err, reasonHistoryFailed)})
			return
		}
		m.reply(ctx, c, EventMessageHistory, msgs)

	case ConversationsIntent:
		convs, err := m.Conversations(ctx, in.UserID)
		if err != nil {
			m.reply(ctx, c, EventError, ErrorPayload{Msg: m.clientReason(err, reasonConversationsFailed)})
			return
		}
		m.reply(ctx, c, EventConversationsList, convs)
	}
}

// Join adds c to userID's room.
func (m *ChatManager) Join(c *Client, userID string) {
	prev := m.registry.Join(c, userID)
	m.log.Debug("client joined",
		zap.String("client", c.Id),
		zap.String("user", userID),
		zap.String("previous", prev))
}

// SendMessage validates and persists a message, delivers it to both rooms and
// signals both users' other views. origin is the connection the send came
// from, or nil when it came from outside the websocket transport.
//
// Once the store accepts the message it stays accepted: delivery problems
// after that point are logged, not returned.
func (m *ChatManager) SendMessage(ctx context.Context, origin *Client, in SendIntent) (*store.Message, error) {
	if err := store.ValidateNewMessage(in.NewMessage()); err != nil {
		return nil, err
	}

	msg, err := m.store.AppendMessage(ctx, in.NewMessage())
	if err != nil {
		return nil, err
	}

	m.deliver(msg)
	m.signalConversationUpdated(origin, msg.Sender.ID, msg.Receiver.ID)
	return msg, nil
}

func (m *ChatManager) deliver(msg *store.Message) {
	sent, err := encodeFrame(EventMessageSent, msg)
	if err != nil {
		m.log.Error("encoding message_sent", zap.String("message", msg.ID), zap.Error(err))
		return
	}
	received, err := encodeFrame(EventReceiveMessage, msg)
	if err != nil {
		m.log.Error("encoding receive_message", zap.String("message", msg.ID), zap.Error(err))
		return
	}
	m.emitToRoom(msg.Sender.ID, sent, nil)
	m.emitToRoom(msg.Receiver.ID, received, nil)
}

// History returns the pair's messages; NoItem or "" means every item.
func (m *ChatManager) History(ctx context.Context, in HistoryIntent) ([]*store.Message, error) {
	return m.store.History(ctx, in.UserID, in.OtherUserID, in.ItemID)
}

// Conversations returns userID's conversation list, newest first.
func (m *ChatManager) Conversations(ctx context.Context, userID string) ([]conversation.Conversation, error) {
	return m.conversations.ConversationsFor(ctx, userID)
}

// User returns the stored profile of id.
func (m *ChatManager) User(ctx context.Context, id string) (*store.Profile, error) {
	return m.store.GetUser(ctx, id)
}

// UpsertUser stores a profile on behalf of the identity service.
func (m *ChatManager) UpsertUser(ctx context.Context, p *store.Profile) error {
	return m.store.UpsertUser(ctx, p)
}

// emitToRoom pushes data to every connection of userID except exclude. An
// empty room is a silent no-op; a full buffer drops the frame for that
// connection only.
func (m *ChatManager) emitToRoom(userID string, data []byte, exclude *Client) int {
	sent := 0
	for _, c := range m.registry.Room(userID) {
		if c == exclude {
			continue
		}
		if c.enqueue(data) {
			sent++
			continue
		}
		m.log.Warn("dropped frame for slow client",
			zap.String("client", c.Id),
			zap.String("user", userID))
	}
	return sent
}

func (m *ChatManager) reply(ctx context.Context, c *Client, event string, payload any) {
	data, err := encodeFrame(event, payload)
	if err != nil {
		m.log.Error("encoding reply", zap.String("event", event), zap.Error(err))
		return
	}
	if !c.deliver(ctx, data) {
		m.log.Debug("discarded reply for closed client",
			zap.String("client", c.Id),
			zap.String("event", event))
	}
}

// clientReason turns err into the text sent back to the client. Anything that
// is not a validation or not-found error is logged and reported as fallback.
func (m *ChatManager) clientReason(err error, fallback string) string {
	if reason, ok := store.Reason(err); ok {
		return reason
	}
	m.log.Error(fallback, zap.Error(err))
	return fallback
}
