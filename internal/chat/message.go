package chat

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pelusa-v/lostfound-chat/internal/store"
)

// inbound events
const (
	EventJoin              = "join"
	EventSendMessage       = "send_message"
	EventGetMessageHistory = "get_message_history"
	EventGetConversations  = "get_conversations"
)

// outbound events
const (
	EventMessageSent         = "message_sent"
	EventReceiveMessage      = "receive_message"
	EventMessageHistory      = "message_history"
	EventConversationsList   = "conversations_list"
	EventConversationUpdated = "conversation_updated"
	EventMessageError        = "message_error"
	EventError               = "error"
)

// Frame is the envelope of every websocket message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Intent is one of JoinIntent, SendIntent, HistoryIntent, ConversationsIntent.
type Intent interface {
	intent()
}

type JoinIntent struct {
	UserID string
}

type SendIntent struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Text       string `json:"text"`
	ItemID     string `json:"itemId"`
}

type HistoryIntent struct {
	UserID      string `json:"userId"`
	OtherUserID string `json:"otherUserId"`
	ItemID      string `json:"itemId"`
}

type ConversationsIntent struct {
	UserID string
}

func (JoinIntent) intent()          {}
func (SendIntent) intent()          {}
func (HistoryIntent) intent()       {}
func (ConversationsIntent) intent() {}

// NewMessage converts the intent into store input.
func (s SendIntent) NewMessage() store.NewMessage {
	return store.NewMessage{
		SenderID:   s.SenderID,
		ReceiverID: s.ReceiverID,
		Text:       s.Text,
		ItemID:     s.ItemID,
	}
}

// MessageErrorPayload is the body of message_error.
type MessageErrorPayload struct {
	Error string `json:"error"`
}

// ErrorPayload is the body of error.
type ErrorPayload struct {
	Msg string `json:"msg"`
}

// ErrMalformedFrame is returned when a frame or its payload can't be decoded.
var ErrMalformedFrame = errors.New("malformed frame")

// DecodeError carries the event of a rejected frame so the reply can use the
// matching error event.
type DecodeError struct {
	Event  string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("%s: %s", e.Event, e.Reason) }
func (e *DecodeError) Unwrap() error { return e.Err }

// DecodeIntent parses a raw frame and validates its payload. Decoding never
// reaches the store; a rejected frame only produces a scoped error.
func DecodeIntent(raw []byte) (Intent, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, &DecodeError{Reason: "Malformed frame", Err: ErrMalformedFrame}
	}

	switch f.Event {
	case EventJoin:
		var userID string
		if err := decodeData(f, &userID); err != nil {
			return nil, err
		}
		if err := store.ValidateUserID(userID); err != nil {
			return nil, rejected(f.Event, err)
		}
		return JoinIntent{UserID: userID}, nil

	case EventSendMessage:
		var in SendIntent
		if err := decodeData(f, &in); err != nil {
			return nil, err
		}
		if err := store.ValidateNewMessage(in.NewMessage()); err != nil {
			return nil, rejected(f.Event, err)
		}
		return in, nil

	case EventGetMessageHistory:
		var in HistoryIntent
		if err := decodeData(f, &in); err != nil {
			return nil, err
		}
		if err := store.ValidateUserID(in.UserID); err != nil {
			return nil, rejected(f.Event, err)
		}
		if err := store.ValidateUserID(in.OtherUserID); err != nil {
			return nil, rejected(f.Event, err)
		}
		return in, nil

	case EventGetConversations:
		var userID string
		if err := decodeData(f, &userID); err != nil {
			return nil, err
		}
		if err := store.ValidateUserID(userID); err != nil {
			return nil, rejected(f.Event, err)
		}
		return ConversationsIntent{UserID: userID}, nil
	}

	return nil, &DecodeError{Event: f.Event, Reason: "Unknown event", Err: ErrMalformedFrame}
}

func decodeData(f Frame, v any) error {
	if len(f.Data) == 0 {
		return &DecodeError{Event: f.Event, Reason: "Missing payload", Err: ErrMalformedFrame}
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return &DecodeError{Event: f.Event, Reason: "Malformed payload", Err: ErrMalformedFrame}
	}
	return nil
}

func rejected(event string, err error) *DecodeError {
	reason, ok := store.Reason(err)
	if !ok {
		reason = "Invalid payload"
	}
	return &DecodeError{Event: event, Reason: reason, Err: err}
}

// encodeFrame marshals an outbound frame; a nil payload omits data.
func encodeFrame(event string, payload any) ([]byte, error) {
	f := Frame{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding %s payload: %w", event, err)
		}
		f.Data = data
	}
	return json.Marshal(&f)
}
