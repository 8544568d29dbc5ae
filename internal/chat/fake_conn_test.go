package chat

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pelusa-v/lostfound-chat/internal/store"
)

const waitTimeout = 2 * time.Second

// fakeConn is an in-memory ConnLike: tests push inbound frames and read what
// the server wrote.
type fakeConn struct {
	in      chan []byte
	written chan Frame
	closed  chan struct{}
	once    sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:      make(chan []byte, 64),
		written: make(chan Frame, 256),
		closed:  make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-f.in:
		return websocket.TextMessage, data, nil
	case <-f.closed:
		return 0, nil, io.EOF
	}
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case <-f.closed:
		return io.ErrClosedPipe
	default:
	}
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return err
	}
	f.written <- frame
	return nil
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) push(t *testing.T, event string, payload any) {
	t.Helper()
	data, err := encodeFrame(event, payload)
	require.NoError(t, err)
	f.in <- data
}

func (f *fakeConn) next(t *testing.T) Frame {
	t.Helper()
	select {
	case frame := <-f.written:
		return frame
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a frame")
		return Frame{}
	}
}

// expect reads the next frame, checks its event and decodes its payload into v.
func (f *fakeConn) expect(t *testing.T, event string, v any) {
	t.Helper()
	frame := f.next(t)
	require.Equal(t, event, frame.Event, "unexpected frame: %s", frame.Data)
	if v != nil {
		require.NoError(t, json.Unmarshal(frame.Data, v))
	}
}

func (f *fakeConn) expectSilence(t *testing.T) {
	t.Helper()
	select {
	case frame := <-f.written:
		t.Fatalf("expected no frame, got %s %s", frame.Event, frame.Data)
	case <-time.After(100 * time.Millisecond):
	}
}

type harness struct {
	mgr   *ChatManager
	store store.Store
	alice store.Profile
	bob   store.Profile
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithStore(t, store.NewMemoryStore(nil))
}

func newHarnessWithStore(t *testing.T, st store.Store) *harness {
	t.Helper()
	h := &harness{
		mgr:   NewChatManager(st, NewRegistry(), 32, nil),
		store: st,
		alice: store.Profile{ID: uuid.NewString(), Nickname: "alice", Fullname: "Alice A", Image: "a.png"},
		bob:   store.Profile{ID: uuid.NewString(), Nickname: "bob", Fullname: "Bob B", Image: "b.png"},
	}
	for _, p := range []store.Profile{h.alice, h.bob} {
		require.NoError(t, st.UpsertUser(context.Background(), &p))
	}
	return h
}

// connect starts serving a new fake connection.
func (h *harness) connect(t *testing.T) (*fakeConn, *Client) {
	t.Helper()
	conn := newFakeConn()
	c := h.mgr.NewClient(conn)
	go h.mgr.Serve(context.Background(), c)
	t.Cleanup(func() { conn.Close() })
	return conn, c
}

// joinAs joins and waits until the join has been processed, using the
// in-order guarantee of a single connection.
func (h *harness) joinAs(t *testing.T, conn *fakeConn, user store.Profile) {
	t.Helper()
	conn.push(t, EventJoin, user.ID)
	conn.push(t, EventGetConversations, user.ID)
	conn.expect(t, EventConversationsList, nil)
}

func (h *harness) sendIntent(from, to store.Profile, text, item string) SendIntent {
	return SendIntent{SenderID: from.ID, ReceiverID: to.ID, Text: text, ItemID: item}
}
