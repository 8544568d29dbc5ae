package handlers

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	fws "github.com/fasthttp/websocket"
	"github.com/go-resty/resty/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pelusa-v/lostfound-chat/internal/chat"
	"github.com/pelusa-v/lostfound-chat/internal/store"
)

// startServer serves f.app on a loopback port and returns its address.
func startServer(t *testing.T, f *fixture) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- f.app.Listener(ln) }()
	t.Cleanup(func() {
		_ = f.app.ShutdownWithTimeout(2 * time.Second)
		<-errCh
	})
	return ln.Addr().String()
}

type wsClient struct {
	t    *testing.T
	conn *fws.Conn
}

func dial(t *testing.T, addr string) *wsClient {
	t.Helper()
	conn, _, err := fws.DefaultDialer.Dial("ws://"+addr+"/api/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &wsClient{t: t, conn: conn}
}

func (w *wsClient) send(event string, data any) {
	w.t.Helper()
	payload, err := json.Marshal(data)
	require.NoError(w.t, err)
	frame, err := json.Marshal(chat.Frame{Event: event, Data: payload})
	require.NoError(w.t, err)
	require.NoError(w.t, w.conn.WriteMessage(fws.TextMessage, frame))
}

func (w *wsClient) expect(event string, v any) {
	w.t.Helper()
	require.NoError(w.t, w.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := w.conn.ReadMessage()
	require.NoError(w.t, err)

	var frame chat.Frame
	require.NoError(w.t, json.Unmarshal(data, &frame))
	require.Equal(w.t, event, frame.Event, "unexpected frame: %s", data)
	if v != nil {
		require.NoError(w.t, json.Unmarshal(frame.Data, v))
	}
}

// join joins and waits for the join to be processed.
func (w *wsClient) join(userID string) {
	w.t.Helper()
	w.send(chat.EventJoin, userID)
	w.send(chat.EventGetConversations, userID)
	w.expect(chat.EventConversationsList, nil)
}

func TestEndToEnd_WebsocketSendReachesBothUsers(t *testing.T) {
	f := newFixture(t)
	addr := startServer(t, f)

	alice := dial(t, addr)
	bob := dial(t, addr)
	alice.join(f.alice.ID)
	bob.join(f.bob.ID)

	alice.send(chat.EventSendMessage, chat.SendIntent{
		SenderID:   f.alice.ID,
		ReceiverID: f.bob.ID,
		Text:       "I think I found your umbrella",
		ItemID:     "umbrella-9",
	})

	var sent, received store.Message
	alice.expect(chat.EventMessageSent, &sent)
	bob.expect(chat.EventReceiveMessage, &received)
	bob.expect(chat.EventConversationUpdated, nil)
	assert.Equal(t, sent.ID, received.ID)
	assert.Equal(t, f.alice, received.Sender)

	alice.send(chat.EventGetMessageHistory, chat.HistoryIntent{UserID: f.alice.ID, OtherUserID: f.bob.ID, ItemID: store.NoItem})
	var history []store.Message
	alice.expect(chat.EventMessageHistory, &history)
	require.Len(t, history, 1)
	assert.Equal(t, sent.ID, history[0].ID)

	rest := resty.New().SetBaseURL("http://" + addr)
	var online struct {
		Users []string `json:"users"`
	}
	resp, err := rest.R().SetResult(&online).SetQueryParam("exclude", f.alice.ID).Get("/api/online")
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode())
	assert.Equal(t, []string{f.bob.ID}, online.Users)
}

func TestEndToEnd_RESTSendTriggersLiveEvents(t *testing.T) {
	f := newFixture(t)
	addr := startServer(t, f)

	aliceWS := dial(t, addr)
	bobWS := dial(t, addr)
	aliceWS.join(f.alice.ID)
	bobWS.join(f.bob.ID)

	rest := resty.New().
		SetBaseURL("http://"+addr).
		SetAuthToken(f.token(t, f.alice.ID))

	var out messageResponse
	resp, err := rest.R().
		SetContext(context.Background()).
		SetBody(sendBody{ReceiverID: f.bob.ID, Text: "left at the front desk"}).
		SetResult(&out).
		Post("/api/messages/send")
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode(), resp.String())

	var sent, received store.Message
	aliceWS.expect(chat.EventMessageSent, &sent)
	aliceWS.expect(chat.EventConversationUpdated, nil)
	bobWS.expect(chat.EventReceiveMessage, &received)
	bobWS.expect(chat.EventConversationUpdated, nil)
	assert.Equal(t, out.Message.ID, sent.ID)
	assert.Equal(t, out.Message.ID, received.ID)

	var convs struct {
		Conversations []struct {
			ID string `json:"id"`
		} `json:"conversations"`
	}
	resp, err = rest.R().SetResult(&convs).Get("/api/conversations")
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode())
	require.Len(t, convs.Conversations, 1)
	assert.Equal(t, f.bob.ID, convs.Conversations[0].ID)
}

func TestEndToEnd_DisconnectLeavesRoom(t *testing.T) {
	f := newFixture(t)
	addr := startServer(t, f)

	bob := dial(t, addr)
	bob.join(f.bob.ID)
	require.Equal(t, []string{f.bob.ID}, f.manager.Registry().OnlineUsers(""))

	require.NoError(t, bob.conn.Close())
	require.Eventually(t, func() bool {
		return len(f.manager.Registry().OnlineUsers("")) == 0
	}, 3*time.Second, 20*time.Millisecond)
}
