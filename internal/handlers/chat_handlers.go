package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/pelusa-v/lostfound-chat/internal/chat"
	"github.com/pelusa-v/lostfound-chat/internal/store"
)

// Handlers exposes the chat manager over websocket and REST.
type Handlers struct {
	ctx     context.Context
	manager *chat.ChatManager
	log     *zap.Logger
}

// NewHandlers builds the handlers. ctx bounds every websocket session; cancel
// it on shutdown.
func NewHandlers(ctx context.Context, manager *chat.ChatManager, log *zap.Logger) *Handlers {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handlers{ctx: ctx, manager: manager, log: log.With(zap.String("component", "http"))}
}

// Register mounts every route on app.
func Register(app *fiber.App, h *Handlers, verifier *JWTVerifier) {
	api := app.Group("/api")

	api.Use("/ws", UpgradeOnly)
	api.Get("/ws", websocket.New(h.Connect))
	api.Get("/online", h.OnlineHandler) // ?exclude=userId

	auth := RequireAuth(verifier)
	api.Get("/users/:id", auth, h.UserHandler)
	api.Put("/users/:id", auth, h.UpsertUserHandler)
	api.Post("/messages/send", auth, h.SendMessageHandler)
	api.Get("/messages/conversation/:userId", auth, h.HistoryHandler) // ?itemId=
	api.Get("/conversations", auth, h.ConversationsHandler)
}

// UpgradeOnly refuses plain HTTP requests on the websocket route.
func UpgradeOnly(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// Connect GET /api/ws
func (h *Handlers) Connect(conn *websocket.Conn) {
	client := h.manager.NewClient(conn)
	h.manager.Serve(h.ctx, client)
}

// OnlineHandler GET /api/online?exclude=userId
func (h *Handlers) OnlineHandler(c *fiber.Ctx) error {
	users := h.manager.Registry().OnlineUsers(c.Query("exclude"))
	return c.JSON(fiber.Map{"ok": true, "users": users})
}

// UserHandler GET /api/users/:id
func (h *Handlers) UserHandler(c *fiber.Ctx) error {
	p, err := h.manager.User(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err, "Failed to fetch user")
	}
	return c.JSON(fiber.Map{"ok": true, "user": p})
}

type profileBody struct {
	Nickname string `json:"nickname"`
	Fullname string `json:"fullname"`
	Image    string `json:"image"`
}

// UpsertUserHandler PUT /api/users/:id
func (h *Handlers) UpsertUserHandler(c *fiber.Ctx) error {
	id := c.Params("id")
	if id != currentUser(c) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"ok": false, "msg": "Cannot edit another user's profile"})
	}
	var body profileBody
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"ok": false, "msg": "Malformed payload"})
	}

	p := &store.Profile{ID: id, Nickname: body.Nickname, Fullname: body.Fullname, Image: body.Image}
	if err := h.manager.UpsertUser(c.UserContext(), p); err != nil {
		return h.fail(c, err, "Failed to save user")
	}
	return c.JSON(fiber.Map{"ok": true, "user": p})
}

type sendBody struct {
	ReceiverID string `json:"receiverId"`
	Text       string `json:"text"`
	ItemID     string `json:"itemId"`
}

// SendMessageHandler POST /api/messages/send
func (h *Handlers) SendMessageHandler(c *fiber.Ctx) error {
	var body sendBody
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"ok": false, "msg": "Malformed payload"})
	}

	in := chat.SendIntent{
		SenderID:   currentUser(c),
		ReceiverID: body.ReceiverID,
		Text:       body.Text,
		ItemID:     body.ItemID,
	}
	msg, err := h.manager.SendMessage(c.UserContext(), nil, in)
	if err != nil {
		return h.fail(c, err, "Failed to send message")
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"ok": true, "message": msg})
}

// HistoryHandler GET /api/messages/conversation/:userId?itemId=
func (h *Handlers) HistoryHandler(c *fiber.Ctx) error {
	in := chat.HistoryIntent{
		UserID:      currentUser(c),
		OtherUserID: c.Params("userId"),
		ItemID:      c.Query("itemId", store.NoItem),
	}
	msgs, err := h.manager.History(c.UserContext(), in)
	if err != nil {
		return h.fail(c, err, "Failed to fetch message history")
	}
	return c.JSON(fiber.Map{"ok": true, "messages": msgs})
}

// ConversationsHandler GET /api/conversations
func (h *Handlers) ConversationsHandler(c *fiber.Ctx) error {
	convs, err := h.manager.Conversations(c.UserContext(), currentUser(c))
	if err != nil {
		return h.fail(c, err, "Failed to fetch conversations")
	}
	return c.JSON(fiber.Map{"ok": true, "conversations": convs})
}

// fail maps err onto a status code. Only validation and not-found reasons
// reach the client verbatim.
func (h *Handlers) fail(c *fiber.Ctx, err error, fallback string) error {
	reason, known := store.Reason(err)
	switch {
	case known && errors.Is(err, store.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"ok": false, "msg": reason})
	case known:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"ok": false, "msg": reason})
	}
	h.log.Error(fallback,
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"ok": false, "msg": fallback})
}
