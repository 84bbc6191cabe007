package api

import (
	"bufio"
	"context"
	"errors"
	"strconv"
	"time"

	"gotmail/config"
	"gotmail/models"
	"gotmail/realtime"
	"gotmail/storage"
	"gotmail/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/valyala/fasthttp"
)

const defaultPageSize = 20

// NotificationHandler serves stored notifications and the live push transports
type NotificationHandler struct {
	storage  *storage.NotificationStorage
	registry *realtime.Registry
	live     config.LiveConfig
}

// NewNotificationHandler creates a new notification handler
func NewNotificationHandler(notificationStorage *storage.NotificationStorage, registry *realtime.Registry, live config.LiveConfig) *NotificationHandler {
	return &NotificationHandler{
		storage:  notificationStorage,
		registry: registry,
		live:     live,
	}
}

// List returns a page of the current user's notifications, newest first
func (h *NotificationHandler) List(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	page := c.QueryInt("page", 1)
	pageSize := c.QueryInt("page_size", defaultPageSize)

	notifications, err := h.storage.ListByUser(user.ID)
	if err != nil {
		return utils.InternalServerError("Failed to list notifications", err)
	}

	payloads := make([]models.NotificationPayload, 0, len(notifications))
	for _, n := range notifications {
		payloads = append(payloads, models.NewNotificationPayload(n))
	}

	return c.JSON(models.NewPaginatedNotifications(payloads, page, pageSize))
}

// UnreadCount returns how many notifications are unread
func (h *NotificationHandler) UnreadCount(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	count, err := h.storage.UnreadCount(user.ID)
	if err != nil {
		return utils.InternalServerError("Failed to count notifications", err)
	}
	return c.JSON(fiber.Map{"unread": count})
}

func notificationID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return 0, utils.BadRequestError("Invalid notification id", err)
	}
	return id, nil
}

func notificationError(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return utils.NotFoundError("Notification not found", err)
	}
	return utils.InternalServerError("Failed to access notification", err)
}

// Get returns one notification of the current user
func (h *NotificationHandler) Get(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := notificationID(c)
	if err != nil {
		return err
	}

	n, err := h.storage.GetNotification(user.ID, id)
	if err != nil {
		return notificationError(err)
	}
	return c.JSON(models.NewNotificationPayload(n))
}

// Update sets the read flag of a notification. Other fields are read-only.
func (h *NotificationHandler) Update(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := notificationID(c)
	if err != nil {
		return err
	}

	var req struct {
		IsRead *bool `json:"is_read"`
	}
	if err := c.BodyParser(&req); err != nil {
		return utils.BadRequestError("Invalid request", err)
	}

	if req.IsRead == nil {
		n, err := h.storage.GetNotification(user.ID, id)
		if err != nil {
			return notificationError(err)
		}
		return c.JSON(models.NewNotificationPayload(n))
	}

	n, err := h.storage.SetRead(user.ID, id, *req.IsRead)
	if err != nil {
		return notificationError(err)
	}
	return c.JSON(models.NewNotificationPayload(n))
}

// Delete removes a notification of the current user
func (h *NotificationHandler) Delete(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := notificationID(c)
	if err != nil {
		return err
	}

	if err := h.storage.DeleteNotification(user.ID, id); err != nil {
		return notificationError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// MarkAllRead marks every notification of the current user as read
func (h *NotificationHandler) MarkAllRead(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	updated, err := h.storage.MarkAllRead(user.ID)
	if err != nil {
		return utils.InternalServerError("Failed to update notifications", err)
	}
	return c.JSON(fiber.Map{
		"status":  "All notifications marked as read",
		"updated": updated,
	})
}

// UpgradeWebSocket only lets websocket upgrade requests through
func UpgradeWebSocket(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// HandleWebSocket registers the connection as the live connection of the
// user owning the token query parameter and forwards push events to it
func (h *NotificationHandler) HandleWebSocket(conn *websocket.Conn) {
	ctx := context.Background()
	sub := realtime.NewQueueSubscriber(h.live.QueueSize)
	defer sub.Close()

	handle, err := h.registry.Connect(ctx, conn.Query("token"), sub)
	if err != nil {
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication failed")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}
	defer h.registry.Disconnect(ctx, handle)

	// reader: only used to notice the peer going away
	go func() {
		defer sub.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.live.KeepAlive.Duration)
	defer ticker.Stop()

	for {
		select {
		case msg := <-sub.Messages():
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				utils.Log.Debug("WebSocket write to %s failed: %v", handle.ID(), err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
				return
			}
		case <-sub.Done():
			return
		}
	}
}

// HandleSSE streams push events of the token owner as Server-Sent Events
func (h *NotificationHandler) HandleSSE(c *fiber.Ctx) error {
	token, err := GetSessionToken(c)
	if err != nil {
		return utils.UnauthorizedError("Authentication credentials were not provided", err)
	}

	ctx := context.Background()
	sub := realtime.NewQueueSubscriber(h.live.QueueSize)
	handle, err := h.registry.Connect(ctx, token, sub)
	if err != nil {
		sub.Close()
		return utils.UnauthorizedError("Invalid or expired token", err)
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set(fiber.HeaderTransferEncoding, "chunked")

	keepAlive := h.live.KeepAlive.Duration
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer sub.Close()
		defer h.registry.Disconnect(ctx, handle)

		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()

		if !writeEvent(w, "event: open\ndata: "+handle.ID()+"\n\n") {
			return
		}
		for {
			select {
			case msg := <-sub.Messages():
				if !writeEvent(w, "data: "+string(msg)+"\n\n") {
					return
				}
			case <-ticker.C:
				if !writeEvent(w, ": keepalive\n\n") {
					return
				}
			case <-sub.Done():
				return
			}
		}
	}))

	return nil
}

// writeEvent writes and flushes one SSE frame, reporting whether the client
// is still there
func writeEvent(w *bufio.Writer, frame string) bool {
	if _, err := w.WriteString(frame); err != nil {
		return false
	}
	return w.Flush() == nil
}
