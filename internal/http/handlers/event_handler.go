// Chat webhook handlers.
//
// The chat transport bridge POSTs every group message and every message
// deletion here. The handlers translate the wire payload into transport-neutral
// chat events and hand them to the dispatcher, which owns all routing rules.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dtopup/go-topup-backend/internal/chat"
)

// QuotedPayload mirrors chat.QuotedRef on the wire.
type QuotedPayload struct {
	MessageID string `json:"message_id" binding:"required"`
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
	Text      string `json:"text"`
}

// MessagePayload is the wire form of one inbound group message.
type MessagePayload struct {
	GroupID   string         `json:"group_id" binding:"required"`
	MessageID string         `json:"message_id" binding:"required"`
	UserID    string         `json:"user_id" binding:"required"`
	UserName  string         `json:"user_name"`
	Text      string         `json:"text"`
	SentAt    time.Time      `json:"sent_at"`
	Quoted    *QuotedPayload `json:"quoted,omitempty"`
	FromAdmin bool           `json:"from_admin"`
}

// EditPayload is the wire form of a message edit event.
type EditPayload struct {
	GroupID   string `json:"group_id" binding:"required"`
	MessageID string `json:"message_id" binding:"required"`
	UserID    string `json:"user_id" binding:"required"`
	UserName  string `json:"user_name"`
	Text      string `json:"text"`
	FromAdmin bool   `json:"from_admin"`
}

// RevokePayload is the wire form of a message deletion event.
type RevokePayload struct {
	GroupID   string `json:"group_id" binding:"required"`
	MessageID string `json:"message_id" binding:"required"`
	UserID    string `json:"user_id"`
	FromAdmin bool   `json:"from_admin"`
}

// PostMessage godoc
// @ID          postMessage
// @Summary     Ingest a group chat message
// @Description Routes the message through the order dispatcher: submissions create orders, admin replies drive the lifecycle, user replies cancel.
// @Tags        Events
// @Accept      json
// @Param       body  body  handlers.MessagePayload  true  "Chat message"
// @Success     202  {string}  string  "Accepted"
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /events/message [post]
func (h *Handlers) PostMessage(c *gin.Context) {
	var req MessagePayload
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid message payload")
		return
	}
	if req.SentAt.IsZero() {
		req.SentAt = time.Now().UTC()
	}

	msg := chat.InboundMessage{
		GroupID:   req.GroupID,
		MessageID: req.MessageID,
		UserID:    req.UserID,
		UserName:  req.UserName,
		Text:      req.Text,
		SentAt:    req.SentAt,
		FromAdmin: req.FromAdmin,
	}
	if req.Quoted != nil {
		msg.Quoted = &chat.QuotedRef{
			MessageID: req.Quoted.MessageID,
			UserID:    req.Quoted.UserID,
			UserName:  req.Quoted.UserName,
			Text:      req.Quoted.Text,
		}
	}

	if err := h.gw.HandleMessage(c.Request.Context(), msg); err != nil {
		failSvc(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// PostEdit godoc
// @ID          postEdit
// @Summary     Ingest a message edit event
// @Description Editing an order message rewrites the pending order's quantity; an edit that removes the order content cancels it.
// @Tags        Events
// @Accept      json
// @Param       body  body  handlers.EditPayload  true  "Edit event"
// @Success     202  {string}  string  "Accepted"
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /events/edit [post]
func (h *Handlers) PostEdit(c *gin.Context) {
	var req EditPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid edit payload")
		return
	}

	ev := chat.EditEvent{
		GroupID:   req.GroupID,
		MessageID: req.MessageID,
		UserID:    req.UserID,
		UserName:  req.UserName,
		Text:      req.Text,
		FromAdmin: req.FromAdmin,
	}
	if err := h.gw.HandleEdit(c.Request.Context(), ev); err != nil {
		failSvc(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// PostRevoke godoc
// @ID          postRevoke
// @Summary     Ingest a message deletion event
// @Description Deleting an order message deletes the order; deleting the admin reply that started processing reverts it to pending.
// @Tags        Events
// @Accept      json
// @Param       body  body  handlers.RevokePayload  true  "Revoke event"
// @Success     202  {string}  string  "Accepted"
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /events/revoke [post]
func (h *Handlers) PostRevoke(c *gin.Context) {
	var req RevokePayload
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid revoke payload")
		return
	}

	ev := chat.RevokeEvent{
		GroupID:   req.GroupID,
		MessageID: req.MessageID,
		UserID:    req.UserID,
		FromAdmin: req.FromAdmin,
	}
	if err := h.gw.HandleRevoke(c.Request.Context(), ev); err != nil {
		failSvc(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}
