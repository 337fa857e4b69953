// System state HTTP handlers: the global stock counter, the accepting-orders
// switch, the broadcast message, and the notification toggles.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dtopup/go-topup-backend/internal/repo"
)

//
// DTOs
//

// SetStockRequest is the JSON payload for setting the absolute stock level.
type SetStockRequest struct {
	// Amount replaces the current stock. A positive amount also turns the
	// accepting switch back on.
	Amount int64 `json:"amount" binding:"gte=0" example:"100000"`
}

// SetAcceptingRequest flips the accepting-orders switch.
type SetAcceptingRequest struct {
	Accepting *bool  `json:"accepting" binding:"required"`
	Reason    string `json:"reason" example:"maintenance window"`
}

// SetGlobalMessageRequest sets the broadcast text shown while the system is
// off.
type SetGlobalMessageRequest struct {
	Message string `json:"message" example:"Top-ups resume at 20:00"`
}

// SetNotificationsRequest updates the notification toggles. Absent fields are
// left unchanged.
type SetNotificationsRequest struct {
	SendApproveMessage     *bool `json:"send_approve_message,omitempty"`
	SendAutoApproveMessage *bool `json:"send_auto_approve_message,omitempty"`
	SendDeleteMessage      *bool `json:"send_delete_message,omitempty"`
}

//
// Handlers
//

// GetState godoc
// @ID          getState
// @Summary     Fetch the global system state
// @Tags        State
// @Produce     json
// @Success     200  {object}  domain.SystemState
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /state [get]
func (h *Handlers) GetState(c *gin.Context) {
	st, err := h.orders.SystemState(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, st)
}

// SetStock godoc
// @ID          setStock
// @Summary     Set the absolute diamond stock
// @Description Replaces the stock counter. A positive amount re-enables order intake.
// @Tags        State
// @Accept      json
// @Param       body  body  handlers.SetStockRequest  true  "New stock level"
// @Success     204  {string}  string  "No Content"
// @Failure     400  {object}  handlers.ErrorResponse
// @Router      /state/stock [put]
func (h *Handlers) SetStock(c *gin.Context) {
	var req SetStockRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Amount < 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "amount must be >= 0")
		return
	}
	if err := repo.SetStock(c.Request.Context(), h.db, req.Amount); err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	noContent(c)
}

// SetAccepting godoc
// @ID          setAccepting
// @Summary     Flip the accepting-orders switch
// @Tags        State
// @Accept      json
// @Param       body  body  handlers.SetAcceptingRequest  true  "Switch state and reason"
// @Success     204  {string}  string  "No Content"
// @Failure     400  {object}  handlers.ErrorResponse
// @Router      /state/accepting [put]
func (h *Handlers) SetAccepting(c *gin.Context) {
	var req SetAcceptingRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Accepting == nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "accepting must be a boolean")
		return
	}
	if err := repo.SetAccepting(c.Request.Context(), h.db, *req.Accepting, strings.TrimSpace(req.Reason), false); err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	noContent(c)
}

// SetGlobalMessage godoc
// @ID          setGlobalMessage
// @Summary     Set the broadcast message
// @Tags        State
// @Accept      json
// @Param       body  body  handlers.SetGlobalMessageRequest  true  "Broadcast text"
// @Success     204  {string}  string  "No Content"
// @Failure     400  {object}  handlers.ErrorResponse
// @Router      /state/global-message [put]
func (h *Handlers) SetGlobalMessage(c *gin.Context) {
	var req SetGlobalMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if err := repo.SetGlobalMessage(c.Request.Context(), h.db, req.Message); err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	noContent(c)
}

// SetNotifications godoc
// @ID          setNotifications
// @Summary     Update the notification toggles
// @Description Absent fields keep their current value. State transitions run identically either way; only the chat message is gated.
// @Tags        State
// @Accept      json
// @Param       body  body  handlers.SetNotificationsRequest  true  "Toggle values"
// @Success     204  {string}  string  "No Content"
// @Failure     400  {object}  handlers.ErrorResponse
// @Router      /state/notifications [put]
func (h *Handlers) SetNotifications(c *gin.Context) {
	var req SetNotificationsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if req.SendApproveMessage == nil && req.SendAutoApproveMessage == nil && req.SendDeleteMessage == nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "at least one toggle required")
		return
	}
	if err := repo.SetNotificationToggles(c.Request.Context(), h.db,
		req.SendApproveMessage, req.SendAutoApproveMessage, req.SendDeleteMessage); err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	noContent(c)
}
