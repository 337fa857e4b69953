// Order HTTP handlers.
//
// This file exposes the panel-facing REST endpoints for order resources:
//   - GET    /groups/{gid}/orders                (list active, paginated)
//   - GET    /groups/{gid}/orders/stats          (per-status counts)
//   - GET    /groups/{gid}/orders/{oid}          (detail)
//   - POST   /groups/{gid}/orders/{oid}/process  (pending → processing)
//   - POST   /groups/{gid}/orders/{oid}/approve  (processing → approved)
//   - POST   /groups/{gid}/orders/{oid}/revert   (processing → pending)
//   - POST   /groups/{gid}/orders/{oid}/restore  (deleted → approved)
//   - POST   /groups/{gid}/orders/{oid}/cancel   (pending → cancelled)
//   - DELETE /groups/{gid}/orders/{oid}          (→ deleted, with reason)
//
// Handlers are transport-thin: they validate input, call the lifecycle
// service, and translate results (including business rule conflicts) into
// HTTP responses.
package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/dtopup/go-topup-backend/internal/chat"
	"github.com/dtopup/go-topup-backend/internal/domain"
	"github.com/dtopup/go-topup-backend/internal/repo"
	"github.com/dtopup/go-topup-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// OrderLifecycle defines the order state machine operations consumed by HTTP
// handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type OrderLifecycle interface {
	// Get fetches a single order in a group.
	Get(ctx context.Context, groupID string, orderID int64) (*domain.Order, error)
	// StartProcessing moves a pending order to processing, taking stock and
	// balance and arming the auto-approval timer.
	StartProcessing(ctx context.Context, groupID string, orderID int64) (*domain.Order, error)
	// Approve finalizes a processing order on behalf of actor.
	Approve(ctx context.Context, groupID string, orderID int64, actor string) (*domain.Order, error)
	// Delete removes an active order, releasing any held resources.
	Delete(ctx context.Context, groupID string, orderID int64, actor, reason string) (*domain.Order, error)
	// Cancel withdraws a pending order.
	Cancel(ctx context.Context, groupID string, orderID int64, reason string) (*domain.Order, error)
	// RevertProcessing sends a processing order back to pending.
	RevertProcessing(ctx context.Context, groupID string, orderID int64) (*domain.Order, error)
	// Restore brings a deleted order back as approved, re-taking resources.
	Restore(ctx context.Context, groupID string, orderID int64) (*domain.Order, error)
	// Stats aggregates per-status order counts for a group.
	Stats(ctx context.Context, groupID string) (*repo.OrderStats, error)
	// SystemState returns the singleton stock/accepting row.
	SystemState(ctx context.Context) (*domain.SystemState, error)
}

// ChatGateway defines the inbound chat event operations consumed by the
// webhook handlers.
type ChatGateway interface {
	// HandleMessage routes one group chat message.
	HandleMessage(ctx context.Context, msg chat.InboundMessage) error
	// HandleEdit routes a message edit event.
	HandleEdit(ctx context.Context, ev chat.EditEvent) error
	// HandleRevoke routes a message deletion event.
	HandleRevoke(ctx context.Context, ev chat.RevokeEvent) error
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints for orders, groups, balances, system
// state, and chat webhooks. It depends on abstract service interfaces to keep
// transport concerns separate from business logic; the DB handle is used
// directly only for simple read paths.
type Handlers struct {
	db     *gorm.DB
	orders OrderLifecycle
	gw     ChatGateway
}

// New constructs and returns a Handlers instance bound to the given
// dependencies.
func New(db *gorm.DB, orders OrderLifecycle, gw ChatGateway) *Handlers {
	return &Handlers{db: db, orders: orders, gw: gw}
}

// adminActor extracts the acting admin identity from the X-Admin-ID header.
// The panel always sends it; "Admin" is the fallback for manual calls.
func adminActor(c *gin.Context) string {
	if h := strings.TrimSpace(c.GetHeader("X-Admin-ID")); h != "" {
		return h
	}
	return "Admin"
}

// orderParams parses the group id and order id path parameters. It writes a
// 400 response and returns ok=false when the order id is not an integer.
func orderParams(c *gin.Context) (groupID string, orderID int64, valid bool) {
	groupID = c.Param("gid")
	id, err := strconv.ParseInt(c.Param("oid"), 10, 64)
	if err != nil || id <= 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "order id must be a positive integer")
		return "", 0, false
	}
	return groupID, id, true
}

//
// DTOs
//

// DeleteOrderRequest is the JSON payload for deleting an order.
type DeleteOrderRequest struct {
	// Reason is the free-text correction reason shown in the audit trail.
	Reason string `json:"reason" example:"wrong player id"`
}

// CancelOrderRequest is the JSON payload for cancelling a pending order.
type CancelOrderRequest struct {
	Reason string `json:"reason" example:"user request"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListOrdersResponse wraps a page of orders and pagination information.
type ListOrdersResponse struct {
	Orders     []domain.Order `json:"orders"`
	Pagination Pagination     `json:"pagination"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

//
// Handlers
//

// ListOrders godoc
// @ID          listOrders
// @Summary     List active orders in a group
// @Description Returns a page of the group's active (pending, processing, approved) orders, newest first.
// @Tags        Orders
// @Produce     json
//
// @Param       gid        path    string  true  "Group ID"
// @Param       page       query   int     false "Page number"     minimum(1) default(1)
// @Param       page_size  query   int     false "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListOrdersResponse
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /groups/{gid}/orders [get]
func (h *Handlers) ListOrders(c *gin.Context) {
	ctx := c.Request.Context()
	groupID := c.Param("gid")
	page, pageSize := clampPagination(c)

	items, err := repo.ActiveOrders(ctx, h.db, groupID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	total := int64(len(items))
	start := (page - 1) * pageSize
	if start > len(items) {
		start = len(items)
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	resp := ListOrdersResponse{
		Orders: items[start:end],
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	}
	ok(c, http.StatusOK, resp)
}

// OrderStats godoc
// @ID          orderStats
// @Summary     Per-status order counts for a group
// @Tags        Orders
// @Produce     json
//
// @Param       gid  path  string  true  "Group ID"
//
// @Success     200  {object}  repo.OrderStats
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /groups/{gid}/orders/stats [get]
func (h *Handlers) OrderStats(c *gin.Context) {
	stats, err := h.orders.Stats(c.Request.Context(), c.Param("gid"))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, stats)
}

// GetOrder godoc
// @ID          getOrder
// @Summary     Fetch a single order
// @Tags        Orders
// @Produce     json
//
// @Param       gid  path  string  true  "Group ID"
// @Param       oid  path  int     true  "Order ID"
//
// @Success     200  {object}  domain.Order
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /groups/{gid}/orders/{oid} [get]
func (h *Handlers) GetOrder(c *gin.Context) {
	groupID, orderID, valid := orderParams(c)
	if !valid {
		return
	}
	o, err := h.orders.Get(c.Request.Context(), groupID, orderID)
	if err != nil {
		failSvc(c, err)
		return
	}
	ok(c, http.StatusOK, o)
}

// ProcessOrder godoc
// @ID          processOrder
// @Summary     Move a pending order to processing
// @Description Deducts stock and balance and starts the auto-approval countdown.
// @Tags        Orders
// @Produce     json
//
// @Param       gid  path  string  true  "Group ID"
// @Param       oid  path  int     true  "Order ID"
//
// @Success     200  {object}  domain.Order
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     409  {object}  handlers.ErrorResponse  "Stale order or insufficient stock"
// @Router      /groups/{gid}/orders/{oid}/process [post]
func (h *Handlers) ProcessOrder(c *gin.Context) {
	groupID, orderID, valid := orderParams(c)
	if !valid {
		return
	}
	o, err := h.orders.StartProcessing(c.Request.Context(), groupID, orderID)
	if err != nil {
		failSvc(c, err)
		return
	}
	ok(c, http.StatusOK, o)
}

// ApproveOrder godoc
// @ID          approveOrder
// @Summary     Approve a processing order
// @Tags        Orders
// @Produce     json
//
// @Param       gid  path  string  true  "Group ID"
// @Param       oid  path  int     true  "Order ID"
//
// @Success     200  {object}  domain.Order
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     409  {object}  handlers.ErrorResponse  "Not processing or already handled"
// @Router      /groups/{gid}/orders/{oid}/approve [post]
func (h *Handlers) ApproveOrder(c *gin.Context) {
	groupID, orderID, valid := orderParams(c)
	if !valid {
		return
	}
	o, err := h.orders.Approve(c.Request.Context(), groupID, orderID, adminActor(c))
	if err != nil {
		failSvc(c, err)
		return
	}
	ok(c, http.StatusOK, o)
}

// DeleteOrder godoc
// @ID          deleteOrder
// @Summary     Delete an active order
// @Description Marks the order deleted and releases any stock and balance it held.
// @Tags        Orders
// @Accept      json
// @Produce     json
//
// @Param       gid   path  string  true   "Group ID"
// @Param       oid   path  int     true   "Order ID"
// @Param       body  body  handlers.DeleteOrderRequest  false  "Correction reason"
//
// @Success     200  {object}  domain.Order
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /groups/{gid}/orders/{oid} [delete]
func (h *Handlers) DeleteOrder(c *gin.Context) {
	groupID, orderID, valid := orderParams(c)
	if !valid {
		return
	}
	var req DeleteOrderRequest
	_ = c.ShouldBindJSON(&req) // body optional

	o, err := h.orders.Delete(c.Request.Context(), groupID, orderID, adminActor(c), strings.TrimSpace(req.Reason))
	if err != nil {
		failSvc(c, err)
		return
	}
	ok(c, http.StatusOK, o)
}

// CancelOrder godoc
// @ID          cancelOrder
// @Summary     Cancel a pending order
// @Tags        Orders
// @Accept      json
// @Produce     json
//
// @Param       gid   path  string  true   "Group ID"
// @Param       oid   path  int     true   "Order ID"
// @Param       body  body  handlers.CancelOrderRequest  false  "Cancellation reason"
//
// @Success     200  {object}  domain.Order
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     409  {object}  handlers.ErrorResponse  "Order already left pending"
// @Router      /groups/{gid}/orders/{oid}/cancel [post]
func (h *Handlers) CancelOrder(c *gin.Context) {
	groupID, orderID, valid := orderParams(c)
	if !valid {
		return
	}
	var req CancelOrderRequest
	_ = c.ShouldBindJSON(&req)

	o, err := h.orders.Cancel(c.Request.Context(), groupID, orderID, strings.TrimSpace(req.Reason))
	if err != nil {
		failSvc(c, err)
		return
	}
	ok(c, http.StatusOK, o)
}

// RevertOrder godoc
// @ID          revertOrder
// @Summary     Send a processing order back to pending
// @Description Returns stock and refunds any auto-deducted balance; the auto-approval timer is disarmed.
// @Tags        Orders
// @Produce     json
//
// @Param       gid  path  string  true  "Group ID"
// @Param       oid  path  int     true  "Order ID"
//
// @Success     200  {object}  domain.Order
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     409  {object}  handlers.ErrorResponse
// @Router      /groups/{gid}/orders/{oid}/revert [post]
func (h *Handlers) RevertOrder(c *gin.Context) {
	groupID, orderID, valid := orderParams(c)
	if !valid {
		return
	}
	o, err := h.orders.RevertProcessing(c.Request.Context(), groupID, orderID)
	if err != nil {
		failSvc(c, err)
		return
	}
	ok(c, http.StatusOK, o)
}

// RestoreOrder godoc
// @ID          restoreOrder
// @Summary     Restore a deleted order as approved
// @Description Re-takes stock and balance for the restored order.
// @Tags        Orders
// @Produce     json
//
// @Param       gid  path  string  true  "Group ID"
// @Param       oid  path  int     true  "Order ID"
//
// @Success     200  {object}  domain.Order
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     409  {object}  handlers.ErrorResponse  "Not deleted or insufficient stock"
// @Router      /groups/{gid}/orders/{oid}/restore [post]
func (h *Handlers) RestoreOrder(c *gin.Context) {
	groupID, orderID, valid := orderParams(c)
	if !valid {
		return
	}
	o, err := h.orders.Restore(c.Request.Context(), groupID, orderID)
	if err != nil {
		failSvc(c, err)
		return
	}
	ok(c, http.StatusOK, o)
}
