// Group and balance HTTP handlers.
//
// Groups carry the per-diamond rate, the reconciliation start marker, and an
// advisory due limit. Balances are per-user running totals with a payment
// ledger behind them.
package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dtopup/go-topup-backend/internal/domain"
	"github.com/dtopup/go-topup-backend/internal/repo"
	"github.com/dtopup/go-topup-backend/internal/utils"
)

//
// DTOs
//

// UpdateRateRequest is the JSON payload for changing a group's rate.
type UpdateRateRequest struct {
	// Rate is the new currency-per-diamond price. Existing orders keep
	// their snapshotted rate.
	Rate float64 `json:"rate" binding:"required,gt=0" example:"1.05"`
}

// UpdateStartRequest sets the reconciliation start marker for a group.
type UpdateStartRequest struct {
	// StartAt bounds the transcript sweep; messages before it are ignored.
	StartAt time.Time `json:"start_at" binding:"required" example:"2026-08-01T00:00:00Z"`
}

// UpdateDueLimitRequest sets the advisory due limit for a group.
type UpdateDueLimitRequest struct {
	DueLimit float64 `json:"due_limit" binding:"gte=0" example:"5000"`
}

// AdjustBalanceRequest is the JSON payload for a manual balance mutation.
type AdjustBalanceRequest struct {
	// Amount is signed: positive deposits, negative charges.
	Amount float64 `json:"amount" binding:"required" example:"250.50"`
	// Kind is "payment" for user deposits or "manual" for admin
	// corrections. Defaults to "manual".
	Kind     string `json:"kind" example:"payment"`
	GroupID  string `json:"group_id" example:"group-1"`
	UserName string `json:"user_name" example:"Rifat"`
}

// BalanceResponse pairs the running total with recent ledger entries.
type BalanceResponse struct {
	UserID       string                      `json:"user_id"`
	Balance      float64                     `json:"balance"`
	Transactions []domain.PaymentTransaction `json:"transactions,omitempty"`
}

//
// Group handlers
//

// ListGroups godoc
// @ID          listGroups
// @Summary     List known groups
// @Tags        Groups
// @Produce     json
// @Success     200  {array}   domain.Group
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /groups [get]
func (h *Handlers) ListGroups(c *gin.Context) {
	groups, err := repo.ListGroups(c.Request.Context(), h.db)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, groups)
}

// GetGroup godoc
// @ID          getGroup
// @Summary     Fetch a single group
// @Tags        Groups
// @Produce     json
// @Param       gid  path  string  true  "Group ID"
// @Success     200  {object}  domain.Group
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /groups/{gid} [get]
func (h *Handlers) GetGroup(c *gin.Context) {
	g, err := repo.GetGroup(c.Request.Context(), h.db, c.Param("gid"))
	if err != nil {
		failSvc(c, err)
		return
	}
	ok(c, http.StatusOK, g)
}

// UpdateGroupRate godoc
// @ID          updateGroupRate
// @Summary     Change a group's diamond rate
// @Description Applies to orders created after the change; existing orders keep their snapshot.
// @Tags        Groups
// @Accept      json
// @Param       gid   path  string  true  "Group ID"
// @Param       body  body  handlers.UpdateRateRequest  true  "New rate"
// @Success     204  {string}  string  "No Content"
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /groups/{gid}/rate [put]
func (h *Handlers) UpdateGroupRate(c *gin.Context) {
	var req UpdateRateRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Rate <= 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "rate must be a positive number")
		return
	}
	if err := repo.UpdateGroupRate(c.Request.Context(), h.db, c.Param("gid"), req.Rate); err != nil {
		failSvc(c, err)
		return
	}
	noContent(c)
}

// UpdateGroupStart godoc
// @ID          updateGroupStart
// @Summary     Set the reconciliation start marker
// @Tags        Groups
// @Accept      json
// @Param       gid   path  string  true  "Group ID"
// @Param       body  body  handlers.UpdateStartRequest  true  "Start marker"
// @Success     204  {string}  string  "No Content"
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /groups/{gid}/start [put]
func (h *Handlers) UpdateGroupStart(c *gin.Context) {
	var req UpdateStartRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.StartAt.IsZero() {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "start_at must be a valid timestamp")
		return
	}
	if err := repo.SetGroupStart(c.Request.Context(), h.db, c.Param("gid"), req.StartAt.UTC()); err != nil {
		failSvc(c, err)
		return
	}
	noContent(c)
}

// UpdateGroupDueLimit godoc
// @ID          updateGroupDueLimit
// @Summary     Set the advisory due limit
// @Tags        Groups
// @Accept      json
// @Param       gid   path  string  true  "Group ID"
// @Param       body  body  handlers.UpdateDueLimitRequest  true  "Due limit"
// @Success     204  {string}  string  "No Content"
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /groups/{gid}/due-limit [put]
func (h *Handlers) UpdateGroupDueLimit(c *gin.Context) {
	var req UpdateDueLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.DueLimit < 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "due_limit must be >= 0")
		return
	}
	if err := repo.SetGroupDueLimit(c.Request.Context(), h.db, c.Param("gid"), req.DueLimit); err != nil {
		failSvc(c, err)
		return
	}
	noContent(c)
}

//
// Balance handlers
//

// GetBalance godoc
// @ID          getBalance
// @Summary     Fetch a user's balance with recent ledger entries
// @Tags        Balances
// @Produce     json
// @Param       uid    path   string  true   "User ID"
// @Param       limit  query  int     false  "Max ledger entries"  default(20)
// @Success     200  {object}  handlers.BalanceResponse
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /users/{uid}/balance [get]
func (h *Handlers) GetBalance(c *gin.Context) {
	ctx := c.Request.Context()
	uid := domain.CanonicalUserID(c.Param("uid"))

	acct, err := repo.GetBalance(ctx, h.db, uid)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	limit := utils.AtoiDefault(c.Query("limit"), 20)
	txns, err := repo.ListTransactions(ctx, h.db, uid, limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, BalanceResponse{UserID: acct.UserID, Balance: acct.Balance, Transactions: txns})
}

// AdjustBalance godoc
// @ID          adjustBalance
// @Summary     Apply a manual balance mutation
// @Description Records a ledger entry and updates the running total atomically.
// @Tags        Balances
// @Accept      json
// @Produce     json
// @Param       uid   path  string  true  "User ID"
// @Param       body  body  handlers.AdjustBalanceRequest  true  "Signed amount"
// @Success     200  {object}  handlers.BalanceResponse
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /users/{uid}/balance/adjust [post]
func (h *Handlers) AdjustBalance(c *gin.Context) {
	ctx := c.Request.Context()
	uid := domain.CanonicalUserID(c.Param("uid"))

	var req AdjustBalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Amount == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "amount must be a non-zero number")
		return
	}
	kind := strings.TrimSpace(req.Kind)
	switch kind {
	case "":
		kind = domain.DeductionManual
	case domain.DeductionManual, domain.DeductionPayment:
	default:
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "kind must be manual or payment")
		return
	}

	balance, err := repo.AdjustBalance(ctx, h.db, uid, req.Amount)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	txn := &domain.PaymentTransaction{
		UserID:   uid,
		UserName: req.UserName,
		GroupID:  req.GroupID,
		Amount:   req.Amount,
		Kind:     kind,
		Status:   domain.TxnCompleted,
	}
	if err := repo.RecordTransaction(ctx, h.db, txn); err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, BalanceResponse{UserID: uid, Balance: balance})
}
