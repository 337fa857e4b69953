// Package services – order lifecycle
//
// OrderService owns the state machine. Orders move along a fixed set of
// edges:
//
//	pending    -> processing (admin picked it up; stock and balance move here)
//	processing -> approved   (admin confirmation or auto-approval timeout)
//	processing -> pending    (admin withdrew the hand-off)
//	pending    -> cancelled  (submitter corrected themselves)
//	any active -> deleted    (admin removal)
//	deleted    -> approved   (restore)
//
// Every transition runs inside one database transaction. Resource side
// effects are tied to edges, not states: stock and balance are taken
// exactly once at pending -> processing and given back when a processed
// order is deleted or reverted. Approval itself moves no resources, so an
// order approved by timer and again by a late admin reply cannot double
// anything.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/dtopup/go-topup-backend/internal/domain"
	"github.com/dtopup/go-topup-backend/internal/repo"
)

// DefaultProcessingDelay is how long an order sits in processing before the
// scheduler approves it on the admin's behalf.
const DefaultProcessingDelay = 2 * time.Minute

// TimerRegistry is the scheduler surface the lifecycle needs: register a
// deadline at the processing hand-off, drop it again when the order leaves
// processing early.
type TimerRegistry interface {
	Schedule(groupID string, orderID int64, at time.Time) error
	Cancel(groupID string, orderID int64) bool
}

// Notifier delivers user-facing chat messages for lifecycle events.
// Implementations must be safe to call concurrently; failures are logged
// and never block a transition.
type Notifier interface {
	OrderCreated(ctx context.Context, o *domain.Order)
	OrderProcessing(ctx context.Context, o *domain.Order)
	OrderApproved(ctx context.Context, o *domain.Order, auto bool)
	OrderDeleted(ctx context.Context, o *domain.Order, reason string)
	SystemOff(ctx context.Context, message string)
}

// PanelPublisher pushes order events and balance deductions to the remote
// admin panel store.
type PanelPublisher interface {
	PublishOrderEvent(ctx context.Context, event string, o *domain.Order) error
	ReportDeduction(ctx context.Context, t *domain.PaymentTransaction) error
}

// Panel event names.
const (
	EventNewOrder        = "new-order"
	EventOrderDeleted    = "order-deleted"
	EventOrderApproved   = "order-approved"
	EventAutoApproved    = "order-auto-approved"
	EventMissingRecovery = "missing-order-recovery"
)

// SubmitInput is a validated order submission.
type SubmitInput struct {
	GroupID   string
	UserID    string
	UserName  string
	PlayerID  string
	Diamonds  int
	MessageID string
}

// OrderService coordinates the order state machine with stock, balances,
// the auto-approval scheduler, chat notifications and the remote panel.
type OrderService struct {
	DB    *gorm.DB
	Guard *AdmissionGuard

	// Timers registers auto-approval deadlines. Optional in tests.
	Timers TimerRegistry
	// Notify sends chat messages. Optional.
	Notify Notifier
	// Panel mirrors events to the remote store. Optional.
	Panel PanelPublisher

	// ProcessingDelay is the auto-approval countdown.
	ProcessingDelay time.Duration
	// DefaultRate seeds groups seen for the first time.
	DefaultRate float64
}

// NewOrderService constructs an OrderService with the default processing
// delay.
func NewOrderService(db *gorm.DB, guard *AdmissionGuard) *OrderService {
	return &OrderService{
		DB:              db,
		Guard:           guard,
		ProcessingDelay: DefaultProcessingDelay,
	}
}

// Submit creates a pending order from a chat submission. The group row is
// created on first sight and the group's current rate is snapshotted onto
// the order. Admission rules run first; their errors pass through
// unchanged.
func (s *OrderService) Submit(ctx context.Context, in SubmitInput) (*domain.Order, error) {
	if in.Diamonds < 1 || in.Diamonds > MaxDiamonds {
		return nil, ErrInvalidQuantity
	}
	if err := s.Guard.Admit(ctx, in.GroupID, in.UserID, in.MessageID, in.Diamonds); err != nil {
		return nil, err
	}
	g, err := repo.EnsureGroup(ctx, s.DB, in.GroupID, s.DefaultRate)
	if err != nil {
		return nil, err
	}

	o := &domain.Order{
		GroupID:   in.GroupID,
		UserID:    in.UserID,
		UserName:  in.UserName,
		PlayerID:  in.PlayerID,
		Diamonds:  in.Diamonds,
		Rate:      g.Rate,
		MessageID: in.MessageID,
	}
	if err := repo.CreateOrder(ctx, s.DB, o); err != nil {
		return nil, err
	}

	s.notifyCreated(ctx, o)
	s.publish(ctx, EventNewOrder, o)
	return o, nil
}

// StartProcessing moves a pending order into processing. In one
// transaction it deducts the diamonds from the global stock, takes as much
// of the order value from the user's balance as the balance covers, writes
// the ledger row and stamps the auto-approval deadline. If the stock
// cannot cover the order, nothing at all is written and
// ErrInsufficientStock is returned.
//
// After commit the auto-approval timer is registered and, if the stock
// landed on zero, the accepting switch is flipped off.
func (s *OrderService) StartProcessing(ctx context.Context, groupID string, orderID int64) (*domain.Order, error) {
	now := time.Now().UTC()
	delay := s.ProcessingDelay
	if delay <= 0 {
		delay = DefaultProcessingDelay
	}
	deadline := now.Add(delay)

	var depleted bool
	var deduction *domain.PaymentTransaction
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		o, err := repo.GetOrder(ctx, tx, groupID, orderID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrOrderNotFound
			}
			return err
		}
		switch o.Status {
		case domain.StatusPending:
		case domain.StatusProcessing:
			return ErrStaleOrder
		default:
			return ErrAlreadyHandled
		}

		remaining, err := repo.DeductStock(ctx, tx, o.Diamonds)
		if err != nil {
			if errors.Is(err, repo.ErrInsufficientStock) {
				return ErrInsufficientStock
			}
			return err
		}
		depleted = remaining == 0

		deducted, txn, err := s.deductBalance(ctx, tx, o)
		if err != nil {
			return err
		}
		deduction = txn

		if err := repo.MarkProcessing(ctx, tx, groupID, orderID, now, deadline, deducted); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrStaleOrder
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if depleted {
		if err := repo.SetAccepting(ctx, s.DB, false, "stock depleted", true); err != nil {
			log.Error().Err(err).Msg("auto-off after stock depletion failed")
		} else {
			s.notifySystemOff(ctx)
		}
	}
	if s.Timers != nil {
		if err := s.Timers.Schedule(groupID, orderID, deadline); err != nil {
			log.Warn().Err(err).Str("group", groupID).Int64("order", orderID).
				Msg("auto-approval timer not registered")
		}
	}

	s.reportDeduction(ctx, deduction)

	o, err := repo.GetOrder(ctx, s.DB, groupID, orderID)
	if err != nil {
		return nil, err
	}
	s.notifyProcessing(ctx, o)
	return o, nil
}

// deductBalance takes min(balance, order value) from the user, floored at
// zero. A live ledger row for the order means a previous attempt already
// paid; the recorded amount is reused and the balance stays untouched. The
// returned transaction is non-nil only when a fresh deduction was written.
func (s *OrderService) deductBalance(ctx context.Context, tx *gorm.DB, o *domain.Order) (float64, *domain.PaymentTransaction, error) {
	already, err := repo.AutoDeductionExists(ctx, tx, o.ID)
	if err != nil {
		return 0, nil, err
	}
	if already {
		return o.AutoDeductedAmount, nil, nil
	}

	b, err := repo.GetBalance(ctx, tx, o.UserID)
	if err != nil {
		return 0, nil, err
	}
	if b.Balance <= 0 {
		return 0, nil, nil
	}
	deduct := o.Amount()
	if b.Balance < deduct {
		deduct = b.Balance
	}
	if _, err := repo.AdjustBalance(ctx, tx, o.UserID, -deduct); err != nil {
		return 0, nil, err
	}
	t := &domain.PaymentTransaction{
		UserID:   o.UserID,
		UserName: o.UserName,
		GroupID:  o.GroupID,
		Amount:   deduct,
		Kind:     domain.DeductionAuto,
		Status:   domain.TxnCompleted,
		OrderID:  o.ID,
	}
	if err := repo.RecordTransaction(ctx, tx, t); err != nil {
		return 0, nil, err
	}
	return deduct, t, nil
}

// reportDeduction mirrors one ledger row to the panel, best effort.
func (s *OrderService) reportDeduction(ctx context.Context, t *domain.PaymentTransaction) {
	if s.Panel == nil || t == nil {
		return
	}
	if err := s.Panel.ReportDeduction(ctx, t); err != nil {
		log.Warn().Err(err).Int64("order", t.OrderID).
			Msg("panel deduction report failed")
	}
}

// Approve completes a processing order, attributing it to the given actor
// (an admin name or domain.AutoApprovalActor). A pending order cannot be
// approved directly; the hand-off must happen first. Approving an order
// that already reached a terminal status returns ErrAlreadyHandled.
func (s *OrderService) Approve(ctx context.Context, groupID string, orderID int64, actor string) (*domain.Order, error) {
	o, err := repo.GetOrder(ctx, s.DB, groupID, orderID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	switch o.Status {
	case domain.StatusProcessing:
	case domain.StatusPending:
		return nil, ErrIllegalTransition
	default:
		return nil, ErrAlreadyHandled
	}

	if err := repo.MarkApproved(ctx, s.DB, groupID, orderID, actor, time.Now().UTC()); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrStaleOrder
		}
		return nil, err
	}
	if s.Timers != nil {
		s.Timers.Cancel(groupID, orderID)
	}

	o, err = repo.GetOrder(ctx, s.DB, groupID, orderID)
	if err != nil {
		return nil, err
	}
	auto := actor == domain.AutoApprovalActor
	s.notifyApproved(ctx, o, auto)
	if auto {
		s.publish(ctx, EventAutoApproved, o)
	} else {
		s.publish(ctx, EventOrderApproved, o)
	}
	return o, nil
}

// Delete removes an order from the live lifecycle. If the order had passed
// the processing hand-off its resources flow back: the diamonds return to
// stock and any auto-deducted amount is refunded to the user's balance,
// with the ledger rows flipped to refunded.
func (s *OrderService) Delete(ctx context.Context, groupID string, orderID int64, actor, reason string) (*domain.Order, error) {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		o, err := repo.GetOrder(ctx, tx, groupID, orderID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrOrderNotFound
			}
			return err
		}
		if !o.Active() {
			return ErrAlreadyHandled
		}

		if err := repo.MarkDeleted(ctx, tx, groupID, orderID, actor, reason, time.Now().UTC()); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrStaleOrder
			}
			return err
		}
		if o.Status == domain.StatusPending {
			return nil
		}
		return s.releaseResources(ctx, tx, o)
	})
	if err != nil {
		return nil, err
	}

	if s.Timers != nil {
		s.Timers.Cancel(groupID, orderID)
	}
	o, err := repo.GetOrder(ctx, s.DB, groupID, orderID)
	if err != nil {
		return nil, err
	}
	s.notifyDeleted(ctx, o, reason)
	s.publish(ctx, EventOrderDeleted, o)
	return o, nil
}

// Cancel ends a pending order on the submitter's own correction. Only
// pending orders can be cancelled; anything later needs an admin delete.
func (s *OrderService) Cancel(ctx context.Context, groupID string, orderID int64, reason string) (*domain.Order, error) {
	if err := repo.MarkCancelled(ctx, s.DB, groupID, orderID, reason, time.Now().UTC()); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			o, gerr := repo.GetOrder(ctx, s.DB, groupID, orderID)
			if gerr == nil && o.Status != domain.StatusPending {
				return nil, ErrAlreadyHandled
			}
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return repo.GetOrder(ctx, s.DB, groupID, orderID)
}

// Amend rewrites the quantity (and optionally the player id) of a pending
// order after the submitter edits their message. Orders past pending keep
// their original numbers; stock and balance already moved on them.
func (s *OrderService) Amend(ctx context.Context, groupID string, orderID int64, diamonds int, playerID string) (*domain.Order, error) {
	if diamonds < 1 || diamonds > MaxDiamonds {
		return nil, ErrInvalidQuantity
	}
	if err := repo.AmendPending(ctx, s.DB, groupID, orderID, diamonds, playerID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			o, gerr := repo.GetOrder(ctx, s.DB, groupID, orderID)
			if gerr == nil && o.Status != domain.StatusPending {
				return nil, ErrAlreadyHandled
			}
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return repo.GetOrder(ctx, s.DB, groupID, orderID)
}

// RevertProcessing withdraws a processing hand-off, putting the order back
// in pending with its resources returned. Happens when an admin revokes
// their own pickup message before the timer fires.
func (s *OrderService) RevertProcessing(ctx context.Context, groupID string, orderID int64) (*domain.Order, error) {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		o, err := repo.GetOrder(ctx, tx, groupID, orderID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrOrderNotFound
			}
			return err
		}
		if o.Status != domain.StatusProcessing {
			return ErrIllegalTransition
		}
		if err := repo.RevertToPending(ctx, tx, groupID, orderID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrStaleOrder
			}
			return err
		}
		return s.releaseResources(ctx, tx, o)
	})
	if err != nil {
		return nil, err
	}

	if s.Timers != nil {
		s.Timers.Cancel(groupID, orderID)
	}
	return repo.GetOrder(ctx, s.DB, groupID, orderID)
}

// Restore brings a deleted order back as approved. Stock and balance move
// again, exactly as they would have on a processing hand-off, unless the
// ledger shows a live deduction already.
func (s *OrderService) Restore(ctx context.Context, groupID string, orderID int64) (*domain.Order, error) {
	var deduction *domain.PaymentTransaction
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		o, err := repo.GetOrder(ctx, tx, groupID, orderID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrOrderNotFound
			}
			return err
		}
		if o.Status != domain.StatusDeleted {
			return ErrIllegalTransition
		}

		if _, err := repo.DeductStock(ctx, tx, o.Diamonds); err != nil {
			if errors.Is(err, repo.ErrInsufficientStock) {
				return ErrInsufficientStock
			}
			return err
		}
		_, txn, err := s.deductBalance(ctx, tx, o)
		if err != nil {
			return err
		}
		deduction = txn
		if err := repo.RestoreOrder(ctx, tx, groupID, orderID, time.Now().UTC()); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrStaleOrder
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.reportDeduction(ctx, deduction)
	return repo.GetOrder(ctx, s.DB, groupID, orderID)
}

// releaseResources returns the order's diamonds to stock, refunds any
// auto-deducted balance and flips the ledger rows to refunded. Runs inside
// the caller's transaction; o is the pre-transition snapshot.
func (s *OrderService) releaseResources(ctx context.Context, tx *gorm.DB, o *domain.Order) error {
	if err := repo.RestoreStock(ctx, tx, o.Diamonds); err != nil {
		return err
	}
	if o.AutoDeductedAmount <= 0 {
		return nil
	}
	if _, err := repo.AdjustBalance(ctx, tx, o.UserID, o.AutoDeductedAmount); err != nil {
		return err
	}
	return repo.MarkDeductionsRefunded(ctx, tx, o.ID)
}

// SystemState returns the current singleton state row.
func (s *OrderService) SystemState(ctx context.Context) (*domain.SystemState, error) {
	return repo.GetSystemState(ctx, s.DB)
}

// Stats returns the per-status order counts for a group.
func (s *OrderService) Stats(ctx context.Context, groupID string) (*repo.OrderStats, error) {
	return repo.CountOrders(ctx, s.DB, groupID)
}

// Get fetches one order.
func (s *OrderService) Get(ctx context.Context, groupID string, orderID int64) (*domain.Order, error) {
	o, err := repo.GetOrder(ctx, s.DB, groupID, orderID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return o, nil
}

func (s *OrderService) notifyCreated(ctx context.Context, o *domain.Order) {
	if s.Notify == nil {
		return
	}
	s.Notify.OrderCreated(ctx, o)
}

func (s *OrderService) notifyProcessing(ctx context.Context, o *domain.Order) {
	if s.Notify == nil {
		return
	}
	s.Notify.OrderProcessing(ctx, o)
}

// notifyApproved honors the runtime notification toggles: admin approvals
// and auto-approvals are gated independently. The transition itself has
// already happened either way.
func (s *OrderService) notifyApproved(ctx context.Context, o *domain.Order, auto bool) {
	if s.Notify == nil {
		return
	}
	state, err := repo.GetSystemState(ctx, s.DB)
	if err != nil {
		log.Warn().Err(err).Msg("notification toggle lookup failed")
		return
	}
	if auto && !state.SendAutoApproveMessage {
		return
	}
	if !auto && !state.SendApproveMessage {
		return
	}
	s.Notify.OrderApproved(ctx, o, auto)
}

func (s *OrderService) notifyDeleted(ctx context.Context, o *domain.Order, reason string) {
	if s.Notify == nil {
		return
	}
	state, err := repo.GetSystemState(ctx, s.DB)
	if err != nil {
		log.Warn().Err(err).Msg("notification toggle lookup failed")
		return
	}
	if !state.SendDeleteMessage {
		return
	}
	s.Notify.OrderDeleted(ctx, o, reason)
}

func (s *OrderService) notifySystemOff(ctx context.Context) {
	if s.Notify == nil {
		return
	}
	state, err := repo.GetSystemState(ctx, s.DB)
	if err != nil {
		log.Warn().Err(err).Msg("system state lookup failed")
		return
	}
	s.Notify.SystemOff(ctx, state.GlobalMessage)
}

func (s *OrderService) publish(ctx context.Context, event string, o *domain.Order) {
	if s.Panel == nil {
		return
	}
	if err := s.Panel.PublishOrderEvent(ctx, event, o); err != nil {
		log.Warn().Err(err).Str("event", event).Int64("order", o.ID).
			Msg("panel publish failed")
	}
}
