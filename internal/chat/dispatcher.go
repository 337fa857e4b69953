// Package chat – event dispatch
//
// The Dispatcher is the single entry point for chat events. It serializes
// all handling per group with a keyed mutex, so two events from the same
// group can never interleave their read-decide-write sequences, while
// different groups proceed in parallel. Database guards remain the
// backstop for anything that slips around the lock (HTTP panel actions,
// timer callbacks).
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dtopup/go-topup-backend/internal/domain"
	"github.com/dtopup/go-topup-backend/internal/repo"
	"github.com/dtopup/go-topup-backend/internal/services"
)

// Dispatcher routes inbound chat events to order operations.
type Dispatcher struct {
	Orders     *services.OrderService
	Matcher    *services.Matcher
	Reconciler *services.Reconciler
	Notify     *Notifier

	locks sync.Map // groupID -> *sync.Mutex

	// adminReplies remembers which admin reply message triggered which
	// processing hand-off, so revoking that reply can undo it.
	adminReplies sync.Map // messageID -> orderRef
}

type orderRef struct {
	groupID string
	orderID int64
}

// NewDispatcher wires the dispatcher.
func NewDispatcher(orders *services.OrderService, matcher *services.Matcher, rec *services.Reconciler, notify *Notifier) *Dispatcher {
	return &Dispatcher{Orders: orders, Matcher: matcher, Reconciler: rec, Notify: notify}
}

func (d *Dispatcher) lock(groupID string) func() {
	v, _ := d.locks.LoadOrStore(groupID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// HandleMessage processes one inbound group message: admin replies drive
// the state machine, user replies may cancel, everything else is examined
// as a potential order submission.
func (d *Dispatcher) HandleMessage(ctx context.Context, msg InboundMessage) error {
	defer d.lock(msg.GroupID)()

	if msg.Quoted != nil {
		if msg.FromAdmin {
			return d.handleAdminReply(ctx, msg)
		}
		return d.handleUserReply(ctx, msg)
	}
	return d.handleSubmission(ctx, msg)
}

// handleSubmission turns a plain group message into an order if it parses
// as one. Non-order chatter is ignored silently; rejected orders get a
// short explanation.
func (d *Dispatcher) handleSubmission(ctx context.Context, msg InboundMessage) error {
	req, err := services.ParseOrderMessage(msg.Text)
	if err != nil {
		if errors.Is(err, services.ErrInvalidQuantity) {
			d.reply(ctx, msg.GroupID, "❌ Diamond quantity must be between 1 and 100000.")
		}
		return nil
	}

	_, err = d.Orders.Submit(ctx, services.SubmitInput{
		GroupID:   msg.GroupID,
		UserID:    domain.CanonicalUserID(msg.UserID),
		UserName:  msg.UserName,
		PlayerID:  req.PlayerID,
		Diamonds:  req.Diamonds,
		MessageID: msg.MessageID,
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, services.ErrMessageSeen):
		return nil
	case errors.Is(err, services.ErrDuplicateOrder):
		var dup *services.DuplicateOrderError
		if errors.As(err, &dup) {
			d.reply(ctx, msg.GroupID, fmt.Sprintf(
				"⚠️ You already placed a %d💎 order (#%d, %s) %d seconds ago.",
				dup.Existing.Diamonds, dup.Existing.ID, dup.Existing.Status,
				int(dup.Elapsed.Seconds())))
		} else {
			d.reply(ctx, msg.GroupID, "⚠️ You already placed this order a moment ago.")
		}
		return nil
	case errors.Is(err, services.ErrNotAccepting):
		d.replySystemOff(ctx, msg.GroupID)
		return nil
	case errors.Is(err, services.ErrInsufficientStock):
		d.reply(ctx, msg.GroupID, "⚠️ Not enough stock for that quantity right now.")
		return nil
	default:
		return err
	}
}

// handleAdminReply interprets an admin's reply to an order message.
func (d *Dispatcher) handleAdminReply(ctx context.Context, msg InboundMessage) error {
	approval := services.IsApproval(msg.Text)
	correction := services.IsCorrection(msg.Text)
	if !approval && !correction {
		return nil
	}

	target, err := d.Matcher.Resolve(ctx, services.MatchInput{
		GroupID:         msg.GroupID,
		QuotedMessageID: msg.Quoted.MessageID,
		QuotedBody:      msg.Quoted.Text,
		UserID:          domain.CanonicalUserID(msg.Quoted.UserID),
		ReplyText:       msg.Text,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrOrderNotFound) && approval:
			// The admin confirmed an order neither the message id nor any
			// pending order could account for: rebuild it from the quoted
			// message.
			_, rerr := d.Reconciler.RecoverFromReply(ctx, services.RecoveryInput{
				GroupID:    msg.GroupID,
				MessageID:  msg.Quoted.MessageID,
				UserID:     msg.Quoted.UserID,
				UserName:   msg.Quoted.UserName,
				Text:       msg.Quoted.Text,
				ApprovedBy: msg.UserName,
			})
			if rerr != nil && !errors.Is(rerr, services.ErrOrderNotFound) {
				return rerr
			}
			return nil
		case errors.Is(err, services.ErrAmbiguousMatch):
			d.reply(ctx, msg.GroupID, "⚠️ Several orders could match. Please reply to the exact order message.")
			return nil
		case errors.Is(err, services.ErrOrderNotFound):
			return nil
		}
		return err
	}

	if correction {
		_, err := d.Orders.Delete(ctx, msg.GroupID, target.ID, msg.UserName, strings.TrimSpace(msg.Text))
		if errors.Is(err, services.ErrAlreadyHandled) {
			return nil
		}
		return err
	}

	switch target.Status {
	case domain.StatusPending:
		if _, err := d.Orders.StartProcessing(ctx, msg.GroupID, target.ID); err != nil {
			if errors.Is(err, services.ErrInsufficientStock) {
				d.reply(ctx, msg.GroupID, "⚠️ Not enough stock to process this order.")
				return nil
			}
			if errors.Is(err, services.ErrStaleOrder) {
				return nil
			}
			return err
		}
		d.adminReplies.Store(msg.MessageID, orderRef{msg.GroupID, target.ID})
		return nil
	case domain.StatusProcessing:
		// Only the scheduler moves processing to approved; a repeated
		// confirmation gets a notice instead.
		d.reply(ctx, msg.GroupID, "⚠️ This order is already being processed.")
		return nil
	default:
		return nil
	}
}

// handleUserReply lets a submitter cancel their own pending order with a
// correction keyword.
func (d *Dispatcher) handleUserReply(ctx context.Context, msg InboundMessage) error {
	if !services.IsCorrection(msg.Text) {
		return nil
	}
	target, err := d.Matcher.Resolve(ctx, services.MatchInput{
		GroupID:         msg.GroupID,
		QuotedMessageID: msg.Quoted.MessageID,
		QuotedBody:      msg.Quoted.Text,
		UserID:          domain.CanonicalUserID(msg.UserID),
		ReplyText:       msg.Text,
	})
	if err != nil {
		if errors.Is(err, services.ErrOrderNotFound) || errors.Is(err, services.ErrAmbiguousMatch) {
			return nil
		}
		return err
	}
	// Only the submitter may cancel, and only while still pending.
	if !domain.SameUser(target.UserID, msg.UserID) {
		return nil
	}
	_, err = d.Orders.Cancel(ctx, msg.GroupID, target.ID, strings.TrimSpace(msg.Text))
	if errors.Is(err, services.ErrAlreadyHandled) || errors.Is(err, services.ErrOrderNotFound) {
		return nil
	}
	return err
}

// HandleEdit reacts to message edits. An edited order message rewrites the
// pending order's numbers; an edit that first turns a message into an order
// is treated as a fresh submission. Orders already picked up keep their
// original quantity.
func (d *Dispatcher) HandleEdit(ctx context.Context, ev EditEvent) error {
	defer d.lock(ev.GroupID)()

	req, perr := services.ParseOrderMessage(ev.Text)

	target, err := repo.OrderByMessageID(ctx, d.Orders.DB, ev.GroupID, ev.MessageID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		// No order tied to this message yet; the new text may form one.
		if perr != nil {
			return nil
		}
		return d.handleSubmission(ctx, InboundMessage{
			GroupID:   ev.GroupID,
			MessageID: ev.MessageID,
			UserID:    ev.UserID,
			UserName:  ev.UserName,
			Text:      ev.Text,
		})
	}

	if !domain.SameUser(target.UserID, ev.UserID) {
		return nil
	}
	if perr != nil {
		// The edit removed the order content; treat it like the submitter
		// taking the order back.
		_, cerr := d.Orders.Cancel(ctx, ev.GroupID, target.ID, "order message edited")
		if errors.Is(cerr, services.ErrAlreadyHandled) || errors.Is(cerr, services.ErrOrderNotFound) {
			return nil
		}
		return cerr
	}

	_, err = d.Orders.Amend(ctx, ev.GroupID, target.ID, req.Diamonds, req.PlayerID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, services.ErrAlreadyHandled):
		d.reply(ctx, ev.GroupID, "⚠️ That order is already being processed; the edit was not applied.")
		return nil
	case errors.Is(err, services.ErrInvalidQuantity), errors.Is(err, services.ErrOrderNotFound):
		return nil
	default:
		return err
	}
}

// HandleRevoke reacts to message deletions. A user revoking their order
// message deletes the order; an admin revoking the reply that started
// processing puts the order back in pending.
func (d *Dispatcher) HandleRevoke(ctx context.Context, ev RevokeEvent) error {
	defer d.lock(ev.GroupID)()

	if v, ok := d.adminReplies.LoadAndDelete(ev.MessageID); ok {
		ref := v.(orderRef)
		_, err := d.Orders.RevertProcessing(ctx, ref.groupID, ref.orderID)
		if errors.Is(err, services.ErrIllegalTransition) || errors.Is(err, services.ErrOrderNotFound) {
			return nil
		}
		return err
	}

	target, err := d.Matcher.Resolve(ctx, services.MatchInput{
		GroupID:         ev.GroupID,
		QuotedMessageID: ev.MessageID,
	})
	if err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			return nil
		}
		return err
	}
	if !target.Active() {
		return nil
	}

	by := "user"
	if ev.FromAdmin {
		by = "admin"
	}
	_, err = d.Orders.Delete(ctx, ev.GroupID, target.ID, by, "order message deleted")
	if errors.Is(err, services.ErrAlreadyHandled) {
		return nil
	}
	return err
}

func (d *Dispatcher) reply(ctx context.Context, groupID, text string) {
	if d.Notify == nil {
		return
	}
	d.Notify.send(ctx, groupID, text)
}

// replySystemOff sends the configured global pause message to the group.
func (d *Dispatcher) replySystemOff(ctx context.Context, groupID string) {
	msg := "⚠️ Orders are paused for now."
	state, err := d.Orders.SystemState(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("system state lookup failed")
	} else if state.GlobalMessage != "" {
		msg = state.GlobalMessage
	}
	d.reply(ctx, groupID, msg)
}
