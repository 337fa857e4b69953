package chat

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dtopup/go-topup-backend/internal/domain"
)

// Messenger sends text messages into a group. Implementations wrap the
// actual chat transport.
type Messenger interface {
	SendText(ctx context.Context, groupID, text string) error
}

// Notifier renders lifecycle notifications and sends them through a
// Messenger. Send failures are logged and swallowed: a missed notification
// must never fail or roll back a state transition.
type Notifier struct {
	M Messenger
}

// NewNotifier wraps a Messenger.
func NewNotifier(m Messenger) *Notifier {
	return &Notifier{M: m}
}

func (n *Notifier) send(ctx context.Context, groupID, text string) {
	if n.M == nil {
		return
	}
	if err := n.M.SendText(ctx, groupID, text); err != nil {
		log.Warn().Err(err).Str("group", groupID).Msg("notification send failed")
	}
}

// OrderCreated confirms a new order back to the group.
func (n *Notifier) OrderCreated(ctx context.Context, o *domain.Order) {
	n.send(ctx, o.GroupID, fmt.Sprintf(
		"✅ Order received\nID: %d\n💎 %d\nAmount: %.2f", o.ID, o.Diamonds, o.Amount()))
}

// OrderProcessing announces the hand-off.
func (n *Notifier) OrderProcessing(ctx context.Context, o *domain.Order) {
	n.send(ctx, o.GroupID, fmt.Sprintf(
		"⏳ Order %d is being processed (💎 %d)", o.ID, o.Diamonds))
}

// OrderApproved announces completion, marking automatic approvals as such.
func (n *Notifier) OrderApproved(ctx context.Context, o *domain.Order, auto bool) {
	if auto {
		n.send(ctx, o.GroupID, fmt.Sprintf(
			"✅ Order %d completed automatically (💎 %d)", o.ID, o.Diamonds))
		return
	}
	n.send(ctx, o.GroupID, fmt.Sprintf(
		"✅ Order %d completed (💎 %d)", o.ID, o.Diamonds))
}

// OrderDeleted announces removal, including the reason when one was given.
func (n *Notifier) OrderDeleted(ctx context.Context, o *domain.Order, reason string) {
	text := fmt.Sprintf("🗑 Order %d removed (💎 %d)", o.ID, o.Diamonds)
	if reason != "" {
		text += "\nReason: " + reason
	}
	n.send(ctx, o.GroupID, text)
}

// SystemOff broadcasts that orders are paused, with the configured global
// message when the admins set one.
func (n *Notifier) SystemOff(ctx context.Context, message string) {
	if message == "" {
		message = "⚠️ Orders are paused for now. Please wait for the next announcement."
	}
	// Groups learn about the pause on their next rejected submission; see
	// Dispatcher.HandleMessage.
	log.Info().Str("message", message).Msg("system switched off")
}
