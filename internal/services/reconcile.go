// Package services – reconciliation
//
// The Reconciler repairs drift between three views of the same orders: the
// chat transcript (what users actually sent), the local store (what this
// process recorded) and the remote panel (what admins see). It runs two
// sweeps on a timer and one recovery path triggered by admin replies.
//
// Sweep A, transcript to local: order submissions visible in the chat
// history that never produced a local entry are re-created as recovered
// pending orders.
//
// Sweep B, local to remote: active local orders missing from the panel are
// pushed again. The sweep only ever adds; it never downgrades or removes
// anything on either side, so an order the panel already approved stays
// approved.
//
// Reply-triggered recovery: an admin approving a message the store has
// never seen is proof an order got lost. The order is synthesized from the
// quoted message and walked through the normal processing hand-off (so
// stock and balance move exactly once, same as any order); the
// auto-approval timer then completes it on its usual schedule.
package services

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/dtopup/go-topup-backend/internal/domain"
	"github.com/dtopup/go-topup-backend/internal/repo"
)

// TranscriptMessage is one message from the chat history, as far as
// reconciliation cares about it.
type TranscriptMessage struct {
	MessageID string
	UserID    string
	UserName  string
	Text      string
	SentAt    time.Time
}

// TranscriptFetcher loads chat history for a group, oldest first.
type TranscriptFetcher interface {
	Messages(ctx context.Context, groupID string, since time.Time) ([]TranscriptMessage, error)
}

// PanelChecker answers whether the remote panel store knows an order.
type PanelChecker interface {
	OrderExists(ctx context.Context, groupID string, orderID int64) (bool, error)
}

// Reconciler runs the periodic sweeps and the reply-triggered recovery.
type Reconciler struct {
	DB     *gorm.DB
	Orders *OrderService

	// Transcript is sweep A's source. Nil disables sweep A.
	Transcript TranscriptFetcher
	// Panel is sweep B's counterpart. Nil disables sweep B.
	Panel PanelChecker

	// Interval between sweep rounds.
	Interval time.Duration
	// Lookback bounds sweep A for groups without a start timestamp.
	Lookback time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReconciler constructs a Reconciler with hourly sweeps and a one-day
// transcript lookback.
func NewReconciler(db *gorm.DB, orders *OrderService, transcript TranscriptFetcher, panel PanelChecker) *Reconciler {
	return &Reconciler{
		DB:         db,
		Orders:     orders,
		Transcript: transcript,
		Panel:      panel,
		Interval:   time.Hour,
		Lookback:   24 * time.Hour,
	}
}

// Start launches the sweep loop in the background.
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.wg.Add(1)
	go r.loop(runCtx)
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Reconciler) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.SweepOnce(ctx); err != nil {
				log.Error().Err(err).Msg("reconciliation sweep failed")
			}
		}
	}
}

// SweepOnce runs both sweeps over every known group.
func (r *Reconciler) SweepOnce(ctx context.Context) error {
	groups, err := repo.ListGroups(ctx, r.DB)
	if err != nil {
		return err
	}
	for _, g := range groups {
		if r.Transcript != nil {
			if err := r.sweepTranscript(ctx, &g); err != nil {
				log.Warn().Err(err).Str("group", g.ID).Msg("transcript sweep failed")
			}
		}
		if r.Panel != nil {
			if err := r.sweepRemote(ctx, g.ID); err != nil {
				log.Warn().Err(err).Str("group", g.ID).Msg("remote sweep failed")
			}
		}
	}
	return nil
}

// sweepTranscript re-creates orders for submissions the store never saw.
func (r *Reconciler) sweepTranscript(ctx context.Context, g *domain.Group) error {
	since := time.Now().UTC().Add(-r.Lookback)
	if g.StartAt != nil && g.StartAt.After(since) {
		since = *g.StartAt
	}

	msgs, err := r.Transcript.Messages(ctx, g.ID, since)
	if err != nil {
		return err
	}

	recovered := 0
	for _, m := range msgs {
		if m.MessageID == "" {
			continue
		}
		req, err := ParseOrderMessage(m.Text)
		if err != nil {
			continue
		}
		if _, err := repo.OrderByMessageID(ctx, r.DB, g.ID, m.MessageID); err == nil {
			continue
		}
		// Duplicate-window admission would reject honest re-creations here,
		// so the entry is written directly, marked as transcript-recovered.
		o := &domain.Order{
			GroupID:           g.ID,
			UserID:            domain.CanonicalUserID(m.UserID),
			UserName:          m.UserName,
			PlayerID:          req.PlayerID,
			Diamonds:          req.Diamonds,
			Rate:              g.Rate,
			MessageID:         m.MessageID,
			RecoveredFromChat: true,
			RecoveryReason:    "found in transcript without a local entry",
		}
		if err := repo.CreateOrder(ctx, r.DB, o); err != nil {
			log.Warn().Err(err).Str("message", m.MessageID).Msg("transcript recovery insert failed")
			continue
		}
		recovered++
	}
	if recovered > 0 {
		log.Info().Str("group", g.ID).Int("recovered", recovered).
			Msg("orders recovered from transcript")
	}
	return nil
}

// sweepRemote re-pushes active local orders the panel lost.
func (r *Reconciler) sweepRemote(ctx context.Context, groupID string) error {
	orders, err := repo.ActiveOrders(ctx, r.DB, groupID)
	if err != nil {
		return err
	}
	for _, o := range orders {
		if o.IsRecovered {
			continue
		}
		exists, err := r.Panel.OrderExists(ctx, groupID, o.ID)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if r.Orders.Panel != nil {
			if err := r.Orders.Panel.PublishOrderEvent(ctx, EventMissingRecovery, &o); err != nil {
				log.Warn().Err(err).Int64("order", o.ID).Msg("missing-order push failed")
				continue
			}
		}
		if err := repo.MarkRecovered(ctx, r.DB, groupID, o.ID, "absent from remote store", o.Status); err != nil {
			return err
		}
	}
	return nil
}

// RecoveryInput describes an admin reply that referenced an untracked
// order message.
type RecoveryInput struct {
	GroupID string
	// Quoted message fields, reconstructed from the reply.
	MessageID string
	UserID    string
	UserName  string
	Text      string
	// ApprovedBy is the admin whose reply triggered recovery.
	ApprovedBy string
}

// RecoverFromReply synthesizes the lost order and hands it straight to
// processing, exactly as if the admin's reply had matched a stored pending
// order. Stock and balance therefore move exactly as they would have
// originally, and the registered auto-approval timer carries it to
// approved with the usual correction window. Returns ErrMessageSeen when
// the order turns out to exist after all.
func (r *Reconciler) RecoverFromReply(ctx context.Context, in RecoveryInput) (*domain.Order, error) {
	if in.MessageID != "" {
		if _, err := repo.OrderByMessageID(ctx, r.DB, in.GroupID, in.MessageID); err == nil {
			return nil, ErrMessageSeen
		}
	}
	req, err := ParseOrderMessage(in.Text)
	if err != nil {
		return nil, err
	}
	g, err := repo.EnsureGroup(ctx, r.DB, in.GroupID, r.Orders.DefaultRate)
	if err != nil {
		return nil, err
	}

	reason := "admin reply referenced an untracked order"
	if in.ApprovedBy != "" {
		reason = "approval reply by " + in.ApprovedBy + " referenced an untracked order"
	}
	o := &domain.Order{
		GroupID:           in.GroupID,
		UserID:            domain.CanonicalUserID(in.UserID),
		UserName:          in.UserName,
		PlayerID:          req.PlayerID,
		Diamonds:          req.Diamonds,
		Rate:              g.Rate,
		MessageID:         in.MessageID,
		RecoveredFromChat: true,
		RecoveryReason:    reason,
	}
	if err := repo.CreateOrder(ctx, r.DB, o); err != nil {
		return nil, err
	}
	return r.Orders.StartProcessing(ctx, in.GroupID, o.ID)
}
