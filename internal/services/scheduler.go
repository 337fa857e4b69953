// Package services – auto-approval scheduler
//
// The Scheduler keeps one in-memory timer per processing order and fires a
// callback when the order's deadline passes. Timers are an optimization,
// not the source of truth: the deadline itself is persisted on the order
// row, and Recover rebuilds the timer set from those rows after a restart.
// The callback re-reads the order before acting, so a timer firing for an
// order that an admin already finished is a no-op.
package services

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/dtopup/go-topup-backend/internal/repo"
)

type timerKey struct {
	groupID string
	orderID int64
}

// FireFunc is invoked when an order's auto-approval deadline passes. It
// must tolerate the order having moved on in the meantime.
type FireFunc func(ctx context.Context, groupID string, orderID int64)

// Scheduler is a keyed registry of auto-approval timers. All methods are
// safe for concurrent use.
type Scheduler struct {
	mu     sync.Mutex
	timers map[timerKey]*time.Timer
	fire   FireFunc

	// Delay fills in a deadline when a processing row somehow lacks one.
	Delay time.Duration
}

// NewScheduler constructs a Scheduler around the fire callback.
func NewScheduler(fire FireFunc) *Scheduler {
	return &Scheduler{
		timers: make(map[timerKey]*time.Timer),
		fire:   fire,
		Delay:  DefaultProcessingDelay,
	}
}

// Schedule registers a timer that fires at the given deadline. A deadline
// in the past fires almost immediately. Registering a second timer for the
// same order returns ErrTimerExists and leaves the first one running.
func (s *Scheduler) Schedule(groupID string, orderID int64, at time.Time) error {
	key := timerKey{groupID, orderID}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.timers[key]; ok {
		return ErrTimerExists
	}

	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}
	s.timers[key] = time.AfterFunc(delay, func() {
		s.drop(key)
		s.fire(context.Background(), groupID, orderID)
	})
	return nil
}

// Cancel stops and removes the order's timer. It reports whether a timer
// was actually registered, and is safe to call repeatedly.
func (s *Scheduler) Cancel(groupID string, orderID int64) bool {
	key := timerKey{groupID, orderID}

	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[key]
	if !ok {
		return false
	}
	t.Stop()
	delete(s.timers, key)
	return true
}

// CancelAll stops every registered timer. Called on shutdown.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}
}

// Len returns the number of registered timers.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *Scheduler) drop(key timerKey) {
	s.mu.Lock()
	delete(s.timers, key)
	s.mu.Unlock()
}

// Recover rebuilds timers from the processing orders persisted in the
// database. Orders whose deadline already passed while the process was
// down are fired synchronously, so by the time Recover returns no order is
// stuck in processing without either an approval or a live timer. Call it
// before serving traffic.
func (s *Scheduler) Recover(ctx context.Context, db *gorm.DB) error {
	orders, err := repo.ProcessingOrders(ctx, db)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	recovered, overdue := 0, 0
	for _, o := range orders {
		deadline := now.Add(s.Delay)
		switch {
		case o.ProcessingDeadline != nil:
			deadline = *o.ProcessingDeadline
		case o.ProcessingStartedAt != nil:
			deadline = o.ProcessingStartedAt.Add(s.Delay)
		}

		if !deadline.After(now) {
			s.fire(ctx, o.GroupID, o.ID)
			overdue++
			continue
		}
		if err := s.Schedule(o.GroupID, o.ID, deadline); err != nil {
			log.Warn().Err(err).Str("group", o.GroupID).Int64("order", o.ID).
				Msg("timer recovery skipped")
			continue
		}
		recovered++
	}
	log.Info().Int("rescheduled", recovered).Int("fired_overdue", overdue).
		Msg("auto-approval timers recovered")
	return nil
}
