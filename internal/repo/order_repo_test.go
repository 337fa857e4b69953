package repo

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dtopup/go-topup-backend/internal/domain"
)

func newOrderRepoDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("order_repo_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	// Ensure the file handle is released before TempDir cleanup (Windows needs this).
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func newOrder(t *testing.T, db *gorm.DB, groupID, userID string, diamonds int) *domain.Order {
	t.Helper()
	o := &domain.Order{
		GroupID:   groupID,
		UserID:    userID,
		UserName:  "Tester",
		PlayerID:  "player-1",
		Diamonds:  diamonds,
		Rate:      1.5,
		MessageID: fmt.Sprintf("msg-%d-%d", diamonds, time.Now().UnixNano()),
	}
	if err := CreateOrder(context.Background(), db, o); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	return o
}

func TestCreateOrder_AssignsIDStatusAndTimestamps(t *testing.T) {
	db := newOrderRepoDB(t, &domain.Order{})

	start := time.Now().UTC().Add(-time.Minute)
	o := newOrder(t, db, "g1", "u1", 100)
	if o.ID == 0 {
		t.Fatalf("expected assigned id, got 0")
	}
	if o.Status != domain.StatusPending {
		t.Fatalf("expected pending status, got %q", o.Status)
	}
	if o.CreatedAt.Before(start) {
		t.Fatalf("CreatedAt seems unset/really old: %v", o.CreatedAt)
	}
}

func TestCreateOrder_CollidingIDsStayUnique(t *testing.T) {
	db := newOrderRepoDB(t, &domain.Order{})

	a := newOrder(t, db, "g1", "u1", 100)
	b := newOrder(t, db, "g1", "u1", 200)
	c := newOrder(t, db, "g1", "u1", 300)
	if a.ID == b.ID || b.ID == c.ID || a.ID == c.ID {
		t.Fatalf("expected unique ids, got %d %d %d", a.ID, b.ID, c.ID)
	}
}

func TestOrderByMessageID(t *testing.T) {
	db := newOrderRepoDB(t, &domain.Order{})
	o := newOrder(t, db, "g1", "u1", 100)

	got, err := OrderByMessageID(context.Background(), db, "g1", o.MessageID)
	if err != nil {
		t.Fatalf("OrderByMessageID: %v", err)
	}
	if got.ID != o.ID {
		t.Fatalf("expected order %d, got %d", o.ID, got.ID)
	}

	if _, err := OrderByMessageID(context.Background(), db, "g1", "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	// Same message id in a different group must not match.
	if _, err := OrderByMessageID(context.Background(), db, "g2", o.MessageID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for other group, got %v", err)
	}
}

func TestPendingOrders_OnlyPendingOldestFirst(t *testing.T) {
	db := newOrderRepoDB(t, &domain.Order{})
	ctx := context.Background()

	first := newOrder(t, db, "g1", "u1", 100)
	second := newOrder(t, db, "g1", "u1", 200)
	processed := newOrder(t, db, "g1", "u1", 300)
	newOrder(t, db, "g1", "other", 400)

	// Force a stable ordering regardless of wall clock resolution.
	if err := db.Model(&domain.Order{}).Where("id = ?", first.ID).
		Update("created_at", time.Now().UTC().Add(-2*time.Minute)).Error; err != nil {
		t.Fatalf("backdate: %v", err)
	}
	if err := MarkProcessing(ctx, db, "g1", processed.ID, time.Now().UTC(), time.Now().UTC().Add(2*time.Minute), 0); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}

	out, err := PendingOrders(ctx, db, "g1", "u1")
	if err != nil {
		t.Fatalf("PendingOrders: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 pending, got %d", len(out))
	}
	if out[0].ID != first.ID || out[1].ID != second.ID {
		t.Fatalf("unexpected order: %d then %d", out[0].ID, out[1].ID)
	}
}

func TestMarkProcessing_GuardsOnPending(t *testing.T) {
	db := newOrderRepoDB(t, &domain.Order{})
	ctx := context.Background()
	o := newOrder(t, db, "g1", "u1", 100)

	started := time.Now().UTC()
	deadline := started.Add(2 * time.Minute)
	if err := MarkProcessing(ctx, db, "g1", o.ID, started, deadline, 150); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}

	got, err := GetOrder(ctx, db, "g1", o.ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.Status != domain.StatusProcessing {
		t.Fatalf("expected processing, got %q", got.Status)
	}
	if got.ProcessingDeadline == nil || !got.ProcessingDeadline.Equal(deadline) {
		t.Fatalf("expected deadline %v, got %v", deadline, got.ProcessingDeadline)
	}
	if got.AutoDeductedAmount != 150 {
		t.Fatalf("expected deducted 150, got %v", got.AutoDeductedAmount)
	}

	// Second attempt finds no pending row.
	if err := MarkProcessing(ctx, db, "g1", o.ID, started, deadline, 150); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on repeat, got %v", err)
	}
}

func TestMarkApproved_OnlyFromProcessing(t *testing.T) {
	db := newOrderRepoDB(t, &domain.Order{})
	ctx := context.Background()
	o := newOrder(t, db, "g1", "u1", 100)

	if err := MarkApproved(ctx, db, "g1", o.ID, "Admin", time.Now().UTC()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound approving a pending order, got %v", err)
	}

	if err := MarkProcessing(ctx, db, "g1", o.ID, time.Now().UTC(), time.Now().UTC().Add(2*time.Minute), 0); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if err := MarkApproved(ctx, db, "g1", o.ID, domain.AutoApprovalActor, time.Now().UTC()); err != nil {
		t.Fatalf("MarkApproved: %v", err)
	}

	got, _ := GetOrder(ctx, db, "g1", o.ID)
	if got.Status != domain.StatusApproved || got.ApprovedBy != domain.AutoApprovalActor {
		t.Fatalf("unexpected state after approval: %+v", got)
	}
}

func TestMarkDeleted_PreservesOriginalStatus(t *testing.T) {
	db := newOrderRepoDB(t, &domain.Order{})
	ctx := context.Background()
	o := newOrder(t, db, "g1", "u1", 100)

	if err := MarkProcessing(ctx, db, "g1", o.ID, time.Now().UTC(), time.Now().UTC().Add(2*time.Minute), 0); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if err := MarkDeleted(ctx, db, "g1", o.ID, "Admin", "vul", time.Now().UTC()); err != nil {
		t.Fatalf("MarkDeleted: %v", err)
	}

	got, _ := GetOrder(ctx, db, "g1", o.ID)
	if got.Status != domain.StatusDeleted {
		t.Fatalf("expected deleted, got %q", got.Status)
	}
	if got.OriginalStatus != domain.StatusProcessing {
		t.Fatalf("expected original_status processing, got %q", got.OriginalStatus)
	}
	if got.DeletedBy != "Admin" || got.CorrectionReason != "vul" {
		t.Fatalf("unexpected attribution: %+v", got)
	}

	// Already deleted: nothing left to delete.
	if err := MarkDeleted(ctx, db, "g1", o.ID, "Admin", "", time.Now().UTC()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on repeat delete, got %v", err)
	}
}

func TestRevertToPending_ClearsStageStamps(t *testing.T) {
	db := newOrderRepoDB(t, &domain.Order{})
	ctx := context.Background()
	o := newOrder(t, db, "g1", "u1", 100)

	if err := MarkProcessing(ctx, db, "g1", o.ID, time.Now().UTC(), time.Now().UTC().Add(2*time.Minute), 0); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if err := RevertToPending(ctx, db, "g1", o.ID); err != nil {
		t.Fatalf("RevertToPending: %v", err)
	}

	got, _ := GetOrder(ctx, db, "g1", o.ID)
	if got.Status != domain.StatusPending {
		t.Fatalf("expected pending, got %q", got.Status)
	}
	if got.ProcessingStartedAt != nil || got.ProcessingDeadline != nil {
		t.Fatalf("expected cleared stage stamps, got %+v", got)
	}
}

func TestRestoreOrder_DeletedBecomesApproved(t *testing.T) {
	db := newOrderRepoDB(t, &domain.Order{})
	ctx := context.Background()
	o := newOrder(t, db, "g1", "u1", 100)

	if err := MarkDeleted(ctx, db, "g1", o.ID, "Admin", "", time.Now().UTC()); err != nil {
		t.Fatalf("MarkDeleted: %v", err)
	}
	if err := RestoreOrder(ctx, db, "g1", o.ID, time.Now().UTC()); err != nil {
		t.Fatalf("RestoreOrder: %v", err)
	}

	got, _ := GetOrder(ctx, db, "g1", o.ID)
	if got.Status != domain.StatusApproved || got.RestoredAt == nil {
		t.Fatalf("unexpected state after restore: %+v", got)
	}

	// Restoring a non-deleted order is refused.
	if err := RestoreOrder(ctx, db, "g1", o.ID, time.Now().UTC()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDuplicateSince(t *testing.T) {
	db := newOrderRepoDB(t, &domain.Order{})
	ctx := context.Background()
	o := newOrder(t, db, "g1", "u1", 100)

	cutoff := time.Now().UTC().Add(-5 * time.Minute)
	dup, err := DuplicateSince(ctx, db, "g1", "u1", 100, cutoff)
	if err != nil {
		t.Fatalf("DuplicateSince: %v", err)
	}
	if dup.ID != o.ID {
		t.Fatalf("expected conflicting order %d, got %d", o.ID, dup.ID)
	}

	// Different quantity is not a duplicate.
	if _, err = DuplicateSince(ctx, db, "g1", "u1", 200, cutoff); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for different quantity, got %v", err)
	}

	// Cancelled orders stop counting.
	if err := MarkCancelled(ctx, db, "g1", o.ID, "vul", time.Now().UTC()); err != nil {
		t.Fatalf("MarkCancelled: %v", err)
	}
	if _, err = DuplicateSince(ctx, db, "g1", "u1", 100, cutoff); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cancelled order must not count as duplicate, got %v", err)
	}
}

func TestMessageHandled(t *testing.T) {
	db := newOrderRepoDB(t, &domain.Order{})
	ctx := context.Background()
	o := newOrder(t, db, "g1", "u1", 100)

	handled, err := MessageHandled(ctx, db, "g1", o.MessageID)
	if err != nil {
		t.Fatalf("MessageHandled: %v", err)
	}
	if !handled {
		t.Fatalf("expected message to be handled")
	}
	if handled, _ = MessageHandled(ctx, db, "g1", "unseen"); handled {
		t.Fatalf("did not expect unseen message to be handled")
	}
}

func TestProcessingOrders_AcrossGroups(t *testing.T) {
	db := newOrderRepoDB(t, &domain.Order{})
	ctx := context.Background()

	a := newOrder(t, db, "g1", "u1", 100)
	b := newOrder(t, db, "g2", "u2", 200)
	newOrder(t, db, "g1", "u3", 300) // stays pending

	now := time.Now().UTC()
	if err := MarkProcessing(ctx, db, "g1", a.ID, now, now.Add(2*time.Minute), 0); err != nil {
		t.Fatalf("MarkProcessing a: %v", err)
	}
	if err := MarkProcessing(ctx, db, "g2", b.ID, now, now.Add(time.Minute), 0); err != nil {
		t.Fatalf("MarkProcessing b: %v", err)
	}

	out, err := ProcessingOrders(ctx, db)
	if err != nil {
		t.Fatalf("ProcessingOrders: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 processing orders, got %d", len(out))
	}
	// Nearest deadline first.
	if out[0].ID != b.ID {
		t.Fatalf("expected order %d first, got %d", b.ID, out[0].ID)
	}
}

func TestCountOrders(t *testing.T) {
	db := newOrderRepoDB(t, &domain.Order{})
	ctx := context.Background()

	o1 := newOrder(t, db, "g1", "u1", 100)
	o2 := newOrder(t, db, "g1", "u1", 200)
	newOrder(t, db, "g1", "u2", 300)

	now := time.Now().UTC()
	if err := MarkProcessing(ctx, db, "g1", o1.ID, now, now.Add(2*time.Minute), 0); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if err := MarkApproved(ctx, db, "g1", o1.ID, "Admin", now); err != nil {
		t.Fatalf("MarkApproved: %v", err)
	}
	if err := MarkDeleted(ctx, db, "g1", o2.ID, "Admin", "", now); err != nil {
		t.Fatalf("MarkDeleted: %v", err)
	}

	st, err := CountOrders(ctx, db, "g1")
	if err != nil {
		t.Fatalf("CountOrders: %v", err)
	}
	if st.Pending != 1 || st.Approved != 1 || st.Deleted != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if st.ApprovedDiamonds != 100 {
		t.Fatalf("expected 100 approved diamonds, got %d", st.ApprovedDiamonds)
	}
}
