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

func newStateRepoDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("state_repo_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := db.AutoMigrate(&domain.SystemState{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestGetSystemState_CreatesDefaults(t *testing.T) {
	db := newStateRepoDB(t)

	s, err := GetSystemState(context.Background(), db)
	if err != nil {
		t.Fatalf("GetSystemState: %v", err)
	}
	if s.Stock != 0 || !s.Accepting {
		t.Fatalf("unexpected defaults: %+v", s)
	}
	if !s.SendApproveMessage || !s.SendAutoApproveMessage || !s.SendDeleteMessage {
		t.Fatalf("expected notification toggles on by default: %+v", s)
	}
}

func TestDeductStock_ExactAndInsufficient(t *testing.T) {
	db := newStateRepoDB(t)
	ctx := context.Background()

	if err := SetStock(ctx, db, 10); err != nil {
		t.Fatalf("SetStock: %v", err)
	}

	// 15 from 10 must fail and leave the counter untouched.
	if _, err := DeductStock(ctx, db, 15); !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	s, _ := GetSystemState(ctx, db)
	if s.Stock != 10 {
		t.Fatalf("stock changed on failed deduction: %d", s.Stock)
	}

	// 10 from 10 succeeds and lands exactly on zero.
	left, err := DeductStock(ctx, db, 10)
	if err != nil {
		t.Fatalf("DeductStock: %v", err)
	}
	if left != 0 {
		t.Fatalf("expected 0 remaining, got %d", left)
	}

	// Nothing left now.
	if _, err := DeductStock(ctx, db, 1); !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock at zero, got %v", err)
	}
}

func TestRestoreStock(t *testing.T) {
	db := newStateRepoDB(t)
	ctx := context.Background()

	if err := SetStock(ctx, db, 100); err != nil {
		t.Fatalf("SetStock: %v", err)
	}
	if _, err := DeductStock(ctx, db, 40); err != nil {
		t.Fatalf("DeductStock: %v", err)
	}
	if err := RestoreStock(ctx, db, 40); err != nil {
		t.Fatalf("RestoreStock: %v", err)
	}
	s, _ := GetSystemState(ctx, db)
	if s.Stock != 100 {
		t.Fatalf("expected 100 after restore, got %d", s.Stock)
	}
}

func TestSetAccepting_AutoOffAndReset(t *testing.T) {
	db := newStateRepoDB(t)
	ctx := context.Background()

	if err := SetAccepting(ctx, db, false, "stock depleted", true); err != nil {
		t.Fatalf("SetAccepting off: %v", err)
	}
	s, _ := GetSystemState(ctx, db)
	if s.Accepting || s.OffReason != "stock depleted" || s.AutoOffAt == nil {
		t.Fatalf("unexpected off state: %+v", s)
	}

	// Refilling stock switches the system back on and clears the reason.
	if err := SetStock(ctx, db, 500); err != nil {
		t.Fatalf("SetStock: %v", err)
	}
	s, _ = GetSystemState(ctx, db)
	if !s.Accepting || s.OffReason != "" || s.AutoOffAt != nil {
		t.Fatalf("expected reset on refill: %+v", s)
	}
}

func TestSetNotificationToggles_PartialUpdate(t *testing.T) {
	db := newStateRepoDB(t)
	ctx := context.Background()

	off := false
	if err := SetNotificationToggles(ctx, db, nil, &off, nil); err != nil {
		t.Fatalf("SetNotificationToggles: %v", err)
	}
	s, _ := GetSystemState(ctx, db)
	if !s.SendApproveMessage || s.SendAutoApproveMessage || !s.SendDeleteMessage {
		t.Fatalf("expected only auto-approve toggle off: %+v", s)
	}
}
