package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	_ "github.com/dtopup/go-topup-backend/docs"
	"github.com/dtopup/go-topup-backend/internal/chat"
	"github.com/dtopup/go-topup-backend/internal/config"
	"github.com/dtopup/go-topup-backend/internal/domain"
	httpapi "github.com/dtopup/go-topup-backend/internal/http"
	"github.com/dtopup/go-topup-backend/internal/observability"
	"github.com/dtopup/go-topup-backend/internal/panel"
	"github.com/dtopup/go-topup-backend/internal/repo"
	"github.com/dtopup/go-topup-backend/internal/services"
	"github.com/dtopup/go-topup-backend/internal/sysutil"
)

const version = "1.0.0"

func main() {
	_ = godotenv.Load()
	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	ctx := context.Background()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("database open failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("database migration failed")
	}

	var bridge *chat.BridgeSender
	if cfg.Panel.BridgeURL != "" {
		bridge, err = chat.NewBridgeSender(cfg.Panel.BridgeURL, cfg.Panel.Timeout)
		if err != nil {
			log.Fatal().Err(err).Msg("bridge client setup failed")
		}
	} else {
		log.Warn().Msg("BRIDGE_URL not set, outbound chat and transcript sweep disabled")
	}

	var panelClient *panel.Client
	if cfg.Panel.BaseURL != "" {
		panelClient, err = panel.NewClient(cfg.Panel.BaseURL, cfg.Panel.Timeout)
		if err != nil {
			log.Fatal().Err(err).Msg("panel client setup failed")
		}
	} else {
		log.Warn().Msg("PANEL_BASE_URL not set, panel mirroring and remote sweep disabled")
	}

	guard := services.NewAdmissionGuard(db, cfg.Orders.DuplicateCheck)
	guard.Window = cfg.Orders.DuplicateWindow

	orders := services.NewOrderService(db, guard)
	orders.ProcessingDelay = cfg.Orders.ProcessingDelay
	orders.DefaultRate = cfg.Orders.DefaultRate
	if panelClient != nil {
		orders.Panel = panelClient
	}

	var messenger chat.Messenger
	if bridge != nil {
		messenger = bridge
	}
	notifier := chat.NewNotifier(messenger)
	orders.Notify = notifier

	sched := services.NewScheduler(func(ctx context.Context, groupID string, orderID int64) {
		if _, err := orders.Approve(ctx, groupID, orderID, domain.AutoApprovalActor); err != nil {
			log.Error().Err(err).Str("group", groupID).Int64("order", orderID).
				Msg("auto-approval failed")
		}
	})
	sched.Delay = cfg.Orders.ProcessingDelay
	orders.Timers = sched

	rec := services.NewReconciler(db, orders, transcriptFetcher(bridge), panelChecker(panelClient))
	rec.Interval = cfg.Panel.SweepInterval
	rec.Lookback = cfg.Panel.SweepLookback

	matcher := &services.Matcher{DB: db}
	dispatcher := chat.NewDispatcher(orders, matcher, rec, notifier)

	// Re-arm timers for orders that were processing when the last run died.
	if err := sched.Recover(ctx, db); err != nil {
		log.Error().Err(err).Msg("timer recovery failed")
	}
	rec.Start(ctx)

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, db, orders, dispatcher, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	rec.Stop()
	sched.CancelAll()
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("otel shutdown failed")
	}
}

// transcriptFetcher avoids storing a typed nil behind the interface when
// no bridge is configured.
func transcriptFetcher(b *chat.BridgeSender) services.TranscriptFetcher {
	if b == nil {
		return nil
	}
	return b
}

func panelChecker(c *panel.Client) services.PanelChecker {
	if c == nil {
		return nil
	}
	return c
}
