package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/givebridge/givebridge/internal/catalog"
	"github.com/givebridge/givebridge/internal/config"
	"github.com/givebridge/givebridge/internal/enginemetrics"
	"github.com/givebridge/givebridge/internal/lifecycle"
	"github.com/givebridge/givebridge/internal/logging"
	"github.com/givebridge/givebridge/internal/notify"
	"github.com/givebridge/givebridge/internal/payment"
	"github.com/givebridge/givebridge/internal/processor"
	"github.com/givebridge/givebridge/internal/reconcile"
	"github.com/givebridge/givebridge/internal/store"
	"github.com/givebridge/givebridge/internal/tenant"
	"github.com/givebridge/givebridge/internal/webhook"
)

const draftSweepInterval = time.Hour

// Run starts the engine HTTP server with graceful shutdown.
func Run(ctx context.Context, version string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "engine",
	})

	log.Info().Str("version", version).Msg("Starting donation engine")

	if err := os.MkdirAll(cfg.EngineDir(), 0o755); err != nil {
		return fmt.Errorf("create engine dir: %w", err)
	}

	st, err := store.Open(cfg.EngineDir())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	var notifier notify.Notifier
	if cfg.NotifierURL != "" {
		notifier = notify.NewHTTPNotifier(cfg.NotifierURL, cfg.NotifierToken)
		log.Info().Str("endpoint", cfg.NotifierURL).Msg("Notifier configured")
	} else {
		notifier = notify.NewLogNotifier(nil)
		log.Info().Msg("Notifier: log-only (set GB_NOTIFIER_URL to enable)")
	}

	tenants := tenant.NewResolver(st)
	clients := processor.NewFactory(cfg.ProcessorTimeout)
	cat := catalog.NewManager(st)
	reconciler := reconcile.NewEngine(st)
	orchestrator := payment.NewOrchestrator(st, tenants, clients, cat)
	lifecycleMgr := lifecycle.NewManager(st, tenants, clients, cat, notifier)
	webhookHandler := webhook.NewHandler(tenants, reconciler, lifecycleMgr)

	mux := http.NewServeMux()
	RegisterRoutes(mux, &Deps{
		Config:       cfg,
		Store:        st,
		Tenants:      tenants,
		Reconciler:   reconciler,
		Orchestrator: orchestrator,
		Lifecycle:    lifecycleMgr,
		Webhook:      webhookHandler,
		Version:      version,
	})

	addr := fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go runDraftSweep(ctx, reconciler, cfg.DraftRetention)
	go runSubscriptionMetrics(ctx, st)

	go func() {
		log.Info().Str("addr", addr).Msg("Engine listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		log.Info().Msg("Context cancelled, shutting down...")
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	cancel()
	log.Info().Msg("Engine stopped")
	return nil
}

// runDraftSweep periodically deletes donor drafts that were never matched by
// a confirmed payment.
func runDraftSweep(ctx context.Context, reconciler *reconcile.Engine, retention time.Duration) {
	ticker := time.NewTicker(draftSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reconciler.ExpireDrafts(retention)
		}
	}
}

// runSubscriptionMetrics keeps the per-status subscription gauge in sync.
func runSubscriptionMetrics(ctx context.Context, st *store.Store) {
	update := func() {
		counts, err := st.CountSubscriptionsByStatus()
		if err != nil {
			log.Warn().Err(err).Msg("Count subscriptions for metrics")
			return
		}
		for _, status := range []store.SubscriptionStatus{
			store.SubscriptionIncomplete,
			store.SubscriptionActive,
			store.SubscriptionPastDue,
			store.SubscriptionPaused,
			store.SubscriptionCanceled,
		} {
			enginemetrics.SubscriptionsByStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
		}
	}

	update()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update()
		}
	}
}
