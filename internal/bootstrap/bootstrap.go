package bootstrap

import (
	"context"
	"log/slog"
	"time"

	"github.com/taxdash/docsync/internal/config"
	"github.com/taxdash/docsync/internal/core/domain"
	"github.com/taxdash/docsync/internal/core/ports"
	"github.com/taxdash/docsync/internal/core/reconcile"
	"github.com/taxdash/docsync/internal/core/registry"
	"github.com/taxdash/docsync/internal/core/usecase"
	"github.com/taxdash/docsync/internal/infrastructure/api"
	"github.com/taxdash/docsync/internal/infrastructure/resilience"
	"github.com/taxdash/docsync/internal/infrastructure/ws"
	"github.com/taxdash/docsync/internal/observability/logging"
	"github.com/taxdash/docsync/internal/observability/metrics"
)

const serviceName = "docsync"

const resyncTimeout = 30 * time.Second

type App struct {
	Config  config.Config
	Log     *slog.Logger
	Metrics *metrics.SyncMetrics

	Registry   *registry.Registry
	Reconciler *reconcile.Reconciler
	Syncer     ports.DocumentSyncer
	Channel    ports.EventChannel
}

func New(cfg config.Config) *App {
	log := logging.NewJSONLogger(serviceName, cfg.LogLevel)
	slog.SetDefault(log)
	syncMetrics := metrics.NewSyncMetrics(serviceName)

	exec := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts: cfg.RetryAttempts,
		RetryDelay:       cfg.RetryDelay,
		BreakerEnabled:   true,
	})
	var backend ports.BackendClient = api.New(cfg.APIBaseURL, api.Options{
		Timeout:           cfg.HTTPTimeout,
		RequestsPerSecond: cfg.RequestRate,
		RequestBurst:      cfg.RequestBurst,
		Executor:          exec,
		Logger:            log,
	})

	reg := registry.New()
	rec := reconcile.New(reg, log)
	var applier ports.EventApplier = rec
	var syncer ports.DocumentSyncer = usecase.NewDocumentSyncUseCase(rec, backend, log, cfg.UploadParallelism, cfg.MaxUploadBytes)

	channel := ws.NewChannel(ws.Options{
		URL:             cfg.EventsURL,
		PingInterval:    cfg.PingInterval,
		ReconnectDelay:  cfg.ReconnectDelay,
		ReconnectBudget: cfg.ReconnectBudget,
		Logger:          log,
	})
	channel.OnEvent(func(event domain.Event) {
		syncMetrics.RecordEvent(serviceName, string(event.Type))
		applier.ApplyEvent(event)
	})
	channel.OnFrameDropped(syncMetrics.RecordFrameDropped)
	channel.OnOpen(func(resumed bool) {
		if !resumed {
			return
		}
		syncMetrics.RecordReconnect()
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), resyncTimeout)
			defer cancel()
			if err := syncer.Resync(ctx); err != nil {
				log.Error("resync after reconnect failed", "error", err)
			}
		}()
	})
	channel.OnClose(func(err error) {
		if err != nil {
			log.Error("event channel closed", "error", err)
		}
	})

	rec.OnBatchFinished(func(elapsed time.Duration) {
		syncMetrics.ObserveBatch(elapsed)
	})

	// The observer runs under the reconciler's lock, so the counts are
	// consistent with the mutation that triggered them.
	states := []domain.LifecycleState{
		domain.StateUploading,
		domain.StatePending,
		domain.StateAnalyzing,
		domain.StateCompleted,
		domain.StateFailed,
	}
	reg.Subscribe(func() {
		for _, state := range states {
			syncMetrics.SetDocumentsInState(serviceName, string(state), reg.CountInStates(state))
		}
	})

	return &App{
		Config:     cfg,
		Log:        log,
		Metrics:    syncMetrics,
		Registry:   reg,
		Reconciler: rec,
		Syncer:     syncer,
		Channel:    channel,
	}
}

func (a *App) Close() {
	a.Channel.Disconnect()
}
