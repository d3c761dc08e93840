package main

import (
	"context"
	"log/slog"

	"github.com/revolutedigital/igreja-betania/internal/adapters/connectivity"
	emailAdapter "github.com/revolutedigital/igreja-betania/internal/adapters/email"
	"github.com/revolutedigital/igreja-betania/internal/adapters/http/perf"
	"github.com/revolutedigital/igreja-betania/internal/adapters/remote"
	"github.com/revolutedigital/igreja-betania/internal/adapters/storage/localstore"
	"github.com/revolutedigital/igreja-betania/internal/application/orchestrators"
	"github.com/revolutedigital/igreja-betania/internal/config"
)

// runtime is the wired core shared by every command.
type runtime struct {
	collector  *perf.Collector
	local      *localstore.Local // nil when the cache could not be opened
	monitor    *connectivity.Monitor
	prober     *connectivity.Prober
	facade     *orchestrators.Facade
	reconciler *orchestrators.Reconciler
}

// openRuntime wires the core. A local store that fails to open is logged
// and the runtime continues remote-only.
// PRE: cfg passed config.Load validation
// POST: call close when done
func openRuntime(ctx context.Context, cfg config.Config) *runtime {
	rt := &runtime{
		collector: perf.NewCollector(perf.DefaultRingSize),
		monitor:   connectivity.NewMonitor(),
	}

	local, err := localstore.Open(ctx, cfg.DBPath, localstore.Options{Collector: rt.collector, SlowQuery: cfg.SlowQuery})
	if err != nil {
		slog.Error("local_store_unavailable", "path", cfg.DBPath, "error", err)
	} else {
		rt.local = local
	}

	client := remote.New(cfg.RemoteURL, remote.WithTimeout(cfg.RemoteTimeout), remote.WithCollector(rt.collector))

	probeURL := cfg.ProbeURL
	if probeURL == "" {
		probeURL = cfg.RemoteURL
	}
	rt.prober = &connectivity.Prober{
		URL:      probeURL,
		Interval: cfg.ProbeInterval,
		Timeout:  cfg.RemoteTimeout,
		Monitor:  rt.monitor,
	}

	rt.facade = orchestrators.NewFacade(orchestrators.FacadeDeps{
		Local:        rt.local,
		Remote:       client,
		Connectivity: rt.monitor,
		OnQueued: func() {
			rt.reconciler.RequestCycle(ctx, "queued_online")
		},
	})
	rt.reconciler = orchestrators.NewReconciler(orchestrators.ReconcilerDeps{
		Local:        rt.local,
		Remote:       client,
		Connectivity: rt.monitor,
		Notifier:     discardNotifier(cfg),
		MaxRetries:   cfg.MaxRetries,
	})
	return rt
}

func discardNotifier(cfg config.Config) orchestrators.DiscardNotifier {
	if !cfg.NotificationsEnabled() {
		if cfg.IsProduction() {
			slog.Warn("discard_notifications_disabled", "hint", "set BETANIA_RESEND_API_KEY and BETANIA_NOTIFY_TO")
		}
		return orchestrators.LogNotifier{}
	}
	slog.Info("discard_notifications_enabled", "recipients", len(cfg.NotifyTo))
	return &orchestrators.EmailDiscardNotifier{
		Sender: emailAdapter.NewResendSender(cfg.ResendAPIKey, cfg.NotifyFrom),
		From:   cfg.NotifyFrom,
		To:     cfg.NotifyTo,
	}
}

func (rt *runtime) close() {
	rt.reconciler.Wait()
	rt.facade.Close()
	if err := rt.local.Close(); err != nil {
		slog.Error("local_store_close_failed", "error", err)
	}
}
