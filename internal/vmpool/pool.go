// Package vmpool is the VM Pool Manager (component F, spec.md §4.F) — the
// heart of the system: slot selection, two-phase provisioning, acquire/
// release, idle/stale/error/orphan reaping, warm-pool top-up, and drift
// reconciliation. Structurally grounded on three cuemby-warren files
// composed together: pkg/scheduler/scheduler.go's ticker-driven
// Start/Stop/run loop shape, pkg/reconciler/reconciler.go's multi-sub-
// reconcile composition (log-but-continue per sub-step), and
// pkg/manager/manager.go's constructor-takes-a-Config-struct convention.
package vmpool

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/samueljseay/hal9999/internal/config"
	"github.com/samueljseay/hal9999/internal/dbstore"
	"github.com/samueljseay/hal9999/internal/provider"
)

// Defaults from spec.md §4.F / §4.B.
const (
	DefaultStaleTaskMax       = 10 * time.Minute
	DefaultStaleProvisionMax  = 10 * time.Minute
	DefaultWaitForReadyBudget = 180 * time.Second
	ReapInterval              = 30 * time.Second
)

// Config configures a Pool.
type Config struct {
	Store     dbstore.Store
	Slots     *config.SlotList
	Providers map[string]provider.Provider // keyed by slot name
	Logger    zerolog.Logger

	StaleTaskMax      time.Duration
	StaleProvisionMax time.Duration
}

// Pool is the VM Pool Manager.
type Pool struct {
	store     dbstore.Store
	slots     *config.SlotList
	providers map[string]provider.Provider
	log       zerolog.Logger

	staleTaskMax      time.Duration
	staleProvisionMax time.Duration

	mu     sync.Mutex
	stopCh chan struct{}
}

// New constructs a Pool. Call Start to begin the periodic reap loop.
func New(cfg Config) *Pool {
	staleTaskMax := cfg.StaleTaskMax
	if staleTaskMax == 0 {
		staleTaskMax = DefaultStaleTaskMax
	}
	staleProvisionMax := cfg.StaleProvisionMax
	if staleProvisionMax == 0 {
		staleProvisionMax = DefaultStaleProvisionMax
	}
	return &Pool{
		store:             cfg.Store,
		slots:             cfg.Slots,
		providers:         cfg.Providers,
		log:               cfg.Logger,
		staleTaskMax:      staleTaskMax,
		staleProvisionMax: staleProvisionMax,
		stopCh:            make(chan struct{}),
	}
}

// Start begins the periodic reap+ensureWarm loop. The persistent scan is
// the authoritative mechanism; this loop is what makes it run without an
// external cron (spec.md §9: "an implementer MAY omit the in-process timer
// entirely provided a periodic reap runs" — we keep this loop and treat any
// additional per-release one-shot timer as pure latency reduction).
func (p *Pool) Start() {
	go p.run()
}

// Stop ends the periodic loop. In-process idle timers (if any caller adds
// them) must never block process exit; this loop itself never does.
func (p *Pool) Stop() {
	close(p.stopCh)
}

func (p *Pool) run() {
	ticker := time.NewTicker(ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx := context.Background()
			if _, err := p.runHousekeeping(ctx); err != nil {
				p.log.Error().Err(err).Msg("pool housekeeping cycle failed")
			}
			if err := p.ensureWarmAll(ctx); err != nil {
				p.log.Error().Err(err).Msg("ensureWarm cycle failed")
			}
		case <-p.stopCh:
			return
		}
	}
}

// providerFor resolves the configured provider.Provider for a slot.
func (p *Pool) providerFor(slotName string) (provider.Provider, error) {
	prov, ok := p.providers[slotName]
	if !ok {
		return nil, notConfiguredError(slotName)
	}
	return prov, nil
}
