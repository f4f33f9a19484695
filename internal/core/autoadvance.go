package core

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"nowplaying/internal/sched"
)

const autoAdvanceTask = "auto-advance"

// AutoAdvance turns natural track completions into "skip next" commands
// when shuffle was enabled, exactly once per completion event.
type AutoAdvance struct {
	cfg     EngineConfig
	remote  RemoteAccount
	recon   *Reconciler
	sched   *sched.Scheduler
	logger  *zap.Logger
	metrics MetricsSink

	mu            sync.Mutex
	now           func() time.Time
	lastScheduled time.Time
}

func NewAutoAdvance(
	cfg EngineConfig,
	remote RemoteAccount,
	recon *Reconciler,
	scheduler *sched.Scheduler,
	logger *zap.Logger,
	metrics MetricsSink,
) *AutoAdvance {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &AutoAdvance{
		cfg:     cfg,
		remote:  remote,
		recon:   recon,
		sched:   scheduler,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// OnTrackEnded schedules a debounced skip for a naturally completed track.
// Completions arriving inside the cooldown after a scheduled skip are
// ignored so the same ending never advances twice.
func (a *AutoAdvance) OnTrackEnded(trackID string, shuffleEnabled bool) {
	if !shuffleEnabled || trackID == "" {
		return
	}

	a.mu.Lock()
	now := a.now()
	if within(a.lastScheduled, now, a.cfg.AutoAdvanceCooldown) {
		a.mu.Unlock()
		a.logger.Debug("Skip already scheduled, ignoring completion",
			zap.String("trackID", trackID))
		return
	}
	a.lastScheduled = now
	a.mu.Unlock()

	// Mark before issuing the skip so a stale poll reporting the old track
	// is suppressed while the skip propagates.
	a.recon.MarkAutoAdvanced(trackID)
	a.metrics.AutoAdvanceScheduled()

	a.logger.Info("Scheduling auto-advance",
		zap.String("trackID", trackID),
		zap.Duration("debounce", a.cfg.AutoAdvanceDebounce))

	a.sched.After(autoAdvanceTask, a.cfg.AutoAdvanceDebounce, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := a.remote.SkipNext(ctx, ""); err != nil {
			a.logger.Warn("Auto-advance skip failed",
				zap.String("trackID", trackID),
				zap.Error(err))
		}
	})
}
