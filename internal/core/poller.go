package core

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"nowplaying/internal/sched"
)

const remotePollTask = "remote-poll"

// RemotePoller periodically pulls account-wide playback and the device
// list, submitting the result as a Remote-origin candidate. It backs off
// after push events so a laggy poll never immediately contradicts a fresh
// push.
type RemotePoller struct {
	cfg     EngineConfig
	remote  RemoteAccount
	recon   *Reconciler
	sched   *sched.Scheduler
	logger  *zap.Logger
	metrics MetricsSink

	mu          sync.Mutex
	now         func() time.Time
	pausedUntil time.Time
}

func NewRemotePoller(
	cfg EngineConfig,
	remote RemoteAccount,
	recon *Reconciler,
	scheduler *sched.Scheduler,
	logger *zap.Logger,
	metrics MetricsSink,
) *RemotePoller {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &RemotePoller{
		cfg:     cfg,
		remote:  remote,
		recon:   recon,
		sched:   scheduler,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// Start schedules the poll at the configured cadence until ctx is done.
func (p *RemotePoller) Start(ctx context.Context) {
	p.sched.Every(remotePollTask, p.cfg.PollInterval, func() {
		p.Tick(ctx)
	})
}

// Stop cancels the poll schedule.
func (p *RemotePoller) Stop() {
	p.sched.Stop(remotePollTask)
}

// PauseFor suspends ticks for the given window. Overlapping pauses keep
// the later deadline.
func (p *RemotePoller) PauseFor(d time.Duration) {
	p.mu.Lock()
	until := p.now().Add(d)
	if until.After(p.pausedUntil) {
		p.pausedUntil = until
	}
	p.mu.Unlock()
}

// Force clears any push-induced pause and polls immediately. Used by the
// user-facing refresh command.
func (p *RemotePoller) Force(ctx context.Context) {
	p.mu.Lock()
	p.pausedUntil = time.Time{}
	p.mu.Unlock()
	p.Tick(ctx)
}

// Tick runs a single poll cycle. Exposed so Refresh can poll on demand.
func (p *RemotePoller) Tick(ctx context.Context) {
	p.mu.Lock()
	paused := p.now().Before(p.pausedUntil)
	p.mu.Unlock()

	if paused {
		p.metrics.PollSkipped("paused")
		return
	}

	// While the local device is authoritative and playing, its push feed
	// is fresher than anything the account API can tell us.
	if p.recon.LocalPlaying() {
		p.metrics.PollSkipped("local-authoritative")
		return
	}

	p.metrics.PollPerformed()

	devices, err := p.remote.Devices(ctx)
	if err != nil {
		p.logger.Debug("Device poll failed", zap.Error(err))
	} else {
		p.recon.SetDevices(devices)
	}

	playback, err := p.remote.CurrentPlayback(ctx)
	if err != nil {
		p.logger.Debug("Playback poll failed", zap.Error(err))
		return
	}
	if playback == nil {
		return
	}

	p.recon.Accept(playback.State, OriginRemote)
}
