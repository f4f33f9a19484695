package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrStartCancelled is returned when a newer playback start supersedes an
// in-flight one.
var ErrStartCancelled = errors.New("playback start cancelled by newer request")

// Orchestrator makes a target device authoritative and starts a specific
// track through a prioritized chain of fallbacks. At most one orchestration
// mutates device/track state at a time; starting a new one cancels any
// in-flight one.
type Orchestrator struct {
	cfg     EngineConfig
	remote  RemoteAccount
	bridge  LocalBridge
	recon   *Reconciler
	logger  *zap.Logger
	metrics MetricsSink

	mu         sync.Mutex // guards cancel + generation
	cancel     context.CancelFunc
	generation uint64

	startMu sync.Mutex // single-slot critical section
}

func NewOrchestrator(
	cfg EngineConfig,
	remote RemoteAccount,
	bridge LocalBridge,
	recon *Reconciler,
	logger *zap.Logger,
	metrics MetricsSink,
) *Orchestrator {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Orchestrator{
		cfg:     cfg,
		remote:  remote,
		bridge:  bridge,
		recon:   recon,
		logger:  logger,
		metrics: metrics,
	}
}

// StartTrack runs the activation chain for the given track. It is safe to
// call concurrently: each call atomically cancels the previous operation,
// and a stale continuation that loses the race for the critical section
// returns without touching state.
func (o *Orchestrator) StartTrack(ctx context.Context, track Track) error {
	if track.ID == "" {
		o.logger.Debug("Ignoring start request without track id")
		return nil
	}

	o.mu.Lock()
	if o.cancel != nil {
		o.cancel()
	}
	opCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.generation++
	gen := o.generation
	o.mu.Unlock()
	defer cancel()

	o.startMu.Lock()
	defer o.startMu.Unlock()

	// A newer operation may have begun while this one waited for the slot.
	if o.stale(gen) || opCtx.Err() != nil {
		return ErrStartCancelled
	}

	// Suppress reversion to the previous track while the start propagates.
	o.recon.ArmPendingTrack(track.ID)

	o.logger.Info("Starting track",
		zap.String("trackID", track.ID),
		zap.String("trackName", track.Name))

	steps := []struct {
		name string
		run  func(context.Context, Track) error
	}{
		{"active-device", o.playOnActiveDevice},
		{"requery-playback", o.playOnReportedDevice},
		{"transfer-local", o.transferToLocalAndPlay},
		{"bridge-direct", o.playThroughBridge},
	}

	var lastErr error
	for _, step := range steps {
		if err := opCtx.Err(); err != nil {
			return ErrStartCancelled
		}
		if o.stale(gen) {
			return ErrStartCancelled
		}

		err := step.run(opCtx, track)
		if err == nil {
			o.metrics.OrchestrationStep(step.name, true)
			if o.stale(gen) {
				// Playback may have started, but a newer operation owns the
				// canonical state now.
				return ErrStartCancelled
			}
			o.recon.SetTrackOptimistic(track)
			o.logger.Info("Track started",
				zap.String("trackID", track.ID),
				zap.String("step", step.name))
			return nil
		}

		o.metrics.OrchestrationStep(step.name, false)
		o.logger.Warn("Playback start step failed",
			zap.String("step", step.name),
			zap.String("trackID", track.ID),
			zap.Error(err))
		lastErr = err
	}

	return fmt.Errorf("all playback start attempts failed: %w", lastErr)
}

// Cancel aborts any in-flight orchestration.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	if o.cancel != nil {
		o.cancel()
	}
	o.mu.Unlock()
}

func (o *Orchestrator) stale(gen uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return gen != o.generation
}

// playOnActiveDevice plays on whichever device the device set reports
// active.
func (o *Orchestrator) playOnActiveDevice(ctx context.Context, track Track) error {
	active := o.recon.ActiveDevice()
	if active == nil {
		return errors.New("no active device in device set")
	}
	return o.remote.PlayTrackOnDevice(ctx, active.ID, track.ID)
}

// playOnReportedDevice re-queries current playback; the API sometimes
// names an active device the cached set has not caught up with.
func (o *Orchestrator) playOnReportedDevice(ctx context.Context, track Track) error {
	playback, err := o.remote.CurrentPlayback(ctx)
	if err != nil {
		return fmt.Errorf("re-query playback: %w", err)
	}
	if playback == nil || playback.DeviceID == "" {
		return errors.New("no device reported by playback query")
	}
	return o.remote.PlayTrackOnDevice(ctx, playback.DeviceID, track.ID)
}

// transferToLocalAndPlay makes the local device authoritative first, then
// starts the track on it. A failed quiet transfer is retried once with
// play=true, which forces activation.
func (o *Orchestrator) transferToLocalAndPlay(ctx context.Context, track Track) error {
	localID := o.recon.LocalDeviceID()
	if localID == "" {
		return errors.New("local device not ready")
	}

	if err := o.remote.TransferPlayback(ctx, localID, false); err != nil {
		return fmt.Errorf("transfer to local device: %w", err)
	}
	if err := o.settle(ctx); err != nil {
		return err
	}

	if err := o.remote.PlayTrackOnDevice(ctx, localID, track.ID); err == nil {
		return nil
	}

	if err := o.remote.TransferPlayback(ctx, localID, true); err != nil {
		return fmt.Errorf("forced transfer to local device: %w", err)
	}
	if err := o.settle(ctx); err != nil {
		return err
	}
	return o.remote.PlayTrackOnDevice(ctx, localID, track.ID)
}

// playThroughBridge bypasses device transfer entirely.
func (o *Orchestrator) playThroughBridge(ctx context.Context, track Track) error {
	if o.bridge == nil {
		return errors.New("local bridge unavailable")
	}
	return o.bridge.PlayByURIs(ctx, []string{track.URI()})
}

// settle waits for a device transfer to take effect, honoring cancellation.
func (o *Orchestrator) settle(ctx context.Context) error {
	timer := time.NewTimer(o.cfg.TransferSettle)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ErrStartCancelled
	case <-timer.C:
		return nil
	}
}
