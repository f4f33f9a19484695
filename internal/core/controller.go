package core

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"nowplaying/internal/sched"
)

const (
	progressTickTask = "progress-tick"
	seekThrottleTask = "seek-throttle"
	bridgeReadyTask  = "bridge-ready"
)

// Controller binds the engine together: it exposes the command surface the
// UI sink drives, wires bridge push events into the reconciler, and owns
// the progress and seek-throttle schedules.
type Controller struct {
	cfg     *Config
	remote  RemoteAccount
	bridge  LocalBridge
	recon   *Reconciler
	poller  *RemotePoller
	orch    *Orchestrator
	advance *AutoAdvance
	sched   *sched.Scheduler
	logger  *zap.Logger

	mu            sync.Mutex
	pendingSeekMs int
	seekArmed     bool
	clickedTracks map[string]Track
	bridgeDown    bool
	errNotified   bool
	errObservers  []func(message string)
}

func NewController(
	cfg *Config,
	remote RemoteAccount,
	bridge LocalBridge,
	recon *Reconciler,
	poller *RemotePoller,
	orch *Orchestrator,
	advance *AutoAdvance,
	scheduler *sched.Scheduler,
	logger *zap.Logger,
) *Controller {
	return &Controller{
		cfg:           cfg,
		remote:        remote,
		bridge:        bridge,
		recon:         recon,
		poller:        poller,
		orch:          orch,
		advance:       advance,
		sched:         scheduler,
		logger:        logger,
		clickedTracks: make(map[string]Track),
	}
}

// Start wires the event handlers and begins polling and ticking.
func (c *Controller) Start(ctx context.Context) error {
	c.logger.Info("Starting playback controller")

	c.recon.SetOnTrackEnded(c.advance.OnTrackEnded)
	c.bridge.SetStateHandler(c.handleBridgeState)
	c.bridge.SetDeviceReadyHandler(c.handleDeviceReady)
	c.bridge.SetAccountErrorHandler(c.handleAccountError)

	if err := c.bridge.Start(ctx); err != nil {
		return fmt.Errorf("failed to start local bridge: %w", err)
	}

	// Bounded wait for readiness; after that, fall through to a direct
	// bridge query so a silent handshake does not leave us blind.
	c.sched.After(bridgeReadyTask, c.cfg.Engine.DeviceReadyTimeout, func() {
		if c.recon.LocalDeviceID() != "" {
			return
		}
		c.logger.Warn("Local device not ready in time, querying bridge directly")
		state, err := c.bridge.State(ctx)
		if err != nil || state == nil {
			c.logger.Debug("Direct bridge query failed", zap.Error(err))
			return
		}
		c.recon.Accept(*state, OriginLocal)
	})

	c.poller.Start(ctx)

	c.sched.Every(progressTickTask, c.cfg.Engine.ProgressTick, func() {
		c.recon.AdvanceProgress(c.cfg.Engine.ProgressTick)
	})

	return nil
}

// Stop shuts the controller down, cancelling timers and any in-flight
// orchestration.
func (c *Controller) Stop(ctx context.Context) error {
	c.logger.Info("Stopping playback controller")
	c.sched.StopAll()
	c.orch.Cancel()
	return c.bridge.Stop(ctx)
}

// Subscribe registers a canonical state observer.
func (c *Controller) Subscribe(fn func(PlaybackState)) {
	c.recon.Subscribe(fn)
}

// SubscribeDevices registers a device set observer.
func (c *Controller) SubscribeDevices(fn func([]DeviceSnapshot)) {
	c.recon.SubscribeDevices(fn)
}

// SubscribeAccountError registers a handler for the one account capability
// error the engine surfaces.
func (c *Controller) SubscribeAccountError(fn func(message string)) {
	c.mu.Lock()
	c.errObservers = append(c.errObservers, fn)
	c.mu.Unlock()
}

// ClickTrack starts the clicked track on whichever device should be
// authoritative. Runs as a cancellable background operation; a newer click
// supersedes an in-flight one.
func (c *Controller) ClickTrack(ctx context.Context, track Track) {
	if track.ID == "" {
		c.logger.Debug("Ignoring click without track id")
		return
	}

	c.mu.Lock()
	c.clickedTracks[track.ID] = track
	c.mu.Unlock()

	if c.recon.LocalDeviceID() == "" && c.bridgeAvailable() {
		// Local device may still be connecting; remember the intent so the
		// ready handler can start it.
		c.recon.ArmPendingPlay(track.ID)
	}

	c.poller.PauseFor(c.cfg.Engine.RemotePushPause)

	go func() {
		if err := c.orch.StartTrack(ctx, track); err != nil && err != ErrStartCancelled {
			c.logger.Warn("Click-to-play failed",
				zap.String("trackID", track.ID),
				zap.Error(err))
		}
	}()
}

// PlayPause toggles playback on the authoritative device.
func (c *Controller) PlayPause(ctx context.Context) {
	state := c.recon.Canonical()
	if state == nil {
		return
	}

	if state.IsPlaying {
		c.recon.MarkPauseRequested()
		var err error
		if c.localSelected() {
			err = c.bridge.Pause(ctx)
		} else {
			err = c.remote.Pause(ctx, c.recon.SelectedDeviceID())
		}
		if err != nil {
			c.logger.Warn("Pause failed", zap.Error(err))
			return
		}
		c.recon.ApplyOptimistic(func(s *PlaybackState) { s.IsPlaying = false })
		return
	}

	c.recon.MarkResumeRequested()
	var err error
	if c.localSelected() {
		err = c.bridge.Resume(ctx)
	} else {
		err = c.remote.Resume(ctx, c.recon.SelectedDeviceID())
	}
	if err != nil {
		c.logger.Warn("Resume failed", zap.Error(err))
		return
	}
	c.recon.ApplyOptimistic(func(s *PlaybackState) { s.IsPlaying = true })
}

// Seek requests a position change. Rapid repeats (drag) are throttled to
// the trailing value; the optimistic position is applied immediately.
func (c *Controller) Seek(ctx context.Context, positionMs int) {
	if positionMs < 0 {
		return
	}

	c.recon.ApplyOptimistic(func(s *PlaybackState) { s.PositionMs = positionMs })

	c.mu.Lock()
	c.pendingSeekMs = positionMs
	alreadyArmed := c.seekArmed
	c.seekArmed = true
	c.mu.Unlock()

	if alreadyArmed {
		return
	}

	c.sched.After(seekThrottleTask, c.cfg.Engine.SeekThrottle, func() {
		c.mu.Lock()
		target := c.pendingSeekMs
		c.seekArmed = false
		c.mu.Unlock()

		var err error
		if c.localSelected() {
			err = c.bridge.Seek(ctx, target)
		} else {
			err = c.remote.Seek(ctx, target, c.recon.SelectedDeviceID())
		}
		if err != nil {
			c.logger.Warn("Seek failed", zap.Int("positionMs", target), zap.Error(err))
		}
	})
}

// BeginSeekDrag suppresses source position updates while the user drags.
func (c *Controller) BeginSeekDrag() {
	c.recon.SetDragging(true)
}

// EndSeekDrag re-enables source position updates.
func (c *Controller) EndSeekDrag() {
	c.recon.SetDragging(false)
}

// SetVolume routes a volume change to the authoritative device and marks
// the manual-volume intent consulted by the merge guards.
func (c *Controller) SetVolume(ctx context.Context, volume float64) {
	if volume < 0 {
		volume = 0
	} else if volume > 1 {
		volume = 1
	}

	c.recon.MarkUserVolume()

	var err error
	if c.localSelected() {
		err = c.bridge.SetVolume(ctx, volume)
	} else {
		err = c.remote.SetVolume(ctx, c.recon.SelectedDeviceID(), int(volume*100))
	}
	if err != nil {
		c.logger.Warn("Volume change failed", zap.Float64("volume", volume), zap.Error(err))
		return
	}

	c.recon.ApplyOptimistic(func(s *PlaybackState) { s.Volume = volume })
}

// SelectDevice transfers playback to the chosen device.
func (c *Controller) SelectDevice(ctx context.Context, deviceID string) {
	if deviceID == "" {
		c.logger.Debug("Ignoring empty device selection")
		return
	}

	state := c.recon.Canonical()
	playing := state != nil && state.IsPlaying

	if err := c.remote.TransferPlayback(ctx, deviceID, playing); err != nil {
		c.logger.Warn("Device transfer failed",
			zap.String("deviceID", deviceID),
			zap.Error(err))
		return
	}

	c.recon.SelectDevice(deviceID)
	if playing {
		// The slower source may briefly report paused while the transfer
		// settles.
		c.recon.MarkResumeRequested()
	}
	c.poller.PauseFor(c.cfg.Engine.RemotePushPause)
}

// ToggleShuffle flips shuffle on the account and applies it optimistically.
func (c *Controller) ToggleShuffle(ctx context.Context) {
	state := c.recon.Canonical()
	if state == nil {
		return
	}
	target := !state.Shuffled

	if err := c.remote.SetShuffle(ctx, target, c.recon.SelectedDeviceID()); err != nil {
		c.logger.Warn("Shuffle change failed", zap.Error(err))
		return
	}
	c.recon.ApplyOptimistic(func(s *PlaybackState) { s.Shuffled = target })
}

// CycleRepeat advances repeat Off -> Context -> Track -> Off. The optimistic
// update is protected against stale polls for a short window.
func (c *Controller) CycleRepeat(ctx context.Context) {
	state := c.recon.Canonical()
	if state == nil {
		return
	}
	next := state.Repeat.Next()

	if err := c.remote.SetRepeat(ctx, next, c.recon.SelectedDeviceID()); err != nil {
		c.logger.Warn("Repeat change failed", zap.Error(err))
		return
	}
	c.recon.MarkRepeatUpdated()
	c.recon.ApplyOptimistic(func(s *PlaybackState) { s.Repeat = next })
}

// SkipNext advances to the next track in the account's play queue.
func (c *Controller) SkipNext(ctx context.Context) {
	if err := c.remote.SkipNext(ctx, c.recon.SelectedDeviceID()); err != nil {
		c.logger.Warn("Skip next failed", zap.Error(err))
		return
	}
	c.poller.PauseFor(c.cfg.Engine.RemotePushPause)
}

// SkipPrevious returns to the previous track.
func (c *Controller) SkipPrevious(ctx context.Context) {
	if err := c.remote.SkipPrevious(ctx, c.recon.SelectedDeviceID()); err != nil {
		c.logger.Warn("Skip previous failed", zap.Error(err))
		return
	}
	c.poller.PauseFor(c.cfg.Engine.RemotePushPause)
}

// Refresh forces an immediate poll, bypassing push-induced pauses.
func (c *Controller) Refresh(ctx context.Context) {
	c.poller.Force(ctx)
}

func (c *Controller) handleBridgeState(state PlaybackState) {
	if !c.bridgeAvailable() {
		return
	}
	c.recon.Accept(state, OriginLocal)
	c.poller.PauseFor(c.cfg.Engine.LocalPushPause)
}

func (c *Controller) handleDeviceReady(deviceID string) {
	if deviceID == "" {
		return
	}
	c.logger.Info("Local device ready", zap.String("deviceID", deviceID))

	c.sched.Stop(bridgeReadyTask)
	c.recon.SetLocalDevice(deviceID, c.cfg.Bridge.DeviceName)
	// Re-publish the device set so the freshly known local device shows up.
	c.recon.SetDevices(c.recon.DevicesSnapshot())

	trackID, ok := c.recon.ConsumePendingPlay()
	if !ok {
		return
	}
	c.mu.Lock()
	track, found := c.clickedTracks[trackID]
	c.mu.Unlock()
	if !found {
		return
	}

	c.logger.Info("Starting remembered track on local device",
		zap.String("trackID", trackID))
	go func() {
		if err := c.orch.StartTrack(context.Background(), track); err != nil && err != ErrStartCancelled {
			c.logger.Warn("Deferred start failed", zap.String("trackID", trackID), zap.Error(err))
		}
	}()
}

// handleAccountError surfaces the capability error once and tears the
// bridge down so the failure does not repeat.
func (c *Controller) handleAccountError(message string) {
	c.mu.Lock()
	if c.errNotified {
		c.mu.Unlock()
		return
	}
	c.errNotified = true
	c.bridgeDown = true
	observers := append([]func(string){}, c.errObservers...)
	c.mu.Unlock()

	c.logger.Error("Account playback capability error, disabling local bridge",
		zap.String("message", message))

	for _, fn := range observers {
		fn(message)
	}

	c.recon.SetLocalDevice("", "")
	go func() {
		if err := c.bridge.Stop(context.Background()); err != nil {
			c.logger.Warn("Bridge teardown failed", zap.Error(err))
		}
	}()
}

func (c *Controller) bridgeAvailable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.bridgeDown
}

func (c *Controller) localSelected() bool {
	local := c.recon.LocalDeviceID()
	return local != "" && c.recon.SelectedDeviceID() == local && c.bridgeAvailable()
}
