package core

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Reconciler keeps a single coherent playback view synchronized across the
// local bridge push feed and the remote account poll. It owns the canonical
// snapshot, the device set and the intent markers; all three are mutated
// under one lock so only one thread applies a state transition at a time.
type Reconciler struct {
	cfg     EngineConfig
	logger  *zap.Logger
	metrics MetricsSink

	mu  sync.Mutex
	now func() time.Time

	canonical        *PlaybackState
	devices          []DeviceSnapshot
	selectedDeviceID string
	localDeviceID    string
	localDeviceName  string
	intents          intentTable
	dragging         bool

	lastAccepted   acceptKey
	lastAcceptedAt time.Time
	lastTrackEndAt time.Time

	onTrackEnded func(trackID string, shuffled bool)

	observers       []func(PlaybackState)
	deviceObservers []func([]DeviceSnapshot)
}

// acceptKey is the tuple used for time-windowed candidate deduplication.
type acceptKey struct {
	trackID    string
	isPlaying  bool
	positionMs int
	shuffled   bool
}

func NewReconciler(cfg EngineConfig, logger *zap.Logger, metrics MetricsSink) *Reconciler {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Reconciler{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// SetOnTrackEnded registers the natural-completion hook. The callback runs
// outside the reconciler lock.
func (r *Reconciler) SetOnTrackEnded(fn func(trackID string, shuffled bool)) {
	r.mu.Lock()
	r.onTrackEnded = fn
	r.mu.Unlock()
}

// Subscribe registers an observer for canonical state updates.
func (r *Reconciler) Subscribe(fn func(PlaybackState)) {
	r.mu.Lock()
	r.observers = append(r.observers, fn)
	r.mu.Unlock()
}

// SubscribeDevices registers an observer for device set updates.
func (r *Reconciler) SubscribeDevices(fn func([]DeviceSnapshot)) {
	r.mu.Lock()
	r.deviceObservers = append(r.deviceObservers, fn)
	r.mu.Unlock()
}

// Accept evaluates a candidate snapshot against the canonical state and
// either applies it (possibly merged) or discards it. It never returns an
// error: invalid or stale candidates degrade to a no-op with a reason.
func (r *Reconciler) Accept(candidate PlaybackState, origin Origin) (bool, string) {
	r.mu.Lock()
	now := r.now()
	applied, reason, merged, ended := r.evaluate(candidate, origin, now)

	var notify []func(PlaybackState)
	var endedHook func(string, bool)
	if applied {
		notify = append(notify, r.observers...)
		endedHook = r.onTrackEnded
	} else if ended != nil {
		endedHook = r.onTrackEnded
	}
	r.mu.Unlock()

	if applied {
		r.metrics.CandidateApplied(origin.String(), reason)
		r.metrics.SetPlaying(merged.IsPlaying)
		for _, fn := range notify {
			fn(merged)
		}
	} else {
		r.metrics.CandidateDiscarded(origin.String(), reason)
		r.logger.Debug("Discarded candidate",
			zap.String("origin", origin.String()),
			zap.String("reason", reason),
			zap.String("trackID", candidate.TrackID))
	}

	if ended != nil && endedHook != nil {
		endedHook(ended.trackID, ended.shuffled)
	}

	return applied, reason
}

type trackEnd struct {
	trackID  string
	shuffled bool
}

// evaluate runs the decision chain under the lock. First match wins.
func (r *Reconciler) evaluate(c PlaybackState, origin Origin, now time.Time) (bool, string, PlaybackState, *trackEnd) {
	if c.PositionMs < 0 || c.DurationMs < 0 {
		return false, "invalid", c, nil
	}
	if c.Volume < 0 {
		c.Volume = 0
	} else if c.Volume > 1 {
		c.Volume = 1
	}

	// 1. Deduplicate identical tuples inside the dedup window.
	key := acceptKey{c.TrackID, c.IsPlaying, c.PositionMs, c.Shuffled}
	if key == r.lastAccepted && within(r.lastAcceptedAt, now, r.cfg.DedupWindow) {
		return false, "duplicate", c, nil
	}

	// 2. Spurious-playing guard: "playing nothing on no device" is only
	// believable as a transitional state right after a resume request.
	if !r.hasSelectedOrActiveDevice() && c.IsPlaying && c.TrackID == "" {
		if !within(r.intents.resumeRequestedAt, now, r.cfg.ResumeGrace) {
			return false, "spurious-playing", c, nil
		}
	}

	// Stale play/pause contradictions from the slower source are corrected
	// rather than discarded; confirmations clear the marker eagerly.
	if within(r.intents.resumeRequestedAt, now, r.cfg.PlayPauseWindow) {
		if c.IsPlaying {
			r.intents.resumeRequestedAt = time.Time{}
		} else if origin == OriginRemote {
			c.IsPlaying = true
		}
	}
	if within(r.intents.pauseRequestedAt, now, r.cfg.PlayPauseWindow) {
		if !c.IsPlaying {
			r.intents.pauseRequestedAt = time.Time{}
		} else if origin == OriginRemote {
			c.IsPlaying = false
		}
	}

	// 3. Device-transfer artifact: same track arriving without artwork is a
	// transfer, not a new reality. Keep artwork, keep meaningful position,
	// take only the play/pause flag.
	if r.canonical != nil && c.TrackID != "" && c.TrackID == r.canonical.TrackID &&
		c.ImageURL == "" && r.canonical.ImageURL != "" {
		merged := *r.canonical
		merged.IsPlaying = c.IsPlaying
		if !(c.PositionMs == 0 && r.canonical.PositionMs > 0 && r.canonical.DurationMs > 0) {
			merged.PositionMs = c.PositionMs
		}
		merged.Timestamp = c.Timestamp
		r.apply(merged, now)
		return true, "transfer-artifact", merged, nil
	}

	// 4. Pending-track suppression after click-to-play.
	if r.intents.pendingTrack.active(now) {
		if r.intents.pendingTrack.value == c.TrackID {
			r.intents.pendingTrack.clear()
		} else if r.canonical != nil && r.canonical.TrackID == r.intents.pendingTrack.value {
			return false, "pending-track", c, nil
		}
	}

	// A just-skipped track reappearing from a stale poll is suppressed.
	if origin == OriginRemote && c.IsPlaying && r.intents.lastAutoAdvanced.matches(now, c.TrackID) {
		return false, "auto-advanced", c, nil
	}

	// A poll must not resurrect a track the bridge just reported stopped.
	if origin == OriginRemote && c.IsPlaying && r.intents.lastDisconnected.matches(now, c.TrackID) {
		return false, "disconnected-track", c, nil
	}

	// 5. Drag suppression: while the user drags the seek bar, position
	// updates are noise unless they jump far enough to be a real change.
	if r.dragging && r.canonical != nil && c.TrackID == r.canonical.TrackID {
		if abs(c.PositionMs-r.canonical.PositionMs) <= r.cfg.DragJumpMs {
			c.PositionMs = r.canonical.PositionMs
		}
	}

	// 6. Position merge: small backward jitter while playing is transport
	// noise; larger regressions are real seeks.
	if r.canonical != nil && c.TrackID == r.canonical.TrackID && r.canonical.IsPlaying {
		if back := r.canonical.PositionMs - c.PositionMs; back > 0 && back < r.cfg.BackwardJitterMs {
			c.PositionMs = r.canonical.PositionMs
		}
	}

	// 7. Track-end detection, deduped by cooldown.
	var ended *trackEnd
	if c.TrackID != "" && c.DurationMs > 0 && !c.IsPlaying &&
		c.PositionMs >= c.DurationMs-r.cfg.TrackEndSlackMs &&
		!within(r.lastTrackEndAt, now, r.cfg.AutoAdvanceCooldown) {
		r.lastTrackEndAt = now
		shuffled := c.Shuffled
		if r.canonical != nil && r.canonical.TrackID == c.TrackID {
			shuffled = r.canonical.Shuffled
		}
		ended = &trackEnd{trackID: c.TrackID, shuffled: shuffled}
	}

	// 8. Volume merge.
	if r.canonical != nil && !r.volumeUpdateAllowed(c, now) {
		c.Volume = r.canonical.Volume
	} else if c.Volume != volumeOf(r.canonical) {
		r.intents.lastVolumeApplied = now
	}

	// 9. Shuffle always mirrors the source; repeat is protected while an
	// optimistic local update is fresh.
	if r.canonical != nil && within(r.intents.lastRepeatUpdate, now, r.cfg.RepeatGuardWindow) {
		c.Repeat = r.canonical.Repeat
	}

	// 10. Track identity update or clear.
	if !c.HasTrack() {
		if r.canonical == nil || !r.canonical.HasTrack() {
			return false, "idle", c, ended
		}
		if r.localSelected() && r.canonical.IsPlaying {
			// Transfer-away artifact: the local device went quiet while the
			// remote side still owns the truth. Wait for the poll instead of
			// blanking the UI.
			r.intents.lastDisconnected.arm(r.canonical.TrackID, now, r.cfg.DisconnectWindow)
			r.intents.disconnectedAt = now
			return false, "transfer-away", c, ended
		}
	}

	r.apply(c, now)
	return true, "applied", c, ended
}

// volumeUpdateAllowed implements the volume merge guards. The thresholds
// mirror observed device behavior around disconnects and track changes.
func (r *Reconciler) volumeUpdateAllowed(c PlaybackState, now time.Time) bool {
	if within(r.intents.disconnectedAt, now, r.cfg.DisconnectWindow) {
		return false
	}
	if r.canonical != nil && r.canonical.TrackID != "" && c.TrackID != "" &&
		r.canonical.TrackID != c.TrackID {
		return false
	}
	if within(r.intents.lastVolumeApplied, now, r.cfg.VolumeRepeatWindow) {
		return false
	}
	// Synthetic extremes surface around disconnects; a real user rarely
	// lands exactly on 0% or 100% at that moment.
	if (c.Volume == 0 || c.Volume == 1) &&
		within(r.intents.disconnectedAt, now, 2*r.cfg.DisconnectWindow) {
		return false
	}
	if r.localSelected() {
		return true
	}
	return !r.hasActiveDevice() && !r.intents.userVolumeSet
}

func (r *Reconciler) apply(s PlaybackState, now time.Time) {
	r.canonical = &s
	r.lastAccepted = acceptKey{s.TrackID, s.IsPlaying, s.PositionMs, s.Shuffled}
	r.lastAcceptedAt = now
}

// Canonical returns a copy of the canonical snapshot, or nil before the
// first accepted update.
func (r *Reconciler) Canonical() *PlaybackState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.canonical == nil {
		return nil
	}
	snap := *r.canonical
	return &snap
}

// ApplyOptimistic mutates the canonical snapshot in response to a user
// command and notifies observers. A no-op before the first update.
func (r *Reconciler) ApplyOptimistic(mutate func(*PlaybackState)) {
	r.mu.Lock()
	if r.canonical == nil {
		r.mu.Unlock()
		return
	}
	snap := *r.canonical
	mutate(&snap)
	snap.Timestamp = r.now()
	r.apply(snap, r.now())
	notify := append([]func(PlaybackState){}, r.observers...)
	r.mu.Unlock()

	r.metrics.SetPlaying(snap.IsPlaying)
	for _, fn := range notify {
		fn(snap)
	}
}

// SetTrackOptimistic replaces the canonical snapshot with a freshly started
// track. Used by the orchestrator after a successful playback start.
func (r *Reconciler) SetTrackOptimistic(track Track) {
	r.mu.Lock()
	now := r.now()
	snap := PlaybackState{
		TrackID:     track.ID,
		TrackName:   track.Name,
		ArtistNames: track.ArtistNames,
		AlbumName:   track.AlbumName,
		ImageURL:    track.ImageURL,
		DurationMs:  track.DurationMs,
		IsPlaying:   true,
		Timestamp:   now,
	}
	if r.canonical != nil {
		snap.Volume = r.canonical.Volume
		snap.Shuffled = r.canonical.Shuffled
		snap.Repeat = r.canonical.Repeat
	}
	r.apply(snap, now)
	notify := append([]func(PlaybackState){}, r.observers...)
	r.mu.Unlock()

	r.metrics.SetPlaying(true)
	for _, fn := range notify {
		fn(snap)
	}
}

// AdvanceProgress moves the canonical position forward while playing, so
// the UI progress keeps moving between source updates.
func (r *Reconciler) AdvanceProgress(d time.Duration) {
	r.mu.Lock()
	if r.canonical == nil || !r.canonical.IsPlaying || !r.canonical.HasTrack() {
		r.mu.Unlock()
		return
	}
	snap := *r.canonical
	snap.PositionMs += int(d.Milliseconds())
	if snap.DurationMs > 0 && snap.PositionMs > snap.DurationMs {
		snap.PositionMs = snap.DurationMs
	}
	r.canonical = &snap
	notify := append([]func(PlaybackState){}, r.observers...)
	r.mu.Unlock()

	for _, fn := range notify {
		fn(snap)
	}
}

// SetDevices replaces the device set wholesale, synthesizing the local
// bridge device into it once its id is known. Identity is by id.
func (r *Reconciler) SetDevices(devices []DeviceSnapshot) {
	r.mu.Lock()
	set := make([]DeviceSnapshot, 0, len(devices)+1)
	seenLocal := false
	for _, d := range devices {
		if d.ID == r.localDeviceID && r.localDeviceID != "" {
			seenLocal = true
		}
		set = append(set, d)
	}
	if r.localDeviceID != "" && !seenLocal {
		set = append(set, DeviceSnapshot{
			ID:   r.localDeviceID,
			Name: r.localDeviceName,
			Type: "Computer",
		})
	}
	r.devices = set
	notify := append([]func([]DeviceSnapshot){}, r.deviceObservers...)
	snapshot := append([]DeviceSnapshot{}, set...)
	r.mu.Unlock()

	for _, fn := range notify {
		fn(snapshot)
	}
}

// DevicesSnapshot returns a copy of the current device set.
func (r *Reconciler) DevicesSnapshot() []DeviceSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]DeviceSnapshot{}, r.devices...)
}

// ActiveDevice returns the device the set reports active, if any.
func (r *Reconciler) ActiveDevice() *DeviceSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.devices {
		if d.IsActive {
			snap := d
			return &snap
		}
	}
	return nil
}

// SetLocalDevice records the embedded device identity once the bridge
// reports readiness.
func (r *Reconciler) SetLocalDevice(id, name string) {
	r.mu.Lock()
	r.localDeviceID = id
	r.localDeviceName = name
	r.mu.Unlock()
}

func (r *Reconciler) LocalDeviceID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.localDeviceID
}

// SelectDevice marks a device as the user's choice.
func (r *Reconciler) SelectDevice(id string) {
	r.mu.Lock()
	r.selectedDeviceID = id
	r.mu.Unlock()
}

func (r *Reconciler) SelectedDeviceID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selectedDeviceID
}

// LocalPlaying reports whether the local device is authoritative and a
// track is actively playing. The poller skips its tick in that case.
func (r *Reconciler) LocalPlaying() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.localDeviceID == "" || r.canonical == nil || !r.canonical.IsPlaying {
		return false
	}
	if r.selectedDeviceID == r.localDeviceID {
		return true
	}
	for _, d := range r.devices {
		if d.IsActive {
			return d.ID == r.localDeviceID
		}
	}
	return false
}

// SetDragging toggles seek-drag suppression.
func (r *Reconciler) SetDragging(dragging bool) {
	r.mu.Lock()
	r.dragging = dragging
	r.mu.Unlock()
}

// ArmPendingTrack suppresses reversion to the previous track right after a
// click-to-play until the new track is confirmed.
func (r *Reconciler) ArmPendingTrack(trackID string) {
	r.mu.Lock()
	r.intents.pendingTrack.arm(trackID, r.now(), r.cfg.PendingTrackWindow)
	r.mu.Unlock()
}

// ArmPendingPlay remembers which track to start once the local device
// becomes the active device.
func (r *Reconciler) ArmPendingPlay(trackID string) {
	r.mu.Lock()
	r.intents.pendingPlay.arm(trackID, r.now(), r.cfg.PendingPlayWindow)
	r.mu.Unlock()
}

// ConsumePendingPlay returns and clears the remembered track, if one is
// still waiting for the local device.
func (r *Reconciler) ConsumePendingPlay() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.intents.pendingPlay.active(r.now()) {
		return "", false
	}
	id := r.intents.pendingPlay.value
	r.intents.pendingPlay.clear()
	return id, true
}

func (r *Reconciler) MarkResumeRequested() {
	r.mu.Lock()
	r.intents.resumeRequestedAt = r.now()
	r.intents.pauseRequestedAt = time.Time{}
	r.mu.Unlock()
}

func (r *Reconciler) MarkPauseRequested() {
	r.mu.Lock()
	r.intents.pauseRequestedAt = r.now()
	r.intents.resumeRequestedAt = time.Time{}
	r.mu.Unlock()
}

func (r *Reconciler) MarkRepeatUpdated() {
	r.mu.Lock()
	r.intents.lastRepeatUpdate = r.now()
	r.mu.Unlock()
}

func (r *Reconciler) MarkUserVolume() {
	r.mu.Lock()
	r.intents.userVolumeSet = true
	r.intents.lastVolumeApplied = r.now()
	r.mu.Unlock()
}

// MarkAutoAdvanced suppresses reappearance of a track just skipped away
// from while stale polls drain.
func (r *Reconciler) MarkAutoAdvanced(trackID string) {
	r.mu.Lock()
	r.intents.lastAutoAdvanced.arm(trackID, r.now(), r.cfg.AutoAdvanceWindow)
	r.mu.Unlock()
}

func (r *Reconciler) localSelected() bool {
	return r.localDeviceID != "" && r.selectedDeviceID == r.localDeviceID
}

func (r *Reconciler) hasActiveDevice() bool {
	for _, d := range r.devices {
		if d.IsActive {
			return true
		}
	}
	return false
}

func (r *Reconciler) hasSelectedOrActiveDevice() bool {
	return r.selectedDeviceID != "" || r.hasActiveDevice()
}

func volumeOf(s *PlaybackState) float64 {
	if s == nil {
		return -1
	}
	return s.Volume
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
