package core

import (
	"time"
)

// marker is an independently expiring (value, deadline) pair. An expired
// marker is treated as absent; callers clear markers eagerly once the state
// they guard against has been confirmed.
type marker struct {
	value    string
	deadline time.Time
}

func (m *marker) arm(value string, now time.Time, ttl time.Duration) {
	m.value = value
	m.deadline = now.Add(ttl)
}

func (m *marker) active(now time.Time) bool {
	return m.value != "" && now.Before(m.deadline)
}

func (m *marker) matches(now time.Time, value string) bool {
	return m.active(now) && m.value == value
}

func (m *marker) clear() {
	m.value = ""
	m.deadline = time.Time{}
}

// intentTable is the engine's memory of recent user action. Every field is
// monotonic-expiring; mutation happens only under the reconciler lock.
type intentTable struct {
	pendingTrack     marker // suppress reversion right after click-to-play
	pendingPlay      marker // track to start once the local device is active
	lastAutoAdvanced marker // suppress reappearance of a just-skipped track
	lastDisconnected marker // suppress resurrection of a just-stopped track

	resumeRequestedAt time.Time
	pauseRequestedAt  time.Time
	lastRepeatUpdate  time.Time
	lastVolumeApplied time.Time
	disconnectedAt    time.Time

	userVolumeSet bool
}

// within reports whether ts falls inside the window ending now.
func within(ts, now time.Time, window time.Duration) bool {
	return !ts.IsZero() && now.Sub(ts) < window
}
