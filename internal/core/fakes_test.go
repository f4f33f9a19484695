package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// fakeClock drives the injectable now() of time-sensitive components.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

var errFakeRemote = errors.New("remote call failed")

// fakeRemote is a scriptable RemoteAccount.
type fakeRemote struct {
	mu sync.Mutex

	devices  []DeviceSnapshot
	playback *Playback

	failPlay     bool
	failTransfer bool
	blockPlay    chan struct{} // when set, PlayTrackOnDevice waits for it or ctx

	playCalls     []string // "deviceID:trackID"
	transferCalls []string
	skipNextCalls int
	skipPrevCalls int
	resumeCalls   int
	pauseCalls    int
	seekCalls     []int
	volumeCalls   []int
	shuffleCalls  []bool
	repeatCalls   []RepeatMode
}

func (r *fakeRemote) Devices(context.Context) ([]DeviceSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]DeviceSnapshot{}, r.devices...), nil
}

func (r *fakeRemote) CurrentPlayback(context.Context) (*Playback, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.playback == nil {
		return nil, nil
	}
	pb := *r.playback
	return &pb, nil
}

func (r *fakeRemote) PlayTrackOnDevice(ctx context.Context, deviceID, trackID string) error {
	r.mu.Lock()
	block := r.blockPlay
	fail := r.failPlay
	r.playCalls = append(r.playCalls, deviceID+":"+trackID)
	r.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if fail {
		return errFakeRemote
	}
	return nil
}

func (r *fakeRemote) TransferPlayback(_ context.Context, deviceID string, play bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transferCalls = append(r.transferCalls, deviceID)
	if r.failTransfer {
		return errFakeRemote
	}
	_ = play
	return nil
}

func (r *fakeRemote) Resume(context.Context, string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resumeCalls++
	return nil
}

func (r *fakeRemote) Pause(context.Context, string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pauseCalls++
	return nil
}

func (r *fakeRemote) Seek(_ context.Context, positionMs int, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seekCalls = append(r.seekCalls, positionMs)
	return nil
}

func (r *fakeRemote) SetVolume(_ context.Context, _ string, percent int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.volumeCalls = append(r.volumeCalls, percent)
	return nil
}

func (r *fakeRemote) SetShuffle(_ context.Context, shuffled bool, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shuffleCalls = append(r.shuffleCalls, shuffled)
	return nil
}

func (r *fakeRemote) SetRepeat(_ context.Context, mode RepeatMode, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.repeatCalls = append(r.repeatCalls, mode)
	return nil
}

func (r *fakeRemote) SkipNext(context.Context, string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skipNextCalls++
	return nil
}

func (r *fakeRemote) SkipPrevious(context.Context, string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skipPrevCalls++
	return nil
}

func (r *fakeRemote) skipCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.skipNextCalls
}

func (r *fakeRemote) playCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.playCalls)
}

// fakeBridge is a scriptable LocalBridge.
type fakeBridge struct {
	mu sync.Mutex

	started bool
	stopped bool

	state *PlaybackState

	stateHandler func(PlaybackState)
	readyHandler func(string)
	errorHandler func(string)

	playURIs    [][]string
	resumeCalls int
	pauseCalls  int
	seekCalls   []int
	volumeCalls []float64
}

func (b *fakeBridge) Start(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.started = true
	return nil
}

func (b *fakeBridge) Stop(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
	return nil
}

func (b *fakeBridge) SetStateHandler(handler func(PlaybackState)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stateHandler = handler
}

func (b *fakeBridge) SetDeviceReadyHandler(handler func(string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readyHandler = handler
}

func (b *fakeBridge) SetAccountErrorHandler(handler func(string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errorHandler = handler
}

func (b *fakeBridge) Resume(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resumeCalls++
	return nil
}

func (b *fakeBridge) Pause(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pauseCalls++
	return nil
}

func (b *fakeBridge) Seek(_ context.Context, positionMs int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seekCalls = append(b.seekCalls, positionMs)
	return nil
}

func (b *fakeBridge) SetVolume(_ context.Context, volume float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.volumeCalls = append(b.volumeCalls, volume)
	return nil
}

func (b *fakeBridge) PlayByURIs(_ context.Context, uris []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.playURIs = append(b.playURIs, uris)
	return nil
}

func (b *fakeBridge) State(context.Context) (*PlaybackState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == nil {
		return nil, errors.New("no state available")
	}
	snap := *b.state
	return &snap, nil
}
