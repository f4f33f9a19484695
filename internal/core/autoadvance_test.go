package core

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"nowplaying/internal/sched"
)

func newTestAutoAdvance() (*AutoAdvance, *Reconciler, *fakeRemote, *fakeClock) {
	cfg := DefaultEngineConfig()
	cfg.AutoAdvanceDebounce = time.Millisecond

	logger := zap.NewNop()
	clock := newFakeClock()
	remote := &fakeRemote{}
	recon := NewReconciler(cfg, logger, nil)
	recon.now = clock.Now

	a := NewAutoAdvance(cfg, remote, recon, sched.New(logger), logger, nil)
	a.now = clock.Now
	return a, recon, remote, clock
}

func TestAutoAdvanceSkipsOncePerCompletion(t *testing.T) {
	a, recon, remote, _ := newTestAutoAdvance()

	a.OnTrackEnded("t1", true)
	waitFor(t, "skip command", func() bool { return remote.skipCount() == 1 })

	// The suppression marker must be set before the skip lands.
	if !recon.intents.lastAutoAdvanced.matches(recon.now(), "t1") {
		t.Errorf("auto-advance marker not armed")
	}

	// A second completion report for the same ending is absorbed.
	a.OnTrackEnded("t1", true)
	time.Sleep(20 * time.Millisecond)
	if got := remote.skipCount(); got != 1 {
		t.Errorf("skip count = %d, want 1", got)
	}
}

func TestAutoAdvanceAfterCooldown(t *testing.T) {
	a, _, remote, clock := newTestAutoAdvance()

	a.OnTrackEnded("t1", true)
	waitFor(t, "first skip", func() bool { return remote.skipCount() == 1 })

	clock.Advance(4 * time.Second)
	a.OnTrackEnded("t2", true)
	waitFor(t, "second skip", func() bool { return remote.skipCount() == 2 })
}

func TestAutoAdvanceRequiresShuffle(t *testing.T) {
	a, _, remote, _ := newTestAutoAdvance()

	a.OnTrackEnded("t1", false)
	a.OnTrackEnded("", true)
	time.Sleep(20 * time.Millisecond)
	if got := remote.skipCount(); got != 0 {
		t.Errorf("skip count = %d, want 0", got)
	}
}
