package core

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"nowplaying/internal/sched"
)

func newTestPoller() (*RemotePoller, *Reconciler, *fakeRemote, *fakeClock) {
	cfg := DefaultEngineConfig()
	logger := zap.NewNop()
	clock := newFakeClock()
	remote := &fakeRemote{}
	recon := NewReconciler(cfg, logger, nil)
	recon.now = clock.Now

	p := NewRemotePoller(cfg, remote, recon, sched.New(logger), logger, nil)
	p.now = clock.Now
	return p, recon, remote, clock
}

func TestTickSubmitsRemoteCandidate(t *testing.T) {
	p, recon, remote, _ := newTestPoller()

	remote.devices = []DeviceSnapshot{{ID: "remote-1", Name: "Kitchen", IsActive: true}}
	remote.playback = &Playback{
		State:    playing("t1", 5000),
		DeviceID: "remote-1",
	}

	p.Tick(context.Background())

	if got := recon.Canonical(); got == nil || got.TrackID != "t1" {
		t.Fatalf("canonical = %+v, want t1 applied", got)
	}
	if devices := recon.DevicesSnapshot(); len(devices) != 1 || devices[0].ID != "remote-1" {
		t.Errorf("devices = %+v", devices)
	}
}

func TestTickSkipsWhileLocalPlaying(t *testing.T) {
	p, recon, remote, _ := newTestPoller()

	recon.SetLocalDevice("local-1", "nowplaying")
	recon.SelectDevice("local-1")
	recon.Accept(playing("t1", 1000), OriginLocal)

	remote.playback = &Playback{State: playing("t2", 0), DeviceID: "remote-1"}
	p.Tick(context.Background())

	if got := recon.Canonical().TrackID; got != "t1" {
		t.Errorf("poll overrode local playback: %q", got)
	}
}

func TestTickRespectsPause(t *testing.T) {
	p, recon, remote, clock := newTestPoller()

	remote.playback = &Playback{State: playing("t1", 0), DeviceID: "remote-1"}

	p.PauseFor(2 * time.Second)
	p.Tick(context.Background())
	if recon.Canonical() != nil {
		t.Fatalf("tick ran during pause")
	}

	clock.Advance(3 * time.Second)
	p.Tick(context.Background())
	if recon.Canonical() == nil {
		t.Errorf("tick did not resume after pause expired")
	}
}

func TestOverlappingPausesKeepLaterDeadline(t *testing.T) {
	p, recon, remote, clock := newTestPoller()

	remote.playback = &Playback{State: playing("t1", 0), DeviceID: "remote-1"}

	p.PauseFor(10 * time.Second)
	p.PauseFor(time.Second) // must not shorten the earlier pause

	clock.Advance(5 * time.Second)
	p.Tick(context.Background())
	if recon.Canonical() != nil {
		t.Errorf("shorter overlapping pause truncated the longer one")
	}
}

func TestForceBypassesPause(t *testing.T) {
	p, recon, remote, _ := newTestPoller()

	remote.playback = &Playback{State: playing("t1", 0), DeviceID: "remote-1"}

	p.PauseFor(time.Hour)
	p.Force(context.Background())
	if recon.Canonical() == nil {
		t.Errorf("forced poll did not run")
	}
}

func TestTickHandlesIdleAccount(t *testing.T) {
	p, recon, _, _ := newTestPoller()

	p.Tick(context.Background())
	if recon.Canonical() != nil {
		t.Errorf("nil playback produced a canonical state")
	}
}
