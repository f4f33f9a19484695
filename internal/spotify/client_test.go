package spotify

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/zmb3/spotify/v2"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"nowplaying/internal/core"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	config := &core.SpotifyConfig{
		ClientID:     "test-client",
		ClientSecret: "test-secret",
		RedirectURL:  "http://localhost:8080/callback",
		TokenPath:    filepath.Join(t.TempDir(), "token.json"),
	}
	return NewClient(config, zap.NewNop())
}

func TestPlayOptions(t *testing.T) {
	if playOptions("") != nil {
		t.Errorf("empty device id should target the active device")
	}

	opts := playOptions("device-1")
	if opts == nil || opts.DeviceID == nil || *opts.DeviceID != spotify.ID("device-1") {
		t.Errorf("opts = %+v", opts)
	}
}

func TestConvertPlayerState(t *testing.T) {
	c := newTestClient(t)

	state := &spotify.PlayerState{
		CurrentlyPlaying: spotify.CurrentlyPlaying{
			Progress: 42000,
			Playing:  true,
			Item: &spotify.FullTrack{
				SimpleTrack: spotify.SimpleTrack{
					ID:       "t1",
					Name:     "One",
					Duration: 180000,
					Artists:  []spotify.SimpleArtist{{Name: "A"}, {Name: "B"}},
				},
				Album: spotify.SimpleAlbum{
					Name:   "Album",
					Images: []spotify.Image{{URL: "https://img.example/t1"}},
				},
			},
		},
		Device: spotify.PlayerDevice{
			ID:     "device-1",
			Volume: 80,
		},
		ShuffleState: true,
		RepeatState:  "context",
	}

	playback := c.convertPlayerState(state)
	got := playback.State
	if got.TrackID != "t1" || got.TrackName != "One" || got.AlbumName != "Album" {
		t.Errorf("track fields = %+v", got)
	}
	if len(got.ArtistNames) != 2 || got.ArtistNames[0] != "A" {
		t.Errorf("artists = %v", got.ArtistNames)
	}
	if got.PositionMs != 42000 || got.DurationMs != 180000 || !got.IsPlaying {
		t.Errorf("progress fields = %+v", got)
	}
	if got.Volume != 0.8 || !got.Shuffled || got.Repeat != core.RepeatContext {
		t.Errorf("device fields = %+v", got)
	}
	if got.ImageURL != "https://img.example/t1" {
		t.Errorf("image = %q", got.ImageURL)
	}
	if playback.DeviceID != "device-1" {
		t.Errorf("device id = %q", playback.DeviceID)
	}
}

func TestConvertPlayerStateBackfillsArtwork(t *testing.T) {
	c := newTestClient(t)

	full := &spotify.PlayerState{
		CurrentlyPlaying: spotify.CurrentlyPlaying{
			Playing: true,
			Item: &spotify.FullTrack{
				SimpleTrack: spotify.SimpleTrack{ID: "t1", Name: "One", Duration: 180000},
				Album: spotify.SimpleAlbum{
					Images: []spotify.Image{{URL: "https://img.example/t1"}},
				},
			},
		},
		Device: spotify.PlayerDevice{ID: "device-1", Volume: 80},
	}
	c.convertPlayerState(full)

	// During a device transfer the API reports the same track bare.
	bare := &spotify.PlayerState{
		CurrentlyPlaying: spotify.CurrentlyPlaying{
			Item: &spotify.FullTrack{
				SimpleTrack: spotify.SimpleTrack{ID: "t1", Name: "One", Duration: 180000},
			},
		},
		Device: spotify.PlayerDevice{ID: "device-2", Volume: 80},
	}
	got := c.convertPlayerState(bare)
	if got.State.ImageURL != "https://img.example/t1" {
		t.Errorf("artwork not backfilled: %q", got.State.ImageURL)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	c := newTestClient(t)

	token := &oauth2.Token{
		AccessToken:  "access",
		RefreshToken: "refresh",
		Expiry:       time.Now().Add(time.Hour).UTC(),
	}
	if err := c.saveToken(token); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := c.loadToken()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.AccessToken != "access" || loaded.RefreshToken != "refresh" {
		t.Errorf("loaded = %+v", loaded)
	}
}

func TestLoadTokenMissingFile(t *testing.T) {
	c := newTestClient(t)

	if _, err := c.loadToken(); err == nil {
		t.Errorf("missing token file did not error")
	}
}

func TestCallsRequireAuthentication(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	if _, err := c.Devices(ctx); err == nil {
		t.Errorf("Devices succeeded without authentication")
	}
	if _, err := c.CurrentPlayback(ctx); err == nil {
		t.Errorf("CurrentPlayback succeeded without authentication")
	}
	if err := c.PlayTrackOnDevice(ctx, "d", "t"); err == nil {
		t.Errorf("PlayTrackOnDevice succeeded without authentication")
	}
	if err := c.SkipNext(ctx, ""); err == nil {
		t.Errorf("SkipNext succeeded without authentication")
	}
}
