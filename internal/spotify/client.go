// Package spotify implements the remote account surface over the Spotify
// Web API.
package spotify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"nowplaying/internal/core"
	"nowplaying/internal/store"
)

const (
	// FilePermission is the permission for token files
	FilePermission = 0600
	// TrackCacheSize bounds the track metadata cache
	TrackCacheSize = 2048
)

type Client struct {
	config *core.SpotifyConfig
	logger *zap.Logger
	client *spotify.Client
	auth   *spotifyauth.Authenticator
	tracks *store.TrackCache
}

type TokenData struct {
	Token *oauth2.Token `json:"token"`
}

func NewClient(config *core.SpotifyConfig, logger *zap.Logger) *Client {
	auth := spotifyauth.New(
		spotifyauth.WithRedirectURL(config.RedirectURL),
		spotifyauth.WithScopes(
			spotifyauth.ScopeUserModifyPlaybackState,
			spotifyauth.ScopeUserReadCurrentlyPlaying,
			spotifyauth.ScopeUserReadPlaybackState,
		),
		spotifyauth.WithClientID(config.ClientID),
		spotifyauth.WithClientSecret(config.ClientSecret),
	)

	return &Client{
		config: config,
		logger: logger,
		auth:   auth,
		tracks: store.NewTrackCache(TrackCacheSize),
	}
}

func (c *Client) Authenticate(ctx context.Context) error {
	token, err := c.loadToken()
	if err != nil {
		c.logger.Info("No saved token found, starting OAuth flow")
		return c.startOAuthFlow(ctx)
	}

	client := spotify.New(c.auth.Client(ctx, token))
	c.client = client

	user, err := client.CurrentUser(ctx)
	if err != nil {
		c.logger.Warn("Saved token invalid, starting OAuth flow", zap.Error(err))
		return c.startOAuthFlow(ctx)
	}

	c.logger.Info("Authenticated successfully", zap.String("user", user.DisplayName))
	return nil
}

// Devices returns the account's device list.
func (c *Client) Devices(ctx context.Context) ([]core.DeviceSnapshot, error) {
	if c.client == nil {
		return nil, fmt.Errorf("client not authenticated")
	}

	devices, err := c.client.PlayerDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get player devices: %w", err)
	}

	snapshots := make([]core.DeviceSnapshot, 0, len(devices))
	for _, device := range devices {
		snapshots = append(snapshots, core.DeviceSnapshot{
			ID:       device.ID.String(),
			Name:     device.Name,
			Type:     device.Type,
			IsActive: device.Active,
		})
	}

	return snapshots, nil
}

// CurrentPlayback returns the account-wide playback snapshot, or nil when
// nothing is playing anywhere.
func (c *Client) CurrentPlayback(ctx context.Context) (*core.Playback, error) {
	if c.client == nil {
		return nil, fmt.Errorf("client not authenticated")
	}

	state, err := c.client.PlayerState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get player state: %w", err)
	}
	if state == nil {
		return nil, nil
	}

	return c.convertPlayerState(state), nil
}

func (c *Client) PlayTrackOnDevice(ctx context.Context, deviceID, trackID string) error {
	if c.client == nil {
		return fmt.Errorf("client not authenticated")
	}
	if deviceID == "" || trackID == "" {
		return fmt.Errorf("device id and track id are required")
	}

	id := spotify.ID(deviceID)
	err := c.client.PlayOpt(ctx, &spotify.PlayOptions{
		DeviceID: &id,
		URIs:     []spotify.URI{spotify.URI("spotify:track:" + trackID)},
	})
	if err != nil {
		return fmt.Errorf("failed to play track on device: %w", err)
	}

	c.logger.Debug("Started track on device",
		zap.String("trackID", trackID),
		zap.String("deviceID", deviceID))
	return nil
}

func (c *Client) TransferPlayback(ctx context.Context, deviceID string, play bool) error {
	if c.client == nil {
		return fmt.Errorf("client not authenticated")
	}
	if deviceID == "" {
		return fmt.Errorf("device id is required")
	}

	if err := c.client.TransferPlayback(ctx, spotify.ID(deviceID), play); err != nil {
		return fmt.Errorf("failed to transfer playback: %w", err)
	}

	c.logger.Debug("Transferred playback",
		zap.String("deviceID", deviceID),
		zap.Bool("play", play))
	return nil
}

func (c *Client) Resume(ctx context.Context, deviceID string) error {
	if c.client == nil {
		return fmt.Errorf("client not authenticated")
	}
	if err := c.client.PlayOpt(ctx, playOptions(deviceID)); err != nil {
		return fmt.Errorf("failed to resume: %w", err)
	}
	return nil
}

func (c *Client) Pause(ctx context.Context, deviceID string) error {
	if c.client == nil {
		return fmt.Errorf("client not authenticated")
	}
	if err := c.client.PauseOpt(ctx, playOptions(deviceID)); err != nil {
		return fmt.Errorf("failed to pause: %w", err)
	}
	return nil
}

func (c *Client) Seek(ctx context.Context, positionMs int, deviceID string) error {
	if c.client == nil {
		return fmt.Errorf("client not authenticated")
	}
	if err := c.client.SeekOpt(ctx, positionMs, playOptions(deviceID)); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}
	return nil
}

func (c *Client) SetVolume(ctx context.Context, deviceID string, percent int) error {
	if c.client == nil {
		return fmt.Errorf("client not authenticated")
	}
	if percent < 0 {
		percent = 0
	} else if percent > 100 {
		percent = 100
	}
	if err := c.client.VolumeOpt(ctx, percent, playOptions(deviceID)); err != nil {
		return fmt.Errorf("failed to set volume: %w", err)
	}
	return nil
}

func (c *Client) SetShuffle(ctx context.Context, shuffled bool, deviceID string) error {
	if c.client == nil {
		return fmt.Errorf("client not authenticated")
	}
	if err := c.client.ShuffleOpt(ctx, shuffled, playOptions(deviceID)); err != nil {
		return fmt.Errorf("failed to set shuffle to %t: %w", shuffled, err)
	}

	c.logger.Debug("Set shuffle", zap.Bool("shuffle", shuffled))
	return nil
}

func (c *Client) SetRepeat(ctx context.Context, mode core.RepeatMode, deviceID string) error {
	if c.client == nil {
		return fmt.Errorf("client not authenticated")
	}
	if err := c.client.RepeatOpt(ctx, mode.String(), playOptions(deviceID)); err != nil {
		return fmt.Errorf("failed to set repeat to %s: %w", mode, err)
	}

	c.logger.Debug("Set repeat", zap.String("state", mode.String()))
	return nil
}

func (c *Client) SkipNext(ctx context.Context, deviceID string) error {
	if c.client == nil {
		return fmt.Errorf("client not authenticated")
	}
	if err := c.client.NextOpt(ctx, playOptions(deviceID)); err != nil {
		return fmt.Errorf("failed to skip to next track: %w", err)
	}
	return nil
}

func (c *Client) SkipPrevious(ctx context.Context, deviceID string) error {
	if c.client == nil {
		return fmt.Errorf("client not authenticated")
	}
	if err := c.client.PreviousOpt(ctx, playOptions(deviceID)); err != nil {
		return fmt.Errorf("failed to skip to previous track: %w", err)
	}
	return nil
}

// playOptions targets a specific device, or the active one when empty.
func playOptions(deviceID string) *spotify.PlayOptions {
	if deviceID == "" {
		return nil
	}
	id := spotify.ID(deviceID)
	return &spotify.PlayOptions{DeviceID: &id}
}

func (c *Client) convertPlayerState(state *spotify.PlayerState) *core.Playback {
	snapshot := core.PlaybackState{
		PositionMs: state.Progress,
		IsPlaying:  state.Playing,
		Volume:     float64(state.Device.Volume) / 100,
		Shuffled:   state.ShuffleState,
		Repeat:     core.ParseRepeatMode(state.RepeatState),
		Timestamp:  time.Now(),
	}

	if state.Item != nil {
		item := state.Item
		snapshot.TrackID = string(item.ID)
		snapshot.TrackName = item.Name
		snapshot.AlbumName = item.Album.Name
		snapshot.DurationMs = item.Duration
		for _, artist := range item.Artists {
			snapshot.ArtistNames = append(snapshot.ArtistNames, artist.Name)
		}
		if len(item.Album.Images) > 0 {
			snapshot.ImageURL = item.Album.Images[0].URL
		}

		if snapshot.ImageURL != "" {
			c.tracks.Put(core.Track{
				ID:          snapshot.TrackID,
				Name:        snapshot.TrackName,
				ArtistNames: snapshot.ArtistNames,
				AlbumName:   snapshot.AlbumName,
				ImageURL:    snapshot.ImageURL,
				DurationMs:  snapshot.DurationMs,
			})
		} else if cached, ok := c.tracks.Get(snapshot.TrackID); ok {
			// The API omits artwork during device transfers; backfill from
			// the last complete snapshot of the same track.
			snapshot.ImageURL = cached.ImageURL
		}
	}

	return &core.Playback{
		State:    snapshot,
		DeviceID: state.Device.ID.String(),
	}
}

func (c *Client) startOAuthFlow(ctx context.Context) error {
	state := "nowplaying-auth-state"
	authURL := c.auth.AuthURL(state)

	fmt.Printf("Please visit the following URL to authorize the application:\n%s\n", authURL)
	fmt.Print("Enter the authorization code: ")

	var code string
	if _, err := fmt.Scanln(&code); err != nil {
		return fmt.Errorf("failed to read authorization code: %w", err)
	}

	token, err := c.auth.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to exchange code for token: %w", err)
	}

	if saveErr := c.saveToken(token); saveErr != nil {
		c.logger.Warn("Failed to save token", zap.Error(saveErr))
	}

	client := spotify.New(c.auth.Client(ctx, token))
	c.client = client

	user, err := client.CurrentUser(ctx)
	if err != nil {
		return fmt.Errorf("failed to get current user: %w", err)
	}

	c.logger.Info("OAuth flow completed successfully", zap.String("user", user.DisplayName))
	return nil
}

func (c *Client) loadToken() (*oauth2.Token, error) {
	file, err := os.Open(c.config.TokenPath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}

	var tokenData TokenData
	if err := json.Unmarshal(data, &tokenData); err != nil {
		return nil, err
	}

	return tokenData.Token, nil
}

func (c *Client) saveToken(token *oauth2.Token) error {
	tokenData := TokenData{Token: token}

	data, err := json.MarshalIndent(tokenData, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(c.config.TokenPath, data, FilePermission)
}
