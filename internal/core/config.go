package core

import (
	"time"
)

type Config struct {
	Spotify SpotifyConfig
	Bridge  BridgeConfig
	Engine  EngineConfig
	Server  ServerConfig
	Log     LogConfig
}

type SpotifyConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	TokenPath    string
}

type BridgeConfig struct {
	ListenAddr string
	DeviceName string
}

// EngineConfig holds the reconciliation thresholds. The suppression windows
// were calibrated against real device behavior; treat them as starting
// points, not exact constants.
type EngineConfig struct {
	PollInterval    time.Duration // remote poll cadence
	RemotePushPause time.Duration // poll pause after a remote-confirmed push
	LocalPushPause  time.Duration // poll pause after a local bridge push

	DedupWindow         time.Duration // identical-tuple discard window
	ResumeGrace         time.Duration // spurious-playing tolerance after resume
	PendingTrackWindow  time.Duration // click-to-play reversion suppression
	PendingPlayWindow   time.Duration // remembered track waiting for local device
	PlayPauseWindow     time.Duration // stale play/pause contradiction window
	RepeatGuardWindow   time.Duration // optimistic repeat overwrite protection
	AutoAdvanceWindow   time.Duration // reappearance suppression after a skip
	AutoAdvanceDebounce time.Duration
	AutoAdvanceCooldown time.Duration
	DisconnectWindow    time.Duration // volume/blanking guard after disconnect

	BackwardJitterMs int // position regression treated as transport noise
	DragJumpMs       int // position jump large enough to bypass drag suppression
	TrackEndSlackMs  int // distance from duration that counts as completion

	VolumeRepeatWindow time.Duration // rapid-repeat volume update suppression

	DeviceReadyTimeout time.Duration // bounded wait for local device readiness
	TransferSettle     time.Duration // wait after a device transfer before playing

	ProgressTick time.Duration // UI progress advance cadence
	SeekThrottle time.Duration // trailing-edge seek command throttle
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type LogConfig struct {
	Level string
}

func DefaultConfig() *Config {
	return &Config{
		Spotify: SpotifyConfig{
			RedirectURL: "http://localhost:8080/callback",
			TokenPath:   "./spotify_token.json",
		},
		Bridge: BridgeConfig{
			ListenAddr: "127.0.0.1:8974",
			DeviceName: "nowplaying",
		},
		Engine: DefaultEngineConfig(),
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		PollInterval:    4 * time.Second,
		RemotePushPause: 2 * time.Second,
		LocalPushPause:  10 * time.Second,

		DedupWindow:         500 * time.Millisecond,
		ResumeGrace:         5 * time.Second,
		PendingTrackWindow:  4 * time.Second,
		PendingPlayWindow:   8 * time.Second,
		PlayPauseWindow:     2 * time.Second,
		RepeatGuardWindow:   2 * time.Second,
		AutoAdvanceWindow:   5 * time.Second,
		AutoAdvanceDebounce: 400 * time.Millisecond,
		AutoAdvanceCooldown: 3 * time.Second,
		DisconnectWindow:    3 * time.Second,

		BackwardJitterMs: 1500,
		DragJumpMs:       1000,
		TrackEndSlackMs:  250,

		VolumeRepeatWindow: 500 * time.Millisecond,

		DeviceReadyTimeout: 3500 * time.Millisecond,
		TransferSettle:     600 * time.Millisecond,

		ProgressTick: time.Second,
		SeekThrottle: 250 * time.Millisecond,
	}
}
