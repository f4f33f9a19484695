package core

import (
	"context"
	"time"
)

// Origin identifies which source produced a candidate state update.
type Origin int

const (
	// OriginLocal marks candidates pushed by the embedded playback device.
	OriginLocal Origin = iota
	// OriginRemote marks candidates pulled from the account API poll.
	OriginRemote
)

func (o Origin) String() string {
	switch o {
	case OriginLocal:
		return "local"
	case OriginRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// RepeatMode mirrors the account API repeat states.
type RepeatMode int

const (
	// RepeatOff disables repeat.
	RepeatOff RepeatMode = iota
	// RepeatContext repeats the current playback context (album/playlist).
	RepeatContext
	// RepeatTrack repeats the current track.
	RepeatTrack
)

func (m RepeatMode) String() string {
	switch m {
	case RepeatContext:
		return "context"
	case RepeatTrack:
		return "track"
	default:
		return "off"
	}
}

// Next returns the mode a repeat-cycle command advances to.
func (m RepeatMode) Next() RepeatMode {
	switch m {
	case RepeatOff:
		return RepeatContext
	case RepeatContext:
		return RepeatTrack
	default:
		return RepeatOff
	}
}

// ParseRepeatMode converts an API repeat state string to a RepeatMode.
func ParseRepeatMode(s string) RepeatMode {
	switch s {
	case "context":
		return RepeatContext
	case "track":
		return RepeatTrack
	default:
		return RepeatOff
	}
}

// PlaybackState is a value snapshot of what is playing, where, and how.
// Snapshots are never mutated in place; every update is a new snapshot
// compared against the previous canonical one.
type PlaybackState struct {
	TrackID     string
	TrackName   string
	ArtistNames []string
	AlbumName   string
	ImageURL    string
	PositionMs  int
	DurationMs  int
	IsPlaying   bool
	Volume      float64 // 0.0-1.0
	Shuffled    bool
	Repeat      RepeatMode
	Timestamp   time.Time
}

// HasTrack reports whether the snapshot names a track at all.
func (s PlaybackState) HasTrack() bool {
	return s.TrackID != "" || s.TrackName != ""
}

// DeviceSnapshot describes one playback device known to the account.
// Identity is by ID; the set is replaced wholesale on each refresh.
type DeviceSnapshot struct {
	ID       string
	Name     string
	Type     string
	IsActive bool
}

// Track is the payload of a click-to-play command.
type Track struct {
	ID          string
	Name        string
	ArtistNames []string
	AlbumName   string
	ImageURL    string
	DurationMs  int
}

// URI returns the Spotify play URI for the track.
func (t Track) URI() string {
	return "spotify:track:" + t.ID
}

// Playback couples a playback snapshot with the device the account API
// reports it on. The device ID may be empty when the API omits it.
type Playback struct {
	State    PlaybackState
	DeviceID string
}

// RemoteAccount is the account API surface the engine consumes. All calls
// are best-effort from the engine's point of view: a failed call is logged
// and treated as "try the next fallback", never as fatal.
type RemoteAccount interface {
	Devices(ctx context.Context) ([]DeviceSnapshot, error)
	CurrentPlayback(ctx context.Context) (*Playback, error)
	PlayTrackOnDevice(ctx context.Context, deviceID, trackID string) error
	TransferPlayback(ctx context.Context, deviceID string, play bool) error
	Resume(ctx context.Context, deviceID string) error
	Pause(ctx context.Context, deviceID string) error
	Seek(ctx context.Context, positionMs int, deviceID string) error
	SetVolume(ctx context.Context, deviceID string, percent int) error
	SetShuffle(ctx context.Context, shuffled bool, deviceID string) error
	SetRepeat(ctx context.Context, mode RepeatMode, deviceID string) error
	SkipNext(ctx context.Context, deviceID string) error
	SkipPrevious(ctx context.Context, deviceID string) error
}

// LocalBridge wraps the embedded playback device. It pushes state changes
// through the registered handlers and accepts imperative commands.
type LocalBridge interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	SetStateHandler(handler func(PlaybackState))
	SetDeviceReadyHandler(handler func(deviceID string))
	SetAccountErrorHandler(handler func(message string))

	Resume(ctx context.Context) error
	Pause(ctx context.Context) error
	Seek(ctx context.Context, positionMs int) error
	SetVolume(ctx context.Context, volume float64) error
	PlayByURIs(ctx context.Context, uris []string) error
	State(ctx context.Context) (*PlaybackState, error)
}

// MetricsSink records engine activity for the monitoring endpoint.
type MetricsSink interface {
	CandidateApplied(origin, reason string)
	CandidateDiscarded(origin, reason string)
	PollPerformed()
	PollSkipped(reason string)
	OrchestrationStep(step string, ok bool)
	AutoAdvanceScheduled()
	SetPlaying(playing bool)
}

// NopMetrics is a MetricsSink that discards everything.
type NopMetrics struct{}

func (NopMetrics) CandidateApplied(string, string)   {}
func (NopMetrics) CandidateDiscarded(string, string) {}
func (NopMetrics) PollPerformed()                    {}
func (NopMetrics) PollSkipped(string)                {}
func (NopMetrics) OrchestrationStep(string, bool)    {}
func (NopMetrics) AutoAdvanceScheduled()             {}
func (NopMetrics) SetPlaying(bool)                   {}
