// Package bridge adapts the embedded web playback device. The embedded
// player connects to a localhost websocket endpoint, pushes state-change
// events, and accepts imperative playback commands.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"nowplaying/internal/core"
)

const (
	writeTimeout = 5 * time.Second
	stateTimeout = 3 * time.Second
)

// event is a message pushed by the embedded player.
type event struct {
	Type    string      `json:"type"` // "state", "ready", "account_error"
	State   *stateEvent `json:"state,omitempty"`
	Device  string      `json:"device_id,omitempty"`
	Message string      `json:"message,omitempty"`
}

type stateEvent struct {
	TrackID    string   `json:"track_id"`
	TrackName  string   `json:"track_name"`
	Artists    []string `json:"artists"`
	AlbumName  string   `json:"album_name"`
	ImageURL   string   `json:"image_url"`
	PositionMs int      `json:"position_ms"`
	DurationMs int      `json:"duration_ms"`
	Playing    bool     `json:"playing"`
	Volume     float64  `json:"volume"`
	Shuffled   bool     `json:"shuffled"`
	Repeat     string   `json:"repeat"`
}

// command is a message sent to the embedded player.
type command struct {
	Action     string   `json:"action"` // "resume", "pause", "seek", "volume", "play", "state"
	PositionMs int      `json:"position_ms,omitempty"`
	Volume     float64  `json:"volume,omitempty"`
	URIs       []string `json:"uris,omitempty"`
}

// Bridge hosts the websocket endpoint the embedded player connects to.
// A single player connection is active at a time; a new connection
// replaces the previous one.
type Bridge struct {
	config   *core.BridgeConfig
	logger   *zap.Logger
	upgrader websocket.Upgrader
	server   *http.Server

	mu           sync.Mutex
	conn         *websocket.Conn
	stateWaiters []chan core.PlaybackState

	stateHandler func(core.PlaybackState)
	readyHandler func(deviceID string)
	errorHandler func(message string)
}

func New(config *core.BridgeConfig, logger *zap.Logger) *Bridge {
	return &Bridge{
		config: config,
		logger: logger,
		upgrader: websocket.Upgrader{
			// The endpoint only listens on loopback; the embedded player
			// page has no meaningful origin to check.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (b *Bridge) SetStateHandler(handler func(core.PlaybackState)) {
	b.mu.Lock()
	b.stateHandler = handler
	b.mu.Unlock()
}

func (b *Bridge) SetDeviceReadyHandler(handler func(deviceID string)) {
	b.mu.Lock()
	b.readyHandler = handler
	b.mu.Unlock()
}

func (b *Bridge) SetAccountErrorHandler(handler func(message string)) {
	b.mu.Lock()
	b.errorHandler = handler
	b.mu.Unlock()
}

// Start begins listening for the embedded player connection.
func (b *Bridge) Start(_ context.Context) error {
	b.logger.Info("Starting local bridge", zap.String("addr", b.config.ListenAddr))

	listener, err := net.Listen("tcp", b.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", b.config.ListenAddr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/player", b.handleConnection)

	b.server = &http.Server{
		Handler:     mux,
		ReadTimeout: 0, // websocket connections are long-lived
	}

	go func() {
		if serveErr := b.server.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			b.logger.Error("Bridge server stopped", zap.Error(serveErr))
		}
	}()

	return nil
}

// Stop tears the bridge down, closing any player connection.
func (b *Bridge) Stop(ctx context.Context) error {
	b.logger.Info("Stopping local bridge")

	b.mu.Lock()
	if b.conn != nil {
		_ = b.conn.Close()
		b.conn = nil
	}
	server := b.server
	b.mu.Unlock()

	if server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func (b *Bridge) Resume(ctx context.Context) error {
	return b.send(ctx, command{Action: "resume"})
}

func (b *Bridge) Pause(ctx context.Context) error {
	return b.send(ctx, command{Action: "pause"})
}

func (b *Bridge) Seek(ctx context.Context, positionMs int) error {
	return b.send(ctx, command{Action: "seek", PositionMs: positionMs})
}

func (b *Bridge) SetVolume(ctx context.Context, volume float64) error {
	return b.send(ctx, command{Action: "volume", Volume: volume})
}

func (b *Bridge) PlayByURIs(ctx context.Context, uris []string) error {
	if len(uris) == 0 {
		return fmt.Errorf("no uris to play")
	}
	return b.send(ctx, command{Action: "play", URIs: uris})
}

// State queries the embedded player directly and waits for the next state
// event it reports.
func (b *Bridge) State(ctx context.Context) (*core.PlaybackState, error) {
	waiter := make(chan core.PlaybackState, 1)
	b.mu.Lock()
	b.stateWaiters = append(b.stateWaiters, waiter)
	b.mu.Unlock()

	if err := b.send(ctx, command{Action: "state"}); err != nil {
		b.removeWaiter(waiter)
		return nil, err
	}

	timer := time.NewTimer(stateTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		b.removeWaiter(waiter)
		return nil, ctx.Err()
	case <-timer.C:
		b.removeWaiter(waiter)
		return nil, fmt.Errorf("timed out waiting for player state")
	case state := <-waiter:
		return &state, nil
	}
}

func (b *Bridge) handleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}

	b.mu.Lock()
	if b.conn != nil {
		_ = b.conn.Close()
	}
	b.conn = conn
	b.mu.Unlock()

	b.logger.Info("Embedded player connected", zap.String("remote", r.RemoteAddr))

	for {
		_, payload, readErr := conn.ReadMessage()
		if readErr != nil {
			b.logger.Debug("Player connection closed", zap.Error(readErr))
			b.mu.Lock()
			if b.conn == conn {
				b.conn = nil
			}
			b.mu.Unlock()
			return
		}

		var evt event
		if unmarshalErr := json.Unmarshal(payload, &evt); unmarshalErr != nil {
			b.logger.Warn("Discarding malformed player event", zap.Error(unmarshalErr))
			continue
		}

		b.dispatch(evt)
	}
}

func (b *Bridge) dispatch(evt event) {
	switch evt.Type {
	case "ready":
		b.mu.Lock()
		handler := b.readyHandler
		b.mu.Unlock()
		if handler != nil {
			handler(evt.Device)
		}

	case "state":
		if evt.State == nil {
			return
		}
		state := evt.State.toPlaybackState()

		b.mu.Lock()
		handler := b.stateHandler
		waiters := b.stateWaiters
		b.stateWaiters = nil
		b.mu.Unlock()

		for _, waiter := range waiters {
			waiter <- state
		}
		if handler != nil {
			handler(state)
		}

	case "account_error":
		b.mu.Lock()
		handler := b.errorHandler
		b.mu.Unlock()
		if handler != nil {
			handler(evt.Message)
		}

	default:
		b.logger.Debug("Ignoring unknown player event", zap.String("type", evt.Type))
	}
}

func (b *Bridge) send(_ context.Context, cmd command) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil {
		return fmt.Errorf("embedded player not connected")
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}

	if err := b.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := b.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("failed to send %s command: %w", cmd.Action, err)
	}

	return nil
}

func (b *Bridge) removeWaiter(waiter chan core.PlaybackState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, w := range b.stateWaiters {
		if w == waiter {
			b.stateWaiters = append(b.stateWaiters[:i], b.stateWaiters[i+1:]...)
			return
		}
	}
}

func (e *stateEvent) toPlaybackState() core.PlaybackState {
	return core.PlaybackState{
		TrackID:     e.TrackID,
		TrackName:   e.TrackName,
		ArtistNames: e.Artists,
		AlbumName:   e.AlbumName,
		ImageURL:    e.ImageURL,
		PositionMs:  e.PositionMs,
		DurationMs:  e.DurationMs,
		IsPlaying:   e.Playing,
		Volume:      e.Volume,
		Shuffled:    e.Shuffled,
		Repeat:      core.ParseRepeatMode(e.Repeat),
		Timestamp:   time.Now(),
	}
}
