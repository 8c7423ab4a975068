package viewer

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/cuecast/go/internal/device"
	"github.com/mcdev12/cuecast/go/internal/metrics"
	"github.com/mcdev12/cuecast/go/internal/models"
	"github.com/mcdev12/cuecast/go/internal/taps"
	"github.com/rs/zerolog/log"
)

const (
	DefaultPollInterval = 350 * time.Millisecond
	MinPollInterval     = 200 * time.Millisecond
	MaxPollInterval     = 500 * time.Millisecond
)

// CueChannel fetches a room's record. A nil record means unchanged.
type CueChannel interface {
	Poll(ctx context.Context, room string, since int64) (*models.CueRecord, error)
}

// DeviceLink is the peripheral capability the controller drives.
type DeviceLink interface {
	Connect(ctx context.Context) (device.ConnectionInfo, error)
	Disconnect()
	WritePattern(ctx context.Context, pattern byte) error
	SetIntensity(ctx context.Context, intensity int) error
	Connection() (device.ConnectionInfo, bool)
	Events() <-chan device.Event
}

// detachedLink stands in when no peripheral is configured.
type detachedLink struct{}

func (detachedLink) Connect(context.Context) (device.ConnectionInfo, error) {
	return device.ConnectionInfo{}, device.ErrUnsupported
}
func (detachedLink) Disconnect()                               {}
func (detachedLink) WritePattern(context.Context, byte) error  { return nil }
func (detachedLink) SetIntensity(context.Context, int) error   { return nil }
func (detachedLink) Connection() (device.ConnectionInfo, bool) { return device.ConnectionInfo{}, false }
func (detachedLink) Events() <-chan device.Event               { return nil }

// Metrics records viewer-side activity.
type Metrics interface {
	RecordPoll(result string)
	RecordTap(outcome string)
}

type noopMetrics struct{}

func (noopMetrics) RecordPoll(string) {}
func (noopMetrics) RecordTap(string)  {}

// Config holds controller settings.
type Config struct {
	PollInterval time.Duration
	// Rand picks missions. Nil seeds one from the clock.
	Rand *rand.Rand
}

// ClampPollInterval keeps the interval inside the supported range. Zero
// selects the default.
func ClampPollInterval(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultPollInterval
	case d < MinPollInterval:
		return MinPollInterval
	case d > MaxPollInterval:
		return MaxPollInterval
	}
	return d
}

// Controller is the single logical actor of a viewer: it polls the cue
// channel, forwards cue patterns to the device and counts taps.
type Controller struct {
	channel CueChannel
	link    DeviceLink
	clock   clockwork.Clock
	metrics Metrics
	config  Config

	mu           sync.Mutex
	state        State
	taps         *taps.Aggregator
	health       SyncHealth
	connectionID string

	// writeMu orders device writes the same way their decisions were made.
	// It is taken before mu is released.
	writeMu sync.Mutex
}

// NewController creates a controller starting from initial.
func NewController(channel CueChannel, link DeviceLink, clock clockwork.Clock, m Metrics, config Config, initial State) *Controller {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if m == nil {
		m = noopMetrics{}
	}
	if link == nil {
		link = detachedLink{}
	}
	if config.Rand == nil {
		seed := uint64(clock.Now().UnixNano())
		config.Rand = rand.New(rand.NewPCG(seed, seed>>1|1))
	}
	config.PollInterval = ClampPollInterval(config.PollInterval)

	return &Controller{
		channel: channel,
		link:    link,
		clock:   clock,
		metrics: m,
		config:  config,
		state:   initial.normalize(),
		taps:    taps.NewAggregator(),
		health:  SyncUnknown,
	}
}

// Run polls on every tick and handles device events until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	ticker := c.clock.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	events := c.link.Events()

	log.Info().
		Str("room", c.Snapshot().Room).
		Dur("interval", c.config.PollInterval).
		Msg("viewer controller started")

	c.PollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("viewer controller stopped")
			return ctx.Err()
		case <-ticker.Chan():
			c.PollOnce(ctx)
		case ev := <-events:
			c.HandleEvent(ctx, ev)
		}
	}
}

// PollOnce performs one poll. Failures only degrade sync health.
func (c *Controller) PollOnce(ctx context.Context) {
	c.mu.Lock()
	room, since := c.state.Room, c.state.LastSeq
	c.mu.Unlock()

	rec, err := c.channel.Poll(ctx, room, since)

	c.mu.Lock()
	if err != nil {
		if c.health != SyncDegraded {
			log.Warn().Err(err).Str("room", room).Msg("cue sync degraded")
		}
		c.health = SyncDegraded
		c.mu.Unlock()
		c.metrics.RecordPoll(metrics.PollFailed)
		return
	}

	if c.health == SyncDegraded {
		log.Info().Str("room", room).Msg("cue sync recovered")
	}
	c.health = SyncOK

	// The room changed while the request was in flight
	if c.state.Room != room || rec == nil || rec.Seq < 1 || rec.Seq == c.state.LastSeq {
		c.mu.Unlock()
		c.metrics.RecordPoll(metrics.PollUnchanged)
		return
	}

	key := rec.CueKey
	if !key.Valid() {
		key = models.CueKeyStop
	}
	c.state.LastSeq = rec.Seq
	c.state.CueKey = key
	c.state.LastCueAt = rec.At
	c.state.CueCount++
	forward := !c.state.Paused && !c.state.Muted

	log.Info().
		Str("room", room).
		Int64("seq", rec.Seq).
		Str("cue_key", string(key)).
		Bool("forwarded", forward).
		Msg("cue changed")

	if !forward {
		c.mu.Unlock()
		c.metrics.RecordPoll(metrics.PollChanged)
		return
	}

	c.writeMu.Lock()
	c.mu.Unlock()
	defer c.writeMu.Unlock()

	c.metrics.RecordPoll(metrics.PollChanged)
	if err := c.link.WritePattern(ctx, device.PatternFor(key)); err != nil {
		log.Warn().Err(err).Str("cue_key", string(key)).Msg("failed to forward cue pattern")
	}
}

// HandleEvent applies a device event.
func (c *Controller) HandleEvent(ctx context.Context, ev device.Event) {
	switch ev.Kind {
	case device.EventTap:
		c.handleTap(ev)
	case device.EventDisconnected:
		c.mu.Lock()
		current := ev.ConnectionID == c.connectionID
		if current {
			c.connectionID = ""
		}
		c.mu.Unlock()

		if current && ev.Spontaneous {
			log.Warn().Str("connection_id", ev.ConnectionID).Msg("device lost, reconnect required")
		}
	}
}

func (c *Controller) handleTap(ev device.Event) {
	at := ev.At
	if at.IsZero() {
		at = c.clock.Now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Screen != ScreenLive || c.state.Paused {
		c.metrics.RecordTap(metrics.TapDropped)
		return
	}
	c.state.HitCount++
	c.taps.RecordTap(at)
	c.metrics.RecordTap(metrics.TapCounted)
}

// ConnectDevice connects the peripheral and applies the intensity limit.
func (c *Controller) ConnectDevice(ctx context.Context) (device.ConnectionInfo, error) {
	info, err := c.link.Connect(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("could not connect to device")
		return device.ConnectionInfo{}, err
	}

	c.mu.Lock()
	// A drop during the handshake may already have been handled with no
	// connection on record.
	if current, ok := c.link.Connection(); !ok || current.ID != info.ID {
		c.mu.Unlock()
		log.Warn().Str("connection_id", info.ID).Msg("device lost while connecting")
		return device.ConnectionInfo{}, fmt.Errorf("%w: connection %s dropped", device.ErrHandshakeFailed, info.ID)
	}
	c.connectionID = info.ID
	limit := c.state.IntensityLimit
	c.writeMu.Lock()
	c.mu.Unlock()
	defer c.writeMu.Unlock()

	if err := c.link.SetIntensity(ctx, intensityFor(limit)); err != nil {
		log.Warn().Err(err).Msg("failed to apply intensity limit")
	}

	log.Info().
		Str("connection_id", info.ID).
		Str("device", info.DeviceName).
		Msg("device connected")
	return info, nil
}

// DisconnectDevice releases the peripheral.
func (c *Controller) DisconnectDevice() {
	c.link.Disconnect()

	c.mu.Lock()
	c.connectionID = ""
	c.mu.Unlock()
}

// EmergencyStop pauses and mutes, then writes the stop pattern regardless of
// either flag.
func (c *Controller) EmergencyStop(ctx context.Context) error {
	c.mu.Lock()
	c.state.Paused = true
	c.state.Muted = true
	c.writeMu.Lock()
	c.mu.Unlock()
	defer c.writeMu.Unlock()

	err := c.link.WritePattern(ctx, device.PatternStop)
	if err != nil {
		log.Error().Err(err).Msg("emergency stop could not reach device")
		return fmt.Errorf("emergency stop: %w", err)
	}
	log.Warn().Msg("emergency stop acknowledged")
	return nil
}

// Resume clears pause and mute and re-sends the current cue's pattern.
func (c *Controller) Resume(ctx context.Context) error {
	c.mu.Lock()
	c.state.Paused = false
	c.state.Muted = false
	key := c.state.CueKey
	c.writeMu.Lock()
	c.mu.Unlock()
	defer c.writeMu.Unlock()

	if err := c.link.WritePattern(ctx, device.PatternFor(key)); err != nil {
		log.Error().Err(err).Msg("resume could not reach device")
		return fmt.Errorf("resume: %w", err)
	}
	log.Info().Str("cue_key", string(key)).Msg("resume acknowledged")
	return nil
}

// TogglePause flips the paused flag and returns the new value.
func (c *Controller) TogglePause() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Paused = !c.state.Paused
	return c.state.Paused
}

// ToggleMute flips the muted flag and returns the new value.
func (c *Controller) ToggleMute() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Muted = !c.state.Muted
	return c.state.Muted
}

// SetRoom switches rooms. The next poll is a full fetch.
func (c *Controller) SetRoom(room string) {
	room = strings.TrimSpace(room)
	if room == "" {
		room = models.DefaultRoom
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if room == c.state.Room {
		return
	}
	c.state.Room = room
	c.state.LastSeq = 0
	log.Info().Str("room", room).Msg("room changed")
}

// SetAge records the age preset that unlocks the pregame screen.
func (c *Controller) SetAge(age int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Age = age
}

// SetMode picks the game mode.
func (c *Controller) SetMode(mode GameMode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Mode = mode
	return nil
}

// SetGame selects the game being watched.
func (c *Controller) SetGame(gameID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gameID = strings.TrimSpace(gameID); gameID != "" {
		c.state.GameID = gameID
	}
}

// SetIntensityLimit stores the 1..5 limit and pushes it to a connected device.
func (c *Controller) SetIntensityLimit(ctx context.Context, limit int) error {
	limit = clamp(limit, MinIntensityLimit, MaxIntensityLimit)

	c.mu.Lock()
	c.state.IntensityLimit = limit
	c.writeMu.Lock()
	c.mu.Unlock()
	defer c.writeMu.Unlock()

	return c.link.SetIntensity(ctx, intensityFor(limit))
}

func intensityFor(limit int) int {
	return limit * 100 / MaxIntensityLimit
}

// Go navigates to screen.
func (c *Controller) Go(screen Screen) error {
	if !screen.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownScreen, screen)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if screen == ScreenPregame && c.state.Age <= 0 {
		return ErrAgeRequired
	}
	c.state.Screen = screen
	return nil
}

// StartGame resets the game counters and enters the live screen.
func (c *Controller) StartGame() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Mode == "" {
		return ErrModeRequired
	}
	if c.state.MissionParent == "" || c.state.MissionChild == "" {
		c.state.MissionParent, c.state.MissionChild = c.pickMissions()
	}
	c.state.HitCount = 0
	c.state.CueKey = models.CueKeyStop
	c.state.CueCount = 0
	c.state.LastCueAt = time.Time{}
	c.state.Paused = false
	c.state.Muted = false
	c.state.Screen = ScreenLive
	c.taps.Reset()

	log.Info().Str("game_id", c.state.GameID).Str("mode", string(c.state.Mode)).Msg("game started")
	return nil
}

// GenerateMissions draws a fresh pair of missions and returns them.
func (c *Controller) GenerateMissions() (parent, child string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.MissionParent, c.state.MissionChild = c.pickMissions()
	return c.state.MissionParent, c.state.MissionChild
}

// pickMissions requires mu; Rand is not safe for concurrent use.
func (c *Controller) pickMissions() (string, string) {
	r := c.config.Rand
	return parentMissions[r.IntN(len(parentMissions))], childMissions[r.IntN(len(childMissions))]
}

// FinishGame moves to the post screen and summarizes the game.
func (c *Controller) FinishGame() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.Screen = ScreenPost
	return Summary{
		Hits:    c.state.HitCount,
		Cues:    c.state.CueCount,
		Mode:    c.state.Mode,
		GameID:  c.state.GameID,
		Message: summaryMessage(c.state.HitCount),
	}
}

// Reset returns the session to defaults, keeping the room.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	room := c.state.Room
	c.state = DefaultState()
	c.state.Room = room
	c.taps.Reset()
}

// Display returns the tap meter at now.
func (c *Controller) Display(now time.Time) Display {
	c.mu.Lock()
	defer c.mu.Unlock()

	rate := c.taps.Rate(now)
	return Display{
		Hits:      c.state.HitCount,
		PerMinute: rate,
		Tier:      taps.IntensityTier(c.state.HitCount),
		Surging:   taps.IsSurging(rate),
		CueKey:    c.state.CueKey,
		Connected: c.connectionID != "",
		Health:    c.health,
	}
}

// SyncHealth reports the outcome of the latest poll.
func (c *Controller) SyncHealth() SyncHealth {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.health
}

// Snapshot returns a copy of the persistent state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Restore replaces the persistent state. The tap window is not persisted.
func (c *Controller) Restore(state State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state.normalize()
	c.taps.Reset()
}
