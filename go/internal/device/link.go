package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/cuecast/go/internal/metrics"
	"github.com/mcdev12/cuecast/go/internal/models"
	"github.com/rs/zerolog/log"
)

// State is the connection state of a Link.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// EventKind distinguishes link events.
type EventKind int

const (
	EventTap EventKind = iota
	EventDisconnected
)

// Event is delivered on the link's event channel.
type Event struct {
	Kind         EventKind
	At           time.Time
	ConnectionID string
	// Spontaneous is set on EventDisconnected when the peripheral or host
	// dropped the connection rather than the caller.
	Spontaneous bool
}

// ConnectionInfo describes the live connection.
type ConnectionInfo struct {
	ID          string
	DeviceName  string
	ConnectedAt time.Time
}

// Config identifies the peripheral protocol.
type Config struct {
	DeviceName  string
	ServiceID   uuid.UUID
	PatternID   uuid.UUID
	TapID       uuid.UUID
	EventBuffer int
}

// DefaultConfig returns the protocol identifiers of the stock peripheral.
func DefaultConfig() Config {
	return Config{
		DeviceName:  DefaultDeviceName,
		ServiceID:   ServiceID,
		PatternID:   PatternCharID,
		TapID:       TapCharID,
		EventBuffer: 256,
	}
}

// LinkMetrics observes pattern writes and connectivity.
type LinkMetrics interface {
	RecordPatternWrite(result string)
	SetDeviceConnected(connected bool)
}

type noopLinkMetrics struct{}

func (noopLinkMetrics) RecordPatternWrite(string) {}
func (noopLinkMetrics) SetDeviceConnected(bool)   {}

// connection is owned by the Link; callers only see ConnectionInfo.
type connection struct {
	info    ConnectionInfo
	session Session
	pattern Characteristic
	cancel  context.CancelFunc
}

// Link manages the single peripheral connection of a viewer.
type Link struct {
	host    Host
	config  Config
	clock   clockwork.Clock
	metrics LinkMetrics

	mu    sync.Mutex
	state State
	// gen increments whenever a connect attempt is superseded
	gen  uint64
	conn *connection

	events chan Event
}

// NewLink creates a disconnected link. Nil clock and metrics use defaults.
func NewLink(host Host, config Config, clock clockwork.Clock, m LinkMetrics) *Link {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if m == nil {
		m = noopLinkMetrics{}
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = DefaultConfig().EventBuffer
	}
	return &Link{
		host:    host,
		config:  config,
		clock:   clock,
		metrics: m,
		events:  make(chan Event, config.EventBuffer),
	}
}

// Events delivers taps and disconnects for the lifetime of the link.
func (l *Link) Events() <-chan Event {
	return l.events
}

// State returns the current connection state.
func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Connection returns the live connection, if any.
func (l *Link) Connection() (ConnectionInfo, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return ConnectionInfo{}, false
	}
	return l.conn.info, true
}

// Connect discovers the peripheral, negotiates the pattern and tap
// characteristics and subscribes to taps. Calling it while connected returns
// the existing connection.
func (l *Link) Connect(ctx context.Context) (ConnectionInfo, error) {
	if l.host == nil || !l.host.Supported() {
		log.Warn().Msg("peripheral capability unsupported on this host")
		return ConnectionInfo{}, ErrUnsupported
	}

	l.mu.Lock()
	switch l.state {
	case StateConnected:
		info := l.conn.info
		l.mu.Unlock()
		return info, nil
	case StateConnecting:
		l.mu.Unlock()
		return ConnectionInfo{}, fmt.Errorf("%w: connect already in progress", ErrHandshakeFailed)
	}
	l.state = StateConnecting
	l.gen++
	gen := l.gen
	l.mu.Unlock()

	conn, notes, err := l.handshake(ctx)
	if err != nil {
		l.mu.Lock()
		if l.gen == gen {
			l.state = StateDisconnected
		}
		l.mu.Unlock()

		log.Warn().Err(err).Msg("device connect failed")
		return ConnectionInfo{}, err
	}

	l.mu.Lock()
	if l.gen != gen {
		// Disconnect was called while the handshake was in flight
		l.mu.Unlock()
		_ = conn.session.Close()
		return ConnectionInfo{}, fmt.Errorf("%w: superseded by disconnect", ErrHandshakeFailed)
	}
	watchCtx, cancel := context.WithCancel(context.Background())
	conn.cancel = cancel
	l.conn = conn
	l.state = StateConnected
	l.mu.Unlock()

	l.metrics.SetDeviceConnected(true)
	go l.watch(watchCtx, conn, notes)

	log.Info().
		Str("connection_id", conn.info.ID).
		Str("device", conn.info.DeviceName).
		Msg("device connected")

	return conn.info, nil
}

func handshakeErr(step string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrHandshakeFailed, step, err)
}

func (l *Link) handshake(ctx context.Context) (*connection, <-chan []byte, error) {
	dev, err := l.host.RequestDevice(ctx, DeviceFilter{
		Name:     l.config.DeviceName,
		Services: []uuid.UUID{l.config.ServiceID},
	})
	if err != nil {
		if errors.Is(err, ErrUserCancelled) {
			return nil, nil, err
		}
		return nil, nil, handshakeErr("request device", err)
	}

	session, err := dev.Connect(ctx)
	if err != nil {
		return nil, nil, handshakeErr("connect", err)
	}

	fail := func(step string, err error) (*connection, <-chan []byte, error) {
		_ = session.Close()
		return nil, nil, handshakeErr(step, err)
	}

	svc, err := session.Service(ctx, l.config.ServiceID)
	if err != nil {
		return fail("get service", err)
	}
	pattern, err := svc.Characteristic(ctx, l.config.PatternID)
	if err != nil {
		return fail("get pattern characteristic", err)
	}
	tap, err := svc.Characteristic(ctx, l.config.TapID)
	if err != nil {
		return fail("get tap characteristic", err)
	}
	notes, err := tap.Subscribe(ctx)
	if err != nil {
		return fail("subscribe to taps", err)
	}

	name := dev.Name()
	if name == "" {
		name = l.config.DeviceName
	}

	return &connection{
		info: ConnectionInfo{
			ID:          uuid.New().String(),
			DeviceName:  name,
			ConnectedAt: l.clock.Now(),
		},
		session: session,
		pattern: pattern,
	}, notes, nil
}

// watch translates notifications into tap events until the connection ends.
func (l *Link) watch(ctx context.Context, conn *connection, notes <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.session.Done():
			l.drop(conn)
			return
		case payload, ok := <-notes:
			if !ok {
				l.drop(conn)
				return
			}
			if CountsAsTap(payload) {
				l.emit(Event{Kind: EventTap, At: l.clock.Now(), ConnectionID: conn.info.ID})
			}
		}
	}
}

// drop handles a disconnect the caller did not ask for.
func (l *Link) drop(conn *connection) {
	l.mu.Lock()
	if l.conn != conn {
		l.mu.Unlock()
		return
	}
	l.conn = nil
	l.state = StateDisconnected
	l.gen++
	l.mu.Unlock()

	conn.cancel()
	l.metrics.SetDeviceConnected(false)

	log.Warn().
		Str("connection_id", conn.info.ID).
		Str("device", conn.info.DeviceName).
		Msg("device disconnected unexpectedly")

	l.emit(Event{Kind: EventDisconnected, At: l.clock.Now(), ConnectionID: conn.info.ID, Spontaneous: true})
}

// Disconnect ends the connection from any state. It is idempotent and
// supersedes an in-flight Connect.
func (l *Link) Disconnect() {
	l.mu.Lock()
	conn := l.conn
	l.conn = nil
	l.state = StateDisconnected
	l.gen++
	l.mu.Unlock()

	if conn == nil {
		return
	}

	conn.cancel()
	if err := conn.session.Close(); err != nil {
		log.Debug().Err(err).Str("connection_id", conn.info.ID).Msg("error closing device session")
	}
	l.metrics.SetDeviceConnected(false)

	log.Info().Str("connection_id", conn.info.ID).Msg("device disconnected")
	l.emit(Event{Kind: EventDisconnected, At: l.clock.Now(), ConnectionID: conn.info.ID})
}

// WritePattern sends a pattern id. While disconnected it is a silent no-op.
func (l *Link) WritePattern(ctx context.Context, pattern byte) error {
	return l.write(ctx, []byte{pattern})
}

// SendCommand writes an operator command frame.
func (l *Link) SendCommand(ctx context.Context, cmd Command, intensity int) error {
	return l.write(ctx, EncodeCommand(cmd, intensity))
}

// SendCue drives the peripheral directly with a cue's operator command.
// Stop always carries zero intensity.
func (l *Link) SendCue(ctx context.Context, key models.CueKey, intensity int) error {
	cmd := CommandFor(key)
	if cmd == CommandStop {
		intensity = 0
	}
	return l.SendCommand(ctx, cmd, intensity)
}

// SetIntensity updates the playback strength without changing the pattern.
func (l *Link) SetIntensity(ctx context.Context, intensity int) error {
	return l.SendCommand(ctx, CommandIntensity, intensity)
}

func (l *Link) write(ctx context.Context, payload []byte) error {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()

	if conn == nil {
		l.metrics.RecordPatternWrite(metrics.WriteIgnored)
		log.Debug().Hex("payload", payload).Msg("write ignored while disconnected")
		return nil
	}

	if err := conn.pattern.Write(ctx, payload); err != nil {
		l.metrics.RecordPatternWrite(metrics.WriteFailed)
		return fmt.Errorf("write to %s: %w", conn.info.DeviceName, err)
	}
	l.metrics.RecordPatternWrite(metrics.WriteWritten)
	return nil
}

func (l *Link) emit(ev Event) {
	select {
	case l.events <- ev:
	default:
		log.Warn().Int("kind", int(ev.Kind)).Msg("device event buffer full, dropping event")
	}
}
