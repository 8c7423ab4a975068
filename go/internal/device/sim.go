package device

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

var errSimClosed = errors.New("sim session closed")

// SimHost is an in-memory host offering a single simulated peripheral.
type SimHost struct {
	mu            sync.Mutex
	unsupported   bool
	cancelChooser bool
	peripheral    *SimPeripheral
}

// NewSimHost creates a host that offers p in its chooser.
func NewSimHost(p *SimPeripheral) *SimHost {
	return &SimHost{peripheral: p}
}

// SetSupported toggles whether the host claims peripheral support.
func (h *SimHost) SetSupported(supported bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsupported = !supported
}

// SetCancelChooser makes the next chooser prompts fail as if dismissed.
func (h *SimHost) SetCancelChooser(cancel bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancelChooser = cancel
}

func (h *SimHost) Supported() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.unsupported
}

func (h *SimHost) RequestDevice(ctx context.Context, filter DeviceFilter) (Device, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if h.cancelChooser {
		return nil, ErrUserCancelled
	}
	if h.peripheral == nil {
		return nil, errors.New("no devices in range")
	}
	if filter.Name != "" && filter.Name != h.peripheral.name {
		return nil, fmt.Errorf("no device named %q in range", filter.Name)
	}
	return h.peripheral, nil
}

// SimPeripheral emulates the tap/pattern peripheral.
type SimPeripheral struct {
	name      string
	serviceID uuid.UUID
	patternID uuid.UUID
	tapID     uuid.UUID

	mu          sync.Mutex
	session     *simSession
	writes      [][]byte
	missing     map[uuid.UUID]bool
	failConnect error
}

// NewSimPeripheral creates a peripheral exposing the stock service layout.
func NewSimPeripheral(name string) *SimPeripheral {
	return &SimPeripheral{
		name:      name,
		serviceID: ServiceID,
		patternID: PatternCharID,
		tapID:     TapCharID,
		missing:   make(map[uuid.UUID]bool),
	}
}

func (p *SimPeripheral) Name() string {
	return p.name
}

// RemoveCharacteristic hides a characteristic so negotiation fails.
func (p *SimPeripheral) RemoveCharacteristic(id uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.missing[id] = true
}

// FailConnect makes Connect return err until cleared with nil.
func (p *SimPeripheral) FailConnect(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failConnect = err
}

func (p *SimPeripheral) Connect(ctx context.Context) (Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failConnect != nil {
		return nil, p.failConnect
	}
	if p.session != nil {
		p.session.closeLocked()
	}
	p.session = &simSession{
		peripheral: p,
		done:       make(chan struct{}),
		notes:      make(chan []byte, 64),
	}
	return p.session, nil
}

// Connected reports whether a session is open.
func (p *SimPeripheral) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session != nil && !p.session.closed
}

// Tap sends a tap notification. It reports false when nobody is subscribed.
func (p *SimPeripheral) Tap(payload []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.session
	if s == nil || s.closed || !s.subscribed {
		return false
	}
	select {
	case s.notes <- append([]byte(nil), payload...):
		return true
	default:
		return false
	}
}

// Drop ends the session as if the peripheral went out of range.
func (p *SimPeripheral) Drop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != nil {
		p.session.closeLocked()
	}
}

// Writes returns every frame written to the pattern characteristic.
func (p *SimPeripheral) Writes() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([][]byte, len(p.writes))
	for i, w := range p.writes {
		out[i] = append([]byte(nil), w...)
	}
	return out
}

type simSession struct {
	peripheral *SimPeripheral
	done       chan struct{}
	notes      chan []byte
	closed     bool
	subscribed bool
}

// closeLocked requires peripheral.mu.
func (s *simSession) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	close(s.notes)
}

func (s *simSession) Service(ctx context.Context, id uuid.UUID) (Service, error) {
	p := s.peripheral
	p.mu.Lock()
	defer p.mu.Unlock()

	if s.closed {
		return nil, errSimClosed
	}
	if id != p.serviceID || p.missing[id] {
		return nil, fmt.Errorf("service %s not found", id)
	}
	return &simService{session: s}, nil
}

func (s *simSession) Done() <-chan struct{} {
	return s.done
}

func (s *simSession) Close() error {
	s.peripheral.mu.Lock()
	defer s.peripheral.mu.Unlock()
	s.closeLocked()
	return nil
}

type simService struct {
	session *simSession
}

func (svc *simService) Characteristic(ctx context.Context, id uuid.UUID) (Characteristic, error) {
	p := svc.session.peripheral
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.missing[id] || (id != p.patternID && id != p.tapID) {
		return nil, fmt.Errorf("characteristic %s not found", id)
	}
	return &simCharacteristic{session: svc.session, id: id}, nil
}

type simCharacteristic struct {
	session *simSession
	id      uuid.UUID
}

func (c *simCharacteristic) Write(ctx context.Context, value []byte) error {
	p := c.session.peripheral
	p.mu.Lock()
	defer p.mu.Unlock()

	if c.session.closed {
		return errSimClosed
	}
	if c.id != p.patternID {
		return fmt.Errorf("characteristic %s is not writable", c.id)
	}
	p.writes = append(p.writes, append([]byte(nil), value...))
	return nil
}

func (c *simCharacteristic) Subscribe(ctx context.Context) (<-chan []byte, error) {
	p := c.session.peripheral
	p.mu.Lock()
	defer p.mu.Unlock()

	if c.session.closed {
		return nil, errSimClosed
	}
	if c.id != p.tapID {
		return nil, fmt.Errorf("characteristic %s does not notify", c.id)
	}
	c.session.subscribed = true
	return c.session.notes, nil
}
