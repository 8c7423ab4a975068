package device

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrUnsupported means the host has no peripheral capability at all.
	ErrUnsupported = errors.New("peripheral capability unsupported")
	// ErrUserCancelled means the user dismissed the device chooser.
	ErrUserCancelled = errors.New("device selection cancelled")
	// ErrHandshakeFailed wraps any discovery or negotiation failure.
	ErrHandshakeFailed = errors.New("device handshake failed")
)

// Peripheral protocol identifiers.
var (
	ServiceID     = uuid.MustParse("12345678-1234-5678-1234-56789abcdef0")
	PatternCharID = uuid.MustParse("12345678-1234-5678-1234-56789abcdef1")
	TapCharID     = uuid.MustParse("12345678-1234-5678-1234-56789abcdef2")
)

// DefaultDeviceName is the advertised name the chooser filters on.
const DefaultDeviceName = "BatDemo"

// DeviceFilter narrows what the host's chooser offers.
type DeviceFilter struct {
	Name     string
	Services []uuid.UUID
}

// Host is the platform capability that discovers peripherals.
type Host interface {
	Supported() bool
	// RequestDevice lets the user pick a device. It returns ErrUserCancelled
	// when the chooser is dismissed.
	RequestDevice(ctx context.Context, filter DeviceFilter) (Device, error)
}

// Device is a discovered peripheral.
type Device interface {
	Name() string
	Connect(ctx context.Context) (Session, error)
}

// Session is an open connection to a device.
type Session interface {
	Service(ctx context.Context, id uuid.UUID) (Service, error)
	// Done is closed when the connection ends for any reason.
	Done() <-chan struct{}
	Close() error
}

// Service groups characteristics.
type Service interface {
	Characteristic(ctx context.Context, id uuid.UUID) (Characteristic, error)
}

// Characteristic is a single read/write/notify endpoint.
type Characteristic interface {
	Write(ctx context.Context, value []byte) error
	// Subscribe starts notifications. The channel closes when the session ends.
	Subscribe(ctx context.Context) (<-chan []byte, error)
}
