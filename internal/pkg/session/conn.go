package session

import (
	"github.com/jake-scott/smartthings-appliances/internal/pkg/certs"
	"github.com/jake-scott/smartthings-appliances/internal/pkg/cloudapi"
)

// Event is one device-status push received on the streaming connection
type Event struct {
	DeviceID string
	Report   cloudapi.StateDocument
}

// MessageHandler receives every raw inbound message
type MessageHandler func(topic string, payload []byte)

// Conn is one established streaming connection.  Done yields exactly
// one error when the transport fails; Close is safe to call at any
// point after Dial returns.
type Conn interface {
	Subscribe(topic string) error
	Close()
	Done() <-chan error
}

// Dialer opens a mutually authenticated streaming connection.  The
// manager owns reconnection, so implementations must not reconnect on
// their own.
type Dialer interface {
	Dial(address string, clientID string, material *certs.Material, onMessage MessageHandler) (Conn, error)
}
