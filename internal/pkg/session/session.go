package session

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jake-scott/smartthings-appliances/internal/pkg/certs"
	"github.com/jake-scott/smartthings-appliances/internal/pkg/cloudapi"
	"github.com/jake-scott/smartthings-appliances/internal/pkg/installation"
	"github.com/jake-scott/smartthings-appliances/internal/pkg/logging"
	"github.com/pkg/errors"
)

/*
 *   The streaming session: one persistent, certificate-authenticated
 *   connection per installation, owned by the primary device handle.
 *
 *   Failures never propagate out of Run - the loop logs and retries on
 *   a fixed delay until the context is cancelled at teardown.
 */

type State int32

const (
	Disconnected State = iota
	Connecting
	Subscribing
	Active
	Terminated
)

var stateNames = []string{"disconnected", "connecting", "subscribing", "active", "terminated"}

func (s State) String() string {
	if int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Only this push kind is acted on; everything else is logged and dropped
const pushTypeDeviceStatus = "DEVICE_STATUS"

// DefaultReconnectDelay matches the vendor's reference client: a fixed
// delay, no backoff growth, no attempt limit
const DefaultReconnectDelay = 15 * time.Second

const eventBuffer = 16

// issuer is the slice of certs.Manager the session needs
type issuer interface {
	Ensure(csrPEM, keyPEM string) (*certs.Material, error)
}

type Manager struct {
	cloud  cloudapi.ApplianceCloud
	certs  issuer
	state  *installation.State
	dialer Dialer

	csrPEM string
	keyPEM string

	reconnectDelay time.Duration

	st     atomic.Int32
	events chan Event

	// serialises event delivery against channel close: the transport may
	// invoke the message callback after Disconnect returns
	stopMu  sync.RWMutex
	stopped bool
}

// New builds a session manager.  The CSR and private key are supplied
// externally (generated during setup); the manager only submits them.
func New(cloud cloudapi.ApplianceCloud, certMgr issuer, state *installation.State, dialer Dialer, csrPEM, keyPEM string) *Manager {
	return &Manager{
		cloud:          cloud,
		certs:          certMgr,
		state:          state,
		dialer:         dialer,
		csrPEM:         csrPEM,
		keyPEM:         keyPEM,
		reconnectDelay: DefaultReconnectDelay,
		events:         make(chan Event, eventBuffer),
	}
}

// WithReconnectDelay overrides the fixed reconnection delay
func (m *Manager) WithReconnectDelay(d time.Duration) *Manager {
	m.reconnectDelay = d
	return m
}

// Events is the channel device-status pushes are delivered on.  Closed
// when Run returns.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// State returns the current connection state
func (m *Manager) State() State {
	return State(m.st.Load())
}

func (m *Manager) setState(s State) {
	old := State(m.st.Swap(int32(s)))
	if old != s {
		logging.Logger(nil).Infof("streaming session: %s -> %s", old, s)
	}
}

// Run drives the session until ctx is cancelled.  It blocks; callers
// run it in its own goroutine.  Errors are logged, never returned.
func (m *Manager) Run(ctx context.Context) {
	// shutdown runs first so that once Terminated is observable the
	// event channel is already closed and late messages are dropped
	defer m.setState(Terminated)
	defer m.shutdown()

	for {
		if ctx.Err() != nil {
			return
		}

		m.setState(Connecting)

		conn, err := m.connect(ctx)
		if err != nil {
			logging.Logger(nil).WithError(err).Errorf("streaming session: connect failed, retrying in %s", m.reconnectDelay)
			m.setState(Disconnected)
			if !m.sleep(ctx) {
				return
			}
			continue
		}

		m.setState(Subscribing)

		if err := m.subscribeAll(conn); err != nil {
			logging.Logger(nil).WithError(err).Errorf("streaming session: subscribe failed, retrying in %s", m.reconnectDelay)
			conn.Close()
			m.setState(Disconnected)
			if !m.sleep(ctx) {
				return
			}
			continue
		}

		m.setState(Active)

		select {
		case <-ctx.Done():
			// installation teardown: close cleanly, no further attempts
			conn.Close()
			return

		case err := <-conn.Done():
			logging.Logger(nil).WithError(err).Warnf("streaming session: connection lost, reconnecting in %s", m.reconnectDelay)
			conn.Close()
			m.setState(Disconnected)
			if !m.sleep(ctx) {
				return
			}
		}
	}
}

// shutdown closes the event channel once no delivery is in flight.
// Late messages observe the stopped flag and are dropped.
func (m *Manager) shutdown() {
	m.stopMu.Lock()
	defer m.stopMu.Unlock()
	m.stopped = true
	close(m.events)
}

// sleep waits out the reconnect delay; false means the context was
// cancelled first
func (m *Manager) sleep(ctx context.Context) bool {
	t := time.NewTimer(m.reconnectDelay)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (m *Manager) connect(ctx context.Context) (Conn, error) {
	// Streaming server address: cached in the installation, discovered
	// through the route call on first use
	address := m.state.RouteAddress()
	if address == "" {
		var err error
		if address, err = m.cloud.Route(); err != nil {
			return nil, errors.Wrap(err, "resolving streaming server address")
		}

		m.state.SetRouteAddress(address)
		if err := m.state.Persist(); err != nil {
			logging.Logger(nil).WithError(err).Warn("persisting streaming route")
		}
	}

	material, err := m.certs.Ensure(m.csrPEM, m.keyPEM)
	if err != nil {
		return nil, errors.Wrap(err, "obtaining certificate material")
	}

	onMessage := func(topic string, payload []byte) {
		m.dispatch(ctx, topic, payload)
	}

	conn, err := m.dialer.Dial(address, m.state.ClientID(), material, onMessage)
	if err != nil {
		return nil, errors.Wrapf(err, "opening streaming connection to %s", address)
	}

	return conn, nil
}

func (m *Manager) subscribeAll(conn Conn) error {
	topics := m.state.Subscriptions()
	for _, topic := range topics {
		if err := conn.Subscribe(topic); err != nil {
			return err
		}
		logging.Logger(nil).Debugf("streaming session: subscribed to %s", topic)
	}

	logging.Logger(nil).Infof("streaming session: %d topic subscriptions issued", len(topics))
	return nil
}

type pushEnvelope struct {
	PushType string          `json:"pushType"`
	DeviceID string          `json:"deviceId"`
	Report   json.RawMessage `json:"report"`
}

// dispatch parses one inbound message and forwards device-status events.
// Malformed or unknown messages are logged and dropped, never fatal.
func (m *Manager) dispatch(ctx context.Context, topic string, payload []byte) {
	env := pushEnvelope{}
	if err := json.Unmarshal(payload, &env); err != nil {
		logging.Logger(nil).WithError(err).Warnf("streaming session: unparseable message on %s", topic)
		return
	}

	if env.PushType != pushTypeDeviceStatus {
		logging.Logger(nil).Debugf("streaming session: ignoring push type [%s]", env.PushType)
		return
	}

	report := cloudapi.StateDocument{}
	if len(env.Report) > 0 {
		if err := json.Unmarshal(env.Report, &report); err != nil {
			logging.Logger(nil).WithError(err).Warnf("streaming session: bad report for device %s", env.DeviceID)
			return
		}
	}

	m.stopMu.RLock()
	defer m.stopMu.RUnlock()

	if m.stopped {
		logging.Logger(nil).Debugf("streaming session: dropping late message for device %s", env.DeviceID)
		return
	}

	select {
	case m.events <- Event{DeviceID: env.DeviceID, Report: report}:
	case <-ctx.Done():
	}
}
