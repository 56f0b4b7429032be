package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jake-scott/smartthings-appliances/internal/pkg/certs"
	"github.com/jake-scott/smartthings-appliances/internal/pkg/cloudapi"
	"github.com/jake-scott/smartthings-appliances/internal/pkg/installation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCloud struct {
	route      string
	routeCalls int
}

func (f *fakeCloud) WithAccessToken(string) cloudapi.ApplianceCloud { return f }

func (f *fakeCloud) WithTimeout(time.Duration) cloudapi.ApplianceCloud { return f }

func (f *fakeCloud) Devices() ([]cloudapi.ApplianceSummary, error) { return nil, nil }

func (f *fakeCloud) DeviceProfile(string) (cloudapi.StateDocument, error) { return nil, nil }

func (f *fakeCloud) DeviceState(string) (cloudapi.StateDocument, error) { return nil, nil }

func (f *fakeCloud) Control(string, cloudapi.StateDocument) (cloudapi.StateDocument, error) {
	return nil, nil
}

func (f *fakeCloud) Route() (string, error) {
	f.routeCalls++
	return f.route, nil
}

func (f *fakeCloud) RegisterClient() error { return nil }

func (f *fakeCloud) IssueCertificate(string) (*cloudapi.CertificateGrant, error) {
	return nil, nil
}

func (f *fakeCloud) SubscribeEvents(string, time.Duration) error { return nil }

type fakeIssuer struct {
	material *certs.Material
}

func (f *fakeIssuer) Ensure(csrPEM, keyPEM string) (*certs.Material, error) {
	return f.material, nil
}

type fakeConn struct {
	mu         sync.Mutex
	subscribed []string
	closed     bool
	done       chan error
}

func newFakeConn() *fakeConn {
	return &fakeConn{done: make(chan error, 1)}
}

func (c *fakeConn) Subscribe(topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed = append(c.subscribed, topic)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) Done() <-chan error {
	return c.done
}

func (c *fakeConn) fail(err error) {
	c.done <- err
}

type fakeDialer struct {
	mu        sync.Mutex
	failures  int
	attempts  []time.Time
	conns     []*fakeConn
	onMessage MessageHandler
}

func (d *fakeDialer) Dial(address string, clientID string, material *certs.Material, onMessage MessageHandler) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.attempts = append(d.attempts, time.Now())
	if len(d.attempts) <= d.failures {
		return nil, assert.AnError
	}

	c := newFakeConn()
	d.conns = append(d.conns, c)
	d.onMessage = onMessage
	return c, nil
}

func (d *fakeDialer) attemptCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.attempts)
}

func (d *fakeDialer) lastConn() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func (d *fakeDialer) handler() MessageHandler {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.onMessage
}

func testManager(dialer Dialer, delay time.Duration) (*Manager, *installation.State) {
	state := installation.New()
	state.SetRouteAddress("ssl://mqtt.example.com:8883")
	state.SetSubscriptions([]string{"app/clients/x/push", "app/clients/x/event"})

	issuer := &fakeIssuer{material: &certs.Material{CertPEM: "CERT", KeyPEM: "KEY"}}

	m := New(&fakeCloud{}, issuer, state, dialer, "CSR", "KEY").WithReconnectDelay(delay)
	return m, state
}

func waitForState(t *testing.T, m *Manager, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return m.State() == want
	}, time.Second*5, time.Millisecond*5, "waiting for state %s, still %s", want, m.State())
}

func TestSessionReachesActive(t *testing.T) {
	dialer := &fakeDialer{}
	m, _ := testManager(dialer, time.Millisecond*10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	waitForState(t, m, Active)

	conn := dialer.lastConn()
	require.NotNil(t, conn)
	assert.ElementsMatch(t, []string{"app/clients/x/push", "app/clients/x/event"}, conn.subscribed)
}

// With a transport that fails N times then succeeds, the session
// reaches Active after at most N+1 attempts, each separated by at
// least the reconnect delay
func TestReconnectionLiveness(t *testing.T) {
	const failures = 3
	delay := time.Millisecond * 50

	dialer := &fakeDialer{failures: failures}
	m, _ := testManager(dialer, delay)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	waitForState(t, m, Active)
	assert.Equal(t, failures+1, dialer.attemptCount())

	dialer.mu.Lock()
	defer dialer.mu.Unlock()
	for i := 1; i < len(dialer.attempts); i++ {
		gap := dialer.attempts[i].Sub(dialer.attempts[i-1])
		assert.GreaterOrEqual(t, gap, delay, "attempt %d followed too quickly", i)
	}
}

// A lost connection loops back through Disconnected and Connecting to
// Active again
func TestReconnectAfterConnectionLoss(t *testing.T) {
	dialer := &fakeDialer{}
	m, _ := testManager(dialer, time.Millisecond*10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	waitForState(t, m, Active)
	dialer.lastConn().fail(assert.AnError)

	require.Eventually(t, func() bool {
		return dialer.attemptCount() == 2 && m.State() == Active
	}, time.Second*5, time.Millisecond*5)
}

func TestTeardownTerminates(t *testing.T) {
	dialer := &fakeDialer{}
	m, _ := testManager(dialer, time.Millisecond*10)

	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx)

	waitForState(t, m, Active)
	cancel()
	waitForState(t, m, Terminated)

	// connection closed cleanly, no further attempts scheduled
	assert.True(t, dialer.lastConn().closed)
	assert.Equal(t, 1, dialer.attemptCount())

	// the event channel is closed on exit
	_, open := <-m.Events()
	assert.False(t, open)
}

// The transport may invoke the message callback after Disconnect
// returns; a message arriving after teardown must be dropped, not
// delivered to the closed event channel
func TestMessageAfterTeardownDropped(t *testing.T) {
	dialer := &fakeDialer{}
	m, _ := testManager(dialer, time.Millisecond*10)

	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx)

	waitForState(t, m, Active)
	handler := dialer.handler()

	cancel()
	waitForState(t, m, Terminated)

	payload := `{"pushType":"DEVICE_STATUS","deviceId":"abc123","report":{"runState":{"currentState":"RUNNING"}}}`
	assert.NotPanics(t, func() {
		handler("app/clients/x/push", []byte(payload))
	})

	// the channel is closed and carries no late event
	ev, open := <-m.Events()
	assert.False(t, open, "unexpected event after teardown: %+v", ev)
}

func TestRouteDiscoveredAndCached(t *testing.T) {
	dialer := &fakeDialer{}
	state := installation.New()
	state.SetSubscriptions([]string{"t/1"})

	cloud := &fakeCloud{route: "ssl://discovered.example.com:8883"}
	issuer := &fakeIssuer{material: &certs.Material{CertPEM: "CERT", KeyPEM: "KEY"}}
	m := New(cloud, issuer, state, dialer, "CSR", "KEY").WithReconnectDelay(time.Millisecond * 10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	waitForState(t, m, Active)
	assert.Equal(t, 1, cloud.routeCalls)
	assert.Equal(t, "ssl://discovered.example.com:8883", state.RouteAddress())
}

func TestDispatchDeviceStatus(t *testing.T) {
	dialer := &fakeDialer{}
	m, _ := testManager(dialer, time.Millisecond*10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	waitForState(t, m, Active)

	payload := `{"pushType":"DEVICE_STATUS","deviceId":"abc123","report":{"runState":{"currentState":"RUNNING"}}}`
	dialer.handler()("app/clients/x/push", []byte(payload))

	select {
	case ev := <-m.Events():
		assert.Equal(t, "abc123", ev.DeviceID)
		runState, ok := ev.Report["runState"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "RUNNING", runState["currentState"])
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

// Unknown discriminators and unparseable payloads are dropped, never
// fatal
func TestDispatchDropsUnknownAndMalformed(t *testing.T) {
	dialer := &fakeDialer{}
	m, _ := testManager(dialer, time.Millisecond*10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	waitForState(t, m, Active)

	handler := dialer.handler()
	assert.NotPanics(t, func() {
		handler("t", []byte(`{"pushType":"DEVICE_REGISTERED","deviceId":"abc123"}`))
		handler("t", []byte(`not json at all`))
		handler("t", []byte(`{"pushType":"DEVICE_STATUS","deviceId":"abc123","report":["wrong","shape"]}`))
	})

	select {
	case ev := <-m.Events():
		t.Fatalf("unexpected event: %+v", ev)
	case <-time.After(time.Millisecond * 100):
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "active", Active.String())
	assert.Equal(t, "terminated", Terminated.String())
}
