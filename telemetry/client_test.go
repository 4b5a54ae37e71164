package telemetry

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"starwatch-hud/common"
)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

var errRemoteClosed = errors.New("remote closed")

type frame struct {
	messageType MessageType
	payload     []byte
}

// fakeConn - соединение, кадры которого подает тест
type fakeConn struct {
	frames     chan frame
	closed     chan struct{}
	closeOnce  sync.Once
	closeCalls atomic.Int32
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan frame, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (MessageType, []byte, error) {
	select {
	case f := <-c.frames:
		return f.messageType, f.payload, nil
	case <-c.closed:
		return 0, nil, errRemoteClosed
	}
}

func (c *fakeConn) Close() error {
	c.closeCalls.Add(1)
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// drop имитирует закрытие соединения удаленной стороной
func (c *fakeConn) drop() {
	c.closeOnce.Do(func() { close(c.closed) })
}

func (c *fakeConn) sendText(payload string) {
	c.frames <- frame{messageType: MessageText, payload: []byte(payload)}
}

// fakeDialer считает попытки и может задерживать их до release
type fakeDialer struct {
	mu           sync.Mutex
	dials        int
	inFlight     int
	maxInFlight  int
	conns        []*fakeConn
	err          error
	gate         chan struct{}
	ignoreCancel bool
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	d.dials++
	d.inFlight++
	if d.inFlight > d.maxInFlight {
		d.maxInFlight = d.inFlight
	}
	gate, err := d.gate, d.err
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.inFlight--
		d.mu.Unlock()
	}()

	if gate != nil {
		if d.ignoreCancel {
			<-gate
		} else {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if err != nil {
		return nil, err
	}

	conn := newFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

// fakeClock запускает таймеры только по команде теста
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, delay: d, fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	wasActive := !t.stopped && !t.fired
	t.stopped = true
	return wasActive
}

func (c *fakeClock) pending() []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var active []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			active = append(active, t)
		}
	}
	return active
}

func (c *fakeClock) fireAll() {
	for _, t := range c.pending() {
		c.mu.Lock()
		t.fired = true
		c.mu.Unlock()
		t.fn()
	}
}

func newTestClient(dialer Dialer, clock *fakeClock) *Client {
	return NewClient(
		ClientConfig{URL: "ws://engine.test/"},
		dialer,
		WithClock(clock),
		WithNow(fixedNow),
		WithLogger(log.New(io.Discard, "", 0)),
	)
}

func collect(ch chan *common.TelemetryPacket) Listener {
	return func(packet *common.TelemetryPacket) { ch <- packet }
}

func connected(t *testing.T, c *Client, d *fakeDialer, i int) *fakeConn {
	t.Helper()
	require.Eventually(t, func() bool {
		return c.State() == StateConnected && d.conn(i) != nil
	}, waitFor, tick)
	return d.conn(i)
}

func TestDefaultClientConfig(t *testing.T) {
	config := DefaultClientConfig()
	assert.Equal(t, 3000*time.Millisecond, config.ReconnectDelay)
	assert.NotEmpty(t, config.URL)

	client := NewClient(ClientConfig{URL: "ws://x/"}, nil)
	assert.Equal(t, common.ReconnectDelay, client.config.ReconnectDelay)
}

func TestSubscribeWithoutConnectionCapability(t *testing.T) {
	client := newTestClient(nil, &fakeClock{})

	unsubscribe := client.Subscribe(func(*common.TelemetryPacket) {})
	assert.Equal(t, StateIdle, client.State())
	assert.Equal(t, 1, client.Subscribers())

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 0, client.Subscribers())
	assert.Equal(t, StateIdle, client.State())
}

func TestSingleConnectionAcrossConcurrentSubscribes(t *testing.T) {
	dialer := &fakeDialer{gate: make(chan struct{})}
	client := newTestClient(dialer, &fakeClock{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client.Subscribe(func(*common.TelemetryPacket) {})
		}()
	}
	wg.Wait()

	assert.Equal(t, StateConnecting, client.State())
	assert.Equal(t, 1, dialer.dialCount())

	close(dialer.gate)
	connected(t, client, dialer, 0)

	client.Subscribe(func(*common.TelemetryPacket) {})
	assert.Equal(t, 1, dialer.dialCount())
	assert.Equal(t, 1, dialer.maxInFlight)
	assert.Equal(t, 51, client.Subscribers())

	require.NoError(t, client.Close())
}

func TestFanOutToEverySubscriber(t *testing.T) {
	dialer := &fakeDialer{}
	client := newTestClient(dialer, &fakeClock{})
	defer client.Close()

	channels := make([]chan *common.TelemetryPacket, 3)
	for i := range channels {
		channels[i] = make(chan *common.TelemetryPacket, 4)
		client.Subscribe(collect(channels[i]))
	}
	conn := connected(t, client, dialer, 0)
	assert.False(t, client.Ready())

	conn.sendText(`{"cameraId":"CAM-1","timestamp":5,"objects":[{"id":"a"}]}`)

	var first *common.TelemetryPacket
	for i, ch := range channels {
		select {
		case packet := <-ch:
			assert.Equal(t, "CAM-1", packet.CameraID, "subscriber %d", i)
			if first == nil {
				first = packet
			}
			assert.Same(t, first, packet, "all subscribers share one snapshot")
		case <-time.After(waitFor):
			t.Fatalf("subscriber %d did not receive the packet", i)
		}
	}
	assert.True(t, client.Ready())
}

func TestMalformedFramesAreDropped(t *testing.T) {
	dialer := &fakeDialer{}
	client := newTestClient(dialer, &fakeClock{})
	defer client.Close()

	received := make(chan *common.TelemetryPacket, 8)
	client.Subscribe(collect(received))
	conn := connected(t, client, dialer, 0)

	conn.frames <- frame{messageType: MessageBinary, payload: []byte(`{"cameraId":"CAM-1"}`)}
	conn.sendText(`not json`)
	conn.sendText(`[1,2,3]`)
	conn.sendText(`{"objects":[]}`)
	conn.sendText(`{"cameraId":7}`)
	conn.sendText(`{"cameraId":"CAM-2"}`)

	select {
	case packet := <-received:
		assert.Equal(t, "CAM-2", packet.CameraID)
		assert.Equal(t, fixedNow().UnixMilli(), packet.Timestamp)
	case <-time.After(waitFor):
		t.Fatal("valid packet was not delivered")
	}
	assert.Empty(t, received)
	assert.Equal(t, StateConnected, client.State())
}

func TestMessagesAreDeliveredInReceiptOrder(t *testing.T) {
	dialer := &fakeDialer{}
	client := newTestClient(dialer, &fakeClock{})
	defer client.Close()

	var mu sync.Mutex
	var order []int64
	client.Subscribe(func(packet *common.TelemetryPacket) {
		mu.Lock()
		order = append(order, packet.Timestamp)
		mu.Unlock()
	})
	conn := connected(t, client, dialer, 0)

	for _, payload := range []string{
		`{"cameraId":"CAM-1","timestamp":1}`,
		`{"cameraId":"CAM-2","timestamp":2}`,
		`{"cameraId":"CAM-1","timestamp":3}`,
		`{"cameraId":"CAM-3","timestamp":4}`,
	} {
		conn.sendText(payload)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 4
	}, waitFor, tick)
	assert.Equal(t, []int64{1, 2, 3, 4}, order)
}

func TestUnsubscribeLastTearsDownOnce(t *testing.T) {
	dialer := &fakeDialer{}
	clock := &fakeClock{}
	client := newTestClient(dialer, clock)

	unsubscribes := make([]func(), 3)
	for i := range unsubscribes {
		unsubscribes[i] = client.Subscribe(func(*common.TelemetryPacket) {})
	}
	conn := connected(t, client, dialer, 0)

	unsubscribes[0]()
	unsubscribes[1]()
	unsubscribes[1]()
	assert.Equal(t, int32(0), conn.closeCalls.Load(), "non-last unsubscribe keeps the connection")
	assert.Equal(t, StateConnected, client.State())

	unsubscribes[2]()
	unsubscribes[2]()
	unsubscribes[0]()
	assert.Equal(t, int32(1), conn.closeCalls.Load())
	assert.Equal(t, StateIdle, client.State())
	assert.Empty(t, clock.pending(), "teardown must not schedule a reconnect")
	assert.Equal(t, 1, dialer.dialCount())

	require.NoError(t, client.Close())
	assert.Equal(t, int32(1), conn.closeCalls.Load())
}

func TestCloseSchedulesSingleReconnect(t *testing.T) {
	dialer := &fakeDialer{}
	clock := &fakeClock{}
	client := newTestClient(dialer, clock)
	defer client.Close()

	client.Subscribe(func(*common.TelemetryPacket) {})
	conn := connected(t, client, dialer, 0)

	conn.drop()
	require.Eventually(t, func() bool { return client.State() == StateReconnectPending }, waitFor, tick)

	pending := clock.pending()
	require.Len(t, pending, 1)
	assert.Equal(t, 3000*time.Millisecond, pending[0].delay)

	// Повторное событие закрытия не создает второй таймер
	client.mu.Lock()
	client.handleCloseLocked()
	client.mu.Unlock()
	assert.Len(t, clock.pending(), 1)

	// Новый подписчик не обходит запланированное переподключение
	client.Subscribe(func(*common.TelemetryPacket) {})
	assert.Equal(t, 1, dialer.dialCount())

	clock.fireAll()
	connected(t, client, dialer, 1)
	assert.Equal(t, 2, dialer.dialCount())
	assert.Empty(t, clock.pending())
}

func TestDialFailureSchedulesReconnect(t *testing.T) {
	dialer := &fakeDialer{err: errors.New("connection refused")}
	clock := &fakeClock{}
	client := newTestClient(dialer, clock)
	defer client.Close()

	client.Subscribe(func(*common.TelemetryPacket) {})
	require.Eventually(t, func() bool { return client.State() == StateReconnectPending }, waitFor, tick)
	assert.Len(t, clock.pending(), 1)

	dialer.mu.Lock()
	dialer.err = nil
	dialer.mu.Unlock()

	clock.fireAll()
	connected(t, client, dialer, 0)
	assert.Equal(t, 2, dialer.dialCount())
}

func TestReadErrorClosesConnection(t *testing.T) {
	dialer := &fakeDialer{}
	clock := &fakeClock{}
	client := newTestClient(dialer, clock)
	defer client.Close()

	client.Subscribe(func(*common.TelemetryPacket) {})
	conn := connected(t, client, dialer, 0)

	conn.drop()
	require.Eventually(t, func() bool { return conn.closeCalls.Load() == 1 }, waitFor, tick)
	assert.Equal(t, StateReconnectPending, client.State())

	clock.fireAll()
	next := connected(t, client, dialer, 1)
	assert.Equal(t, int32(1), conn.closeCalls.Load(), "previous connection is closed exactly once")
	assert.Equal(t, int32(0), next.closeCalls.Load())
}

func TestReadErrorAfterTeardownDoesNotCloseTwice(t *testing.T) {
	dialer := &fakeDialer{}
	client := newTestClient(dialer, &fakeClock{})

	unsubscribe := client.Subscribe(func(*common.TelemetryPacket) {})
	conn := connected(t, client, dialer, 0)

	unsubscribe()
	require.NoError(t, client.Close())
	assert.Equal(t, int32(1), conn.closeCalls.Load())
	assert.Equal(t, StateIdle, client.State())
}

func TestTeardownCancelsPendingReconnect(t *testing.T) {
	dialer := &fakeDialer{}
	clock := &fakeClock{}
	client := newTestClient(dialer, clock)
	defer client.Close()

	unsubscribe := client.Subscribe(func(*common.TelemetryPacket) {})
	conn := connected(t, client, dialer, 0)
	conn.drop()
	require.Eventually(t, func() bool { return len(clock.pending()) == 1 }, waitFor, tick)
	timer := clock.pending()[0]

	unsubscribe()
	assert.Empty(t, clock.pending())
	assert.True(t, timer.stopped)
	assert.Equal(t, StateIdle, client.State())

	// Таймер, сработавший несмотря на Stop, игнорируется
	timer.fn()
	assert.Equal(t, StateIdle, client.State())
	assert.Equal(t, 1, dialer.dialCount())
}

func TestTeardownDuringDialCancelsAttempt(t *testing.T) {
	dialer := &fakeDialer{gate: make(chan struct{})}
	clock := &fakeClock{}
	client := newTestClient(dialer, clock)
	defer client.Close()

	unsubscribe := client.Subscribe(func(*common.TelemetryPacket) {})
	require.Equal(t, StateConnecting, client.State())

	unsubscribe()
	require.Eventually(t, func() bool { return client.State() == StateIdle }, waitFor, tick)
	assert.Equal(t, 1, dialer.dialCount())
	assert.Empty(t, clock.pending())
}

func TestResubscribeWhileClosingKeepsSingleFlight(t *testing.T) {
	dialer := &fakeDialer{gate: make(chan struct{}), ignoreCancel: true}
	client := newTestClient(dialer, &fakeClock{})

	unsubscribe := client.Subscribe(func(*common.TelemetryPacket) {})
	unsubscribe()
	assert.Equal(t, StateClosing, client.State())

	received := make(chan *common.TelemetryPacket, 1)
	client.Subscribe(collect(received))
	assert.Equal(t, StateClosing, client.State())
	assert.Equal(t, 1, dialer.dialCount())

	close(dialer.gate)

	conn := connected(t, client, dialer, 1)
	assert.Equal(t, 2, dialer.dialCount())
	assert.Equal(t, 1, dialer.maxInFlight)
	assert.Equal(t, int32(1), dialer.conn(0).closeCalls.Load(), "superseded connection is closed")

	conn.sendText(`{"cameraId":"CAM-1"}`)
	select {
	case packet := <-received:
		assert.Equal(t, "CAM-1", packet.CameraID)
	case <-time.After(waitFor):
		t.Fatal("packet was not delivered on the new connection")
	}

	require.NoError(t, client.Close())
}

func TestListenerCanUnsubscribeDuringFanOut(t *testing.T) {
	dialer := &fakeDialer{}
	client := newTestClient(dialer, &fakeClock{})
	defer client.Close()

	done := make(chan struct{})
	var unsubscribe func()
	unsubscribe = client.Subscribe(func(*common.TelemetryPacket) {
		unsubscribe()
		close(done)
	})
	conn := connected(t, client, dialer, 0)
	conn.sendText(`{"cameraId":"CAM-1"}`)

	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("listener was not invoked")
	}
	require.Eventually(t, func() bool { return client.State() == StateIdle }, waitFor, tick)
	assert.Equal(t, int32(1), conn.closeCalls.Load())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "closing", StateClosing.String())
	assert.Equal(t, "reconnect_pending", StateReconnectPending.String())
	assert.Equal(t, "unknown", State(42).String())
}
