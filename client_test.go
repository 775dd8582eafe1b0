package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type clientFixture struct {
	client  *Client
	script  *connScript
	clock   *clockwork.FakeClock
	metrics *Metrics
}

func newClientFixture(t *testing.T) *clientFixture {
	t.Helper()

	script := &connScript{}
	clock := clockwork.NewFakeClock()
	metrics := NewMetrics(prometheus.NewRegistry())

	client := New(Config{
		Endpoint:    Endpoint{Host: "example.test", UserID: "42"},
		ConnFactory: script.factory,
		Clock:       clock,
		Metrics:     metrics,
	})
	t.Cleanup(client.Disconnect)

	return &clientFixture{
		client:  client,
		script:  script,
		clock:   clock,
		metrics: metrics,
	}
}

func (f *clientFixture) scheduledAttempts() int {
	return int(testutil.ToFloat64(f.metrics.ReconnectAttempts))
}

// waitScheduled blocks until n reconnect attempts have been scheduled.
func (f *clientFixture) waitScheduled(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.scheduledAttempts() == n
	}, waitFor, tick, "expected %d scheduled reconnect attempts", n)
}

func TestClientConnectEmitsConnected(t *testing.T) {
	f := newClientFixture(t)

	connected := make(chan Fields, 1)
	f.client.On(EventConnected, func(fields Fields) {
		connected <- fields
	})

	require.NoError(t, f.client.Connect(context.Background()))

	select {
	case fields := <-connected:
		assert.Empty(t, fields)
	case <-time.After(waitFor):
		t.Fatal("connected event never fired")
	}
}

func TestClientDualDispatch(t *testing.T) {
	f := newClientFixture(t)

	type delivery struct {
		event  EventType
		fields Fields
	}
	deliveries := make(chan delivery, 2)

	f.client.On("progress_update", func(fields Fields) {
		deliveries <- delivery{event: "progress_update", fields: fields}
	})
	f.client.On(EventMessage, func(fields Fields) {
		deliveries <- delivery{event: EventMessage, fields: fields}
	})

	require.NoError(t, f.client.Connect(context.Background()))
	f.script.lastConn().push([]byte(`{"type":"progress_update","audio_id":7,"progress":55}`))

	first := <-deliveries
	second := <-deliveries

	// Type-specific listeners fire before generic message listeners.
	require.Equal(t, EventType("progress_update"), first.event)
	assert.Equal(t, Fields{"audio_id": float64(7), "progress": float64(55)}, first.fields)
	assert.NotContains(t, first.fields, "type")

	require.Equal(t, EventMessage, second.event)
	assert.Equal(t, Fields{
		"type":     "progress_update",
		"audio_id": float64(7),
		"progress": float64(55),
	}, second.fields)
}

func TestClientMalformedFramesAreDropped(t *testing.T) {
	f := newClientFixture(t)

	dispatched := make(chan Fields, 4)
	f.client.On(EventMessage, func(fields Fields) {
		dispatched <- fields
	})

	require.NoError(t, f.client.Connect(context.Background()))
	conn := f.script.lastConn()

	conn.push([]byte(`not json at all`))
	conn.push([]byte(`{"no":"type field"}`))
	conn.push([]byte(`{"type":42}`))
	conn.push([]byte(`{"type":"pong"}`))

	// Only the valid frame reaches listeners; the connection stays open.
	fields := <-dispatched
	assert.Equal(t, Fields{"type": "pong"}, fields)
	assert.Empty(t, dispatched)
	assert.Equal(t, 1, f.script.openedCount())
}

func TestClientTypedProgressListener(t *testing.T) {
	f := newClientFixture(t)

	updates := make(chan ProgressUpdate, 1)
	f.client.OnProgressUpdate(func(update ProgressUpdate) {
		updates <- update
	})

	require.NoError(t, f.client.Connect(context.Background()))
	f.script.lastConn().push(
		[]byte(`{"type":"progress_update","audio_id":7,"status":"processing","progress":55}`),
	)

	update := <-updates
	assert.Equal(t, ProgressUpdate{AudioID: 7, Status: StatusProcessing, Progress: 55}, update)
	assert.False(t, update.Status.Terminal())
}

func TestClientSendWhileDisconnected(t *testing.T) {
	f := newClientFixture(t)

	// Never connected: the send is dropped without panicking and without any
	// outbound frame.
	f.client.Ping()

	assert.Equal(t, 0, f.script.openedCount())
	assert.Zero(t, testutil.ToFloat64(f.metrics.MessagesSent))
}

func TestClientPingProducesSingleFrame(t *testing.T) {
	f := newClientFixture(t)

	require.NoError(t, f.client.Connect(context.Background()))
	f.client.Ping()

	conn := f.script.lastConn()
	require.Eventually(t, func() bool {
		return len(conn.frames()) == 1
	}, waitFor, tick)

	assert.JSONEq(t, `{"type":"ping"}`, string(conn.frames()[0]))
}

func TestClientGetProgress(t *testing.T) {
	f := newClientFixture(t)

	require.NoError(t, f.client.Connect(context.Background()))
	f.client.GetProgress(9)

	conn := f.script.lastConn()
	require.Eventually(t, func() bool {
		return len(conn.frames()) == 1
	}, waitFor, tick)

	assert.JSONEq(t, `{"type":"get_progress","audio_id":9}`, string(conn.frames()[0]))
}

func TestClientOffRemovesListener(t *testing.T) {
	f := newClientFixture(t)

	calls := 0
	listener := func(Fields) { calls++ }

	f.client.On("status", listener)
	f.client.Off("status", listener)
	f.client.Emit("status", Fields{"ok": true})

	assert.Zero(t, calls)
}

func TestClientReconnectBackoffSequence(t *testing.T) {
	f := newClientFixture(t)

	var mu sync.Mutex
	var events []EventType
	record := func(event EventType) func(Fields) {
		return func(Fields) {
			mu.Lock()
			events = append(events, event)
			mu.Unlock()
		}
	}
	f.client.On(EventDisconnected, record(EventDisconnected))
	f.client.On(EventMaxReconnectAttempts, record(EventMaxReconnectAttempts))

	require.NoError(t, f.client.Connect(context.Background()))

	// Kill the connection and make every redial fail.
	f.script.setDialError(ErrCannotConnect)
	f.script.lastConn().fail(ErrConnectionClosed)

	for attempt := 1; attempt <= 5; attempt++ {
		f.waitScheduled(t, attempt)

		// Advancing one second less than the expected delay must not fire
		// the attempt yet: the backoff is linear, base × attempt.
		if attempt > 1 {
			f.clock.Advance(time.Duration(attempt-1) * time.Second)
			time.Sleep(20 * time.Millisecond)
			assert.Equal(t, attempt, f.scheduledAttempts())
			f.clock.Advance(time.Second)
		} else {
			f.clock.Advance(time.Second)
		}
	}

	// The 5th attempt failed: the terminal event fires once, nothing else is
	// scheduled.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return countEvents(events, EventMaxReconnectAttempts) == 1
	}, waitFor, tick)

	f.clock.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 5, f.scheduledAttempts())
	mu.Lock()
	assert.Equal(t, 1, countEvents(events, EventMaxReconnectAttempts))
	mu.Unlock()
	assert.Equal(t, 1, f.script.openedCount())
}

func TestClientReconnectCounterResetsOnSuccess(t *testing.T) {
	f := newClientFixture(t)

	require.NoError(t, f.client.Connect(context.Background()))

	// Two failed attempts, then let the third succeed.
	f.script.setDialError(ErrCannotConnect)
	f.script.lastConn().fail(ErrConnectionClosed)

	f.waitScheduled(t, 1)
	f.clock.Advance(time.Second)
	f.waitScheduled(t, 2)

	f.script.setDialError(nil)
	f.clock.Advance(2 * time.Second)

	require.Eventually(t, func() bool {
		return f.script.openedCount() == 2
	}, waitFor, tick)

	// Force a new closure: the next delay must be base × 1 again.
	f.script.setDialError(ErrCannotConnect)
	f.script.lastConn().fail(ErrConnectionClosed)

	f.waitScheduled(t, 3)
	f.clock.Advance(time.Second)
	f.waitScheduled(t, 4)
}

func TestClientDisconnectCancelsPendingReconnect(t *testing.T) {
	f := newClientFixture(t)

	require.NoError(t, f.client.Connect(context.Background()))

	f.script.setDialError(nil)
	f.script.lastConn().fail(ErrConnectionClosed)
	f.waitScheduled(t, 1)

	f.client.Disconnect()
	f.clock.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)

	// The pending timer was cancelled: no stray connection after Disconnect.
	assert.Equal(t, 1, f.script.openedCount())
}

func TestClientManualDisconnectDoesNotReconnect(t *testing.T) {
	f := newClientFixture(t)

	disconnected := make(chan struct{}, 1)
	f.client.On(EventDisconnected, func(Fields) {
		disconnected <- struct{}{}
	})

	require.NoError(t, f.client.Connect(context.Background()))
	f.client.Disconnect()

	f.clock.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 1, f.script.openedCount())
	assert.Zero(t, f.scheduledAttempts())
	assert.Empty(t, disconnected)
}

func TestClientNoDispatchAfterDisconnect(t *testing.T) {
	f := newClientFixture(t)

	dispatched := make(chan Fields, 2)
	f.client.On(EventMessage, func(fields Fields) {
		dispatched <- fields
	})

	require.NoError(t, f.client.Connect(context.Background()))
	conn := f.script.lastConn()

	conn.push([]byte(`{"type":"pong"}`))
	<-dispatched

	f.client.Disconnect()

	// Frames still sitting in the transport buffer must not reach listeners.
	select {
	case conn.recv <- []byte(`{"type":"pong"}`):
	default:
	}
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, dispatched)
}

func TestClientConnectReplacesExistingChannel(t *testing.T) {
	f := newClientFixture(t)

	require.NoError(t, f.client.Connect(context.Background()))
	first := f.script.lastConn()

	require.NoError(t, f.client.Connect(context.Background()))
	second := f.script.lastConn()

	require.NotSame(t, first, second)

	// The replaced channel is closed and its closure triggers no reconnect.
	select {
	case <-first.CloseChan():
	case <-time.After(waitFor):
		t.Fatal("previous connection was not closed")
	}

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, f.scheduledAttempts())
	assert.Equal(t, 2, f.script.openedCount())
}

func TestClientErrorEventOnClosureReason(t *testing.T) {
	f := newClientFixture(t)

	errs := make(chan Fields, 1)
	f.client.On(EventError, func(fields Fields) {
		errs <- fields
	})

	require.NoError(t, f.client.Connect(context.Background()))
	f.script.lastConn().fail(ErrConnectionClosed)

	select {
	case fields := <-errs:
		assert.Contains(t, fields["error"], "closed")
	case <-time.After(waitFor):
		t.Fatal("error event never fired")
	}
}

func TestClientPeriodicPing(t *testing.T) {
	script := &connScript{}
	clock := clockwork.NewFakeClock()

	client := New(Config{
		ConnFactory:  script.factory,
		Clock:        clock,
		PingInterval: 30 * time.Second,
	})
	t.Cleanup(client.Disconnect)

	require.NoError(t, client.Connect(context.Background()))
	conn := script.lastConn()

	// The ticker lives in the connection goroutine; keep advancing until it
	// is armed and the pings start flowing.
	require.Eventually(t, func() bool {
		clock.Advance(30 * time.Second)
		return len(conn.frames()) >= 2
	}, waitFor, tick)

	for _, frame := range conn.frames() {
		assert.JSONEq(t, `{"type":"ping"}`, string(frame))
	}
}

func TestClientWithNoopConn(t *testing.T) {
	client := New(Config{
		ConnFactory: func(chan<- []byte) Conn { return noopConn{} },
	})
	t.Cleanup(client.Disconnect)

	// The noop transport accepts everything and never closes.
	require.NoError(t, client.Connect(context.Background()))
	client.Ping()
}

func countEvents(events []EventType, wanted EventType) int {
	n := 0
	for _, e := range events {
		if e == wanted {
			n++
		}
	}
	return n
}
