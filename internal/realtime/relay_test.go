package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskflow/internal/queue"
)

type fakeConn struct {
	mu     sync.Mutex
	got    [][]byte
	fail   bool
	closed atomic.Bool
}

func (f *fakeConn) Send(_ context.Context, msg []byte) error {
	if f.fail {
		return errors.New("broken pipe")
	}
	f.mu.Lock()
	f.got = append(f.got, msg)
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) Close() error {
	f.closed.Store(true)
	return nil
}

func (f *fakeConn) received() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.got)
}

func TestBroadcastPrunesFailingConnection(t *testing.T) {
	ctx := context.Background()
	relay := NewRelay(time.Second, 2)

	var good []*fakeConn
	for range 4 {
		c := &fakeConn{}
		good = append(good, c)
		relay.Connect(ctx, c)
	}
	bad := &fakeConn{fail: true}
	relay.Connect(ctx, bad)

	delivered := relay.Broadcast(ctx, []byte(`{"event_type":"task.updated"}`))
	assert.Equal(t, 4, delivered)
	for _, c := range good {
		assert.Equal(t, 1, c.received())
	}
	assert.Equal(t, 4, relay.Count())
	assert.True(t, bad.closed.Load())

	assert.Equal(t, 4, relay.Broadcast(ctx, []byte(`{}`)))
}

func TestBroadcastWithNoConnections(t *testing.T) {
	assert.Equal(t, 0, NewRelay(0, 0).Broadcast(context.Background(), []byte(`{}`)))
}

func TestConcurrentConnectDisconnectBroadcast(t *testing.T) {
	ctx := context.Background()
	relay := NewRelay(time.Second, 8)

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(2)
		c := &fakeConn{fail: i%7 == 0}
		go func() {
			defer wg.Done()
			relay.Connect(ctx, c)
			relay.Disconnect(ctx, c)
		}()
		go func() {
			defer wg.Done()
			relay.Broadcast(ctx, []byte(`{}`))
		}()
	}
	wg.Wait()
	relay.Disconnect(ctx, &fakeConn{})
	assert.Equal(t, 0, relay.Count())
}

func TestHandleBroadcastsEnvelopeData(t *testing.T) {
	ctx := context.Background()
	relay := NewRelay(time.Second, 1)
	c := &fakeConn{}
	relay.Connect(ctx, c)

	require.NoError(t, relay.Handle(ctx, queue.Envelope{Topic: "task-updates", Data: []byte(`{"task_id":"t1"}`)}))
	require.Equal(t, 1, c.received())
	assert.JSONEq(t, `{"task_id":"t1"}`, string(c.got[0]))

	relay.Close()
	assert.True(t, c.closed.Load())
	assert.Equal(t, 0, relay.Count())
}

func TestServeWSReceivesBroadcast(t *testing.T) {
	relay := NewRelay(time.Second, 4)
	srv := httptest.NewServer(http.HandlerFunc(relay.ServeWS))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+srv.URL[len("http"):], nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return relay.Count() == 1 }, 2*time.Second, 10*time.Millisecond)
	relay.Broadcast(ctx, []byte(`{"event_type":"task.created"}`))

	_, msg, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event_type":"task.created"}`, string(msg))

	conn.Close(websocket.StatusNormalClosure, "")
	require.Eventually(t, func() bool { return relay.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}
