package publisher

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wso2/product-microgateway-sub011/model"
)

// slowReceiver serves the receiver protocol, holding every publish ack
// for delay.
type slowReceiver struct {
	delay    time.Duration
	received atomic.Int32
}

func (r *slowReceiver) serve(conn net.Conn) {
	defer conn.Close()
	for {
		msgType, _, err := readFrame(conn)
		if err != nil {
			return
		}
		switch msgType {
		case msgLogin:
			writeFrame(conn, msgLogin, []string{statusOK, "session"})
		case msgPublish:
			if r.delay > 0 {
				time.Sleep(r.delay)
			}
			r.received.Add(1)
			writeFrame(conn, msgPublish, []string{statusOK})
		}
	}
}

func (r *slowReceiver) dialer(dials *atomic.Int32) func(context.Context, string, string) (net.Conn, error) {
	return func(context.Context, string, string) (net.Conn, error) {
		if dials != nil {
			dials.Add(1)
		}
		client, server := net.Pipe()
		go r.serve(server)
		return client, nil
	}
}

func testEvent(id string) *model.ThrottleEvent {
	return &model.ThrottleEvent{MessageID: id, APIKey: "/petstore:v1", UserID: "alice"}
}

func TestPublishDelivers(t *testing.T) {
	r := &slowReceiver{}
	p, err := New(Options{
		ReceiverURLs: []string{"tcp://tm.local:9611"},
		Username:     "admin",
		Password:     "admin",
		Dial:         r.dialer(nil),
	})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		p.Publish(testEvent("m"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Close(ctx))
	assert.Equal(t, int32(10), r.received.Load())
}

func TestPlaintextPoolGrowsUnderLoad(t *testing.T) {
	var dials atomic.Int32
	r := &slowReceiver{delay: 100 * time.Millisecond}
	p, err := New(Options{
		ReceiverURLs:   []string{"tcp://tm.local:9611"},
		MaxConcurrency: 10,
		QueueSize:      100,
		Dial:           r.dialer(&dials),
	})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		p.Publish(testEvent("m"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Close(ctx))

	assert.Equal(t, int32(10), r.received.Load())
	assert.Greater(t, dials.Load(), int32(1), "concurrent publishes should open more connections")
}

func TestSecurePoolBlocksAtCapacity(t *testing.T) {
	var dials atomic.Int32
	r := &slowReceiver{}
	p := &connPool{
		receiver: "ssl://tm.local:9711",
		addr:     "tm.local:9711",
		username: "admin",
		password: "admin",
		dial:     r.dialer(&dials),
		slots:    make(chan struct{}, 1),
	}
	p.slots <- struct{}{}

	c, err := p.borrow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), dials.Load())

	// the single slot is taken, the next borrow has to wait
	blockedCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.borrow(blockedCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	p.give(c)
	c2, err := p.borrow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), dials.Load(), "returned connection should be reused")
	p.give(c2)
	p.close()
}

func TestPublishNeverBlocksCaller(t *testing.T) {
	r := &slowReceiver{delay: 300 * time.Millisecond}
	p, err := New(Options{
		ReceiverURLs:   []string{"tcp://tm.local:9611"},
		MaxConcurrency: 1,
		QueueSize:      5,
		QueueTimeout:   50 * time.Millisecond,
		Dial:           r.dialer(nil),
	})
	require.NoError(t, err)

	start := time.Now()
	for i := 0; i < 50; i++ {
		p.Publish(testEvent("m"))
	}
	assert.Less(t, time.Since(start), time.Second, "Publish must return immediately")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, p.Close(ctx))

	got := r.received.Load()
	assert.Greater(t, got, int32(0), "some events should be delivered")
	assert.Less(t, got, int32(50), "overflow events should be dropped")
}

func TestIdleConnectionsEvicted(t *testing.T) {
	var dials atomic.Int32
	r := &slowReceiver{}
	p := &connPool{
		receiver:    "tcp://tm.local:9611",
		addr:        "tm.local:9611",
		dial:        r.dialer(&dials),
		idleTimeout: 10 * time.Millisecond,
	}

	c, err := p.borrow(context.Background())
	require.NoError(t, err)
	p.give(c)

	time.Sleep(20 * time.Millisecond)
	p.evictIdle()

	p.mu.Lock()
	idle := len(p.idle)
	p.mu.Unlock()
	assert.Zero(t, idle, "stale connection should be closed")
	p.close()
}

func TestNewRejectsBadReceiverURL(t *testing.T) {
	_, err := New(Options{ReceiverURLs: []string{"http://tm.local:9611"}})
	assert.Error(t, err)

	_, err = New(Options{})
	assert.Error(t, err)
}
