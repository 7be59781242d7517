package publisher

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aryszka/jobqueue"
	log "github.com/sirupsen/logrus"

	"github.com/wso2/product-microgateway-sub011/metrics"
	"github.com/wso2/product-microgateway-sub011/model"
)

// Options configures the publisher.
type Options struct {
	// ReceiverURLs are the traffic manager receivers, tcp:// or ssl://.
	// Events are spread over them round robin.
	ReceiverURLs []string
	Username     string
	Password     string

	// MaxConcurrency bounds the publishing workers, QueueSize the events
	// waiting for one. Events past the queue are dropped, never queued
	// on the decision path.
	MaxConcurrency int
	QueueSize      int
	QueueTimeout   time.Duration

	// SecurePoolCapacity bounds connections of ssl:// pools. Plaintext
	// pools grow on demand.
	SecurePoolCapacity int
	IdleTimeout        time.Duration
	TLSConfig          *tls.Config

	// Dial overrides the dialer, used by tests.
	Dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

// Publisher hands usage events to the traffic manager without ever
// blocking its caller. A bounded worker queue absorbs bursts, overflow
// is dropped and counted.
type Publisher struct {
	queue *jobqueue.Stack
	pools []*connPool
	next  atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	reaper sync.WaitGroup
}

// New builds a publisher and starts its idle connection reaper.
func New(o Options) (*Publisher, error) {
	if len(o.ReceiverURLs) == 0 {
		return nil, fmt.Errorf("no receiver urls configured")
	}
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = 10
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 1000
	}
	if o.QueueTimeout <= 0 {
		o.QueueTimeout = 10 * time.Second
	}

	pools := make([]*connPool, 0, len(o.ReceiverURLs))
	for _, u := range o.ReceiverURLs {
		p, err := newConnPool(u, o)
		if err != nil {
			return nil, err
		}
		pools = append(pools, p)
	}

	ctx, cancel := context.WithCancel(context.Background())
	pub := &Publisher{
		queue: jobqueue.With(jobqueue.Options{
			MaxConcurrency: o.MaxConcurrency,
			MaxStackSize:   o.QueueSize,
			Timeout:        o.QueueTimeout,
		}),
		pools:  pools,
		ctx:    ctx,
		cancel: cancel,
	}

	if o.IdleTimeout > 0 {
		pub.reaper.Add(1)
		go pub.reapIdle(o.IdleTimeout)
	}
	return pub, nil
}

// Publish queues an event for delivery. It returns immediately, a full
// queue drops the event.
func (p *Publisher) Publish(e *model.ThrottleEvent) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		done, err := p.queue.Wait()
		if err != nil {
			switch err {
			case jobqueue.ErrStackFull:
				metrics.EventsDropped.WithLabelValues("queue_full").Inc()
			case jobqueue.ErrTimeout:
				metrics.EventsDropped.WithLabelValues("queue_timeout").Inc()
			default:
				metrics.EventsDropped.WithLabelValues("queue_closed").Inc()
			}
			log.Debugf("event %s dropped: %v", e.MessageID, err)
			return
		}
		defer done()
		p.send(e)
	}()
}

// send delivers one event, retrying once on a fresh connection before
// giving up.
func (p *Publisher) send(e *model.ThrottleEvent) {
	pool := p.pools[p.next.Add(1)%uint64(len(p.pools))]
	fields := e.Fields()

	for attempt := 0; attempt < 2; attempt++ {
		c, err := pool.borrow(p.ctx)
		if err != nil {
			metrics.EventsDropped.WithLabelValues("connect").Inc()
			log.Errorf("event %s dropped, no connection to %s: %v", e.MessageID, pool.receiver, err)
			return
		}
		if err := publish(c.conn, c.sessionID, fields); err != nil {
			pool.discard(c)
			log.Debugf("publish to %s failed on attempt %d: %v", pool.receiver, attempt+1, err)
			continue
		}
		pool.give(c)
		metrics.EventsPublished.Inc()
		return
	}
	metrics.EventsDropped.WithLabelValues("publish").Inc()
	log.Errorf("event %s dropped after retry to %s", e.MessageID, pool.receiver)
}

func (p *Publisher) reapIdle(interval time.Duration) {
	defer p.reaper.Done()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			for _, pool := range p.pools {
				pool.evictIdle()
			}
		case <-p.ctx.Done():
			return
		}
	}
}

// Close drains queued events until ctx expires, then tears the pools
// down.
func (p *Publisher) Close(ctx context.Context) error {
	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(drained)
	}()
	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		err = ctx.Err()
	}

	p.cancel()
	p.reaper.Wait()
	p.queue.Close()
	for _, pool := range p.pools {
		pool.close()
	}
	return err
}
