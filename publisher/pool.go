package publisher

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v5"
	log "github.com/sirupsen/logrus"

	"github.com/wso2/product-microgateway-sub011/metrics"
)

// pooledConn is one authenticated receiver connection together with the
// session obtained on it.
type pooledConn struct {
	conn      net.Conn
	sessionID string
	lastUsed  time.Time
}

// connPool keeps authenticated connections to one receiver. Plaintext
// pools open new connections whenever none is idle. Secure pools hold a
// fixed number of slots and make borrowers wait until one frees up,
// keeping the handshake cost bounded.
type connPool struct {
	receiver string
	addr     string
	secure   bool
	username string
	password string

	tlsConfig   *tls.Config
	dial        func(ctx context.Context, network, addr string) (net.Conn, error)
	idleTimeout time.Duration

	// slots is nil for plaintext pools
	slots chan struct{}

	mu     sync.Mutex
	idle   []*pooledConn
	closed bool
}

// parseReceiverURL accepts tcp://host:port and ssl://host:port.
func parseReceiverURL(raw string) (addr string, secure bool, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("parse receiver url %q: %w", raw, err)
	}
	switch u.Scheme {
	case "tcp":
		return u.Host, false, nil
	case "ssl":
		return u.Host, true, nil
	default:
		return "", false, fmt.Errorf("unsupported receiver scheme %q", u.Scheme)
	}
}

func newConnPool(receiver string, o Options) (*connPool, error) {
	addr, secure, err := parseReceiverURL(receiver)
	if err != nil {
		return nil, err
	}
	p := &connPool{
		receiver:    receiver,
		addr:        addr,
		secure:      secure,
		username:    o.Username,
		password:    o.Password,
		tlsConfig:   o.TLSConfig,
		dial:        o.Dial,
		idleTimeout: o.IdleTimeout,
	}
	if p.dial == nil {
		var d net.Dialer
		p.dial = d.DialContext
	}
	if secure {
		capacity := o.SecurePoolCapacity
		if capacity <= 0 {
			capacity = 10
		}
		p.slots = make(chan struct{}, capacity)
		for i := 0; i < capacity; i++ {
			p.slots <- struct{}{}
		}
	}
	return p, nil
}

// borrow returns an authenticated connection, reusing an idle one when
// available. Secure pools block here until a slot frees up or ctx ends.
func (p *connPool) borrow(ctx context.Context) (*pooledConn, error) {
	if p.slots != nil {
		select {
		case <-p.slots:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.releaseSlot()
		return nil, fmt.Errorf("pool for %s is closed", p.receiver)
	}
	for len(p.idle) > 0 {
		c := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if p.idleTimeout > 0 && time.Since(c.lastUsed) > p.idleTimeout {
			p.mu.Unlock()
			p.closeConn(c)
			p.mu.Lock()
			continue
		}
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	c, err := p.connect(ctx)
	if err != nil {
		p.releaseSlot()
		return nil, err
	}
	metrics.PoolConnections.WithLabelValues(p.receiver).Inc()
	return c, nil
}

// give returns a healthy connection to the pool.
func (p *connPool) give(c *pooledConn) {
	c.lastUsed = time.Now()
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.closeConn(c)
		p.releaseSlot()
		return
	}
	p.idle = append(p.idle, c)
	p.mu.Unlock()
	p.releaseSlot()
}

// discard drops a broken connection.
func (p *connPool) discard(c *pooledConn) {
	p.closeConn(c)
	p.releaseSlot()
}

func (p *connPool) releaseSlot() {
	if p.slots != nil {
		select {
		case p.slots <- struct{}{}:
		default:
		}
	}
}

func (p *connPool) closeConn(c *pooledConn) {
	c.conn.Close()
	metrics.PoolConnections.WithLabelValues(p.receiver).Dec()
}

// connect dials the receiver and performs the session handshake, retrying
// transient failures with exponential backoff.
func (p *connPool) connect(ctx context.Context) (*pooledConn, error) {
	return backoff.Retry(ctx, func() (*pooledConn, error) {
		conn, err := p.dial(ctx, "tcp", p.addr)
		if err != nil {
			log.Debugf("dial %s failed: %v", p.addr, err)
			return nil, err
		}
		if p.secure {
			cfg := p.tlsConfig
			if cfg == nil {
				cfg = &tls.Config{}
			}
			conn = tls.Client(conn, cfg)
		}
		sessionID, err := login(conn, p.username, p.password)
		if err != nil {
			conn.Close()
			return nil, err
		}
		return &pooledConn{conn: conn, sessionID: sessionID, lastUsed: time.Now()}, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(4))
}

// evictIdle drops idle connections past the idle timeout.
func (p *connPool) evictIdle() {
	if p.idleTimeout <= 0 {
		return
	}
	cutoff := time.Now().Add(-p.idleTimeout)
	var stale []*pooledConn
	p.mu.Lock()
	kept := p.idle[:0]
	for _, c := range p.idle {
		if c.lastUsed.Before(cutoff) {
			stale = append(stale, c)
		} else {
			kept = append(kept, c)
		}
	}
	p.idle = kept
	p.mu.Unlock()
	for _, c := range stale {
		p.closeConn(c)
	}
}

// close drops all idle connections and rejects future borrows.
func (p *connPool) close() {
	p.mu.Lock()
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()
	for _, c := range idle {
		p.closeConn(c)
	}
}
