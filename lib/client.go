package lib

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/TheSmallBoat/tsnet/queue"
	"github.com/jpillora/backoff"
)

// Client holds one connection to a server. The zero value is ready to use.
type Client[A ID] struct {
	Logger Logger

	// DialTimeout bounds each dial attempt. Zero means no timeout.
	DialTimeout time.Duration

	// DialAttempts is how often Connect dials before giving up, with a
	// jittered backoff in between. Values below 1 mean a single attempt.
	DialAttempts int

	// MaxBodySize bounds the body size the server may announce. Zero means no limit.
	MaxBodySize uint32

	mu       sync.Mutex
	dialing  bool
	conn     *Conn[A]
	loop     *runLoop
	incoming queue.Queue[OwnedMessage[A]]
}

func (c *Client[A]) logf(format string, v ...interface{}) {
	loggerOr(c.Logger).Printf("[Client] "+format, v...)
}

func (c *Client[A]) Connect(host string, port uint16) error {
	return c.ConnectContext(context.Background(), host, port)
}

// ConnectContext resolves host, dials it and starts the handshake on a fresh
// run loop. It returns once the TCP connection is open; the handshake
// completes in the background. On error no connection is kept. The client is
// not locked while dialing.
func (c *Client[A]) ConnectContext(ctx context.Context, host string, port uint16) error {
	c.mu.Lock()
	if c.dialing {
		c.mu.Unlock()
		return ErrConnectInProgress
	}
	if c.conn != nil {
		if c.conn.IsConnected() {
			c.mu.Unlock()
			return ErrAlreadyConnected
		}
		c.teardown()
	}
	c.dialing = true
	c.mu.Unlock()

	conn, loop, err := c.dial(ctx, host, port)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.dialing = false
	if err != nil {
		return err
	}

	loop.start()
	c.conn, c.loop = conn, loop

	c.logf("connected to %s", conn.RemoteAddr())
	return nil
}

func (c *Client[A]) dial(ctx context.Context, host string, port uint16) (*Conn[A], *runLoop, error) {
	endpoints, err := resolve(ctx, host, port)
	if err != nil {
		c.logf("error connecting to server: %v", err)
		return nil, nil, fmt.Errorf("%w: %w", ErrConnectFailure, err)
	}

	loop := newRunLoop()
	conn := newConn[A](RoleClient, nil, &c.incoming, loop, c.Logger, c.MaxBodySize)
	dialer := &net.Dialer{Timeout: c.DialTimeout}

	b := &backoff.Backoff{Min: 100 * time.Millisecond, Max: 2 * time.Second, Factor: 2, Jitter: true}
	for attempt := 1; ; attempt++ {
		err = conn.connectToServer(ctx, dialer, endpoints)
		if err == nil {
			return conn, loop, nil
		}
		if attempt >= c.DialAttempts {
			c.logf("error connecting to server: %v", err)
			return nil, nil, err
		}

		d := b.Duration()
		c.logf("dial attempt %d failed: %v; retrying in %s", attempt, err, d)
		if err := sleep(ctx, d, nil); err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrConnectFailure, err)
		}
	}
}

func resolve(ctx context.Context, host string, port uint16) ([]string, error) {
	addrs, err := net.DefaultResolver.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no addresses for %q", host)
	}
	p := strconv.FormatUint(uint64(port), 10)
	endpoints := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		endpoints = append(endpoints, net.JoinHostPort(addr, p))
	}
	return endpoints, nil
}

// Disconnect closes the connection and stops the run loop. Messages already
// received stay in Incoming.
func (c *Client[A]) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardown()
}

// teardown must be called with c.mu held.
func (c *Client[A]) teardown() {
	if c.conn == nil {
		return
	}
	c.conn.Disconnect()
	c.loop.stop()
	c.conn.abandon()
	c.conn, c.loop = nil, nil
}

func (c *Client[A]) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && c.conn.IsConnected()
}

func (c *Client[A]) Send(msg Message[A]) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	return conn.Send(msg)
}

// Conn returns the current connection, or nil.
func (c *Client[A]) Conn() *Conn[A] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// Incoming is the queue received messages are delivered into. Their Remote
// field is always zero.
func (c *Client[A]) Incoming() *queue.Queue[OwnedMessage[A]] { return &c.incoming }

// Pump works like Server.Pump, handing messages to h.
func (c *Client[A]) Pump(max int, block bool, h Handler[A]) int {
	conn := c.Conn()
	return pump(&c.incoming, max, block, h, func(ConnID) *Conn[A] { return conn }, c.logf)
}
