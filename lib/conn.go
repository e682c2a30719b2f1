package lib

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TheSmallBoat/tsnet/queue"
)

// Conn is one framed TCP connection. All of its reads, writes and state
// transitions are scheduled on the run loop of the Server or Client that owns
// it; at most one read and one write are in flight at any time.
type Conn[A ID] struct {
	role    Role
	id      atomic.Uint32
	sock    net.Conn
	loop    *runLoop
	log     Logger
	maxBody uint32

	state     atomic.Int32
	closeOnce sync.Once

	challenge uint64 // server only
	expected  uint64 // server only

	out      queue.Queue[Message[A]]
	pending  atomic.Int64 // accepted by Send, not yet written
	incoming *queue.Queue[OwnedMessage[A]]

	// only touched on the run loop
	hs      [8]byte
	hdr     []byte
	in      Message[A]
	onState func(c *Conn[A], s ConnState)
}

func newConn[A ID](role Role, sock net.Conn, incoming *queue.Queue[OwnedMessage[A]], loop *runLoop, log Logger, maxBody uint32) *Conn[A] {
	c := &Conn[A]{
		role:     role,
		sock:     sock,
		loop:     loop,
		log:      loggerOr(log),
		maxBody:  maxBody,
		incoming: incoming,
		hdr:      make([]byte, HeaderSize[A]()),
	}
	if role == RoleServer {
		c.challenge = uint64(time.Now().UnixNano())
		c.expected = Scramble(c.challenge)
	}
	return c
}

func (c *Conn[A]) Role() Role           { return c.role }
func (c *Conn[A]) ID() ConnID           { return ConnID(c.id.Load()) }
func (c *Conn[A]) setID(id ConnID)      { c.id.Store(uint32(id)) }
func (c *Conn[A]) State() ConnState     { return ConnState(c.state.Load()) }
func (c *Conn[A]) closed() bool         { return c.State() == StateClosed }
func (c *Conn[A]) IsConnected() bool    { return !c.closed() }
func (c *Conn[A]) RemoteAddr() net.Addr { return c.sock.RemoteAddr() }

// Pending returns how many messages Send accepted that have not been written
// to the socket yet, including the one currently being written.
func (c *Conn[A]) Pending() int { return int(c.pending.Load()) }

// setState must run on the loop; transitions into StateClosed go through close.
func (c *Conn[A]) setState(s ConnState) {
	c.state.Store(int32(s))
	c.notify(s)
}

func (c *Conn[A]) notify(s ConnState) {
	if c.onState != nil {
		c.onState(c, s)
	}
}

func (c *Conn[A]) String() string {
	return fmt.Sprintf("%s conn %d", c.role, c.ID())
}

// Send queues msg for delivery. Messages sent on one Conn reach the peer in
// the order Send was called. Sends made during the handshake are held until
// streaming starts.
func (c *Conn[A]) Send(msg Message[A]) error {
	if c.closed() {
		return ErrNotConnected
	}
	msg = msg.Clone()
	c.pending.Add(1)
	c.loop.post(func() {
		if c.closed() {
			c.pending.Add(-1)
			return
		}
		idle := c.out.Empty()
		c.out.PushBack(msg)
		if idle && c.State() == StateStreaming {
			c.writeFrame()
		}
	})
	return nil
}

// Disconnect closes the connection from its own run loop.
func (c *Conn[A]) Disconnect() {
	if c.IsConnected() {
		c.loop.post(c.close)
	}
}

// close must run on the loop. It is a no-op on a closed Conn.
func (c *Conn[A]) close() {
	if ConnState(c.state.Swap(int32(StateClosed))) == StateClosed {
		return
	}
	c.closeSocket()
	c.pending.Add(-int64(c.out.Len()))
	c.out.Clear()
	c.notify(StateClosed)
}

func (c *Conn[A]) closeSocket() {
	c.closeOnce.Do(func() {
		if c.sock != nil {
			_ = c.sock.Close()
		}
	})
}

// abandon closes the socket without going through the run loop. Only used
// once the loop has been stopped.
func (c *Conn[A]) abandon() {
	c.state.Store(int32(StateClosed))
	c.closeSocket()
	c.pending.Store(0)
}

func (c *Conn[A]) fail(op string, err error) {
	if c.closed() {
		return
	}
	if errors.Is(err, io.EOF) {
		c.log.Printf("[%s] conn %d: peer disconnected while %s", c.role, c.ID(), op)
	} else {
		c.log.Printf("[%s] conn %d: %s failed: %v", c.role, c.ID(), op, err)
	}
	c.close()
}

// asyncRead fills buf on an I/O goroutine and runs done on the loop.
func (c *Conn[A]) asyncRead(buf []byte, done func(err error)) {
	go func() {
		_, err := io.ReadFull(c.sock, buf)
		c.loop.post(func() { done(err) })
	}()
}

// asyncWrite writes buf on an I/O goroutine and runs done on the loop.
func (c *Conn[A]) asyncWrite(buf []byte, done func(err error)) {
	go func() {
		_, err := c.sock.Write(buf)
		c.loop.post(func() { done(err) })
	}()
}

// connectToServer dials the endpoints in order and keeps the first that
// answers. The handshake itself runs on the loop.
func (c *Conn[A]) connectToServer(ctx context.Context, dialer *net.Dialer, endpoints []string) error {
	if c.role != RoleClient || c.State() != StateCreated {
		return ErrAlreadyConnected
	}

	var errs []error
	for _, ep := range endpoints {
		sock, err := dialer.DialContext(ctx, "tcp", ep)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		c.sock = sock
		break
	}
	if c.sock == nil {
		return fmt.Errorf("%w: %w", ErrConnectFailure, errors.Join(errs...))
	}

	c.state.Store(int32(StateHandshaking))
	c.loop.post(c.answerChallenge)
	return nil
}

// startStreaming arms the read loop and flushes anything sent during the
// handshake.
func (c *Conn[A]) startStreaming() {
	c.setState(StateStreaming)
	c.readHeader()
	if !c.out.Empty() {
		c.writeFrame()
	}
}

func (c *Conn[A]) readHeader() {
	c.asyncRead(c.hdr, func(err error) {
		if c.closed() {
			return
		}
		if err != nil {
			c.fail("reading header", err)
			return
		}

		h := decodeHeader[A](c.hdr)
		if c.maxBody > 0 && h.Size > c.maxBody {
			c.fail("reading header", fmt.Errorf("%w: %d > %d", ErrBodyTooLarge, h.Size, c.maxBody))
			return
		}

		c.in = Message[A]{Header: h}
		if h.Size == 0 {
			c.deliver()
			return
		}
		c.in.Body = make([]byte, h.Size)
		c.readBody()
	})
}

func (c *Conn[A]) readBody() {
	c.asyncRead(c.in.Body, func(err error) {
		if c.closed() {
			return
		}
		if err != nil {
			c.fail("reading body", err)
			return
		}
		c.deliver()
	})
}

func (c *Conn[A]) deliver() {
	om := OwnedMessage[A]{Msg: c.in}
	if c.role == RoleServer {
		om.Remote = c.ID()
	}
	c.in = Message[A]{}
	c.incoming.PushBack(om)
	c.readHeader()
}

// writeFrame writes the front of the outgoing queue and keeps draining until
// the queue is empty. The message stays queued until its write completes.
func (c *Conn[A]) writeFrame() {
	msg, err := c.out.Front()
	if err != nil {
		return
	}

	buf := framePool.acquire()
	buf.B = encodeFrame(buf.B[:0], &msg)

	// release before posting: nothing posted after the loop stops is run
	go func() {
		_, err := c.sock.Write(buf.B)
		framePool.release(buf)
		c.loop.post(func() { c.frameWritten(err) })
	}()
}

func (c *Conn[A]) frameWritten(err error) {
	if c.closed() {
		return
	}
	if err != nil {
		c.fail("writing frame", err)
		return
	}
	if _, err := c.out.PopFront(); err == nil {
		c.pending.Add(-1)
	}
	if !c.out.Empty() {
		c.writeFrame()
	}
}
