package lib

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/TheSmallBoat/tsnet/queue"
	"github.com/jpillora/backoff"
	"github.com/someonegg/gox/syncx"
)

// NoLimit makes Pump drain every queued message.
const NoLimit = -1

// Server accepts framed connections. The zero value is ready to use; set the
// exported fields before calling Serve.
type Server[A ID] struct {
	Handler   Handler[A]
	Admit     AdmitFunc[A] // nil admits every connection
	ConnState ConnStateHandler[A]
	Logger    Logger

	// MaxBodySize bounds the body size a peer may announce. Zero means no limit.
	MaxBodySize uint32

	once sync.Once
	loop *runLoop
	done syncx.DoneChan

	mu      sync.Mutex
	closing bool
	lns     map[net.Listener]struct{}
	conns   map[ConnID]*Conn[A]
	wg      sync.WaitGroup

	nextID   ConnID // only touched on the loop
	incoming queue.Queue[OwnedMessage[A]]
}

func (s *Server[A]) init() {
	s.once.Do(func() {
		s.loop = newRunLoop()
		s.done = syncx.NewDoneChan()
		s.lns = make(map[net.Listener]struct{})
		s.conns = make(map[ConnID]*Conn[A])
	})
}

func (s *Server[A]) logf(format string, v ...interface{}) {
	loggerOr(s.Logger).Printf("[Server] "+format, v...)
}

// Start listens on addr and serves in the background. The returned address
// is the one actually bound, useful with ":0".
func (s *Server[A]) Start(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.logf("exception: %v", err)
		return nil, fmt.Errorf("%w: %w", ErrConnectFailure, err)
	}
	if !s.track(ln) {
		_ = ln.Close()
		return nil, ErrServerClosed
	}

	go s.accept(ln)

	s.logf("started and waiting for connections on %s", ln.Addr())
	return ln.Addr(), nil
}

// Serve accepts connections on ln until Shutdown is called or ln is closed,
// then returns nil. Failed accepts are logged and retried.
func (s *Server[A]) Serve(ln net.Listener) error {
	if !s.track(ln) {
		return nil
	}
	s.accept(ln)
	return nil
}

func (s *Server[A]) track(ln net.Listener) bool {
	s.init()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closing {
		return false
	}
	s.lns[ln] = struct{}{}
	s.wg.Add(1)
	s.loop.start()
	return true
}

func (s *Server[A]) accept(ln net.Listener) {
	defer func() {
		s.mu.Lock()
		delete(s.lns, ln)
		s.mu.Unlock()
		s.wg.Done()
	}()

	delay := &backoff.Backoff{Min: 5 * time.Millisecond, Max: 1 * time.Second, Factor: 2}

	for {
		sock, err := ln.Accept()
		if err != nil {
			if s.isClosing() || errors.Is(err, net.ErrClosed) {
				return
			}

			d := delay.Duration()
			s.logf("error accepting connection: %v; retrying in %s", err, d)
			if sleep(context.Background(), d, s.done) != nil {
				return
			}
			continue
		}
		delay.Reset()

		s.loop.post(func() { s.admit(sock) })
	}
}

func (s *Server[A]) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// admit runs on the loop.
func (s *Server[A]) admit(sock net.Conn) {
	if s.isClosing() {
		_ = sock.Close()
		return
	}

	c := newConn[A](RoleServer, sock, &s.incoming, s.loop, s.Logger, s.MaxBodySize)
	s.nextID++
	c.setID(s.nextID)

	s.logf("accepted connection from %s", sock.RemoteAddr())

	if s.Admit != nil && !s.Admit(c) {
		s.logf("connection %d denied", c.ID())
		s.nextID--
		c.close()
		return
	}

	c.onState = s.handleConnState

	s.mu.Lock()
	s.conns[c.ID()] = c
	s.mu.Unlock()

	s.logf("connection %d approved", c.ID())
	c.connectToClient()
}

func (s *Server[A]) handleConnState(c *Conn[A], state ConnState) {
	if state == StateClosed {
		s.mu.Lock()
		if s.conns[c.ID()] == c {
			delete(s.conns, c.ID())
		}
		s.mu.Unlock()
		s.logf("connection %d closed", c.ID())
	}
	if s.ConnState != nil {
		s.ConnState.HandleConnState(c, state)
	}
}

// Conn returns the live connection with the given id, or nil.
func (s *Server[A]) Conn(id ConnID) *Conn[A] {
	s.init()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[id]
}

// Conns returns the live connections ordered by id.
func (s *Server[A]) Conns() []*Conn[A] {
	s.init()
	s.mu.Lock()
	conns := make([]*Conn[A], 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	sort.Slice(conns, func(i, j int) bool { return conns[i].ID() < conns[j].ID() })
	return conns
}

func (s *Server[A]) Len() int {
	s.init()
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// SendTo queues msg on the connection with the given id.
func (s *Server[A]) SendTo(id ConnID, msg Message[A]) error {
	c := s.Conn(id)
	if c == nil {
		return fmt.Errorf("%w: %d", ErrUnknownConn, id)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return c.Send(msg)
}

// Broadcast queues msg on every live connection except the listed ones.
func (s *Server[A]) Broadcast(msg Message[A], except ...ConnID) {
	skip := make(map[ConnID]struct{}, len(except))
	for _, id := range except {
		skip[id] = struct{}{}
	}
	for _, c := range s.Conns() {
		if _, ok := skip[c.ID()]; ok || !c.IsConnected() {
			continue
		}
		_ = c.Send(msg)
	}
}

// Incoming is the queue every connection of s delivers into.
func (s *Server[A]) Incoming() *queue.Queue[OwnedMessage[A]] { return &s.incoming }

// Pump hands up to max queued messages to Handler and returns how many it
// handled. With NoLimit every queued message is handled. If block is set and
// the queue is empty, Pump first waits for a message to arrive.
func (s *Server[A]) Pump(max int, block bool) int {
	return pump(&s.incoming, max, block, s.Handler, s.Conn, s.logf)
}

func pump[A ID](incoming *queue.Queue[OwnedMessage[A]], max int, block bool, h Handler[A],
	lookup func(ConnID) *Conn[A], logf func(string, ...interface{})) int {
	if block {
		incoming.WaitForItem()
	}

	n := 0
	for max < 0 || n < max {
		om, err := incoming.PopFront()
		if err != nil {
			break
		}
		n++

		if h == nil {
			continue
		}
		ctx := acquireContext(contextPool, lookup(om.Remote), om)
		if err := h.HandleMessage(ctx); err != nil {
			logf("handling message %s from conn %d: %v", om.Msg, om.Remote, err)
		}
		releaseContext(contextPool, ctx)
	}
	return n
}

// Shutdown stops accepting, closes every connection and stops the run loop.
// It waits for all of that to finish. A shut down Server cannot be reused.
func (s *Server[A]) Shutdown() {
	s.init()

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.closing = true
	s.done.SetDone()
	for ln := range s.lns {
		_ = ln.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()

	for _, c := range s.Conns() {
		c.Disconnect()
	}
	s.loop.stop()

	s.mu.Lock()
	for id, c := range s.conns {
		c.abandon()
		delete(s.conns, id)
	}
	s.mu.Unlock()

	s.logf("stopped")
}
