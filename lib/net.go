package lib

import (
	"log"
	"net"
	"strconv"
)

type Role int

const (
	RoleServer Role = iota // accepted side, sends the challenge
	RoleClient             // dialing side, answers the challenge
)

func (r Role) String() string {
	if r == RoleServer {
		return "Server"
	}
	return "Client"
}

// ConnState is the lifecycle position of a Conn. States only move forward.
type ConnState int32

const (
	StateCreated ConnState = iota
	StateHandshaking
	StateStreaming
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateHandshaking:
		return "handshaking"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handler processes messages drained by Pump.
type Handler[A ID] interface {
	HandleMessage(ctx *Context[A]) error
}

type HandlerFunc[A ID] func(ctx *Context[A]) error

func (fn HandlerFunc[A]) HandleMessage(ctx *Context[A]) error { return fn(ctx) }

// ConnStateHandler observes connection state changes. It is called on the
// run loop goroutine and must not block.
type ConnStateHandler[A ID] interface {
	HandleConnState(conn *Conn[A], state ConnState)
}

type ConnStateHandlerFunc[A ID] func(conn *Conn[A], state ConnState)

func (fn ConnStateHandlerFunc[A]) HandleConnState(conn *Conn[A], state ConnState) { fn(conn, state) }

// AdmitFunc decides whether a freshly accepted connection may handshake. It
// runs on the run loop goroutine and must not block.
type AdmitFunc[A ID] func(conn *Conn[A]) bool

type Logger interface {
	Printf(format string, v ...interface{})
}

// NoopLogger discards everything.
type NoopLogger struct{}

func (NoopLogger) Printf(string, ...interface{}) {}

func loggerOr(l Logger) Logger {
	if l == nil {
		return log.Default()
	}
	return l
}

func HostAddr(host string, port uint16) string {
	return net.JoinHostPort(host, strconv.FormatUint(uint64(port), 10))
}
