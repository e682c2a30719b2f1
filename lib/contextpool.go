package lib

import "sync"

// Context is handed to a Handler for one received message. It is only valid
// for the duration of the HandleMessage call.
type Context[A ID] struct {
	conn   *Conn[A]
	remote ConnID
	msg    Message[A]
}

// Conn returns the connection the message arrived on, or nil if that
// connection has already been closed and forgotten.
func (c *Context[A]) Conn() *Conn[A]       { return c.conn }
func (c *Context[A]) ConnID() ConnID       { return c.remote }
func (c *Context[A]) Message() *Message[A] { return &c.msg }

// Reply sends msg back on the connection the message arrived on.
func (c *Context[A]) Reply(msg Message[A]) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	return c.conn.Send(msg)
}

// ContextPool is shared by every id type; a pooled context of another type
// is dropped and a fresh one allocated.
type ContextPool struct {
	sp sync.Pool
	m  *PoolMetrics
}

func acquireContext[A ID](p *ContextPool, conn *Conn[A], om OwnedMessage[A]) *Context[A] {
	ctx, ok := p.sp.Get().(*Context[A])
	p.m.acquired(ok)
	if !ok {
		ctx = &Context[A]{}
	}
	ctx.conn = conn
	ctx.remote = om.Remote
	ctx.msg = om.Msg
	return ctx
}

func releaseContext[A ID](p *ContextPool, ctx *Context[A]) {
	*ctx = Context[A]{}
	p.sp.Put(ctx)
	p.m.released()
}
