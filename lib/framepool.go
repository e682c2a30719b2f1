package lib

import "github.com/valyala/bytebufferpool"

// FramePool hands out the buffers outgoing frames are encoded into. A buffer
// stays acquired until the write that carries it completes.
type FramePool struct {
	bp bytebufferpool.Pool
	m  *PoolMetrics
}

func (p *FramePool) acquire() *bytebufferpool.ByteBuffer {
	buf := p.bp.Get()
	p.m.acquired(cap(buf.B) > 0)
	return buf
}

func (p *FramePool) release(buf *bytebufferpool.ByteBuffer) {
	p.bp.Put(buf)
	p.m.released()
}

func encodeFrame[A ID](dst []byte, msg *Message[A]) []byte {
	dst = appendHeader(dst, Header[A]{ID: msg.Header.ID, Size: uint32(len(msg.Body))})
	return append(dst, msg.Body...)
}
