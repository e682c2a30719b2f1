package lib

import (
	"encoding/binary"
	"fmt"
	"unsafe"
)

// ID constrains message identifiers to fixed-size integers. Applications
// usually declare an enum such as `type MsgType uint32`.
type ID interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64 | ~int8 | ~int16 | ~int32 | ~int64
}

// ConnID identifies a server-side connection. Server assigns ids starting at
// 1; zero means "no connection".
type ConnID uint32

type Header[A ID] struct {
	ID   A
	Size uint32 // number of body bytes
}

// Message is a header plus an opaque body. The body behaves as a stack: Pop
// returns the value pushed last, so writers push fields in the reverse order
// readers pop them.
type Message[A ID] struct {
	Header Header[A]
	Body   []byte
}

// OwnedMessage is a message together with the id of the connection it was
// read from. Remote is zero for messages received by a Client.
type OwnedMessage[A ID] struct {
	Remote ConnID
	Msg    Message[A]
}

func NewMessage[A ID](id A) Message[A] {
	return Message[A]{Header: Header[A]{ID: id}}
}

func (m *Message[A]) Len() int { return len(m.Body) }

func (m *Message[A]) sync() { m.Header.Size = uint32(len(m.Body)) }

// Push appends the native byte order encoding of v to the tail of the body.
// v must have a fixed binary size: sized numbers, bools, arrays, structs of
// those, or slices of them. int, uint and strings are rejected.
func (m *Message[A]) Push(v any) error {
	if binary.Size(v) < 0 {
		return fmt.Errorf("push %T: %w", v, ErrNotFixedSize)
	}
	body, err := binary.Append(m.Body, binary.NativeEndian, v)
	if err != nil {
		return fmt.Errorf("push %T: %w", v, err)
	}
	m.Body = body
	m.sync()
	return nil
}

// Pop decodes the last binary.Size(v) bytes of the body into v, which must be
// a pointer, and truncates them. On error the message is unchanged.
func (m *Message[A]) Pop(v any) error {
	if len(m.Body) == 0 {
		return ErrEmptyPop
	}
	n := binary.Size(v)
	if n < 0 {
		return fmt.Errorf("pop %T: %w", v, ErrNotFixedSize)
	}
	if n > len(m.Body) {
		return fmt.Errorf("pop %T: %w: need %d bytes, have %d", v, ErrShortBody, n, len(m.Body))
	}
	off := len(m.Body) - n
	if _, err := binary.Decode(m.Body[off:], binary.NativeEndian, v); err != nil {
		return fmt.Errorf("pop %T: %w", v, err)
	}
	m.Body = m.Body[:off]
	m.sync()
	return nil
}

// PushBytes appends raw bytes to the tail of the body.
func (m *Message[A]) PushBytes(p []byte) {
	m.Body = append(m.Body, p...)
	m.sync()
}

// PopBytes removes the last n body bytes and returns a copy of them.
func (m *Message[A]) PopBytes(n int) ([]byte, error) {
	if len(m.Body) == 0 {
		return nil, ErrEmptyPop
	}
	if n < 0 || n > len(m.Body) {
		return nil, fmt.Errorf("pop %d bytes: %w: have %d", n, ErrShortBody, len(m.Body))
	}
	off := len(m.Body) - n
	p := append([]byte(nil), m.Body[off:]...)
	m.Body = m.Body[:off]
	m.sync()
	return p, nil
}

func (m *Message[A]) Reset() {
	m.Body = m.Body[:0]
	m.sync()
}

// Clone returns a deep copy of m.
func (m Message[A]) Clone() Message[A] {
	c := Message[A]{Header: m.Header}
	if len(m.Body) > 0 {
		c.Body = append([]byte(nil), m.Body...)
	}
	c.sync()
	return c
}

func (m Message[A]) String() string {
	return fmt.Sprintf("id:%v size:%d", m.Header.ID, m.Header.Size)
}

func idWidth[A ID]() int {
	var id A
	return int(unsafe.Sizeof(id))
}

// HeaderSize is the number of bytes a header of A occupies on the wire: the
// id followed by a 4 byte size, without padding.
func HeaderSize[A ID]() int { return idWidth[A]() + 4 }

// appendHeader writes h in host byte order. Peers of different endianness do
// not interoperate.
func appendHeader[A ID](dst []byte, h Header[A]) []byte {
	order := binary.NativeEndian
	v := uint64(h.ID)
	switch idWidth[A]() {
	case 1:
		dst = append(dst, byte(v))
	case 2:
		dst = order.AppendUint16(dst, uint16(v))
	case 4:
		dst = order.AppendUint32(dst, uint32(v))
	default:
		dst = order.AppendUint64(dst, v)
	}
	return order.AppendUint32(dst, h.Size)
}

// decodeHeader expects len(buf) == HeaderSize[A]().
func decodeHeader[A ID](buf []byte) Header[A] {
	order := binary.NativeEndian
	var h Header[A]
	w := idWidth[A]()
	switch w {
	case 1:
		h.ID = A(buf[0])
	case 2:
		h.ID = A(order.Uint16(buf))
	case 4:
		h.ID = A(order.Uint32(buf))
	default:
		h.ID = A(order.Uint64(buf))
	}
	h.Size = order.Uint32(buf[w:])
	return h
}
