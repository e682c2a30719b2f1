package relay

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/TheSmallBoat/tsnet/lib"
	"github.com/lithdew/bytesutil"
)

type MsgType uint32

const (
	MsgText MsgType = iota + 1 // body: TextPacket
	MsgPing                    // body: int64 send time in unix nanoseconds
	MsgPong                    // body: the ping body, unchanged
	MsgStats                   // empty body
	MsgStatsReply              // body: CBOR encoded Stats
)

func (t MsgType) String() string {
	switch t {
	case MsgText:
		return "text"
	case MsgPing:
		return "ping"
	case MsgPong:
		return "pong"
	case MsgStats:
		return "stats"
	case MsgStatsReply:
		return "stats-reply"
	default:
		return fmt.Sprintf("type(%d)", uint32(t))
	}
}

var ErrTextTooLong = errors.New("text too long")

// TextPacket is carried big endian regardless of host byte order, unlike the
// frame header.
type TextPacket struct {
	From uint32 // id the relay assigned to the sender, zero when sent by a client
	Text []byte
}

func (p TextPacket) AppendTo(dst []byte) []byte {
	dst = bytesutil.AppendUint32BE(dst, p.From)
	dst = bytesutil.AppendUint16BE(dst, uint16(len(p.Text)))
	dst = append(dst, p.Text...)
	return dst
}

func UnmarshalTextPacket(buf []byte) (TextPacket, error) {
	var packet TextPacket
	if len(buf) < 4+2 {
		return packet, io.ErrUnexpectedEOF
	}
	packet.From, buf = bytesutil.Uint32BE(buf[:4]), buf[4:]
	var size uint16
	size, buf = bytesutil.Uint16BE(buf[:2]), buf[2:]
	if uint16(len(buf)) < size {
		return packet, io.ErrUnexpectedEOF
	}
	packet.Text = buf[:size]
	return packet, nil
}

func NewText(from lib.ConnID, text string) (lib.Message[MsgType], error) {
	msg := lib.NewMessage(MsgText)
	if len(text) > math.MaxUint16 {
		return msg, fmt.Errorf("%w: %d bytes", ErrTextTooLong, len(text))
	}
	msg.PushBytes(TextPacket{From: uint32(from), Text: []byte(text)}.AppendTo(nil))
	return msg, nil
}

func NewPing(sent int64) lib.Message[MsgType] {
	msg := lib.NewMessage(MsgPing)
	_ = msg.Push(sent)
	return msg
}
