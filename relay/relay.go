package relay

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/TheSmallBoat/tsnet/lib"
	"github.com/google/uuid"
)

var ErrUnknownType = errors.New("unknown message type")

// Relay answers pings and stats requests and forwards text messages to every
// other connection of Server, stamped with the id of the sender.
type Relay struct {
	Server *lib.Server[MsgType]

	// Echo also sends text back to its sender.
	Echo bool

	ID      uuid.UUID
	Started time.Time

	relayed atomic.Uint64
	pinged  atomic.Uint64
}

func New(srv *lib.Server[MsgType], echo bool) *Relay {
	return &Relay{Server: srv, Echo: echo, ID: uuid.New(), Started: time.Now()}
}

func (r *Relay) HandleMessage(ctx *lib.Context[MsgType]) error {
	msg := ctx.Message()

	switch msg.Header.ID {
	case MsgPing:
		r.pinged.Add(1)
		pong := msg.Clone()
		pong.Header.ID = MsgPong
		return ctx.Reply(pong)
	case MsgText:
		packet, err := UnmarshalTextPacket(msg.Body)
		if err != nil {
			return fmt.Errorf("text from conn %d: %w", ctx.ConnID(), err)
		}
		packet.From = uint32(ctx.ConnID())

		out := lib.NewMessage(MsgText)
		out.PushBytes(packet.AppendTo(nil))
		if r.Echo {
			r.Server.Broadcast(out)
		} else {
			r.Server.Broadcast(out, ctx.ConnID())
		}
		r.relayed.Add(1)
		return nil
	case MsgStats:
		reply, err := EncodeStats(r.Stats())
		if err != nil {
			return err
		}
		return ctx.Reply(reply)
	default:
		return fmt.Errorf("%w: %v", ErrUnknownType, msg.Header.ID)
	}
}

func (r *Relay) Stats() Stats {
	news, reuses, _ := lib.FramePoolMetrics().Totals()
	s := Stats{
		RelayID:  r.ID.String(),
		Relayed:  r.relayed.Load(),
		Pinged:   r.pinged.Load(),
		FrameNew: news,
		FrameHit: reuses,
	}
	if !r.Started.IsZero() {
		s.Uptime = time.Since(r.Started)
	}
	if r.Server != nil {
		s.Conns = r.Server.Len()
	}
	return s
}
