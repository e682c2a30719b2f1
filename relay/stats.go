package relay

import (
	"fmt"
	"time"

	"github.com/TheSmallBoat/tsnet/lib"
	"github.com/fxamacker/cbor/v2"
)

type Stats struct {
	RelayID  string        `cbor:"1,keyasint"`
	Uptime   time.Duration `cbor:"2,keyasint"`
	Conns    int           `cbor:"3,keyasint"`
	Relayed  uint64        `cbor:"4,keyasint"`
	Pinged   uint64        `cbor:"5,keyasint"`
	FrameNew uint64        `cbor:"6,keyasint"`
	FrameHit uint64        `cbor:"7,keyasint"`
}

func (s Stats) String() string {
	return fmt.Sprintf("relay %s up %s: %d conns, %d relayed, %d pinged, frame pool %d new / %d reused",
		s.RelayID, s.Uptime.Round(time.Second), s.Conns, s.Relayed, s.Pinged, s.FrameNew, s.FrameHit)
}

func EncodeStats(s Stats) (lib.Message[MsgType], error) {
	msg := lib.NewMessage(MsgStatsReply)
	data, err := cbor.Marshal(s)
	if err != nil {
		return msg, fmt.Errorf("encode stats: %w", err)
	}
	msg.PushBytes(data)
	return msg, nil
}

func DecodeStats(msg *lib.Message[MsgType]) (Stats, error) {
	var s Stats
	if msg.Header.ID != MsgStatsReply {
		return s, fmt.Errorf("%w: %v", ErrUnknownType, msg.Header.ID)
	}
	if err := cbor.Unmarshal(msg.Body, &s); err != nil {
		return s, fmt.Errorf("decode stats: %w", err)
	}
	return s, nil
}
