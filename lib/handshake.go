package lib

import (
	"encoding/binary"
	"fmt"
)

// The handshake is two 8 byte values in host byte order: the server writes a
// challenge, the client answers with Scramble(challenge).

// connectToClient runs the server side of the handshake. A wrong answer closes
// the connection without telling the peer why.
func (c *Conn[A]) connectToClient() {
	if c.role != RoleServer || c.State() != StateCreated {
		return
	}
	c.setState(StateHandshaking)

	binary.NativeEndian.PutUint64(c.hs[:], c.challenge)
	c.asyncWrite(c.hs[:], func(err error) {
		if c.closed() {
			return
		}
		if err != nil {
			c.fail("writing challenge", err)
			return
		}
		c.asyncRead(c.hs[:], c.checkResponse)
	})
}

func (c *Conn[A]) checkResponse(err error) {
	if c.closed() {
		return
	}
	if err != nil {
		c.fail("reading handshake response", err)
		return
	}
	if got := binary.NativeEndian.Uint64(c.hs[:]); got != c.expected {
		c.log.Printf("[%s] conn %d: %v", c.role, c.ID(),
			fmt.Errorf("%w: got %#016x, want %#016x", ErrHandshakeMismatch, got, c.expected))
		c.close()
		return
	}
	c.startStreaming()
}

// answerChallenge runs the client side. The client starts streaming as soon
// as its answer is written; it never learns whether the server accepted it.
func (c *Conn[A]) answerChallenge() {
	if c.closed() {
		return
	}
	c.notify(StateHandshaking)

	c.asyncRead(c.hs[:], func(err error) {
		if c.closed() {
			return
		}
		if err != nil {
			c.fail("reading challenge", err)
			return
		}

		challenge := binary.NativeEndian.Uint64(c.hs[:])
		binary.NativeEndian.PutUint64(c.hs[:], Scramble(challenge))

		c.asyncWrite(c.hs[:], func(err error) {
			if c.closed() {
				return
			}
			if err != nil {
				c.fail("writing handshake response", err)
				return
			}
			c.startStreaming()
		})
	})
}
