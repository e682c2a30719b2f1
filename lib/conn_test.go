package lib

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/TheSmallBoat/tsnet/queue"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const testTimeout = 5 * time.Second

func dialRaw(t testing.TB, addr net.Addr) net.Conn {
	t.Helper()
	sock, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	require.NoError(t, sock.SetDeadline(time.Now().Add(testTimeout)))
	return sock
}

// answer reads the server challenge from sock and writes back the scrambled value.
func answer(t testing.TB, sock net.Conn) uint64 {
	t.Helper()
	var buf [8]byte
	_, err := io.ReadFull(sock, buf[:])
	require.NoError(t, err)

	challenge := binary.NativeEndian.Uint64(buf[:])
	binary.NativeEndian.PutUint64(buf[:], Scramble(challenge))
	_, err = sock.Write(buf[:])
	require.NoError(t, err)
	return challenge
}

func writeRaw[A ID](t testing.TB, w io.Writer, msg Message[A]) {
	t.Helper()
	_, err := w.Write(encodeFrame(nil, &msg))
	require.NoError(t, err)
}

func readRaw[A ID](t testing.TB, r io.Reader) Message[A] {
	t.Helper()
	hdr := make([]byte, HeaderSize[A]())
	_, err := io.ReadFull(r, hdr)
	require.NoError(t, err)

	msg := Message[A]{Header: decodeHeader[A](hdr)}
	msg.Body = make([]byte, msg.Header.Size)
	_, err = io.ReadFull(r, msg.Body)
	require.NoError(t, err)
	return msg
}

func popIncoming[A ID](t testing.TB, q *queue.Queue[OwnedMessage[A]]) OwnedMessage[A] {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	require.NoError(t, q.WaitForItemContext(ctx))
	om, err := q.PopFront()
	require.NoError(t, err)
	return om
}

type stateLog struct {
	mu     sync.Mutex
	states []ConnState
}

func (l *stateLog) HandleConnState(_ *Conn[msgType], s ConnState) {
	l.mu.Lock()
	l.states = append(l.states, s)
	l.mu.Unlock()
}

func (l *stateLog) get() []ConnState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ConnState(nil), l.states...)
}

func TestServerHandshakeThenStream(t *testing.T) {
	defer goleak.VerifyNone(t)

	states := &stateLog{}
	srv := &Server[msgType]{Logger: NoopLogger{}, ConnState: states}

	addr, err := srv.Start("127.0.0.1:0")
	require.NoError(t, err)
	defer srv.Shutdown()

	sock := dialRaw(t, addr)
	defer sock.Close()

	answer(t, sock)

	msg := NewMessage[msgType](9)
	require.NoError(t, msg.Push(uint64(12345)))
	writeRaw(t, sock, msg)

	om := popIncoming(t, srv.Incoming())
	require.EqualValues(t, 1, om.Remote)
	require.EqualValues(t, 9, om.Msg.Header.ID)

	var v uint64
	require.NoError(t, om.Msg.Pop(&v))
	require.EqualValues(t, 12345, v)

	c := srv.Conn(1)
	require.NotNil(t, c)
	require.Equal(t, StateStreaming, c.State())
	require.Equal(t, RoleServer, c.Role())
	require.Equal(t, []ConnState{StateHandshaking, StateStreaming}, states.get())

	reply := NewMessage[msgType](10)
	require.NoError(t, reply.Push(int16(-1)))
	require.NoError(t, srv.SendTo(1, reply))

	got := readRaw[msgType](t, sock)
	require.EqualValues(t, 10, got.Header.ID)
	var r int16
	require.NoError(t, got.Pop(&r))
	require.EqualValues(t, -1, r)

	require.NoError(t, sock.Close())
	require.Eventually(t, func() bool { return srv.Len() == 0 }, testTimeout, 10*time.Millisecond)
	require.Equal(t, []ConnState{StateHandshaking, StateStreaming, StateClosed}, states.get())
	require.False(t, c.IsConnected())
}

func TestServerEmptyBodyFrame(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := &Server[uint8]{Logger: NoopLogger{}}
	addr, err := srv.Start("127.0.0.1:0")
	require.NoError(t, err)
	defer srv.Shutdown()

	sock := dialRaw(t, addr)
	defer sock.Close()
	answer(t, sock)

	writeRaw(t, sock, NewMessage[uint8](1))
	writeRaw(t, sock, NewMessage[uint8](2))

	first := popIncoming(t, srv.Incoming())
	second := popIncoming(t, srv.Incoming())
	require.EqualValues(t, 1, first.Msg.Header.ID)
	require.EqualValues(t, 2, second.Msg.Header.ID)
	require.Zero(t, first.Msg.Header.Size)
	require.Empty(t, second.Msg.Body)
}

func TestServerRejectsWrongResponse(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := &Server[msgType]{Logger: NoopLogger{}}
	addr, err := srv.Start("127.0.0.1:0")
	require.NoError(t, err)
	defer srv.Shutdown()

	sock := dialRaw(t, addr)
	defer sock.Close()

	// echo the challenge back unscrambled
	var buf [8]byte
	_, err = io.ReadFull(sock, buf[:])
	require.NoError(t, err)
	_, err = sock.Write(buf[:])
	require.NoError(t, err)

	_, err = sock.Read(buf[:1])
	require.ErrorIs(t, err, io.EOF)
	require.Eventually(t, func() bool { return srv.Len() == 0 }, testTimeout, 10*time.Millisecond)
	require.True(t, srv.Incoming().Empty())
}

func TestServerRejectsOversizedBody(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := &Server[msgType]{Logger: NoopLogger{}, MaxBodySize: 4}
	addr, err := srv.Start("127.0.0.1:0")
	require.NoError(t, err)
	defer srv.Shutdown()

	sock := dialRaw(t, addr)
	defer sock.Close()
	answer(t, sock)

	_, err = sock.Write(appendHeader(nil, Header[msgType]{ID: 1, Size: 1 << 30}))
	require.NoError(t, err)

	var buf [1]byte
	_, err = sock.Read(buf[:])
	require.ErrorIs(t, err, io.EOF)
	require.True(t, srv.Incoming().Empty())
}

func TestClientAnswersChallenge(t *testing.T) {
	defer goleak.VerifyNone(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	client := &Client[msgType]{Logger: NoopLogger{}}
	require.NoError(t, client.Connect("127.0.0.1", uint16(ln.Addr().(*net.TCPAddr).Port)))
	defer client.Disconnect()

	// sent before the challenge has even been written
	early := NewMessage[msgType](3)
	require.NoError(t, early.Push(uint16(77)))
	require.NoError(t, client.Send(early))
	require.Equal(t, 1, client.Conn().Pending())

	sock, err := ln.Accept()
	require.NoError(t, err)
	defer sock.Close()
	require.NoError(t, sock.SetDeadline(time.Now().Add(testTimeout)))

	var buf [8]byte
	challenge := uint64(0x0123456789ABCDEF)
	binary.NativeEndian.PutUint64(buf[:], challenge)
	_, err = sock.Write(buf[:])
	require.NoError(t, err)

	_, err = io.ReadFull(sock, buf[:])
	require.NoError(t, err)
	require.Equal(t, uint64(0x0E16E9F06E99CEFE), binary.NativeEndian.Uint64(buf[:]))

	got := readRaw[msgType](t, sock)
	require.EqualValues(t, 3, got.Header.ID)
	require.Eventually(t, func() bool { return client.Conn().Pending() == 0 }, testTimeout, 5*time.Millisecond)
	var v uint16
	require.NoError(t, got.Pop(&v))
	require.EqualValues(t, 77, v)

	reply := NewMessage[msgType](4)
	require.NoError(t, reply.Push(int32(-5)))
	writeRaw(t, sock, reply)

	om := popIncoming(t, client.Incoming())
	require.Zero(t, om.Remote)
	require.EqualValues(t, 4, om.Msg.Header.ID)
	require.Equal(t, StateStreaming, client.Conn().State())
	require.Equal(t, RoleClient, client.Conn().Role())

	require.NoError(t, sock.Close())
	require.Eventually(t, func() bool { return !client.IsConnected() }, testTimeout, 10*time.Millisecond)
	require.ErrorIs(t, client.Send(reply), ErrNotConnected)
}

func TestConnSendClonesMessage(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := &Server[msgType]{Logger: NoopLogger{}}
	addr, err := srv.Start("127.0.0.1:0")
	require.NoError(t, err)
	defer srv.Shutdown()

	sock := dialRaw(t, addr)
	defer sock.Close()
	answer(t, sock)

	require.Eventually(t, func() bool {
		c := srv.Conn(1)
		return c != nil && c.State() == StateStreaming
	}, testTimeout, 10*time.Millisecond)

	msg := NewMessage[msgType](1)
	require.NoError(t, msg.Push(uint8(1)))
	require.NoError(t, srv.SendTo(1, msg))
	msg.Body[0] = 2

	got := readRaw[msgType](t, sock)
	require.Equal(t, []byte{1}, got.Body)
}

func TestConnPendingDroppedOnClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	client := &Client[msgType]{Logger: NoopLogger{}}
	require.NoError(t, client.Connect("127.0.0.1", uint16(ln.Addr().(*net.TCPAddr).Port)))
	defer client.Disconnect()

	conn := client.Conn()
	for i := 0; i < 3; i++ {
		require.NoError(t, client.Send(NewMessage[msgType](1)))
	}
	require.Equal(t, 3, conn.Pending())

	// the server never sends its challenge, so all three stay held
	conn.Disconnect()
	require.Eventually(t, func() bool { return conn.Pending() == 0 && !conn.IsConnected() }, testTimeout, 5*time.Millisecond)
}
