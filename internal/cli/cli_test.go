package cli

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/TheSmallBoat/tsnet/lib"
	"github.com/TheSmallBoat/tsnet/relay"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func executeCommand(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	root := NewRootCmd()
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func startRelay(t *testing.T, echo bool) (uint16, func()) {
	t.Helper()

	srv := &lib.Server[relay.MsgType]{Logger: lib.NoopLogger{}}
	srv.Handler = relay.New(srv, echo)

	addr, err := srv.Start("127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, srv) }()

	stop := func() {
		cancel()
		require.NoError(t, <-done)
	}
	return uint16(addr.(*net.TCPAddr).Port), stop
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tsnet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)

	cfg, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)

	cfg, err = LoadConfig(writeConfig(t, "host: 10.0.0.1\nport: 7000\ndial_timeout: 250ms\necho: true\n"))
	require.NoError(t, err)
	require.Equal(t, "10.0.0.1", cfg.Host)
	require.EqualValues(t, 7000, cfg.Port)
	require.Equal(t, 250*time.Millisecond, cfg.DialTimeout)
	require.True(t, cfg.Echo)
	require.Equal(t, 3, cfg.DialAttempts)

	_, err = LoadConfig(writeConfig(t, "port: [1, 2]\n"))
	require.Error(t, err)
}

func TestSendCommand(t *testing.T) {
	defer goleak.VerifyNone(t)

	port, stop := startRelay(t, true)
	defer stop()

	out, err := executeCommand("send", "--quiet", "--port", fmt.Sprint(port), "--wait", "300ms", "hello", "world")
	require.NoError(t, err)
	require.Equal(t, "[1] hello\n[1] world\n", out)
}

func TestFlagsOverrideConfig(t *testing.T) {
	defer goleak.VerifyNone(t)

	port, stop := startRelay(t, false)
	defer stop()
	cfg := writeConfig(t, "port: 1\nquiet: true\ndial_attempts: 1\n")

	_, err := executeCommand("send", "--config", cfg, "hello")
	require.ErrorIs(t, err, lib.ErrConnectFailure)

	bob := &lib.Client[relay.MsgType]{Logger: lib.NoopLogger{}}
	require.NoError(t, bob.Connect("127.0.0.1", port))
	defer bob.Disconnect()

	out, err := executeCommand("send", "--config", cfg, "--port", fmt.Sprint(port), "hello")
	require.NoError(t, err)
	require.Empty(t, out)

	p := popText(t, bob)
	require.EqualValues(t, 2, p.From)
	require.Equal(t, "hello", string(p.Text))
}

func popText(t *testing.T, client *lib.Client[relay.MsgType]) relay.TextPacket {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, client.Incoming().WaitForItemContext(ctx))
	om, err := client.Incoming().PopFront()
	require.NoError(t, err)
	require.Equal(t, relay.MsgText, om.Msg.Header.ID)

	p, err := relay.UnmarshalTextPacket(om.Msg.Body)
	require.NoError(t, err)
	return p
}

func TestSendWithoutWaitDelivers(t *testing.T) {
	defer goleak.VerifyNone(t)

	port, stop := startRelay(t, false)
	defer stop()

	bob := &lib.Client[relay.MsgType]{Logger: lib.NoopLogger{}}
	require.NoError(t, bob.Connect("127.0.0.1", port))
	defer bob.Disconnect()

	for i := 0; i < 20; i++ {
		text := fmt.Sprintf("m%d", i)
		_, err := executeCommand("send", "-q", "--port", fmt.Sprint(port), text)
		require.NoError(t, err)
		require.Equal(t, text, string(popText(t, bob).Text))
	}
}

func TestBenchCommand(t *testing.T) {
	defer goleak.VerifyNone(t)

	port, stop := startRelay(t, false)
	defer stop()

	out, err := executeCommand("bench", "-q", "-p", fmt.Sprint(port), "-n", "200")
	require.NoError(t, err)
	require.Contains(t, out, "200 pings in")

	_, err = executeCommand("bench", "-q", "-n", "0")
	require.Error(t, err)
}

func TestStatsCommand(t *testing.T) {
	defer goleak.VerifyNone(t)

	port, stop := startRelay(t, false)
	defer stop()

	out, err := executeCommand("stats", "-q", "-p", fmt.Sprint(port))
	require.NoError(t, err)
	require.Contains(t, out, "1 conns, 0 relayed")
}
