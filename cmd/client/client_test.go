package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/chatrelay-go/internal/chatroom"
	"github.com/lk2023060901/chatrelay-go/internal/network/framer"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func startServer(t *testing.T) *chatroom.Server {
	t.Helper()

	cfg := chatroom.DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.MinPort = -1
	cfg.Framing = framer.NameLine

	srv, err := chatroom.NewServer(cfg, chatroom.WithOutput(io.Discard))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return srv
}

type clientRun struct {
	in   *io.PipeWriter
	out  *syncBuffer
	err  *syncBuffer
	code chan int
}

func startClient(t *testing.T, srv *chatroom.Server) *clientRun {
	t.Helper()

	pr, pw := io.Pipe()
	cr := &clientRun{in: pw, out: &syncBuffer{}, err: &syncBuffer{}, code: make(chan int, 1)}
	args := []string{"--no-color", "--framing", framer.NameLine, "127.0.0.1", strconv.Itoa(srv.Port())}
	go func() {
		cr.code <- run(context.Background(), "chatrelay-client", args, pr, cr.out, cr.err)
	}()
	t.Cleanup(func() { _ = pw.Close() })
	return cr
}

func (cr *clientRun) send(t *testing.T, line string) {
	t.Helper()
	_, err := io.WriteString(cr.in, line+"\n")
	require.NoError(t, err)
}

func (cr *clientRun) wait(t *testing.T) int {
	t.Helper()
	select {
	case code := <-cr.code:
		return code
	case <-time.After(5 * time.Second):
		t.Fatal("client did not exit")
		return -1
	}
}

func TestClientQuit(t *testing.T) {
	srv := startServer(t)
	cr := startClient(t, srv)

	require.Eventually(t, func() bool {
		return srv.Registry().Count() == 1
	}, 5*time.Second, 10*time.Millisecond)

	cr.send(t, "/username alice")
	require.Eventually(t, func() bool {
		return bytes.Contains([]byte(cr.out.String()), []byte("[SERVER]: Username set to alice"))
	}, 5*time.Second, 10*time.Millisecond)

	cr.send(t, "/help")
	cr.send(t, "/quit")
	assert.Equal(t, 0, cr.wait(t))

	out := cr.out.String()
	assert.Contains(t, out, "Connected to the server")
	assert.Contains(t, out, "[SERVER]: Please set your username using /username <name>")
	assert.Contains(t, out, chatroom.ClientHelpText)
	assert.Contains(t, out, "Disconnecting from the server...")
	assert.Contains(t, out, "[SERVER]: Goodbye, alice!")
	assert.Contains(t, out, "Client terminated.")
	assert.NotContains(t, out, "Server disconnected.")
}

func TestClientServerShutdown(t *testing.T) {
	srv := startServer(t)
	cr := startClient(t, srv)

	require.Eventually(t, func() bool {
		return srv.Registry().Count() == 1
	}, 5*time.Second, 10*time.Millisecond)

	srv.Shutdown(context.Background())
	assert.Equal(t, 0, cr.wait(t))

	out := cr.out.String()
	assert.Contains(t, out, "[SERVER]: "+chatroom.ShutdownNotice)
	assert.Contains(t, out, "Server is shutting down. Disconnecting...")
	assert.NotContains(t, out, "Server disconnected.")
}

func TestClientServerDisconnect(t *testing.T) {
	srv := startServer(t)
	cr := startClient(t, srv)

	require.Eventually(t, func() bool {
		return srv.Registry().Count() == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, srv.Close())
	assert.Equal(t, 0, cr.wait(t))
	assert.Contains(t, cr.out.String(), "Server disconnected.")
}

func TestClientUsage(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run(context.Background(), "chatrelay-client", []string{"127.0.0.1"}, bytes.NewReader(nil), &out, &errOut)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut.String(), "Usage: chatrelay-client <ip_address> <port>")

	errOut.Reset()
	code = run(context.Background(), "chatrelay-client", []string{"--framing", "xml", "127.0.0.1", "9000"}, bytes.NewReader(nil), &out, &errOut)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut.String(), "Invalid framing")
}

func TestClientDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	var out, errOut bytes.Buffer
	args := []string{"--attempts", "1", "127.0.0.1", strconv.Itoa(port)}
	code := run(context.Background(), "chatrelay-client", args, bytes.NewReader(nil), &out, &errOut)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut.String(), "Connection failed")
}

func TestParseFlags(t *testing.T) {
	opts, err := parseFlags("c", []string{"--framing=line", "--attempts", "7", "example.com", "2345"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, framer.NameLine, opts.Framing)
	assert.Equal(t, 7, opts.Attempts)
	assert.Equal(t, "example.com:2345", opts.addr())

	_, err = parseFlags("c", []string{"a", "b", "c"}, io.Discard)
	assert.ErrorIs(t, err, errUsage)
}
