package chatroom

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/blang/semver/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/lk2023060901/chatrelay-go/internal/network/serializer"
	"github.com/lk2023060901/chatrelay-go/pkg/log"
	"github.com/lk2023060901/chatrelay-go/pkg/util/merr"
)

const ioTimeout = 5 * time.Second

type testClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

// dialClient 连接服务器并读掉用户名提示。
func dialClient(t *testing.T, srv *Server) *testClient {
	t.Helper()
	c := dialRaw(t, srv)
	c.expect(promptUsernameText)
	return c
}

func dialRaw(t *testing.T, srv *Server) *testClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", srv.Addr().String(), ioTimeout)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return &testClient{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (c *testClient) send(line string) {
	c.t.Helper()
	_, err := io.WriteString(c.conn, line+"\n")
	require.NoError(c.t, err)
}

func (c *testClient) readLine() (string, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(ioTimeout))
	line, err := c.r.ReadString('\n')
	return strings.TrimSuffix(line, "\n"), err
}

func (c *testClient) expect(want string) {
	c.t.Helper()
	line, err := c.readLine()
	require.NoError(c.t, err)
	assert.Equal(c.t, want, line)
}

// expectNothing 断言短时间内没有收到任何消息。
func (c *testClient) expectNothing() {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	line, err := c.r.ReadString('\n')
	require.Error(c.t, err, "unexpected message %q", line)
	var netErr net.Error
	if assert.ErrorAs(c.t, err, &netErr) {
		assert.True(c.t, netErr.Timeout())
	}
}

func (c *testClient) expectClosed() {
	c.t.Helper()
	_, err := c.readLine()
	assert.ErrorIs(c.t, err, io.EOF)
}

func (c *testClient) setName(name string) {
	c.t.Helper()
	c.send("/username " + name)
	c.expect("[SERVER]: Username set to " + name)
}

type runningServer struct {
	*Server
	out   *syncBuffer
	done  chan error
	exits *atomic.Int32
}

func startServer(t *testing.T, cfg Config, opts ...Option) *runningServer {
	t.Helper()
	rs := &runningServer{
		out:   &syncBuffer{},
		done:  make(chan error, 1),
		exits: atomic.NewInt32(0),
	}
	opts = append([]Option{
		WithOutput(rs.out),
		WithExitHook(func() { rs.exits.Inc() }),
	}, opts...)

	srv, err := NewServer(cfg, opts...)
	require.NoError(t, err)
	rs.Server = srv
	go func() {
		rs.done <- srv.Run(context.Background())
	}()
	t.Cleanup(func() {
		_ = srv.Close()
	})
	return rs
}

func (rs *runningServer) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-rs.done:
		return err
	case <-time.After(ioTimeout):
		t.Fatal("server did not stop")
		return nil
	}
}

func TestServerListeningLine(t *testing.T) {
	rs := startServer(t, testConfig())
	assert.Eventually(t, func() bool {
		return strings.Contains(rs.out.String(), fmt.Sprintf("Server listening on port %d\n", rs.Port()))
	}, ioTimeout, 10*time.Millisecond)
}

func TestServerUsernameTaken(t *testing.T) {
	rs := startServer(t, testConfig())

	alice := dialClient(t, rs.Server)
	alice.setName("alice")

	bob := dialClient(t, rs.Server)
	bob.send("/username alice")
	bob.expect("[SERVER]: The username is already taken.")

	bob.setName("bob")
	alice.expect("[SERVER]: 'bob' has joined the chat room.")
	bob.expectNothing()
}

func TestServerPrivateMessage(t *testing.T) {
	rs := startServer(t, testConfig())

	alice := dialClient(t, rs.Server)
	alice.setName("alice")
	bob := dialClient(t, rs.Server)
	bob.setName("bob")
	carol := dialClient(t, rs.Server)
	carol.setName("carol")
	alice.expect("[SERVER]: 'bob' has joined the chat room.")
	alice.expect("[SERVER]: 'carol' has joined the chat room.")
	bob.expect("[SERVER]: 'carol' has joined the chat room.")

	alice.send("/private bob hello")
	bob.expect("[Private from alice]: hello")
	alice.expectNothing()
	carol.expectNothing()
}

func TestServerUnnamedChat(t *testing.T) {
	rs := startServer(t, testConfig())

	alice := dialClient(t, rs.Server)
	alice.setName("alice")
	anon := dialClient(t, rs.Server)

	anon.send("hi everyone")
	anon.expect("[SERVER]: You must set a username before sending messages.")
	alice.expectNothing()
}

func TestServerChatAndQuit(t *testing.T) {
	rs := startServer(t, testConfig())

	alice := dialClient(t, rs.Server)
	alice.setName("alice")
	bob := dialClient(t, rs.Server)
	bob.setName("bob")
	alice.expect("[SERVER]: 'bob' has joined the chat room.")

	alice.send("good morning")
	bob.expect("[alice]: good morning")
	alice.expectNothing()

	bob.send("/quit")
	bob.expect("[SERVER]: Goodbye, bob!")
	bob.expectClosed()
	alice.expect("[SERVER]: bob has left the chat.")
	alice.expectNothing()

	assert.Eventually(t, func() bool { return rs.Registry().Count() == 1 }, ioTimeout, 10*time.Millisecond)
}

func TestServerPeerDisconnect(t *testing.T) {
	rs := startServer(t, testConfig())

	alice := dialClient(t, rs.Server)
	alice.setName("alice")
	bob := dialClient(t, rs.Server)
	bob.setName("bob")
	alice.expect("[SERVER]: 'bob' has joined the chat room.")

	require.NoError(t, bob.conn.Close())
	alice.expect("[SERVER]: bob disconnected.")
	assert.Eventually(t, func() bool { return rs.Registry().Count() == 1 }, ioTimeout, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return strings.Contains(rs.out.String(), "Client bob disconnected.\n")
	}, ioTimeout, 10*time.Millisecond)
}

func TestServerCapacity(t *testing.T) {
	cfg := testConfig()
	cfg.MaxClients = 2
	rs := startServer(t, cfg)

	first := dialClient(t, rs.Server)
	dialClient(t, rs.Server)

	// 超出容量的连接被直接关闭，不收到任何消息。
	rejected := dialRaw(t, rs.Server)
	rejected.expectClosed()
	assert.Equal(t, 2, rs.Registry().Count())

	// 有空位后可以重新接入。
	first.send("/quit")
	first.expect("[SERVER]: Goodbye, Anonymous!")
	assert.Eventually(t, func() bool { return rs.Registry().Count() == 1 }, ioTimeout, 10*time.Millisecond)
	dialClient(t, rs.Server)
}

func TestServerShutdown(t *testing.T) {
	in, operator := io.Pipe()
	defer operator.Close()
	rs := startServer(t, testConfig(), WithConsole(in))

	alice := dialClient(t, rs.Server)
	alice.setName("alice")
	bob := dialClient(t, rs.Server)
	bob.setName("bob")
	alice.expect("[SERVER]: 'bob' has joined the chat room.")
	anon := dialClient(t, rs.Server)

	_, err := io.WriteString(operator, "/shutdown\n")
	require.NoError(t, err)

	for _, c := range []*testClient{alice, bob, anon} {
		c.expect("[SERVER]: The server is shutting down. You will be disconnected.")
		c.expectClosed()
	}

	require.NoError(t, rs.wait(t))
	assert.Equal(t, int32(1), rs.exits.Load())
	assert.Equal(t, 0, rs.Registry().Count())
	assert.False(t, rs.Running())

	// 监听已关闭。
	_, err = net.DialTimeout("tcp", rs.Addr().String(), time.Second)
	assert.Error(t, err)

	assert.ErrorIs(t, rs.Run(context.Background()), merr.ErrServerClosed)
}

func TestServerSnapshotFanout(t *testing.T) {
	cfg := testConfig()
	cfg.Fanout = FanoutSnapshot
	cfg.WriteTimeout = time.Second
	rs := startServer(t, cfg)

	alice := dialClient(t, rs.Server)
	alice.setName("alice")
	bob := dialClient(t, rs.Server)
	bob.setName("bob")
	alice.expect("[SERVER]: 'bob' has joined the chat room.")

	bob.send("hey")
	alice.expect("[bob]: hey")
}

func TestServerContextCancel(t *testing.T) {
	srv, err := NewServer(testConfig(), WithOutput(&syncBuffer{}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx)
	}()

	c := dialClient(t, srv)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(ioTimeout):
		t.Fatal("server did not stop")
	}
	c.expectClosed()
}

func TestServerStatus(t *testing.T) {
	cfg := testConfig()
	cfg.StatusAddr = "127.0.0.1:0"
	rs := startServer(t, cfg, WithVersion(semver.MustParse("1.2.3")))
	require.NotNil(t, rs.StatusAddr())

	alice := dialClient(t, rs.Server)
	alice.setName("alice")
	dialClient(t, rs.Server)

	base := "http://" + rs.StatusAddr().String()
	resp, err := http.Get(base + "/sessions")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var st Status
	require.NoError(t, serializer.JSONSerializer{}.Unmarshal(body, &st))
	assert.Equal(t, "1.2.3", st.Version)
	assert.Equal(t, DefaultMaxClients, st.Capacity)
	assert.Equal(t, 2, st.Count)
	assert.True(t, st.Running)
	require.Len(t, st.Sessions, 2)
	assert.Equal(t, "alice", st.Sessions[0].Name)
	assert.True(t, st.Sessions[0].Confirmed)
	assert.Equal(t, PlaceholderName, st.Sessions[1].Name)

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	body, err = io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "chatrelay_registry_sessions")

	resp, err = http.Post(base+"/sessions", "text/plain", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServerWithLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	rs := startServer(t, testConfig(), WithLogger(&log.MLogger{Logger: zap.New(core)}))

	require.Eventually(t, func() bool {
		return logs.FilterMessage("chat relay server started").Len() == 1
	}, ioTimeout, 10*time.Millisecond)
	entry := logs.FilterMessage("chat relay server started").All()[0]
	assert.Equal(t, "chatroom", entry.ContextMap()["component"])
	assert.Equal(t, rs.Addr().String(), entry.ContextMap()["addr"])
}
