package chatroom

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func newConsoleFixture(t *testing.T) (*Server, *syncBuffer, *Console, *atomic.Int32) {
	t.Helper()
	exits := atomic.NewInt32(0)
	srv, out := newTestServer(t, testConfig(),
		WithConsole(strings.NewReader("")),
		WithExitHook(func() { exits.Inc() }))
	require.NotNil(t, srv.Console())
	return srv, out, srv.Console(), exits
}

func connectNamed(t *testing.T, srv *Server, name string) *fakeSession {
	t.Helper()
	sess := newFakeSession()
	require.NoError(t, srv.handler.OnAccept(sess))
	srv.handler.OnMessage(sess, "/username "+name)
	sess.Take()
	return sess
}

func TestConsoleHelpAndUnknown(t *testing.T) {
	_, out, console, _ := newConsoleFixture(t)

	console.Execute("/help")
	assert.Equal(t, serverHelpText, out.Take())

	console.Execute("hello")
	assert.Equal(t, "Unknown command. Type /help for a list of commands.\n", out.Take())
	console.Execute("/username admin")
	assert.Equal(t, "Unknown command. Type /help for a list of commands.\n", out.Take())
}

func TestConsoleList(t *testing.T) {
	srv, out, console, _ := newConsoleFixture(t)
	alice := connectNamed(t, srv, "alice")
	out.Take()

	console.Execute("/list")
	assert.Equal(t, "Connected clients:\nalice\n", out.Take())
	// 运营的列表只写到本地输出。
	assert.Empty(t, alice.Messages())
}

func TestConsoleMessage(t *testing.T) {
	srv, out, console, _ := newConsoleFixture(t)
	alice := connectNamed(t, srv, "alice")
	bob := connectNamed(t, srv, "bob")
	alice.Take()

	console.Execute("/message maintenance in 5 minutes")
	assert.Equal(t, []string{"[SERVER]: maintenance in 5 minutes"}, alice.Take())
	assert.Equal(t, []string{"[SERVER]: maintenance in 5 minutes"}, bob.Take())

	out.Take()
	console.Execute("/message")
	assert.Equal(t, "Usage: /message <message>\n", out.Take())
	assert.Empty(t, alice.Take())
}

func TestConsolePrivate(t *testing.T) {
	srv, out, console, _ := newConsoleFixture(t)
	alice := connectNamed(t, srv, "alice")
	bob := connectNamed(t, srv, "bob")
	alice.Take()
	out.Take()

	console.Execute("/private alice please rename")
	assert.Equal(t, []string{"[Private from SERVER]: please rename"}, alice.Take())
	assert.Empty(t, bob.Take())

	console.Execute("/private carol hi")
	assert.Equal(t, "[SERVER]: Recipient 'carol' not found.\n", out.Take())
	assert.Empty(t, alice.Take())
	assert.Empty(t, bob.Take())

	console.Execute("/private alice")
	assert.Equal(t, "Usage: /private <username> <message>\n", out.Take())
}

func TestConsoleRemove(t *testing.T) {
	srv, out, console, _ := newConsoleFixture(t)
	alice := connectNamed(t, srv, "alice")
	bob := connectNamed(t, srv, "bob")
	alice.Take()
	out.Take()

	console.Execute("/remove bob")
	assert.Equal(t, "bob Removed!\n", out.Take())
	assert.Equal(t, []string{"[SERVER]: You are kicked out by the admin!"}, bob.Take())
	assert.True(t, bob.Closed())
	assert.Equal(t, 1, srv.registry.Count())

	// 被踢出的会话断开时不广播。
	srv.handler.OnSessionClosed(bob, nil)
	assert.Empty(t, alice.Take())

	console.Execute("/remove bob")
	assert.Equal(t, "User 'bob' not found.\n", out.Take())

	console.Execute("/remove")
	assert.Equal(t, "Usage: /remove <username>\n", out.Take())
}

func TestConsoleShutdown(t *testing.T) {
	srv, out, console, exits := newConsoleFixture(t)
	alice := connectNamed(t, srv, "alice")
	anon := newFakeSession()
	require.NoError(t, srv.handler.OnAccept(anon))
	alice.Take()
	anon.Take()
	out.Take()

	console.Execute("/shutdown")

	for _, sess := range []*fakeSession{alice, anon} {
		assert.Equal(t, []string{"[SERVER]: The server is shutting down. You will be disconnected."}, sess.Messages())
		assert.True(t, sess.Closed())
		assert.Equal(t, int32(1), sess.closeCount.Load())
	}
	assert.Equal(t, 0, srv.registry.Count())
	assert.False(t, srv.Running())
	assert.Equal(t, int32(1), exits.Load())
	assert.Equal(t, "Server is shutting down...\nServer has been shut down.\n", out.Take())

	// 连接关闭后读循环结束，不产生离线广播。
	srv.handler.OnSessionClosed(alice, nil)
	assert.Len(t, anon.Messages(), 1)

	// 只执行一次。
	console.Execute("/shutdown")
	assert.Equal(t, int32(1), exits.Load())
}

func TestConsoleRun(t *testing.T) {
	out := &syncBuffer{}
	srv, err := NewServer(testConfig(),
		WithOutput(out),
		WithConsole(strings.NewReader("/help\r\n\n/bogus\n")))
	require.NoError(t, err)
	defer srv.Close()

	require.NoError(t, srv.Console().Run())
	assert.Equal(t, serverHelpText+unknownCommandText, out.String())
}
