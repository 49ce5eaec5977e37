package chatroom

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/lk2023060901/chatrelay-go/pkg/util/merr"
)

func TestRegistryAdmitCapacity(t *testing.T) {
	reg := NewRegistry(3)
	for i := 0; i < 3; i++ {
		c, err := reg.Admit(newFakeSession())
		require.NoError(t, err)
		assert.Equal(t, PlaceholderName, c.Name())
		assert.False(t, c.Confirmed())
	}
	assert.Equal(t, 3, reg.Count())

	_, err := reg.Admit(newFakeSession())
	assert.ErrorIs(t, err, merr.ErrCapacityExceeded)
	assert.Equal(t, 3, reg.Count())
	assert.Equal(t, 3, reg.Capacity())
}

func TestRegistryAdmitDuplicateSession(t *testing.T) {
	reg := NewRegistry(3)
	sess := newFakeSession()
	_, err := reg.Admit(sess)
	require.NoError(t, err)
	_, err = reg.Admit(sess)
	assert.Error(t, err)
	assert.Equal(t, 1, reg.Count())
}

func TestRegistrySetName(t *testing.T) {
	reg := NewRegistry(4)
	alice, _ := reg.Admit(newFakeSession())
	bob, _ := reg.Admit(newFakeSession())

	name, err := reg.SetName(alice, "  alice \t")
	require.NoError(t, err)
	assert.Equal(t, "alice", name)
	assert.Equal(t, "alice", alice.Name())
	assert.True(t, alice.Confirmed())

	// 已被占用时请求方状态不变。
	_, err = reg.SetName(bob, "alice")
	assert.ErrorIs(t, err, merr.ErrNameTaken)
	assert.Equal(t, PlaceholderName, bob.Name())
	assert.False(t, bob.Confirmed())

	// 大小写敏感。
	_, err = reg.SetName(bob, "Alice")
	assert.NoError(t, err)

	_, err = reg.SetName(bob, "alice")
	assert.ErrorIs(t, err, merr.ErrNameTaken)
	assert.Equal(t, "Alice", bob.Name())

	// 空名字。
	carol, _ := reg.Admit(newFakeSession())
	_, err = reg.SetName(carol, "   ")
	assert.ErrorIs(t, err, merr.ErrNameEmpty)
	assert.False(t, carol.Confirmed())
	assert.Equal(t, PlaceholderName, carol.Name())

	// 设置为自己当前的名字。
	_, err = reg.SetName(alice, "alice")
	assert.NoError(t, err)

	// 改名后旧名字被释放。
	_, err = reg.SetName(alice, "alice2")
	require.NoError(t, err)
	_, ok := reg.FindByName("alice")
	assert.False(t, ok)
	_, err = reg.SetName(carol, "alice")
	assert.NoError(t, err)
}

func TestRegistrySetNameRemoved(t *testing.T) {
	reg := NewRegistry(2)
	c, _ := reg.Admit(newFakeSession())
	reg.Remove(c)
	_, err := reg.SetName(c, "ghost")
	assert.ErrorIs(t, err, merr.ErrSessionClosed)
}

func TestRegistryFindByName(t *testing.T) {
	reg := NewRegistry(4)
	alice, _ := reg.Admit(newFakeSession())
	_, _ = reg.Admit(newFakeSession())
	_, _ = reg.SetName(alice, "alice")

	found, ok := reg.FindByName("alice")
	assert.True(t, ok)
	assert.Same(t, alice, found)

	// 占位名不可寻址。
	_, ok = reg.FindByName(PlaceholderName)
	assert.False(t, ok)
	_, ok = reg.FindByName("bob")
	assert.False(t, ok)
}

func TestRegistryRemove(t *testing.T) {
	reg := NewRegistry(4)
	sessions := []*fakeSession{newFakeSession(), newFakeSession(), newFakeSession()}
	clients := make([]*Client, 0, len(sessions))
	for i, sess := range sessions {
		c, err := reg.Admit(sess)
		require.NoError(t, err)
		_, err = reg.SetName(c, fmt.Sprintf("user%d", i))
		require.NoError(t, err)
		clients = append(clients, c)
	}

	assert.True(t, reg.Remove(clients[0]))
	assert.False(t, reg.Remove(clients[0]))
	assert.Equal(t, int32(1), sessions[0].closeCount.Load())
	assert.Equal(t, 2, reg.Count())

	// 删除不留空位。
	snapshot := reg.Snapshot()
	assert.ElementsMatch(t, []*Client{clients[1], clients[2]}, snapshot)
	for _, c := range snapshot {
		assert.NotNil(t, c)
	}

	_, ok := reg.FindByName("user0")
	assert.False(t, ok)
	_, ok = reg.Get(clients[0].ID())
	assert.False(t, ok)
	got, ok := reg.Get(clients[1].ID())
	assert.True(t, ok)
	assert.Same(t, clients[1], got)

	// 名字释放后可被重新使用。
	c, err := reg.Admit(newFakeSession())
	require.NoError(t, err)
	_, err = reg.SetName(c, "user0")
	assert.NoError(t, err)
}

func TestRegistryRange(t *testing.T) {
	reg := NewRegistry(4)
	for i := 0; i < 3; i++ {
		_, _ = reg.Admit(newFakeSession())
	}

	visited := 0
	reg.Range(func(c *Client) bool {
		visited++
		return visited < 2
	})
	assert.Equal(t, 2, visited)
}

func TestRegistryDrain(t *testing.T) {
	reg := NewRegistry(4)
	sessions := []*fakeSession{newFakeSession(), newFakeSession()}
	for _, sess := range sessions {
		_, _ = reg.Admit(sess)
	}

	var seen []uint64
	n := reg.Drain(func(c *Client) {
		seen = append(seen, c.ID())
		assert.False(t, c.Session().Closed())
	})
	assert.Equal(t, 2, n)
	assert.Len(t, seen, 2)
	assert.Equal(t, 0, reg.Count())
	for _, sess := range sessions {
		assert.True(t, sess.Closed())
	}

	// 清空后可以重新接入。
	_, err := reg.Admit(newFakeSession())
	assert.NoError(t, err)
}

func TestRegistryConcurrentAdmit(t *testing.T) {
	const capacity = 10
	reg := NewRegistry(capacity)

	var (
		wg       sync.WaitGroup
		admitted atomic.Int32
		rejected atomic.Int32
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := reg.Admit(newFakeSession()); err != nil {
				assert.ErrorIs(t, err, merr.ErrCapacityExceeded)
				rejected.Inc()
				return
			}
			admitted.Inc()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(capacity), admitted.Load())
	assert.Equal(t, int32(40), rejected.Load())
	assert.Equal(t, capacity, reg.Count())
}

func TestRegistryConcurrentSetName(t *testing.T) {
	reg := NewRegistry(20)
	clients := make([]*Client, 20)
	for i := range clients {
		clients[i], _ = reg.Admit(newFakeSession())
	}

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			if _, err := reg.SetName(c, "alice"); err == nil {
				winners.Inc()
			}
		}(c)
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
	confirmed := 0
	for _, c := range reg.Snapshot() {
		if c.Confirmed() {
			confirmed++
			assert.Equal(t, "alice", c.Name())
		}
	}
	assert.Equal(t, 1, confirmed)
}
