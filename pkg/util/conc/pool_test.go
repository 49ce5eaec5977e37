package conc

import (
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolSubmit(t *testing.T) {
	pool := NewPool[int](4, WithName("test"))
	defer pool.Release()

	futures := make([]*Future[int], 0, 16)
	for i := 0; i < 16; i++ {
		i := i
		futures = append(futures, pool.Submit(func() (int, error) {
			return i * 2, nil
		}))
	}
	require.NoError(t, AwaitAll(futures...))
	for i, f := range futures {
		assert.Equal(t, i*2, f.Value())
	}
	assert.Equal(t, 4, pool.Cap())
}

func TestPoolSubmitError(t *testing.T) {
	pool := NewDefaultPool[struct{}]()
	defer pool.Release()

	errBoom := errors.New("boom")
	f := pool.Submit(func() (struct{}, error) {
		return struct{}{}, errBoom
	})
	assert.False(t, f.OK())
	assert.ErrorIs(t, f.Err(), errBoom)
	assert.ErrorIs(t, AwaitAll(f), errBoom)
}

func TestPoolConcealPanic(t *testing.T) {
	var (
		mu     sync.Mutex
		caught any
	)
	pool := NewPool[struct{}](1,
		WithConcealPanic(true),
		WithPanicHandler(func(v any) {
			mu.Lock()
			caught = v
			mu.Unlock()
		}),
	)
	defer pool.Release()

	f := pool.Submit(func() (struct{}, error) {
		panic("handler exploded")
	})
	assert.Error(t, f.Err())

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return caught == "handler exploded"
	}, time.Second, 10*time.Millisecond)
}

func TestPoolReleased(t *testing.T) {
	pool := NewPool[int](1)
	pool.Release()

	f := pool.Submit(func() (int, error) { return 1, nil })
	assert.Error(t, f.Err())
}

func TestGo(t *testing.T) {
	f := Go(func() (string, error) { return "done", nil })
	select {
	case <-f.Done():
	case <-time.After(time.Second):
		t.Fatal("future not completed")
	}
	v, err := f.Await()
	assert.NoError(t, err)
	assert.Equal(t, "done", v)
}
