package chat_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wirehub/chatd/internal/chat"
)

func newTestClient(id string) *chat.Client {
	return chat.NewClient(id, newMockConn(), 4, time.Second)
}

func TestRegistryInsertGetRemove(t *testing.T) {
	reg := chat.NewRegistry(0)
	c := newTestClient("c1")

	require.NoError(t, reg.Insert(c))
	assert.Equal(t, 1, reg.Len())

	got, ok := reg.Get("c1")
	require.True(t, ok)
	assert.Same(t, c, got)

	removed := reg.Remove("c1")
	assert.Same(t, c, removed)
	assert.Equal(t, 0, reg.Len())

	_, ok = reg.Get("c1")
	assert.False(t, ok)
}

func TestRegistryRemoveUnknownID(t *testing.T) {
	reg := chat.NewRegistry(0)
	assert.Nil(t, reg.Remove("ghost"))
	assert.Nil(t, reg.Remove("ghost"))
}

func TestRegistryCapacity(t *testing.T) {
	reg := chat.NewRegistry(2)
	require.NoError(t, reg.Insert(newTestClient("c1")))
	require.NoError(t, reg.Insert(newTestClient("c2")))

	err := reg.Insert(newTestClient("c3"))
	assert.ErrorIs(t, err, chat.ErrRegistryFull)
	assert.Equal(t, 2, reg.Len())

	// Capacity frees up on removal.
	reg.Remove("c1")
	assert.NoError(t, reg.Insert(newTestClient("c3")))
}

func TestRegistrySnapshotToleratesConcurrentRemoval(t *testing.T) {
	reg := chat.NewRegistry(0)
	for i := 0; i < 10; i++ {
		require.NoError(t, reg.Insert(newTestClient(fmt.Sprintf("c%d", i))))
	}

	// Removing while iterating the snapshot must not panic or deadlock.
	for i, c := range reg.Snapshot() {
		if i%2 == 0 {
			reg.Remove(c.ID)
		}
	}
	assert.Equal(t, 5, reg.Len())
}

func TestRegistryConcurrentJoinLeave(t *testing.T) {
	const workers = 64
	reg := chat.NewRegistry(0)
	require.NoError(t, reg.Insert(newTestClient("resident")))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("w%d", i)
			c := newTestClient(id)
			if err := reg.Insert(c); err != nil {
				t.Errorf("Insert(%s) = %v", id, err)
				return
			}
			// Remove twice: the second must be a harmless no-op.
			reg.Remove(id)
			reg.Remove(id)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, reg.Len(), "no leaked or double-removed entries")
	_, ok := reg.Get("resident")
	assert.True(t, ok)
}
