package cache

import (
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLRU(t *testing.T) {
	l := NewLRU[int](2)

	l.Put("a", 1)
	l.Put("b", 2)

	v, ok := l.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, v)

	l.Put("c", 3) // evicts b, a was used more recently

	_, ok = l.Get("b")
	require.False(t, ok)
	v, ok = l.Get("c")
	require.True(t, ok)
	require.Equal(t, 3, v)
	require.Equal(t, 2, l.Len())

	l.Put("a", 10)
	v, _ = l.Get("a")
	require.Equal(t, 10, v)

	l.Delete("a")
	l.Delete("missing")
	_, ok = l.Get("a")
	require.False(t, ok)
	require.Equal(t, 1, l.Len())
}

func TestLRU_defaultSize(t *testing.T) {
	l := NewLRU[string](0)
	for i := 0; i < 200; i++ {
		l.Put(strconv.Itoa(i), "x")
	}
	require.Equal(t, 128, l.Len())
}

func TestLRU_concurrent(t *testing.T) {
	l := NewLRU[int](16)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				k := strconv.Itoa(j % 20)
				l.Put(k, j)
				l.Get(k)
			}
		}()
	}
	wg.Wait()
	require.LessOrEqual(t, l.Len(), 16)
}

func TestNop(t *testing.T) {
	var c Cache[int] = NewNop[int]()
	c.Put("a", 1)
	_, ok := c.Get("a")
	require.False(t, ok)
	require.Zero(t, c.Len())
}
