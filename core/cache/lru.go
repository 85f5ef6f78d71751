package cache

import (
	"container/list"
	"sync"
)

type entry[V any] struct {
	key string
	val V
}

// LRU evicts the least recently used entry once Size is exceeded.
type LRU[V any] struct {
	mu    sync.Mutex
	size  int
	ll    *list.List
	items map[string]*list.Element
}

// NewLRU creates a cache holding up to size entries, 128 if size <= 0.
func NewLRU[V any](size int) *LRU[V] {
	if size <= 0 {
		size = 128
	}
	return &LRU[V]{size: size, ll: list.New(), items: make(map[string]*list.Element)}
}

func (l *LRU[V]) Get(key string) (v V, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ele, ok := l.items[key]
	if !ok {
		return v, false
	}
	l.ll.MoveToFront(ele)
	return ele.Value.(*entry[V]).val, true
}

func (l *LRU[V]) Put(key string, val V) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ele, ok := l.items[key]; ok {
		l.ll.MoveToFront(ele)
		ele.Value.(*entry[V]).val = val
		return
	}
	l.items[key] = l.ll.PushFront(&entry[V]{key: key, val: val})
	if l.ll.Len() > l.size {
		last := l.ll.Back()
		l.ll.Remove(last)
		delete(l.items, last.Value.(*entry[V]).key)
	}
}

func (l *LRU[V]) Delete(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ele, ok := l.items[key]; ok {
		l.ll.Remove(ele)
		delete(l.items, key)
	}
}

func (l *LRU[V]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ll.Len()
}

var _ Cache[any] = (*LRU[any])(nil)
