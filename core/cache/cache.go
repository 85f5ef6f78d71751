package cache

// Cache is a bounded key-value cache. Implementations are safe for
// concurrent use.
type Cache[V any] interface {
	Get(key string) (V, bool)
	Put(key string, val V)
	Delete(key string)
	Len() int
}
