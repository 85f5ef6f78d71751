// Package cache provides a small generic key-value cache with LRU eviction.
//
//	blocks := cache.NewLRU[cipher.Block](16)
//	blocks.Put(secret, block)
//	if b, ok := blocks.Get(secret); ok {
//	    // use b
//	}
//
// [Nop] disables caching where a [Cache] is expected.
package cache
