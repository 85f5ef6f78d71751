// Package sf provides a generic single-flight mechanism for deduplicating
// concurrent function calls with the same key.
//
// If multiple goroutines call [Singleflight.Do] with the same key
// concurrently, only the first call executes the function; the others block
// until it completes and receive the same result.
//
// The repository uses it to coalesce concurrent event reads of one aggregate:
//
//	reads := sf.New[[]table.Item]()
//	rows, shared, err := reads.DoContext(ctx, id+"@0", func(ctx context.Context) ([]table.Item, error) {
//	    return queryEvents(ctx, id, 0)
//	})
package sf
