package table

import (
	"encoding/base64"
	"fmt"
	"strconv"
)

// EncodeCursor builds an opaque cursor pointing after the row with sort key sk.
func EncodeCursor(sk int64) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.FormatInt(sk, 10)))
}

// DecodeCursor reverses EncodeCursor.
func DecodeCursor(cursor string) (int64, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidCursor, err)
	}
	sk, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidCursor, err)
	}
	return sk, nil
}

// Resume narrows q.Range so that it starts after the cursor position,
// honoring the query direction. ok is false when nothing is left.
func Resume(q Query) (r KeyRange, ok bool, err error) {
	r = q.Range
	if q.Cursor == "" {
		return r, true, nil
	}
	last, err := DecodeCursor(q.Cursor)
	if err != nil {
		return r, false, err
	}
	if q.Descending {
		if last <= r.Min {
			return r, false, nil
		}
		r.Max = min(r.Max, last-1)
	} else {
		if last >= r.Max {
			return r, false, nil
		}
		r.Min = max(r.Min, last+1)
	}
	return r, r.Min <= r.Max, nil
}
