package es

import "log/slog"

// Version counts committed events of an aggregate. An aggregate at version N
// has events 0..N-1 in the store; its next event is written at version N.
// Version is the optimistic concurrency token handed to the repository on write.
type Version int64

func (v Version) Int64() int64                           { return int64(v) }
func (v Version) SlogAttr() slog.Attr                    { return newSlogVersionAttr("version", v) }
func (v Version) SlogAttrWithKey(key string) slog.Attr   { return newSlogVersionAttr(key, v) }
func newSlogVersionAttr(key string, v Version) slog.Attr { return slog.Int64(key, int64(v)) }
