package weave

import "bytes"

// Entry is a keyed byte value read from a key/value store, file system or
// database. Version is store-specific and increases with every write when
// the store provides one.
type Entry struct {
	Key     string
	Value   []byte
	Version int64
}

// SameValue reports whether two entries carry identical bytes. Use it with
// WithRefresh so that writes that do not change the content only refresh
// the existing instance.
func SameValue(prev, next Entry) bool {
	return bytes.Equal(prev.Value, next.Value)
}

// SameEntry reports whether next is the entry already seen. Use it with
// WithUnchanged to drop repeated deliveries from polling sources.
func SameEntry(prev, next Entry) bool {
	return prev.Key == next.Key && prev.Version == next.Version && bytes.Equal(prev.Value, next.Value)
}
