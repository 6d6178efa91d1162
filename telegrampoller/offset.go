package telegrampoller

import "sync/atomic"

// offsetTracker owns the getUpdates acknowledgment offset: everything below
// it has been consumed, everything at or above it is requested again.
//
// There is a single writer (the stream holding the single-flight slot); the
// atomic only makes offset safe to read from elsewhere.
type offsetTracker struct {
	next atomic.Int64
}

// accept reports whether id is new. Accepting moves the offset past id; ids
// below the current offset are duplicates and leave it unchanged.
func (t *offsetTracker) accept(id int64) bool {
	if id < t.next.Load() {
		return false
	}
	t.next.Store(id + 1)
	return true
}

func (t *offsetTracker) offset() int64 {
	return t.next.Load()
}

func (t *offsetTracker) set(offset int64) {
	t.next.Store(offset)
}
