package session

import (
	"sync"

	"github.com/beyermatthias/muchsyncd/pkg/muchsync/router"
)

// opIDAllocator hands out monotonically increasing op_ids for
// locally-initiated operations. It counts in uint32 internally and
// widens to uint64 only on return, since the wire format carries
// op_id as a 64-bit number but the space that actually runs out is
// the 32-bit one: once the counter wraps past the uint32 maximum, an
// already-allocated op_id could be reused while still in flight, so
// allocation fails permanently with router.ErrOpIDExhausted rather
// than silently wrapping.
type opIDAllocator struct {
	mu        sync.Mutex
	next      uint32
	exhausted bool
}

func (a *opIDAllocator) allocate() (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.exhausted {
		return 0, router.ErrOpIDExhausted
	}
	id := a.next
	a.next++
	if a.next == 0 {
		a.exhausted = true
	}
	return uint64(id), nil
}
