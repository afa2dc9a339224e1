package session

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

var (
	ErrIDsExhausted   = errors.New("no player ids available")
	ErrIDNotAllocated = errors.New("player id is not allocated")
)

// IDAllocator hands out player ids, reusing released ids in the order they were
// released before growing the counter. Ids start at 1. It is safe for concurrent use.
type IDAllocator struct {
	mu    sync.Mutex
	next  uint32
	free  []uint16
	inUse map[uint16]struct{}
}

func NewIDAllocator() *IDAllocator {
	return &IDAllocator{
		next:  1,
		inUse: make(map[uint16]struct{}),
	}
}

// Allocate returns an id that is not held by any other caller.
func (a *IDAllocator) Allocate() (uint16, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var id uint16
	if len(a.free) > 0 {
		id = a.free[0]
		a.free = a.free[1:]
	} else {
		if a.next > math.MaxUint16 {
			return 0, ErrIDsExhausted
		}
		id = uint16(a.next)
		a.next++
	}

	a.inUse[id] = struct{}{}
	return id, nil
}

// Release returns id to the pool. Releasing an id that is not currently allocated
// is a caller bug and returns ErrIDNotAllocated without changing the pool.
func (a *IDAllocator) Release(id uint16) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.inUse[id]; !ok {
		return fmt.Errorf("%w: %d", ErrIDNotAllocated, id)
	}
	delete(a.inUse, id)
	a.free = append(a.free, id)
	return nil
}

// InUse returns the number of ids currently allocated.
func (a *IDAllocator) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.inUse)
}
