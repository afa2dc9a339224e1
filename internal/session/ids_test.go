package session

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestIDAllocator_ReusesReleasedIDsInOrder(t *testing.T) {
	a := NewIDAllocator()

	var got []uint16
	for i := 0; i < 5; i++ {
		id, err := a.Allocate()
		if err != nil {
			t.Fatalf("Allocate() returned an unexpected error: %v", err)
		}
		got = append(got, id)
	}
	if diff := cmp.Diff([]uint16{1, 2, 3, 4, 5}, got); diff != "" {
		t.Fatalf("fresh ids did not match expected; diff:\n%s", diff)
	}

	for _, id := range []uint16{4, 2} {
		if err := a.Release(id); err != nil {
			t.Fatalf("Release(%d) returned an unexpected error: %v", id, err)
		}
	}

	got = got[:0]
	for i := 0; i < 3; i++ {
		id, _ := a.Allocate()
		got = append(got, id)
	}
	if diff := cmp.Diff([]uint16{4, 2, 6}, got); diff != "" {
		t.Errorf("reallocated ids did not match expected; diff:\n%s", diff)
	}
	if a.InUse() != 6 {
		t.Errorf("InUse() = %d, want 6", a.InUse())
	}
}

func TestIDAllocator_Release(t *testing.T) {
	a := NewIDAllocator()
	id, _ := a.Allocate()

	if err := a.Release(id); err != nil {
		t.Fatalf("Release() returned an unexpected error: %v", err)
	}
	if err := a.Release(id); !errors.Is(err, ErrIDNotAllocated) {
		t.Errorf("double Release() error = %v, want ErrIDNotAllocated", err)
	}
	if err := a.Release(999); !errors.Is(err, ErrIDNotAllocated) {
		t.Errorf("Release(unknown) error = %v, want ErrIDNotAllocated", err)
	}

	// The rejected releases must not have put duplicates in the pool.
	first, _ := a.Allocate()
	second, _ := a.Allocate()
	if first == second {
		t.Errorf("Allocate() returned id %d twice", first)
	}
}

func TestIDAllocator_Exhausted(t *testing.T) {
	a := NewIDAllocator()
	for i := 0; i < math.MaxUint16; i++ {
		if _, err := a.Allocate(); err != nil {
			t.Fatalf("Allocate() #%d returned an unexpected error: %v", i, err)
		}
	}
	if _, err := a.Allocate(); !errors.Is(err, ErrIDsExhausted) {
		t.Fatalf("Allocate() error = %v, want ErrIDsExhausted", err)
	}

	if err := a.Release(100); err != nil {
		t.Fatalf("Release() returned an unexpected error: %v", err)
	}
	if id, err := a.Allocate(); err != nil || id != 100 {
		t.Errorf("Allocate() = (%d, %v), want (100, nil)", id, err)
	}
}

func TestIDAllocator_Concurrent(t *testing.T) {
	const (
		workers = 8
		ops     = 10000
	)
	a := NewIDAllocator()

	var held sync.Map
	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))
			var mine []uint16

			for i := 0; i < ops; i++ {
				if len(mine) == 0 || r.Intn(2) == 0 {
					id, err := a.Allocate()
					if err != nil {
						errs <- err
						return
					}
					if _, dup := held.LoadOrStore(id, struct{}{}); dup {
						errs <- errors.New("allocated an id that is still held")
						return
					}
					mine = append(mine, id)
					continue
				}

				k := r.Intn(len(mine))
				id := mine[k]
				mine = append(mine[:k], mine[k+1:]...)
				// Forget the id before releasing it so another worker may reuse it.
				held.Delete(id)
				if err := a.Release(id); err != nil {
					errs <- err
					return
				}
			}
		}(int64(w))
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatal(err)
	}

	inUse := 0
	held.Range(func(_, _ any) bool {
		inUse++
		return true
	})
	if a.InUse() != inUse {
		t.Errorf("InUse() = %d, want %d", a.InUse(), inUse)
	}
}
