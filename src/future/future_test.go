package future

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestResolveBeforeWait(t *testing.T) {
	f := New[int]()

	if ok := f.Resolve(42); !ok {
		t.Fatal("Resolve should settle a pending future")
	}

	v, err := f.Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestResolveAfterWait(t *testing.T) {
	f := New[string]()

	var wg sync.WaitGroup
	wg.Add(1)
	var got string
	go func() {
		defer wg.Done()
		v, err := f.Wait(context.Background())
		if err != nil {
			t.Error(err)
			return
		}
		got = v
	}()

	f.Resolve("hello")
	wg.Wait()

	if got != "hello" {
		t.Fatalf("expected hello, got %q", got)
	}
}

func TestSettleOnce(t *testing.T) {
	f := New[int]()

	if ok := f.Resolve(1); !ok {
		t.Fatal("first Resolve should succeed")
	}
	if ok := f.Resolve(2); ok {
		t.Fatal("second Resolve should be a no-op")
	}
	if ok := f.Reject(errors.New("too late")); ok {
		t.Fatal("Reject after Resolve should be a no-op")
	}

	v, err := f.Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if v != 1 {
		t.Fatalf("expected first value to win, got %d", v)
	}
}

func TestReject(t *testing.T) {
	f := New[int]()

	rejection := errors.New("boom")
	f.Reject(rejection)

	_, err := f.Wait(context.Background())
	if !errors.Is(err, rejection) {
		t.Fatalf("expected %v, got %v", rejection, err)
	}
}

func TestWaitContextExpiry(t *testing.T) {
	f := New[int]()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.Wait(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}

	// The future is still pending and can be settled normally afterwards.
	f.Resolve(7)
	v, err := f.Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if v != 7 {
		t.Fatalf("expected 7, got %d", v)
	}
}

func TestAllWaitersObserveSameOutcome(t *testing.T) {
	f := New[int]()

	var wg sync.WaitGroup
	results := make([]int, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := f.Wait(context.Background())
			if err != nil {
				t.Error(err)
				return
			}
			results[i] = v
		}(i)
	}

	f.Resolve(99)
	wg.Wait()

	for i, v := range results {
		if v != 99 {
			t.Fatalf("waiter %d observed %d", i, v)
		}
	}
}
