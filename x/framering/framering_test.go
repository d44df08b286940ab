package framering

import (
	"sync"
	"testing"
)

type rec struct {
	id   uint32
	data [8]byte
}

func TestPushPopOrder(t *testing.T) {
	r := New[rec](4)
	for i := uint32(0); i < 4; i++ {
		if !r.Push(rec{id: i}) {
			t.Fatalf("push %d rejected", i)
		}
	}
	if r.Push(rec{id: 99}) {
		t.Fatal("push into full ring accepted")
	}
	if r.Dropped() != 1 {
		t.Fatalf("dropped: want 1, got %d", r.Dropped())
	}
	for i := uint32(0); i < 4; i++ {
		v, ok := r.Pop()
		if !ok || v.id != i {
			t.Fatalf("pop %d: got %v ok=%v", i, v, ok)
		}
	}
	if _, ok := r.Pop(); ok {
		t.Fatal("pop from empty ring succeeded")
	}
}

func TestWrapAround(t *testing.T) {
	r := New[int](2)
	for i := 0; i < 10; i++ {
		if !r.Push(i) {
			t.Fatalf("push %d rejected", i)
		}
		v, ok := r.Pop()
		if !ok || v != i {
			t.Fatalf("want %d, got %d", i, v)
		}
	}
}

func TestDrain(t *testing.T) {
	r := New[int](8)
	for i := 0; i < 5; i++ {
		r.Push(i)
	}
	var got []int
	n := r.Drain(func(v int) { got = append(got, v) })
	if n != 5 || len(got) != 5 || got[4] != 4 {
		t.Fatalf("drain: n=%d got=%v", n, got)
	}
	if r.Len() != 0 {
		t.Fatalf("ring not empty: %d", r.Len())
	}
}

func TestNewPanicsOnBadSize(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	New[int](3)
}

// A producer goroutine and the consumer never observe a torn record.
func TestConcurrentProducer(t *testing.T) {
	r := New[rec](16)
	const n = 2000
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := uint32(0); i < n; {
			v := rec{id: i}
			for j := range v.data {
				v.data[j] = byte(i)
			}
			if r.Push(v) {
				i++
			}
		}
	}()

	next := uint32(0)
	for next < n {
		v, ok := r.Pop()
		if !ok {
			continue
		}
		if v.id != next {
			t.Fatalf("out of order: want %d got %d", next, v.id)
		}
		for _, b := range v.data {
			if b != byte(next) {
				t.Fatalf("torn record %d: %v", next, v.data)
			}
		}
		next++
	}
	wg.Wait()
}
