package errorlog

import (
	"errors"
	"strings"
	"sync"
	"testing"
)

type fakeClock struct {
	now int64
}

func (c *fakeClock) time() int64 { return c.now }

func TestDuplicateObservationsShareOneEntry(t *testing.T) {
	clock := &fakeClock{now: 1000}
	log := New(make([]byte, 4096), clock.time, nil)

	if err := log.Record(5, "disk full", "writing partition 3"); err != nil {
		t.Fatal(err)
	}
	clock.now = 1010
	if err := log.Record(5, "disk full", "writing partition 9"); err != nil {
		t.Fatal(err)
	}

	var count int32
	var first, last int64
	var encoded string
	entries := Read(log.buf, func(c int32, f, l int64, e string) {
		count, first, last, encoded = c, f, l, e
	}, 0)

	if entries != 1 {
		t.Fatalf("entries=%d", entries)
	}
	if count != 2 {
		t.Fatalf("observation_count=%d", count)
	}
	if first != 1000 || last != 1010 {
		t.Fatalf("first=%d last=%d", first, last)
	}
	if !strings.HasPrefix(encoded, "5: disk full") {
		t.Fatalf("encoded=%q", encoded)
	}
}

func TestDistinctCodesProduceDistinctEntries(t *testing.T) {
	clock := &fakeClock{now: 1}
	log := New(make([]byte, 4096), clock.time, nil)

	if err := log.Record(1, "conductor failure", "a"); err != nil {
		t.Fatal(err)
	}
	if err := log.Record(2, "conductor failure", "b"); err != nil {
		t.Fatal(err)
	}

	if entries := Read(log.buf, func(int32, int64, int64, string) {}, 0); entries != 2 {
		t.Fatalf("entries=%d", entries)
	}
}

func TestReadSinceTimestamp(t *testing.T) {
	clock := &fakeClock{now: 100}
	log := New(make([]byte, 4096), clock.time, nil)

	if err := log.Record(1, "one", ""); err != nil {
		t.Fatal(err)
	}
	clock.now = 200
	if err := log.Record(2, "two", ""); err != nil {
		t.Fatal(err)
	}

	delivered := 0
	if entries := Read(log.buf, func(int32, int64, int64, string) { delivered++ }, 0); entries != 2 || delivered != 2 {
		t.Fatalf("entries=%d delivered=%d", entries, delivered)
	}

	delivered = 0
	if entries := Read(log.buf, func(int32, int64, int64, string) { delivered++ }, 201); entries != 2 || delivered != 0 {
		t.Fatalf("entries=%d delivered=%d", entries, delivered)
	}
}

func TestRecordWhenFull(t *testing.T) {
	clock := &fakeClock{now: 1}
	log := New(make([]byte, 64), clock.time, nil)

	if err := log.Record(1, "first", "fits"); err != nil {
		t.Fatal(err)
	}
	if err := log.Record(2, strings.Repeat("x", 64), ""); !errors.Is(err, ErrLogFull) {
		t.Fatalf("got %v", err)
	}
	// The known error still counts.
	if err := log.Record(1, "first", "again"); err != nil {
		t.Fatal(err)
	}
}

func TestLingerReceivesDisplacedObservations(t *testing.T) {
	clock := &fakeClock{now: 1}
	var displaced [][]Observation
	log := New(make([]byte, 4096), clock.time, func(old []Observation) {
		displaced = append(displaced, old)
	})

	if err := log.Record(1, "one", ""); err != nil {
		t.Fatal(err)
	}
	if err := log.Record(2, "two", ""); err != nil {
		t.Fatal(err)
	}

	if len(displaced) != 2 || len(displaced[0]) != 0 || len(displaced[1]) != 1 {
		t.Fatalf("displaced=%v", displaced)
	}
}

func TestConcurrentRecord(t *testing.T) {
	clock := &fakeClock{now: 1}
	log := New(make([]byte, 1<<16), clock.time, nil)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(code int32) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				if err := log.Record(code%4, "racing failure", "msg"); err != nil {
					t.Error(err)
					return
				}
			}
		}(int32(g))
	}
	wg.Wait()

	total := int32(0)
	entries := Read(log.buf, func(count int32, _, _ int64, _ string) { total += count }, 0)
	if entries != 4 {
		t.Fatalf("entries=%d", entries)
	}
	if total != 8*500 {
		t.Fatalf("total observations=%d", total)
	}
}
