// Package errorlog implements the distinct error log region of the CnC file:
// an append-only aggregator that stores each distinct error once and counts
// repeat observations with atomic updates, so a flood of identical failures
// occupies a single record.
package errorlog

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"aeron/internal/atomicbuf"
)

// Entry layout. The length field is published last so readers either see a
// complete record or none.
const (
	LengthOffset                    = 0
	FirstObservationTimestampOffset = 8
	LastObservationTimestampOffset  = 16
	ObservationCountOffset          = 24
	EncodedErrorOffset              = 28

	HeaderLength    = EncodedErrorOffset
	RecordAlignment = 8
)

// ErrLogFull reports that the buffer cannot fit another distinct record.
// Counting of already-known errors continues regardless.
var ErrLogFull = errors.New("error log buffer full")

// Observation identifies one distinct error and its record offset. The
// free-text message is deliberately not part of the identity.
type Observation struct {
	ErrorCode   int32
	Description string
	Offset      int
}

// LingerFunc receives the displaced observation list whenever a new distinct
// error is appended, so the owner can defer its reclamation past any
// concurrent readers.
type LingerFunc func(old []Observation)

// DistinctErrorLog appends distinct errors to a shared byte buffer. Record is
// safe for concurrent use from many goroutines of the process that owns this
// log; the fast path for a known error is lock-free. The writer mutex, the
// observation list and the append offset live in this value, so only one
// DistinctErrorLog may write a given buffer. Read works from any process.
type DistinctErrorLog struct {
	buf    []byte
	clock  func() int64
	linger LingerFunc

	mu           sync.Mutex
	observations atomic.Pointer[[]Observation]
	nextOffset   int
}

// New wraps buf. clock supplies epoch milliseconds; linger may be nil.
func New(buf []byte, clock func() int64, linger LingerFunc) *DistinctErrorLog {
	log := &DistinctErrorLog{buf: buf, clock: clock, linger: linger}
	empty := []Observation{}
	log.observations.Store(&empty)
	return log
}

func findObservation(observations []Observation, errorCode int32, description string) *Observation {
	for i := range observations {
		if observations[i].ErrorCode == errorCode && observations[i].Description == description {
			return &observations[i]
		}
	}
	return nil
}

// Record notes one observation of an error. The first observation of a
// distinct (code, description) pair appends a record; subsequent ones bump
// its count and last-observation timestamp.
func (l *DistinctErrorLog) Record(errorCode int32, description, message string) error {
	timestamp := l.clock()

	observation := findObservation(*l.observations.Load(), errorCode, description)
	if observation == nil {
		l.mu.Lock()
		observation = findObservation(*l.observations.Load(), errorCode, description)
		if observation == nil {
			var err error
			observation, err = l.newObservation(timestamp, errorCode, description, message)
			if err != nil {
				l.mu.Unlock()
				return err
			}
		}
		l.mu.Unlock()
	}

	atomicbuf.AddInt32(l.buf, observation.Offset+ObservationCountOffset, 1)
	atomicbuf.PutInt64(l.buf, observation.Offset+LastObservationTimestampOffset, timestamp)

	return nil
}

// newObservation appends the record and republishes the observation list with
// the new entry at index 0. The record carries its first observation (count
// one, both timestamps set) before its length is published. Called with the
// writer mutex held.
func (l *DistinctErrorLog) newObservation(timestamp int64, errorCode int32, description, message string) (*Observation, error) {
	encoded := fmt.Sprintf("%d: %s %s", errorCode, description, message)
	offset := l.nextOffset
	length := HeaderLength + len(encoded)

	if offset+length > len(l.buf) {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d", ErrLogFull, length, offset)
	}

	copy(l.buf[offset+EncodedErrorOffset:], encoded)
	atomicbuf.PutInt64(l.buf, offset+FirstObservationTimestampOffset, timestamp)
	l.nextOffset = (offset + length + RecordAlignment - 1) &^ (RecordAlignment - 1)

	old := *l.observations.Load()
	updated := make([]Observation, 0, len(old)+1)
	updated = append(updated, Observation{ErrorCode: errorCode, Description: description, Offset: offset})
	updated = append(updated, old...)
	l.observations.Store(&updated)

	// Visible to readers only once the length is published.
	atomicbuf.PutInt32(l.buf, offset+LengthOffset, int32(length))

	if l.linger != nil {
		l.linger(old)
	}

	return &updated[0], nil
}

// ReaderFunc receives one entry during Read.
type ReaderFunc func(observationCount int32, firstObservationTimestamp, lastObservationTimestamp int64, encodedError string)

// Read iterates entries from offset 0, delivering those whose last
// observation is at or after sinceTimestamp. It returns the number of entries
// iterated and works over any mapping of the region, including a foreign
// process's.
func Read(buf []byte, reader ReaderFunc, sinceTimestamp int64) int {
	entries := 0

	for offset := 0; offset+HeaderLength <= len(buf); {
		length := atomicbuf.GetInt32(buf, offset+LengthOffset)
		if length == 0 {
			break
		}
		if int(length) < HeaderLength || offset+int(length) > len(buf) {
			break
		}
		entries++

		lastTimestamp := atomicbuf.GetInt64(buf, offset+LastObservationTimestampOffset)
		if lastTimestamp >= sinceTimestamp {
			reader(
				atomicbuf.GetInt32(buf, offset+ObservationCountOffset),
				atomicbuf.GetInt64(buf, offset+FirstObservationTimestampOffset),
				lastTimestamp,
				string(buf[offset+EncodedErrorOffset:offset+int(length)]))
		}

		offset = (offset + int(length) + RecordAlignment - 1) &^ (RecordAlignment - 1)
	}

	return entries
}
