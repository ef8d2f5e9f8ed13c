// Package broadcast implements the driver-to-clients channel of the CnC
// file. One transmitter (the driver) writes records that any number of
// receivers observe without coordination. A receiver that falls behind is
// lapped: it loses intermediate records and re-joins at the latest one.
package broadcast

import (
	"errors"
	"fmt"

	"aeron/internal/atomicbuf"
)

const (
	CacheLineLength = 64

	// TrailerLength reserves space past the data region for the tail
	// intent, tail and latest counters.
	TrailerLength = 2 * CacheLineLength

	tailIntentCounterOffset = 0
	tailCounterOffset       = 8
	latestCounterOffset     = 16

	// Record header: record length then message type id.
	lengthOffset    = 0
	typeOffset      = 4
	HeaderLength    = 8
	RecordAlignment = 8

	paddingMsgTypeID int32 = -1
)

var (
	ErrCapacityNotPowerOfTwo = errors.New("broadcast capacity must be a power of two")
	ErrMessageTooLong        = errors.New("message exceeds max message length")
	ErrInvalidMsgTypeID      = errors.New("message type id must be positive")
)

// Transmitter is the single-threaded writing end.
type Transmitter struct {
	buf          []byte
	capacity     int
	mask         int64
	maxMsgLength int

	tailIntentIndex int
	tailIndex       int
	latestIndex     int
}

// NewTransmitter wraps buf, whose length must be a power of two plus
// TrailerLength.
func NewTransmitter(buf []byte) (*Transmitter, error) {
	capacity := len(buf) - TrailerLength
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		return nil, fmt.Errorf("%w: %d", ErrCapacityNotPowerOfTwo, capacity)
	}
	return &Transmitter{
		buf:             buf,
		capacity:        capacity,
		mask:            int64(capacity - 1),
		maxMsgLength:    capacity / 8,
		tailIntentIndex: capacity + tailIntentCounterOffset,
		tailIndex:       capacity + tailCounterOffset,
		latestIndex:     capacity + latestCounterOffset,
	}, nil
}

// MaxMessageLength returns the longest payload Transmit accepts.
func (t *Transmitter) MaxMessageLength() int { return t.maxMsgLength }

func align(value, alignment int) int {
	return (value + alignment - 1) &^ (alignment - 1)
}

// Transmit writes one record. Receivers that have not consumed the space
// being overwritten are lapped, never blocked.
func (t *Transmitter) Transmit(msgTypeID int32, payload []byte) error {
	if msgTypeID < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidMsgTypeID, msgTypeID)
	}
	if len(payload) > t.maxMsgLength {
		return fmt.Errorf("%w: length=%d max=%d", ErrMessageTooLong, len(payload), t.maxMsgLength)
	}

	currentTail := atomicbuf.GetInt64(t.buf, t.tailIndex)
	recordOffset := int(currentTail & t.mask)
	recordLength := HeaderLength + len(payload)
	alignedLength := align(recordLength, RecordAlignment)
	toEnd := t.capacity - recordOffset

	if alignedLength > toEnd {
		// Pad out the end of the buffer and wrap to offset 0.
		atomicbuf.PutInt64(t.buf, t.tailIntentIndex, currentTail+int64(toEnd+alignedLength))
		atomicbuf.PutInt32(t.buf, recordOffset+typeOffset, paddingMsgTypeID)
		atomicbuf.PutInt32(t.buf, recordOffset+lengthOffset, int32(toEnd))
		currentTail += int64(toEnd)
		recordOffset = 0
	} else {
		atomicbuf.PutInt64(t.buf, t.tailIntentIndex, currentTail+int64(alignedLength))
	}

	atomicbuf.PutInt32(t.buf, recordOffset+lengthOffset, int32(recordLength))
	atomicbuf.PutInt32(t.buf, recordOffset+typeOffset, msgTypeID)
	copy(t.buf[recordOffset+HeaderLength:], payload)

	atomicbuf.PutInt64(t.buf, t.latestIndex, currentTail)
	atomicbuf.PutInt64(t.buf, t.tailIndex, currentTail+int64(alignedLength))

	return nil
}

// Receiver is one reading end. ReceiveNext/Validate give zero-copy access;
// most callers want CopyReceiver instead.
type Receiver struct {
	buf      []byte
	capacity int
	mask     int64

	tailIntentIndex int
	tailIndex       int
	latestIndex     int

	recordOffset int
	cursor       int64
	nextRecord   int64
	lappedCount  int64
}

// NewReceiver wraps the same region as the transmitter.
func NewReceiver(buf []byte) (*Receiver, error) {
	capacity := len(buf) - TrailerLength
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		return nil, fmt.Errorf("%w: %d", ErrCapacityNotPowerOfTwo, capacity)
	}
	return &Receiver{
		buf:             buf,
		capacity:        capacity,
		mask:            int64(capacity - 1),
		tailIntentIndex: capacity + tailIntentCounterOffset,
		tailIndex:       capacity + tailCounterOffset,
		latestIndex:     capacity + latestCounterOffset,
	}, nil
}

// LappedCount returns how many times this receiver has been overrun.
func (r *Receiver) LappedCount() int64 { return r.lappedCount }

// TypeID returns the type of the current record.
func (r *Receiver) TypeID() int32 {
	return atomicbuf.GetInt32(r.buf, r.recordOffset+typeOffset)
}

// Data returns the payload bytes of the current record, aliasing the shared
// buffer. Call Validate after copying out.
func (r *Receiver) Data() []byte {
	length := atomicbuf.GetInt32(r.buf, r.recordOffset+lengthOffset)
	return r.buf[r.recordOffset+HeaderLength : r.recordOffset+int(length)]
}

// ReceiveNext advances to the next record, if any.
func (r *Receiver) ReceiveNext() bool {
	tail := atomicbuf.GetInt64(r.buf, r.tailIndex)
	cursor := r.nextRecord

	if tail <= cursor {
		return false
	}

	if !r.validate(cursor) {
		r.lappedCount++
		cursor = atomicbuf.GetInt64(r.buf, r.latestIndex)
	}
	recordOffset := int(cursor & r.mask)

	if atomicbuf.GetInt32(r.buf, recordOffset+typeOffset) == paddingMsgTypeID {
		cursor += int64(atomicbuf.GetInt32(r.buf, recordOffset+lengthOffset))
		recordOffset = 0
	}

	r.cursor = cursor
	r.recordOffset = recordOffset
	r.nextRecord = cursor + int64(align(int(atomicbuf.GetInt32(r.buf, recordOffset+lengthOffset)), RecordAlignment))

	return true
}

// Validate confirms the current record was not overwritten while being read.
func (r *Receiver) Validate() bool {
	return r.validate(r.cursor)
}

func (r *Receiver) validate(cursor int64) bool {
	return cursor+int64(r.capacity) > atomicbuf.GetInt64(r.buf, r.tailIntentIndex)
}
