// Package ringbuffer implements the many-to-one ring buffer used to carry
// commands from clients to the media driver. The buffer lives in shared
// memory: any number of producer processes claim space with a compare-and-swap
// on the tail counter while the single driver thread consumes.
package ringbuffer

import (
	"errors"
	"fmt"

	"aeron/internal/atomicbuf"
)

const (
	// CacheLineLength is assumed for padding of the trailer fields.
	CacheLineLength = 64

	// RecordAlignment is the byte alignment of every record in the buffer.
	RecordAlignment = 8

	// HeaderLength is the length of a record header: record length,
	// message type id, message length and a reserved word.
	HeaderLength = 16

	// PaddingMsgTypeID marks a record that fills the gap at the end of the
	// buffer when a message does not fit contiguously.
	PaddingMsgTypeID int32 = -1

	// Trailer field offsets relative to the end of the data region. Each
	// field sits on its own pair of cache lines.
	TailPositionOffset      = 0
	HeadCachePositionOffset = 2 * CacheLineLength
	HeadPositionOffset      = 4 * CacheLineLength
	ConsumerHeartbeatOffset = 6 * CacheLineLength

	// TrailerLength is the space reserved past the data region for the
	// trailer fields.
	TrailerLength = 8 * CacheLineLength
)

// Record header field offsets relative to the record start.
const (
	lengthOffset    = 0
	msgTypeIDOffset = 4
	msgLengthOffset = 8
)

var (
	ErrCapacityNotPowerOfTwo = errors.New("ring capacity must be a power of two")
	ErrMessageTooLong        = errors.New("message exceeds max message length")
	ErrInvalidMsgTypeID      = errors.New("message type id must be positive")
)

// Handler consumes one record. The data slice aliases the ring buffer and is
// only valid for the duration of the call.
type Handler func(msgTypeID int32, data []byte)

// ManyToOneRingBuffer is a wait-free multi-producer single-consumer record
// queue over a shared byte region of capacity + TrailerLength bytes.
type ManyToOneRingBuffer struct {
	buf          []byte
	capacity     int
	maxMsgLength int

	tailPositionIndex      int
	headCachePositionIndex int
	headPositionIndex      int
	consumerHeartbeatIndex int
}

// New wraps buf, whose length must be a power of two plus TrailerLength.
func New(buf []byte) (*ManyToOneRingBuffer, error) {
	capacity := len(buf) - TrailerLength
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		return nil, fmt.Errorf("%w: %d", ErrCapacityNotPowerOfTwo, capacity)
	}
	return &ManyToOneRingBuffer{
		buf:                    buf,
		capacity:               capacity,
		maxMsgLength:           capacity / 8,
		tailPositionIndex:      capacity + TailPositionOffset,
		headCachePositionIndex: capacity + HeadCachePositionOffset,
		headPositionIndex:      capacity + HeadPositionOffset,
		consumerHeartbeatIndex: capacity + ConsumerHeartbeatOffset,
	}, nil
}

// Capacity returns the length of the data region in bytes.
func (r *ManyToOneRingBuffer) Capacity() int { return r.capacity }

// MaxMessageLength returns the longest payload Write accepts.
func (r *ManyToOneRingBuffer) MaxMessageLength() int { return r.maxMsgLength }

func align(value, alignment int) int {
	return (value + alignment - 1) &^ (alignment - 1)
}

// Write appends one record. It returns false without mutating the tail when
// there is insufficient free space. Argument errors are the only error
// returns; space exhaustion is signalled by the boolean alone.
func (r *ManyToOneRingBuffer) Write(msgTypeID int32, payload []byte) (bool, error) {
	if msgTypeID < 1 {
		return false, fmt.Errorf("%w: %d", ErrInvalidMsgTypeID, msgTypeID)
	}
	if len(payload) > r.maxMsgLength {
		return false, fmt.Errorf("%w: length=%d max=%d", ErrMessageTooLong, len(payload), r.maxMsgLength)
	}

	required := align(HeaderLength+len(payload), RecordAlignment)
	recordIndex := r.claimCapacity(required)
	if recordIndex < 0 {
		return false, nil
	}

	atomicbuf.PutInt32(r.buf, recordIndex+msgTypeIDOffset, msgTypeID)
	atomicbuf.PutInt32(r.buf, recordIndex+msgLengthOffset, int32(len(payload)))
	copy(r.buf[recordIndex+HeaderLength:], payload)
	// Publishing the record length is what makes the record visible.
	atomicbuf.PutInt32(r.buf, recordIndex+lengthOffset, int32(required))

	return true, nil
}

// claimCapacity advances the tail by required bytes, inserting a padding
// record when the claim would straddle the end of the buffer. Returns the
// record index, or -1 when the free space is insufficient.
func (r *ManyToOneRingBuffer) claimCapacity(required int) int {
	mask := int64(r.capacity - 1)
	head := atomicbuf.GetInt64(r.buf, r.headCachePositionIndex)

	for {
		tail := atomicbuf.GetInt64(r.buf, r.tailPositionIndex)
		available := r.capacity - int(tail-head)

		if required > available {
			head = atomicbuf.GetInt64(r.buf, r.headPositionIndex)
			if required > r.capacity-int(tail-head) {
				return -1
			}
			atomicbuf.PutInt64(r.buf, r.headCachePositionIndex, head)
		}

		padding := 0
		tailIndex := int(tail & mask)
		toBufferEnd := r.capacity - tailIndex

		if required > toBufferEnd {
			// Wrap: the record goes at offset 0, provided the head has
			// moved past it.
			headIndex := int(head & mask)
			if required > headIndex {
				head = atomicbuf.GetInt64(r.buf, r.headPositionIndex)
				headIndex = int(head & mask)
				if required > headIndex {
					return -1
				}
				atomicbuf.PutInt64(r.buf, r.headCachePositionIndex, head)
			}
			padding = toBufferEnd
		}

		if atomicbuf.CompareAndSetInt64(r.buf, r.tailPositionIndex, tail, tail+int64(required+padding)) {
			if padding != 0 {
				atomicbuf.PutInt32(r.buf, tailIndex+msgTypeIDOffset, PaddingMsgTypeID)
				atomicbuf.PutInt32(r.buf, tailIndex+lengthOffset, int32(padding))
				tailIndex = 0
			}
			return tailIndex
		}
	}
}

// Read consumes up to messageCountLimit records, invoking handler for each.
// Consumed space is zeroed and the head advanced once the pass completes.
// If the handler panics the head is not advanced; the caller owns recovery.
func (r *ManyToOneRingBuffer) Read(handler Handler, messageCountLimit int) int {
	head := atomicbuf.GetInt64(r.buf, r.headPositionIndex)
	headIndex := int(head & int64(r.capacity-1))
	contiguous := r.capacity - headIndex

	messagesRead := 0
	bytesRead := 0

	for bytesRead < contiguous && messagesRead < messageCountLimit {
		recordIndex := headIndex + bytesRead
		recordLength := atomicbuf.GetInt32(r.buf, recordIndex+lengthOffset)
		if recordLength == 0 {
			break
		}

		bytesRead += int(recordLength)

		msgTypeID := atomicbuf.GetInt32(r.buf, recordIndex+msgTypeIDOffset)
		if msgTypeID == PaddingMsgTypeID {
			continue
		}

		msgLength := atomicbuf.GetInt32(r.buf, recordIndex+msgLengthOffset)
		handler(msgTypeID, r.buf[recordIndex+HeaderLength:recordIndex+HeaderLength+int(msgLength)])
		messagesRead++
	}

	if bytesRead != 0 {
		zero := r.buf[headIndex : headIndex+bytesRead]
		for i := range zero {
			zero[i] = 0
		}
		atomicbuf.PutInt64(r.buf, r.headPositionIndex, head+int64(bytesRead))
	}

	return messagesRead
}

// ConsumerHeartbeatTime returns the last heartbeat published by the consumer,
// as epoch milliseconds.
func (r *ManyToOneRingBuffer) ConsumerHeartbeatTime() int64 {
	return atomicbuf.GetInt64(r.buf, r.consumerHeartbeatIndex)
}

// UpdateConsumerHeartbeatTime is called by the consumer at the end of every
// read pass so producers can judge its liveness.
func (r *ManyToOneRingBuffer) UpdateConsumerHeartbeatTime(nowMs int64) {
	atomicbuf.PutInt64(r.buf, r.consumerHeartbeatIndex, nowMs)
}

// Head returns the consumer position.
func (r *ManyToOneRingBuffer) Head() int64 {
	return atomicbuf.GetInt64(r.buf, r.headPositionIndex)
}

// Tail returns the producer position.
func (r *ManyToOneRingBuffer) Tail() int64 {
	return atomicbuf.GetInt64(r.buf, r.tailPositionIndex)
}
