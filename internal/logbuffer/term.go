package logbuffer

import (
	"aeron/internal/atomicbuf"
)

// Data frame header layout. The frame length is published last; a reader
// observing a non-zero length sees a complete frame.
const (
	FrameAlignment    = 32
	DataHeaderLength  = 32
	frameLengthOffset = 0
	frameTypeOffset   = 4
	sessionIDOffset   = 8
	streamIDOffset    = 12
	termOffsetOffset  = 16

	FrameTypeData int32 = 1
	FrameTypePad  int32 = 2
)

// Appender write results.
const (
	// AppendFailed reports that the term is exhausted.
	AppendFailed int64 = -1
)

func alignFrame(length int) int {
	return (length + FrameAlignment - 1) &^ (FrameAlignment - 1)
}

// Appender appends frames to a term on behalf of one publication. Claims are
// a get-and-add on the tail counter, so concurrent appenders on a shared log
// interleave without locks.
type Appender struct {
	metadata  []byte
	term      []byte
	sessionID int32
	streamID  int32
}

// NewAppender wraps the log for appending.
func NewAppender(log *LogBuffers, sessionID, streamID int32) *Appender {
	return &Appender{
		metadata:  log.Metadata(),
		term:      log.Term(),
		sessionID: sessionID,
		streamID:  streamID,
	}
}

// RawTail returns the unbounded tail position of the term.
func (a *Appender) RawTail() int64 {
	return atomicbuf.GetInt64(a.metadata, tailCounterOffset)
}

// Append claims space for payload, writes the frame and publishes it.
// It returns the resulting position, or AppendFailed when the term has no
// room left (the remainder is padded out so readers do not stall).
func (a *Appender) Append(payload []byte) int64 {
	frameLength := DataHeaderLength + len(payload)
	alignedLength := alignFrame(frameLength)
	termLength := len(a.term)

	rawTail := atomicbuf.AddInt64(a.metadata, tailCounterOffset, int64(alignedLength))
	termOffset := int(rawTail)
	if termOffset+alignedLength > termLength {
		if termOffset < termLength {
			a.writeHeader(termOffset, FrameTypePad, termLength-termOffset)
		}
		return AppendFailed
	}

	copy(a.term[termOffset+DataHeaderLength:], payload)
	a.writeHeader(termOffset, FrameTypeData, frameLength)

	return rawTail + int64(alignedLength)
}

func (a *Appender) writeHeader(termOffset int, frameType int32, frameLength int) {
	atomicbuf.PutInt32(a.term, termOffset+frameTypeOffset, frameType)
	atomicbuf.PutInt32(a.term, termOffset+sessionIDOffset, a.sessionID)
	atomicbuf.PutInt32(a.term, termOffset+streamIDOffset, a.streamID)
	atomicbuf.PutInt32(a.term, termOffset+termOffsetOffset, int32(termOffset))
	atomicbuf.PutInt32(a.term, termOffset+frameLengthOffset, int32(frameLength))
}

// FragmentHandler consumes one data frame. The payload aliases the term and
// is only valid for the duration of the call.
type FragmentHandler func(payload []byte, sessionID, streamID int32)

// ReadTerm delivers frames from offset until the first unpublished frame or
// the fragment limit, returning the new offset and the fragments delivered.
func ReadTerm(term []byte, offset int64, handler FragmentHandler, fragmentLimit int) (int64, int) {
	fragments := 0

	for fragments < fragmentLimit && int(offset) < len(term) {
		termOffset := int(offset)
		frameLength := atomicbuf.GetInt32(term, termOffset+frameLengthOffset)
		if frameLength == 0 {
			break
		}

		offset += int64(alignFrame(int(frameLength)))

		if atomicbuf.GetInt32(term, termOffset+frameTypeOffset) == FrameTypePad {
			continue
		}

		handler(
			term[termOffset+DataHeaderLength:termOffset+int(frameLength)],
			atomicbuf.GetInt32(term, termOffset+sessionIDOffset),
			atomicbuf.GetInt32(term, termOffset+streamIDOffset))
		fragments++
	}

	return offset, fragments
}
