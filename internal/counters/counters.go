// Package counters manages the counters metadata and values regions of the
// CnC file. The driver allocates counters; clients read values by id. Each
// value occupies its own pair of cache lines so updates from different
// counters never share a line.
package counters

import (
	"encoding/binary"
	"errors"
	"fmt"

	"aeron/internal/atomicbuf"
)

const (
	CacheLineLength = 64

	// MetadataLength is the size of one metadata record: state, type id,
	// label length and label text.
	MetadataLength = 2 * CacheLineLength

	// ValueLength is the size of one value slot.
	ValueLength = 2 * CacheLineLength

	stateOffset       = 0
	typeIDOffset      = 4
	labelLengthOffset = 8
	labelOffset       = 12

	maxLabelLength = MetadataLength - labelOffset

	RecordUnused    int32 = 0
	RecordAllocated int32 = 1
	RecordReclaimed int32 = -1
)

var ErrCountersExhausted = errors.New("no free counter records")

// Manager allocates counters on the driver side.
type Manager struct {
	metadata []byte
	values   []byte
}

// NewManager wraps the two regions. The metadata region must be twice the
// length of the values region, which must hold a whole number of slots.
func NewManager(metadata, values []byte) (*Manager, error) {
	if len(metadata) != 2*len(values) {
		return nil, fmt.Errorf("metadata length %d is not twice values length %d", len(metadata), len(values))
	}
	if len(values)%ValueLength != 0 {
		return nil, fmt.Errorf("values length %d is not a multiple of %d", len(values), ValueLength)
	}
	return &Manager{metadata: metadata, values: values}, nil
}

// MaxCounterID returns the highest id this manager can allocate.
func (m *Manager) MaxCounterID() int32 {
	return int32(len(m.values)/ValueLength) - 1
}

// Allocate claims the first free record, labels it and returns its id.
func (m *Manager) Allocate(typeID int32, label string) (int32, error) {
	if len(label) > maxLabelLength {
		label = label[:maxLabelLength]
	}
	for id := int32(0); id <= m.MaxCounterID(); id++ {
		offset := int(id) * MetadataLength
		if atomicbuf.GetInt32(m.metadata, offset+stateOffset) != RecordUnused {
			continue
		}
		binary.LittleEndian.PutUint32(m.metadata[offset+typeIDOffset:], uint32(typeID))
		binary.LittleEndian.PutUint32(m.metadata[offset+labelLengthOffset:], uint32(len(label)))
		copy(m.metadata[offset+labelOffset:], label)
		atomicbuf.PutInt64(m.values, int(id)*ValueLength, 0)
		atomicbuf.PutInt32(m.metadata, offset+stateOffset, RecordAllocated)
		return id, nil
	}
	return 0, ErrCountersExhausted
}

// Free reclaims a counter. The slot is not reused; reclaimed records keep
// their label for post-mortem inspection.
func (m *Manager) Free(id int32) {
	atomicbuf.PutInt32(m.metadata, int(id)*MetadataLength+stateOffset, RecordReclaimed)
}

// SetValue publishes a counter value.
func (m *Manager) SetValue(id int32, value int64) {
	atomicbuf.PutInt64(m.values, int(id)*ValueLength, value)
}

// GetValue reads a counter value.
func (m *Manager) GetValue(id int32) int64 {
	return atomicbuf.GetInt64(m.values, int(id)*ValueLength)
}

// Label returns a counter's label from the metadata region.
func Label(metadata []byte, id int32) string {
	offset := int(id) * MetadataLength
	length := binary.LittleEndian.Uint32(metadata[offset+labelLengthOffset:])
	return string(metadata[offset+labelOffset : offset+labelOffset+int(length)])
}

// Position reads and writes one counter value slot from a mapped values
// region. It is the client-side view of a driver-allocated counter, such as
// a publication's position limit or a subscriber position.
type Position struct {
	values []byte
	id     int32
}

// NewPosition wraps the slot for id within values.
func NewPosition(values []byte, id int32) Position {
	return Position{values: values, id: id}
}

// ID returns the counter id.
func (p Position) ID() int32 { return p.id }

// Get loads the value with acquire semantics.
func (p Position) Get() int64 {
	return atomicbuf.GetInt64(p.values, int(p.id)*ValueLength)
}

// Set publishes a new value.
func (p Position) Set(value int64) {
	atomicbuf.PutInt64(p.values, int(p.id)*ValueLength, value)
}
