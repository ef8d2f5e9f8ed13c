// Package cnc defines the command-and-control file shared between the media
// driver and its clients. The driver creates the file and writes the metadata
// header exactly once; clients map the file and cache the region geometry at
// attach time. Both sides must agree on this layout bit for bit.
package cnc

import (
	"encoding/binary"
	"errors"
	"fmt"

	"aeron/internal/atomicbuf"
)

const (
	// File is the name of the CnC file inside the driver directory.
	File = "cnc.dat"

	// Version changes whenever the layout below changes.
	Version = 7

	CacheLineLength = 64

	// MetadataLength is the aligned size of the metadata header. The five
	// regions follow it in order: to-driver ring, to-clients broadcast,
	// counters metadata, counters values, error log.
	MetadataLength = 2 * CacheLineLength
)

// Metadata header field offsets.
const (
	versionOffset                     = 0
	toDriverBufferLengthOffset        = 4
	toClientsBufferLengthOffset       = 8
	counterMetadataBufferLengthOffset = 12
	counterValuesBufferLengthOffset   = 16
	clientLivenessTimeoutOffset       = 20
	errorLogBufferLengthOffset        = 28
)

var ErrVersionMismatch = errors.New("cnc version mismatch")

// Metadata mirrors the packed header at offset 0 of the CnC file.
type Metadata struct {
	ToDriverBufferLength        int32
	ToClientsBufferLength       int32
	CounterMetadataBufferLength int32
	CounterValuesBufferLength   int32
	ClientLivenessTimeoutNs     int64
	ErrorLogBufferLength        int32
}

// ComputedLength returns the full CnC file length for the metadata.
func ComputedLength(m Metadata) int {
	return MetadataLength +
		int(m.ToDriverBufferLength) +
		int(m.ToClientsBufferLength) +
		int(m.CounterMetadataBufferLength) +
		int(m.CounterValuesBufferLength) +
		int(m.ErrorLogBufferLength)
}

// WriteMetadata fills the header. The version field is published last so a
// concurrently attaching client never observes a half-written header.
func WriteMetadata(buf []byte, m Metadata) {
	binary.LittleEndian.PutUint32(buf[toDriverBufferLengthOffset:], uint32(m.ToDriverBufferLength))
	binary.LittleEndian.PutUint32(buf[toClientsBufferLengthOffset:], uint32(m.ToClientsBufferLength))
	binary.LittleEndian.PutUint32(buf[counterMetadataBufferLengthOffset:], uint32(m.CounterMetadataBufferLength))
	binary.LittleEndian.PutUint32(buf[counterValuesBufferLengthOffset:], uint32(m.CounterValuesBufferLength))
	binary.LittleEndian.PutUint64(buf[clientLivenessTimeoutOffset:], uint64(m.ClientLivenessTimeoutNs))
	binary.LittleEndian.PutUint32(buf[errorLogBufferLengthOffset:], uint32(m.ErrorLogBufferLength))
	atomicbuf.PutInt32(buf, versionOffset, Version)
}

// ReadMetadata validates the version and decodes the header.
func ReadMetadata(buf []byte) (Metadata, error) {
	if len(buf) < MetadataLength {
		return Metadata{}, fmt.Errorf("cnc file too short: %d bytes", len(buf))
	}
	if version := atomicbuf.GetInt32(buf, versionOffset); version != Version {
		return Metadata{}, fmt.Errorf("%w: file=%d supported=%d", ErrVersionMismatch, version, Version)
	}
	return Metadata{
		ToDriverBufferLength:        int32(binary.LittleEndian.Uint32(buf[toDriverBufferLengthOffset:])),
		ToClientsBufferLength:       int32(binary.LittleEndian.Uint32(buf[toClientsBufferLengthOffset:])),
		CounterMetadataBufferLength: int32(binary.LittleEndian.Uint32(buf[counterMetadataBufferLengthOffset:])),
		CounterValuesBufferLength:   int32(binary.LittleEndian.Uint32(buf[counterValuesBufferLengthOffset:])),
		ClientLivenessTimeoutNs:     int64(binary.LittleEndian.Uint64(buf[clientLivenessTimeoutOffset:])),
		ErrorLogBufferLength:        int32(binary.LittleEndian.Uint32(buf[errorLogBufferLengthOffset:])),
	}, nil
}

// Layout slices the region buffers out of a mapped CnC file.
type Layout struct {
	Meta Metadata
}

func (l Layout) toDriverStart() int  { return MetadataLength }
func (l Layout) toClientsStart() int { return l.toDriverStart() + int(l.Meta.ToDriverBufferLength) }
func (l Layout) counterMetadataStart() int {
	return l.toClientsStart() + int(l.Meta.ToClientsBufferLength)
}
func (l Layout) counterValuesStart() int {
	return l.counterMetadataStart() + int(l.Meta.CounterMetadataBufferLength)
}
func (l Layout) errorLogStart() int {
	return l.counterValuesStart() + int(l.Meta.CounterValuesBufferLength)
}

// ToDriverBuffer returns the region carrying the client-to-driver ring.
func (l Layout) ToDriverBuffer(cncFile []byte) []byte {
	return cncFile[l.toDriverStart():l.toClientsStart()]
}

// ToClientsBuffer returns the region carrying the driver-to-clients broadcast.
func (l Layout) ToClientsBuffer(cncFile []byte) []byte {
	return cncFile[l.toClientsStart():l.counterMetadataStart()]
}

// CounterMetadataBuffer returns the counters metadata region.
func (l Layout) CounterMetadataBuffer(cncFile []byte) []byte {
	return cncFile[l.counterMetadataStart():l.counterValuesStart()]
}

// CounterValuesBuffer returns the counters values region.
func (l Layout) CounterValuesBuffer(cncFile []byte) []byte {
	return cncFile[l.counterValuesStart():l.errorLogStart()]
}

// ErrorLogBuffer returns the distinct error log region.
func (l Layout) ErrorLogBuffer(cncFile []byte) []byte {
	return cncFile[l.errorLogStart() : l.errorLogStart()+int(l.Meta.ErrorLogBufferLength)]
}
