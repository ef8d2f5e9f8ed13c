// Package logbuffer manages the memory-mapped log files that carry stream
// payloads between a publisher and its subscribers. A log file is a metadata
// page followed by the term data region. The publisher appends framed
// messages by advancing the tail counter in the metadata page; each
// subscriber reads frames up to its own position.
package logbuffer

import (
	"fmt"
	"sync/atomic"

	"aeron/internal/memmap"
)

const (
	// MetadataLength is the reserved page at the start of a log file.
	MetadataLength = 4096

	// TermMinLength bounds how small a term data region may be.
	TermMinLength = 64 * 1024

	tailCounterOffset = 0
)

// LogBuffers is the scoped mapping of one log file. Ownership is shared by
// whichever publication or images use it; on the client side, release
// happens only through the conductor's linger mechanism, never synchronously.
// The driver closes its own mapping as soon as the publication is released.
type LogBuffers struct {
	file   *memmap.File
	closed atomic.Bool
}

// Create allocates and maps a fresh log file with the given term length.
func Create(path string, termLength int, sparse bool) (*LogBuffers, error) {
	if termLength < TermMinLength || termLength&(termLength-1) != 0 {
		return nil, fmt.Errorf("term length %d must be a power of two >= %d", termLength, TermMinLength)
	}
	file, err := memmap.Create(path, MetadataLength+termLength, sparse)
	if err != nil {
		return nil, err
	}
	return &LogBuffers{file: file}, nil
}

// Map maps an existing log file.
func Map(path string) (*LogBuffers, error) {
	file, err := memmap.Map(path)
	if err != nil {
		return nil, err
	}
	if len(file.Data) <= MetadataLength {
		file.Close()
		return nil, fmt.Errorf("log file %s too short: %d bytes", path, len(file.Data))
	}
	return &LogBuffers{file: file}, nil
}

// Path returns the backing file path.
func (l *LogBuffers) Path() string { return l.file.Path() }

// Metadata returns the metadata page.
func (l *LogBuffers) Metadata() []byte { return l.file.Data[:MetadataLength] }

// Term returns the term data region.
func (l *LogBuffers) Term() []byte { return l.file.Data[MetadataLength:] }

// TermLength returns the length of the term data region.
func (l *LogBuffers) TermLength() int { return len(l.file.Data) - MetadataLength }

// Close unmaps the file. Safe to call more than once; only the first call
// releases the mapping.
func (l *LogBuffers) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	return l.file.Close()
}
