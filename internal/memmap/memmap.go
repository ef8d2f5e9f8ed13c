// Package memmap maps files into memory for sharing between the driver and
// its clients. On Linux the preferred home for these files is /dev/shm.
package memmap

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// File is a memory-mapped file. Data aliases the mapping directly; it stays
// valid until Close.
type File struct {
	Data []byte
	path string
	f    *os.File
}

// Create creates a file of the given length and maps it read-write. The file
// must not already exist. When sparse is false the file is preallocated so
// later page faults cannot fail on a full filesystem.
func Create(path string, length int, sparse bool) (*File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	if err := f.Truncate(int64(length)); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("truncate %s: %w", path, err)
	}
	if !sparse {
		if err := unix.Fallocate(int(f.Fd()), 0, 0, int64(length)); err != nil && err != unix.EOPNOTSUPP {
			f.Close()
			os.Remove(path)
			return nil, fmt.Errorf("preallocate %s: %w", path, err)
		}
	}
	data, err := unix.Mmap(int(f.Fd()), 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	return &File{Data: data, path: path, f: f}, nil
}

// Map maps an existing file read-write over its full length.
func Map(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	return &File{Data: data, path: path, f: f}, nil
}

// Path returns the backing file path.
func (m *File) Path() string { return m.path }

// Close unmaps the region and closes the backing file. The file itself is
// left on disk; removal is the owner's concern.
func (m *File) Close() error {
	if m.Data == nil {
		return nil
	}
	err := unix.Munmap(m.Data)
	m.Data = nil
	if cerr := m.f.Close(); err == nil {
		err = cerr
	}
	return err
}
