// Package atomicbuf provides atomic access to fields inside shared byte
// regions. Offsets must be naturally aligned for the accessed width; the
// regions handed out by cnc and logbuffer are page aligned, so any 8-byte
// aligned offset within them is safe.
package atomicbuf

import (
	"sync/atomic"
	"unsafe"
)

func int64Ptr(b []byte, offset int) *int64 {
	return (*int64)(unsafe.Pointer(&b[offset]))
}

func int32Ptr(b []byte, offset int) *int32 {
	return (*int32)(unsafe.Pointer(&b[offset]))
}

// GetInt64 loads an int64 with acquire semantics.
func GetInt64(b []byte, offset int) int64 {
	return atomic.LoadInt64(int64Ptr(b, offset))
}

// PutInt64 stores an int64 with release semantics.
func PutInt64(b []byte, offset int, v int64) {
	atomic.StoreInt64(int64Ptr(b, offset), v)
}

// CompareAndSetInt64 atomically swaps the int64 at offset if it equals expected.
func CompareAndSetInt64(b []byte, offset int, expected, updated int64) bool {
	return atomic.CompareAndSwapInt64(int64Ptr(b, offset), expected, updated)
}

// GetInt32 loads an int32 with acquire semantics.
func GetInt32(b []byte, offset int) int32 {
	return atomic.LoadInt32(int32Ptr(b, offset))
}

// PutInt32 stores an int32 with release semantics.
func PutInt32(b []byte, offset int, v int32) {
	atomic.StoreInt32(int32Ptr(b, offset), v)
}

// AddInt32 atomically adds delta and returns the previous value.
func AddInt32(b []byte, offset int, delta int32) int32 {
	return atomic.AddInt32(int32Ptr(b, offset), delta) - delta
}

// AddInt64 atomically adds delta and returns the previous value.
func AddInt64(b []byte, offset int, delta int64) int64 {
	return atomic.AddInt64(int64Ptr(b, offset), delta) - delta
}
