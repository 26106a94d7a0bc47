package sysprops

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// MMap is a byte slice backed by a shared memory mapping. Every Property
// Area and the Property Info Area are opened through it, so the slice
// itself is the cross-process shared state: atomic loads/stores into it
// are visible to every other process holding the same mapping.
type MMap []byte

// Protection flags for Map, mirroring unix.PROT_* but kept local so callers
// never need to import golang.org/x/sys/unix directly.
const (
	RDONLY = unix.PROT_READ
	RDWR   = unix.PROT_READ | unix.PROT_WRITE
)

// Map maps size bytes of file starting at offset 0 with the given
// protection, shared across processes. size must already account for any
// required truncation — Map does not grow the file.
func Map(file *os.File, prot int, size int) (MMap, error) {
	if size <= 0 {
		info, statErr := file.Stat()
		if statErr != nil {
			return nil, IOf(statErr, "mmap: stat %s", file.Name())
		}
		size = int(info.Size())
	}

	data, mmapErr := unix.Mmap(int(file.Fd()), 0, size, prot, unix.MAP_SHARED)
	if mmapErr != nil {
		return nil, IOf(mmapErr, "mmap: mmap %s", file.Name())
	}

	return MMap(data), nil
}

// Unmap releases the mapping. The MMap must not be used afterward.
func (m MMap) Unmap() error {
	if len(m) == 0 {
		return nil
	}
	if err := unix.Munmap(m); err != nil {
		return IOf(err, "mmap: munmap")
	}
	return nil
}

// Flush synchronously flushes the full mapping to the backing file.
func (m MMap) Flush() error {
	return m.flushRange(0, len(m))
}

// FlushRange flushes only [start, end) of the mapping, page-aligning start
// down as msync requires.
func (m MMap) FlushRange(start, end int) error {
	return m.flushRange(start, end)
}

func (m MMap) flushRange(start, end int) error {
	if len(m) == 0 {
		return nil
	}
	pageSize := os.Getpagesize()
	alignedStart := start - (start % pageSize)
	if alignedStart < 0 {
		alignedStart = 0
	}
	if end > len(m) {
		end = len(m)
	}
	if alignedStart >= end {
		return nil
	}
	if err := unix.Msync(m[alignedStart:end], unix.MS_SYNC); err != nil {
		return IOf(err, "mmap: msync")
	}
	return nil
}

// Lock pins the mapping in physical memory (best-effort; absence of
// CAP_IPC_LOCK is not treated as fatal by callers).
func (m MMap) Lock() error {
	if len(m) == 0 {
		return errors.New("mmap: empty mapping")
	}
	return unix.Mlock(m)
}
