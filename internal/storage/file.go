// file.go
//go:build linux || darwin

// Package storage owns the backing file descriptor and hands out
// page-aligned memory mappings over it. It is the only path between
// in-memory nodes and durable bytes; dirty pages are written back by the
// kernel on unmap or msync.
package storage

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// File is the mmap substrate for one database file.
type File struct {
	file     *os.File
	pageSize int64
}

// Open opens or creates the file with read/write permissions and mode 0600.
func Open(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, err
	}
	return &File{file: f, pageSize: int64(os.Getpagesize())}, nil
}

// EnsureSize grows the file to at least n bytes. The file is never shrunk;
// growth is sparse where the filesystem allows it.
func (f *File) EnsureSize(n int64) error {
	info, err := f.file.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", f.file.Name(), err)
	}
	if info.Size() >= n {
		return nil
	}
	if err := f.file.Truncate(n); err != nil {
		return fmt.Errorf("grow %s to %d bytes: %w", f.file.Name(), n, err)
	}
	return nil
}

// Mapping is one mmapped region. Block is the caller's slice; raw is the
// page-aligned mapping it lives in, kept for munmap arithmetic.
type Mapping struct {
	Block []byte
	raw   []byte
}

// Map returns a writable MAP_SHARED mapping covering [offset, offset+size),
// growing the file first so the mapping is fully backed. The mapping starts
// at the containing page boundary; Block starts at offset.
func (f *File) Map(offset int64, size int) (*Mapping, error) {
	if err := f.EnsureSize(offset + int64(size)); err != nil {
		return nil, err
	}
	pageOff := offset &^ (f.pageSize - 1)
	length := int(offset-pageOff) + size
	raw, err := syscall.Mmap(int(f.file.Fd()), pageOff, length,
		syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s [%d,%d): %w",
			f.file.Name(), offset, offset+int64(size), err)
	}
	return &Mapping{Block: raw[offset-pageOff:], raw: raw}, nil
}

// Unmap releases the mapping.
func (f *File) Unmap(m *Mapping) error {
	if m.raw == nil {
		return nil
	}
	if err := syscall.Munmap(m.raw); err != nil {
		return fmt.Errorf("munmap %s: %w", f.file.Name(), err)
	}
	m.raw, m.Block = nil, nil
	return nil
}

// Sync flushes the mapping's pages to disk synchronously.
func (f *File) Sync(m *Mapping) error {
	if err := unix.Msync(m.raw, unix.MS_SYNC); err != nil {
		return fmt.Errorf("msync %s: %w", f.file.Name(), err)
	}
	return nil
}

// SyncFile fsyncs the underlying descriptor.
func (f *File) SyncFile() error {
	return f.file.Sync()
}

// Name returns the file's path as opened.
func (f *File) Name() string { return f.file.Name() }

// Size returns the current file size in bytes.
func (f *File) Size() (int64, error) {
	info, err := f.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", f.file.Name(), err)
	}
	return info.Size(), nil
}

// Close closes the descriptor. Mappings are released by their owners.
func (f *File) Close() error {
	return f.file.Close()
}
