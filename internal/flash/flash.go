// Package flash provides mesh.Flash implementations for staging a
// firmware image: an in-memory stager for tests, and a file-backed stager
// standing in for a real device's erasable flash region.
package flash

import (
	"fmt"
	"os"
	"sync"
)

// MemStager is an in-memory mesh.Flash backed by a byte slice, with Erase
// filling the erased range to 0xFF to mimic real NOR flash semantics.
type MemStager struct {
	mu   sync.Mutex
	data []byte
}

// NewMemStager creates a stager with size bytes of staging region.
func NewMemStager(size int) *MemStager {
	return &MemStager{data: make([]byte, size)}
}

// Init implements mesh.Flash.
func (s *MemStager) Init() error { return nil }

// Erase implements mesh.Flash.
func (s *MemStager) Erase(offset, size int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if offset < 0 || offset+size > len(s.data) {
		return fmt.Errorf("flash: erase [%d:%d] out of range (size %d)", offset, offset+size, len(s.data))
	}
	for i := offset; i < offset+size; i++ {
		s.data[i] = 0xFF
	}
	return nil
}

// WriteBlock implements mesh.Flash.
func (s *MemStager) WriteBlock(offset int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if offset < 0 || offset+len(data) > len(s.data) {
		return fmt.Errorf("flash: write [%d:%d] out of range (size %d)", offset, offset+len(data), len(s.data))
	}
	copy(s.data[offset:offset+len(data)], data)
	return nil
}

// ReadRange implements mesh.Flash.
func (s *MemStager) ReadRange(offset, size int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if offset < 0 || offset+size > len(s.data) {
		return nil, fmt.Errorf("flash: read [%d:%d] out of range (size %d)", offset, offset+size, len(s.data))
	}
	out := make([]byte, size)
	copy(out, s.data[offset:offset+size])
	return out, nil
}

// FileStager is a mesh.Flash backed by a regular file, standing in for a
// device's staging partition when the host has no real flash access.
type FileStager struct {
	mu   sync.Mutex
	f    *os.File
	size int64
}

// OpenFileStager opens (creating if necessary) a file-backed staging
// region of size bytes at path.
func OpenFileStager(path string, size int64) (*FileStager, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("flash: open %s: %w", path, err)
	}
	return &FileStager{f: f, size: size}, nil
}

// Init implements mesh.Flash.
func (s *FileStager) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Truncate(s.size)
}

// Erase implements mesh.Flash.
func (s *FileStager) Erase(offset, size int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	blank := make([]byte, size)
	for i := range blank {
		blank[i] = 0xFF
	}
	if _, err := s.f.WriteAt(blank, int64(offset)); err != nil {
		return fmt.Errorf("flash: erase at %d: %w", offset, err)
	}
	return nil
}

// WriteBlock implements mesh.Flash.
func (s *FileStager) WriteBlock(offset int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.f.WriteAt(data, int64(offset)); err != nil {
		return fmt.Errorf("flash: write block at %d: %w", offset, err)
	}
	return nil
}

// ReadRange implements mesh.Flash.
func (s *FileStager) ReadRange(offset, size int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, size)
	if _, err := s.f.ReadAt(buf, int64(offset)); err != nil {
		return nil, fmt.Errorf("flash: read range at %d: %w", offset, err)
	}
	return buf, nil
}

// Close releases the underlying file handle.
func (s *FileStager) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
