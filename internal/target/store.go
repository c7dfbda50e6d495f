package target

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	ErrNoDevice      = errors.New("target: no such device")
	ErrOutOfRange    = errors.New("target: offset out of range")
	ErrInvalidDevice = errors.New("target: invalid device path")
)

// DeviceInfo is a snapshot of one device.
type DeviceInfo struct {
	Path string `json:"path"`
	Size uint64 `json:"size"`
}

// Store is an in-memory set of block devices keyed by device path. Devices
// are created on first write unless the store is fixed.
type Store struct {
	mu      sync.RWMutex
	devices map[string][]byte
	maxSize uint64
	fixed   bool
}

// NewStore constructs an empty store. maxSize bounds the size any device may
// grow to; zero means unbounded.
func NewStore(maxSize uint64, fixed bool) *Store {
	return &Store{
		devices: make(map[string][]byte),
		maxSize: maxSize,
		fixed:   fixed,
	}
}

// Create adds a zero-filled device of size bytes, replacing any existing one.
func (s *Store) Create(path string, size uint64) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return ErrInvalidDevice
	}
	if s.maxSize > 0 && size > s.maxSize {
		return fmt.Errorf("%w: size=%d max=%d", ErrOutOfRange, size, s.maxSize)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[path] = make([]byte, size)
	return nil
}

// ReadAt returns size bytes at off. Bytes past the end of the device read as
// zero.
func (s *Store) ReadAt(path string, off, size uint64) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.devices[path]
	if !ok {
		if s.fixed {
			return nil, fmt.Errorf("%w: %s", ErrNoDevice, path)
		}
		return make([]byte, size), nil
	}
	out := make([]byte, size)
	if off < uint64(len(data)) {
		copy(out, data[off:])
	}
	return out, nil
}

// WriteAt stores b at off, growing the device as needed.
func (s *Store) WriteAt(path string, off uint64, b []byte) (int, error) {
	end := off + uint64(len(b))
	if end < off || (s.maxSize > 0 && end > s.maxSize) {
		return 0, fmt.Errorf("%w: end=%d", ErrOutOfRange, end)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.devices[path]
	if !ok && s.fixed {
		return 0, fmt.Errorf("%w: %s", ErrNoDevice, path)
	}
	if uint64(len(data)) < end {
		grown := make([]byte, end)
		copy(grown, data)
		data = grown
	}
	n := copy(data[off:], b)
	s.devices[path] = data
	return n, nil
}

// Resize truncates or zero-extends the device to size bytes.
func (s *Store) Resize(path string, size uint64) error {
	if s.maxSize > 0 && size > s.maxSize {
		return fmt.Errorf("%w: size=%d max=%d", ErrOutOfRange, size, s.maxSize)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.devices[path]
	if !ok && s.fixed {
		return fmt.Errorf("%w: %s", ErrNoDevice, path)
	}
	resized := make([]byte, size)
	copy(resized, data)
	s.devices[path] = resized
	return nil
}

func (s *Store) Stat(path string) (DeviceInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.devices[path]
	if !ok {
		if s.fixed {
			return DeviceInfo{}, fmt.Errorf("%w: %s", ErrNoDevice, path)
		}
		return DeviceInfo{Path: path}, nil
	}
	return DeviceInfo{Path: path, Size: uint64(len(data))}, nil
}

// List returns device snapshots sorted by path.
func (s *Store) List() []DeviceInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]DeviceInfo, 0, len(s.devices))
	for path, data := range s.devices {
		out = append(out, DeviceInfo{Path: path, Size: uint64(len(data))})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Path < out[j].Path
	})
	return out
}
