package physical

import (
	"fmt"
	"log"
)

// Memory is the simulated RAM. The first osSize bytes are reserved for the
// operating system and are never handed out as frames. The rest is divided
// into page-sized frames.
type Memory struct {
	storage  *Storage
	osSize   uint64
	pageSize uint64
}

// NewMemory creates a RAM of ramSize bytes with an OS region of osSize bytes.
// Both sizes must be multiples of pageSize.
func NewMemory(ramSize, osSize, pageSize uint64) *Memory {
	if pageSize == 0 || ramSize%pageSize != 0 || osSize%pageSize != 0 {
		log.Panicf("ram size %d and os size %d must be multiples of page size %d",
			ramSize, osSize, pageSize)
	}

	if osSize >= ramSize {
		log.Panicf("os region (%d bytes) leaves no usable memory in %d bytes",
			osSize, ramSize)
	}

	return &Memory{
		storage:  NewStorage(ramSize, pageSize),
		osSize:   osSize,
		pageSize: pageSize,
	}
}

// Storage returns the underlying byte storage.
func (m *Memory) Storage() *Storage {
	return m.storage
}

// PageSize returns the frame size in bytes.
func (m *Memory) PageSize() uint64 {
	return m.pageSize
}

// OSSize returns the size of the reserved OS region.
func (m *Memory) OSSize() uint64 {
	return m.osSize
}

// NumFrames returns the number of frames in the usable region.
func (m *Memory) NumFrames() int {
	return int((m.storage.Capacity() - m.osSize) / m.pageSize)
}

// FrameAddr returns the physical address of the first byte of the frame.
func (m *Memory) FrameAddr(frame Frame) uint64 {
	if int(frame) >= m.NumFrames() {
		log.Panicf("frame %d out of range [0, %d)", frame, m.NumFrames())
	}

	return m.osSize + uint64(frame)*m.pageSize
}

// LoadByte returns the byte at offset within the frame.
func (m *Memory) LoadByte(frame Frame, offset uint64) (byte, error) {
	data, err := m.storage.Read(m.addr(frame, offset), 1)
	if err != nil {
		return 0, err
	}

	return data[0], nil
}

// StoreByte stores a byte at offset within the frame.
func (m *Memory) StoreByte(frame Frame, offset uint64, b byte) error {
	return m.storage.Write(m.addr(frame, offset), []byte{b})
}

// ReadFrame returns a copy of the full frame content.
func (m *Memory) ReadFrame(frame Frame) ([]byte, error) {
	return m.storage.Read(m.FrameAddr(frame), m.pageSize)
}

// WriteFrame fills the frame with data. Data shorter than a page leaves the
// remaining bytes untouched.
func (m *Memory) WriteFrame(frame Frame, data []byte) error {
	if uint64(len(data)) > m.pageSize {
		return fmt.Errorf("writing %d bytes into a %d-byte frame",
			len(data), m.pageSize)
	}

	return m.storage.Write(m.FrameAddr(frame), data)
}

// CopyFrame duplicates the content of src into dst.
func (m *Memory) CopyFrame(dst, src Frame) error {
	data, err := m.ReadFrame(src)
	if err != nil {
		return err
	}

	return m.WriteFrame(dst, data)
}

// ReleaseFrame discards the content of the frame.
func (m *Memory) ReleaseFrame(frame Frame) error {
	return m.storage.Release(m.FrameAddr(frame))
}

func (m *Memory) addr(frame Frame, offset uint64) uint64 {
	if offset >= m.pageSize {
		log.Panicf("offset %d exceeds page size %d", offset, m.pageSize)
	}

	return m.FrameAddr(frame) + offset
}
