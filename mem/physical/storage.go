package physical

import (
	"errors"
)

// ErrAccessBeyondCapacity is returned when an address is outside the storage.
var ErrAccessBeyondCapacity = errors.New(
	"accessing physical address beyond the storage capacity")

// A Storage keeps the bytes of the simulated physical memory.
//
// The storage is managed in units of the page size. A unit that has never been
// written, or that has been released, is not backed by any host memory and
// reads as zeros. This keeps a 200 MiB simulated RAM cheap when only a few
// frames are in use.
type Storage struct {
	unitSize uint64
	capacity uint64
	data     map[uint64][]byte
}

// NewStorage creates a storage object with the specified capacity, managed in
// units of unitSize bytes.
func NewStorage(capacity, unitSize uint64) *Storage {
	if unitSize == 0 {
		panic("storage unit size must not be zero")
	}

	return &Storage{
		unitSize: unitSize,
		capacity: capacity,
		data:     make(map[uint64][]byte),
	}
}

// Capacity returns the number of bytes the storage can hold.
func (s *Storage) Capacity() uint64 {
	return s.capacity
}

// NumBackedUnits returns the number of units currently backed by host memory.
func (s *Storage) NumBackedUnits() int {
	return len(s.data)
}

func (s *Storage) mustBeInRange(address, length uint64) error {
	if address >= s.capacity || length > s.capacity-address {
		return ErrAccessBeyondCapacity
	}

	return nil
}

func (s *Storage) parseAddress(addr uint64) (baseAddr, inUnitAddr uint64) {
	inUnitAddr = addr % s.unitSize
	baseAddr = addr - inUnitAddr

	return
}

func (s *Storage) getOrCreateUnit(baseAddr uint64) []byte {
	unit, ok := s.data[baseAddr]
	if !ok {
		unit = make([]byte, s.unitSize)
		s.data[baseAddr] = unit
	}

	return unit
}

// Read returns length bytes starting at address.
func (s *Storage) Read(address, length uint64) ([]byte, error) {
	if err := s.mustBeInRange(address, length); err != nil {
		return nil, err
	}

	res := make([]byte, length)
	currAddr := address
	dataOffset := uint64(0)

	for dataOffset < length {
		baseAddr, inUnitAddr := s.parseAddress(currAddr)
		lenToRead := min(length-dataOffset, s.unitSize-inUnitAddr)

		if unit, ok := s.data[baseAddr]; ok {
			copy(res[dataOffset:dataOffset+lenToRead],
				unit[inUnitAddr:inUnitAddr+lenToRead])
		}

		dataOffset += lenToRead
		currAddr += lenToRead
	}

	return res, nil
}

// Write stores data starting at address.
func (s *Storage) Write(address uint64, data []byte) error {
	length := uint64(len(data))
	if err := s.mustBeInRange(address, length); err != nil {
		return err
	}

	currAddr := address
	dataOffset := uint64(0)

	for dataOffset < length {
		baseAddr, inUnitAddr := s.parseAddress(currAddr)
		lenToWrite := min(length-dataOffset, s.unitSize-inUnitAddr)

		unit := s.getOrCreateUnit(baseAddr)
		copy(unit[inUnitAddr:inUnitAddr+lenToWrite],
			data[dataOffset:dataOffset+lenToWrite])

		dataOffset += lenToWrite
		currAddr += lenToWrite
	}

	return nil
}

// Release drops the host memory behind the unit that contains address. The
// unit reads as zeros afterwards.
func (s *Storage) Release(address uint64) error {
	if err := s.mustBeInRange(address, 1); err != nil {
		return err
	}

	baseAddr, _ := s.parseAddress(address)
	delete(s.data, baseAddr)

	return nil
}
