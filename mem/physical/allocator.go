package physical

import (
	"errors"
	"log"
	"math/bits"
)

// ErrOutOfMemory is returned when every usable frame is allocated.
var ErrOutOfMemory = errors.New("out of physical frames")

// A Frame is the number of a frame in the usable region. Frame 0 is the first
// frame after the OS region.
type Frame uint32

// FrameAllocator tracks which usable frames are reserved with a bitmap. Each
// bit i corresponds to frame i.
//
// Allocation always returns the lowest free frame.
type FrameAllocator struct {
	numFrames     int
	reservedCount int
	freeBitmap    []uint64
}

// NewFrameAllocator creates an allocator that manages numFrames frames, all of
// them free.
func NewFrameAllocator(numFrames int) *FrameAllocator {
	if numFrames < 0 {
		log.Panicf("invalid number of frames %d", numFrames)
	}

	return &FrameAllocator{
		numFrames:  numFrames,
		freeBitmap: make([]uint64, (numFrames+63)/64),
	}
}

// BitmapSize returns the number of bytes needed to hold the bitmap.
func (a *FrameAllocator) BitmapSize() uint64 {
	return uint64(len(a.freeBitmap)) * 8
}

// NumFrames returns the number of frames managed by the allocator.
func (a *FrameAllocator) NumFrames() int {
	return a.numFrames
}

// NumAllocated returns the number of reserved frames.
func (a *FrameAllocator) NumAllocated() int {
	return a.reservedCount
}

// NumFree returns the number of frames that can still be allocated.
func (a *FrameAllocator) NumFree() int {
	return a.numFrames - a.reservedCount
}

// Reset marks every frame as free.
func (a *FrameAllocator) Reset() {
	clear(a.freeBitmap)
	a.reservedCount = 0
}

// AllocFrame reserves the lowest free frame.
func (a *FrameAllocator) AllocFrame() (Frame, error) {
	if a.reservedCount == a.numFrames {
		return 0, ErrOutOfMemory
	}

	for block, word := range a.freeBitmap {
		if word == ^uint64(0) {
			continue
		}

		bit := bits.TrailingZeros64(^word)
		frame := block*64 + bit
		if frame >= a.numFrames {
			break
		}

		a.freeBitmap[block] |= 1 << bit
		a.reservedCount++

		return Frame(frame), nil
	}

	return 0, ErrOutOfMemory
}

// FreeFrame returns a reserved frame to the pool. Freeing a frame that is not
// reserved is a bug in the caller and panics.
func (a *FrameAllocator) FreeFrame(frame Frame) {
	block, mask := a.locate(frame)
	if a.freeBitmap[block]&mask == 0 {
		log.Panicf("double free of frame %d", frame)
	}

	a.freeBitmap[block] &^= mask
	a.reservedCount--
}

// IsAllocated reports whether the frame is reserved.
func (a *FrameAllocator) IsAllocated(frame Frame) bool {
	block, mask := a.locate(frame)
	return a.freeBitmap[block]&mask != 0
}

func (a *FrameAllocator) locate(frame Frame) (block int, mask uint64) {
	if int(frame) >= a.numFrames {
		log.Panicf("frame %d out of range [0, %d)", frame, a.numFrames)
	}

	return int(frame) / 64, 1 << (uint(frame) % 64)
}
