package vm

import (
	"errors"

	"github.com/sarchlab/vmsim/mem/physical"
)

// Errors reported by the memory manager. Returned errors wrap one of these;
// use errors.Is to classify them.
var (
	// ErrNoFreeProcess means every process slot is in use.
	ErrNoFreeProcess = errors.New("no free process slot")

	// ErrOutOfMemory means the frame allocator is exhausted.
	ErrOutOfMemory = physical.ErrOutOfMemory

	// ErrInvalidPID means the pid is out of range or its slot is free.
	ErrInvalidPID = errors.New("invalid pid")

	// ErrSegFault is the only fault kind. The faulting process has been torn
	// down when it is reported.
	ErrSegFault = errors.New("segmentation fault")
)
