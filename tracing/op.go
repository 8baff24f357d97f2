package tracing

import (
	"errors"

	"github.com/rs/xid"
)

// OpKind names a memory-management operation.
type OpKind string

// Operation kinds reported through HookPosOp.
const (
	OpCreate     OpKind = "create"
	OpFork       OpKind = "fork"
	OpExit       OpKind = "exit"
	OpAllocate   OpKind = "allocate"
	OpDeallocate OpKind = "deallocate"
	OpRead       OpKind = "read"
	OpWrite      OpKind = "write"
)

// An Op describes one completed operation on a memory manager.
type Op struct {
	ID    string
	Kind  OpKind
	Where string

	// PID is the process the operation targeted. For create it is the new
	// process, for fork it is the parent.
	PID uint32

	// ChildPID is the process created by a successful fork.
	ChildPID uint32

	VAddr    uint64
	NumPages int

	// Err is nil on success. A seg fault wraps the fault sentinel of the
	// memory manager.
	Err   error
	Fault bool
}

// NewOpID generates a globally unique operation id.
func NewOpID() string {
	return xid.New().String()
}

// Succeeded reports whether the operation completed without error.
func (o Op) Succeeded() bool {
	return o.Err == nil
}

// ErrString returns the error message, or an empty string on success.
func (o Op) ErrString() string {
	if o.Err == nil {
		return ""
	}

	return o.Err.Error()
}

// Is reports whether the operation failed with target.
func (o Op) Is(target error) bool {
	return errors.Is(o.Err, target)
}
