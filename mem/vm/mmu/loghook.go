package mmu

import (
	"log"

	"github.com/sarchlab/vmsim/tracing"
)

// LogHook prints every operation of a memory manager into a logger.
type LogHook struct {
	*log.Logger
}

// NewLogHook returns a LogHook that writes into the logger.
func NewLogHook(logger *log.Logger) *LogHook {
	h := new(LogHook)
	h.Logger = logger
	return h
}

// Func logs the operation carried by the hook context.
func (h *LogHook) Func(ctx tracing.HookCtx) {
	op, ok := ctx.Item.(tracing.Op)
	if !ok {
		return
	}

	switch ctx.Pos {
	case tracing.HookPosOp:
		h.logOp(op)
	case tracing.HookPosFault:
		h.Printf("%s, FAULT, pid %d torn down: %v", op.Where, op.PID, op.Err)
	}
}

func (h *LogHook) logOp(op tracing.Op) {
	status := "ok"
	if !op.Succeeded() {
		status = op.ErrString()
	}

	switch op.Kind {
	case tracing.OpFork:
		h.Printf("%s, %s, pid %d -> %d, %s",
			op.Where, op.Kind, op.PID, op.ChildPID, status)
	case tracing.OpAllocate, tracing.OpDeallocate:
		h.Printf("%s, %s, pid %d, 0x%x+%d pages, %s",
			op.Where, op.Kind, op.PID, op.VAddr, op.NumPages, status)
	case tracing.OpRead, tracing.OpWrite:
		h.Printf("%s, %s, pid %d, 0x%x, %s",
			op.Where, op.Kind, op.PID, op.VAddr, status)
	default:
		h.Printf("%s, %s, pid %d, %s", op.Where, op.Kind, op.PID, status)
	}
}
