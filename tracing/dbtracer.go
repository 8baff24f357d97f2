package tracing

import (
	"fmt"
	"sync"

	"github.com/sarchlab/vmsim/datarecording"
)

// OpTableName is the table that DBTracer writes operations into.
const OpTableName = "mmu_ops"

type opTableEntry struct {
	Seq      uint64
	ID       string
	Kind     string
	Location string
	PID      uint32
	ChildPID uint32
	// VAddr is hex text. SQLite integers are signed and cannot hold every
	// virtual address.
	VAddr    string
	NumPages int
	Error    string
	Fault    bool
}

// DBTracer stores every traced operation into a data recorder. Faults are
// already marked on their operation, so they are not written twice.
type DBTracer struct {
	mu      sync.Mutex
	backend datarecording.DataRecorder
	seq     uint64
}

// NewDBTracer creates a DBTracer and the operation table in the backend.
func NewDBTracer(backend datarecording.DataRecorder) *DBTracer {
	backend.CreateTable(OpTableName, opTableEntry{})

	return &DBTracer{
		backend: backend,
	}
}

// TraceOp records the operation.
func (t *DBTracer) TraceOp(op Op) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	t.backend.InsertData(OpTableName, opTableEntry{
		Seq:      t.seq,
		ID:       op.ID,
		Kind:     string(op.Kind),
		Location: op.Where,
		PID:      op.PID,
		ChildPID: op.ChildPID,
		VAddr:    fmt.Sprintf("0x%x", op.VAddr),
		NumPages: op.NumPages,
		Error:    op.ErrString(),
		Fault:    op.Fault,
	})
}

// TraceFault does nothing. The faulting operation carries the fault flag.
func (t *DBTracer) TraceFault(_ Op) {}

// Flush forces the buffered operations into the database.
func (t *DBTracer) Flush() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.backend.Flush()
}
