package tracing

import (
	"sync"
)

// OpCount is the number of calls and failures of an operation kind.
type OpCount struct {
	Kind     OpKind `json:"kind"`
	Count    uint64 `json:"count"`
	Failures uint64 `json:"failures"`
}

// OpCountTracer counts operations by kind, along with failures and faults.
type OpCountTracer struct {
	lock       sync.Mutex
	kinds      []OpKind
	counts     map[OpKind]*OpCount
	faultCount uint64
}

// NewOpCountTracer creates a new OpCountTracer.
func NewOpCountTracer() *OpCountTracer {
	return &OpCountTracer{
		counts: make(map[OpKind]*OpCount),
	}
}

// TraceOp counts the operation.
func (t *OpCountTracer) TraceOp(op Op) {
	t.lock.Lock()
	defer t.lock.Unlock()

	c, ok := t.counts[op.Kind]
	if !ok {
		c = &OpCount{Kind: op.Kind}
		t.counts[op.Kind] = c
		t.kinds = append(t.kinds, op.Kind)
	}

	c.Count++
	if !op.Succeeded() {
		c.Failures++
	}
}

// TraceFault counts the fault.
func (t *OpCountTracer) TraceFault(_ Op) {
	t.lock.Lock()
	t.faultCount++
	t.lock.Unlock()
}

// Count returns the count for the operation kind.
func (t *OpCountTracer) Count(kind OpKind) OpCount {
	t.lock.Lock()
	defer t.lock.Unlock()

	if c, ok := t.counts[kind]; ok {
		return *c
	}

	return OpCount{Kind: kind}
}

// Counts returns the counts in the order the kinds were first seen.
func (t *OpCountTracer) Counts() []OpCount {
	t.lock.Lock()
	defer t.lock.Unlock()

	res := make([]OpCount, 0, len(t.kinds))
	for _, k := range t.kinds {
		res = append(res, *t.counts[k])
	}

	return res
}

// FaultCount returns the number of faults seen.
func (t *OpCountTracer) FaultCount() uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.faultCount
}
