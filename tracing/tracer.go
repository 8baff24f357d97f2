package tracing

import (
	"fmt"
	"reflect"
)

// A Tracer collects operation traces.
type Tracer interface {
	TraceOp(op Op)
	TraceFault(op Op)
}

// CollectTrace lets the tracer collect traces from a domain.
func CollectTrace(domain NamedHookable, tracer Tracer) {
	for _, hook := range domain.Hooks() {
		hook, ok := hook.(*traceHook)
		if ok && hook.t == tracer {
			panic(fmt.Sprintf(
				"domain %s already has tracer %s",
				domain.Name(), reflect.TypeOf(tracer)))
		}
	}

	domain.AcceptHook(&traceHook{t: tracer})
}

// A traceHook forwards hook invocations to a tracer.
type traceHook struct {
	t Tracer
}

// Func calls the tracer interfaces when the hook is triggered.
func (h *traceHook) Func(ctx HookCtx) {
	op, ok := ctx.Item.(Op)
	if !ok {
		return
	}

	switch ctx.Pos {
	case HookPosOp:
		h.t.TraceOp(op)
	case HookPosFault:
		h.t.TraceFault(op)
	}
}
