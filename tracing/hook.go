package tracing

import (
	"slices"
	"sync"
)

// HookPos defines the enum of possible hooking positions.
type HookPos struct {
	Name string
}

// HookCtx is the context that holds all the information about the site that a
// hook is triggered.
type HookCtx struct {
	Domain Hookable
	Pos    *HookPos
	Item   any
	Detail any
}

// Hookable defines an object that accept Hooks.
type Hookable interface {
	// AcceptHook registers a hook.
	AcceptHook(hook Hook)

	// NumHooks returns the number of hooks registered.
	NumHooks() int

	// Hooks returns all the hooks registered.
	Hooks() []Hook
}

// NamedHookable is a hookable domain that has a name and can trigger its
// hooks.
type NamedHookable interface {
	Hookable
	Name() string
	InvokeHook(ctx HookCtx)
}

// Hook is a short piece of program that can be invoked by a hookable object.
type Hook interface {
	// Func determines what to do if hook is invoked.
	Func(ctx HookCtx)
}

// HookPosOp is triggered after a memory-management operation completes. The
// item is an Op.
var HookPosOp = &HookPos{Name: "Op"}

// HookPosFault is triggered after a segmentation fault tore a process down.
// The item is the Op that faulted.
var HookPosFault = &HookPos{Name: "Fault"}

// A HookableBase provides the bookkeeping for types that implement Hookable.
// Hooks may be registered while other goroutines invoke them.
type HookableBase struct {
	lock     sync.RWMutex
	hookList []Hook
}

// NumHooks returns the number of hooks registered.
func (h *HookableBase) NumHooks() int {
	h.lock.RLock()
	defer h.lock.RUnlock()

	return len(h.hookList)
}

// Hooks returns all the hooks registered.
func (h *HookableBase) Hooks() []Hook {
	h.lock.RLock()
	defer h.lock.RUnlock()

	return slices.Clone(h.hookList)
}

// AcceptHook registers a hook. Registering the same hook twice panics.
func (h *HookableBase) AcceptHook(hook Hook) {
	h.lock.Lock()
	defer h.lock.Unlock()

	if slices.Contains(h.hookList, hook) {
		panic("duplicated hook")
	}

	h.hookList = append(h.hookList, hook)
}

// InvokeHook triggers the hooks registered at the time of the call, in
// registration order.
func (h *HookableBase) InvokeHook(ctx HookCtx) {
	for _, hook := range h.Hooks() {
		hook.Func(ctx)
	}
}
