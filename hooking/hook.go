// Package hooking lets observers attach to the relay components without the
// components knowing who is watching.
package hooking

// HookPos names a site where a component invokes its hooks.
type HookPos struct {
	Name string
}

// HookCtx describes one hook invocation.
type HookCtx struct {
	// Domain is the component that fired the hook.
	Domain Hookable

	// Pos is where in the domain the hook fired.
	Pos *HookPos

	// Item is the subject of the event, usually a *wire.Message.
	Item interface{}

	// Detail carries position-specific extra data. It can be nil.
	Detail interface{}
}

// Named is implemented by everything that carries a name in traces.
type Named interface {
	Name() string
}

// Hookable is an object that accepts hooks.
type Hookable interface {
	Named

	// AcceptHook registers a hook.
	AcceptHook(hook Hook)

	// NumHooks returns the number of hooks registered.
	NumHooks() int

	// Hooks returns all the hooks registered.
	Hooks() []Hook
}

// Hook is invoked by a Hookable at its hook positions.
type Hook interface {
	Func(ctx HookCtx)
}

// HookFunc adapts a plain function to a Hook.
type HookFunc func(ctx HookCtx)

// Func calls f.
func (f HookFunc) Func(ctx HookCtx) {
	f(ctx)
}

// HookableBase implements the bookkeeping half of Hookable. Embedders supply
// Name.
type HookableBase struct {
	hookList []Hook
}

// NumHooks returns the number of hooks registered.
func (h *HookableBase) NumHooks() int {
	return len(h.hookList)
}

// Hooks returns all the hooks registered.
func (h *HookableBase) Hooks() []Hook {
	return h.hookList
}

// AcceptHook registers a hook. Registering the same hook twice panics.
func (h *HookableBase) AcceptHook(hook Hook) {
	if _, isFunc := hook.(HookFunc); !isFunc {
		for _, existing := range h.hookList {
			if existing == hook {
				panic("duplicated hook")
			}
		}
	}

	h.hookList = append(h.hookList, hook)
}

// InvokeHook triggers all the registered hooks in registration order.
func (h *HookableBase) InvokeHook(ctx HookCtx) {
	for _, hook := range h.hookList {
		hook.Func(ctx)
	}
}
