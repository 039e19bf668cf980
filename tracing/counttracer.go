package tracing

import (
	"sort"
	"sync"

	"github.com/sarchlab/mpirelay/hooking"
	"github.com/sarchlab/mpirelay/wire"
)

// CountTracer counts hook invocations per position and message bytes per
// position.
type CountTracer struct {
	lock  sync.Mutex
	count map[string]uint64
	bytes map[string]uint64
}

// NewCountTracer creates an empty CountTracer.
func NewCountTracer() *CountTracer {
	return &CountTracer{
		count: make(map[string]uint64),
		bytes: make(map[string]uint64),
	}
}

// Func counts one invocation.
func (t *CountTracer) Func(ctx hooking.HookCtx) {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.count[ctx.Pos.Name]++

	if msg, ok := ctx.Item.(*wire.Message); ok {
		t.bytes[ctx.Pos.Name] += uint64(len(msg.Payload))
	}
}

// Count returns the number of invocations at the named position.
func (t *CountTracer) Count(pos string) uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.count[pos]
}

// Bytes returns the payload bytes seen at the named position.
func (t *CountTracer) Bytes(pos string) uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.bytes[pos]
}

// PosCount is the count of one position.
type PosCount struct {
	Pos   string `json:"pos"`
	Count uint64 `json:"count"`
	Bytes uint64 `json:"bytes"`
}

// Counts returns every position's counters sorted by name.
func (t *CountTracer) Counts() []PosCount {
	t.lock.Lock()
	defer t.lock.Unlock()

	out := make([]PosCount, 0, len(t.count))
	for pos, n := range t.count {
		out = append(out, PosCount{Pos: pos, Count: n, Bytes: t.bytes[pos]})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Pos < out[j].Pos })

	return out
}
