package tracing

import (
	"strings"
	"sync"
	"time"

	"github.com/sarchlab/mpirelay/hooking"
	"github.com/sarchlab/mpirelay/idgen"
	"github.com/sarchlab/mpirelay/relay"
	"github.com/sarchlab/mpirelay/wire"
)

// Tracer is a hook that turns message hook invocations into MsgEvents and
// hands them to a Writer. It can be attached to several components that run
// on different goroutines.
type Tracer struct {
	lock   sync.Mutex
	writer Writer
	ids    idgen.Generator
	now    func() time.Time
}

// NewTracer creates a tracer writing to w.
func NewTracer(w Writer) *Tracer {
	return &Tracer{
		writer: w,
		ids:    idgen.Default(),
		now:    time.Now,
	}
}

// WithClock replaces the time source.
func (t *Tracer) WithClock(now func() time.Time) *Tracer {
	t.now = now
	return t
}

// WithIDGenerator replaces the generator used for events without an ID.
func (t *Tracer) WithIDGenerator(g idgen.Generator) *Tracer {
	t.ids = g
	return t
}

// Func records one event. Invocations whose item is not a message are
// ignored.
func (t *Tracer) Func(ctx hooking.HookCtx) {
	msg, ok := ctx.Item.(*wire.Message)
	if !ok {
		return
	}

	e := eventFromMessage(msg)
	e.Where = ctx.Domain.Name()
	e.What = ctx.Pos.Name

	switch detail := ctx.Detail.(type) {
	case string:
		e.ID = detail
	case relay.Route:
		e.Detail = describeRoute(detail)
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	if e.ID == "" {
		e.ID = t.ids.Generate()
	}

	e.Time = t.now()
	t.writer.Write(e)
}

// Flush flushes the writer.
func (t *Tracer) Flush() {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.writer.Flush()
}

func describeRoute(r relay.Route) string {
	switch {
	case r.Handled:
		return "handled"
	case len(r.To) == 0 && r.Queued == 0:
		return "dropped"
	}

	var sb strings.Builder

	if len(r.To) > 0 {
		sb.WriteString("to ")
		sb.WriteString(strings.Join(r.To, ","))
	}

	if r.Queued > 0 {
		if sb.Len() > 0 {
			sb.WriteString("; ")
		}

		sb.WriteString("queued")
	}

	return sb.String()
}
