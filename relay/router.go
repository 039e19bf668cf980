package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sarchlab/mpirelay/hooking"
	"github.com/sarchlab/mpirelay/logging"
	"github.com/sarchlab/mpirelay/wire"
)

// Errors returned by a Router.
var (
	ErrUnknownRank = errors.New("relay: rank not registered")
	ErrUnknownJob  = errors.New("relay: job has no endpoints")
)

// HookPosRoute marks a message the router handled. The detail is a Route.
var HookPosRoute = &hooking.HookPos{Name: "Router Route"}

// Route describes where the router sent a message.
type Route struct {
	From    string
	To      []string
	Queued  int
	Handled bool
}

// ExtendedCall is a SEND_EXTENDED message with its parsed descriptor.
type ExtendedCall struct {
	Descriptor wire.MethodDescriptor
	Message    *wire.Message
	Endpoint   string
}

// ExtendedHandler serves SEND_EXTENDED messages for one method.
type ExtendedHandler interface {
	HandleExtended(ctx context.Context, call ExtendedCall) error
}

// ExtendedHandlerFunc adapts a function to ExtendedHandler.
type ExtendedHandlerFunc func(ctx context.Context, call ExtendedCall) error

// HandleExtended calls f.
func (f ExtendedHandlerFunc) HandleExtended(ctx context.Context, call ExtendedCall) error {
	return f(ctx, call)
}

// NoForwardHandler receives the data workers send to the runtime itself.
type NoForwardHandler func(ctx context.Context, msg *wire.Message)

// held is a message kept until its receiver registers. seq orders held
// messages by arrival at the router.
type held struct {
	seq uint64
	msg *wire.Message
}

type attachment struct {
	ep        *Endpoint
	jobID     int32
	rank      int32
	ready     bool
	finalized bool
	backlog   []held

	// sendMu orders writes to the worker.
	sendMu sync.Mutex
}

type rankKey struct {
	job  int32
	rank int32
}

// Stats counts router traffic.
type Stats struct {
	Received  uint64
	Forwarded uint64
	Queued    uint64
	Extended  uint64
	Unhandled uint64
	NoForward uint64
}

// Router moves messages between the endpoints of one or more jobs.
type Router struct {
	hooking.HookableBase

	name      string
	log       logging.Logger
	jobCount  int32
	noForward NoForwardHandler

	mu          sync.Mutex
	attachments []*attachment
	byRank      map[rankKey]*attachment
	waiting     map[rankKey][]held
	seq         uint64
	handlers    map[string]ExtendedHandler
	finalized   int
	stats       Stats
	done        chan struct{}
	doneOnce    sync.Once
}

// Name returns the router name.
func (r *Router) Name() string {
	return r.name
}

// JobCount returns the number of jobs announced to workers.
func (r *Router) JobCount() int32 {
	return r.jobCount
}

// Attach adds an endpoint that belongs to job jobID. Endpoints must be
// attached before Serve.
func (r *Router) Attach(jobID int32, ep *Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.attachments = append(r.attachments, &attachment{ep: ep, jobID: jobID, rank: -1})
}

// Handle registers the handler of the method "class.method".
func (r *Router) Handle(fullName string, h ExtendedHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.handlers[fullName]; dup {
		panic(fmt.Sprintf("relay: handler for %s registered twice", fullName))
	}

	r.handlers[fullName] = h
}

// Done is closed once every attached endpoint has finalized.
func (r *Router) Done() <-chan struct{} {
	return r.done
}

// Stats returns the counters.
func (r *Router) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.stats
}

// Serve reads every endpoint until its worker finalizes. It returns nil once
// all workers finalized, or the context error after closing the endpoints
// when ctx is cancelled first.
func (r *Router) Serve(ctx context.Context) error {
	r.mu.Lock()
	attachments := append([]*attachment(nil), r.attachments...)
	r.mu.Unlock()

	if len(attachments) == 0 {
		return ErrUnknownJob
	}

	errs := make(chan error, len(attachments))

	var wg sync.WaitGroup
	for _, a := range attachments {
		wg.Add(1)

		go func(a *attachment) {
			defer wg.Done()
			errs <- r.serveEndpoint(ctx, a)
		}(a)
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-ctx.Done():
		_ = r.Close()
		<-finished

		return ctx.Err()
	}

	close(errs)

	for err := range errs {
		if err != nil {
			return err
		}
	}

	return nil
}

// Close removes the queues of every endpoint.
func (r *Router) Close() error {
	r.mu.Lock()
	attachments := append([]*attachment(nil), r.attachments...)
	r.mu.Unlock()

	var firstErr error
	for _, a := range attachments {
		if err := a.ep.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

func (r *Router) serveEndpoint(ctx context.Context, a *attachment) error {
	log := r.log.With("endpoint", a.ep.Name(), "job", a.jobID)

	for {
		msg, err := a.ep.RecvRequest()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			log.Error(ctx, "endpoint receive failed", "err", err)

			return fmt.Errorf("relay: endpoint %s: %w", a.ep.Name(), err)
		}

		r.count(func(s *Stats) { s.Received++ })

		stop, err := r.handle(ctx, a, msg)
		if err != nil {
			log.Warn(ctx, "message not delivered", "kind", msg.Kind, "err", err)
		}

		if stop {
			return nil
		}
	}
}

func (r *Router) handle(ctx context.Context, a *attachment, msg *wire.Message) (bool, error) {
	switch msg.Kind {
	case wire.KindInit:
		return false, r.register(ctx, a, msg.Src)
	case wire.KindSend:
		return false, r.forward(ctx, a, msg)
	case wire.KindAllSend:
		return false, r.broadcast(ctx, a, msg)
	case wire.KindSendExtended:
		return false, r.extended(ctx, a, msg)
	case wire.KindNoForward:
		r.count(func(s *Stats) { s.NoForward++ })

		r.noForward(ctx, msg)
		r.route(a, msg, Route{Handled: true})

		return false, nil
	case wire.KindFinalize:
		r.finalize(ctx, a)
		return true, nil
	}

	return false, fmt.Errorf("relay: unexpected %v from %s", msg.Kind, a.ep.Name())
}

func (r *Router) register(ctx context.Context, a *attachment, rank int32) error {
	a.sendMu.Lock()
	defer a.sendMu.Unlock()

	key := rankKey{job: a.jobID, rank: rank}

	r.mu.Lock()
	if other, taken := r.byRank[key]; taken && other != a {
		r.mu.Unlock()

		r.log.Warn(ctx, "worker refused", "endpoint", a.ep.Name(),
			"job", a.jobID, "rank", rank, "holder", other.ep.Name())

		if err := a.ep.RefuseInit(); err != nil {
			return err
		}

		return fmt.Errorf("relay: rank %d of job %d registered twice", rank, a.jobID)
	}

	a.rank = rank
	a.ready = true
	r.byRank[key] = a

	backlog := mergeHeld(a.backlog, r.waiting[key])
	a.backlog = nil
	delete(r.waiting, key)
	r.mu.Unlock()

	if err := a.ep.SendJobNumber(a.jobID, r.jobCount); err != nil {
		return err
	}

	r.log.Info(ctx, "worker registered",
		"endpoint", a.ep.Name(), "job", a.jobID, "rank", rank,
		"fallback", a.ep.UsesFallback(), "backlog", len(backlog))

	for _, h := range backlog {
		if err := a.ep.SendRequest(h.msg); err != nil {
			return err
		}

		r.count(func(s *Stats) { s.Forwarded++ })
	}

	return nil
}

// deliver writes msg to a registered attachment. Holding sendMu orders it
// after the INIT acknowledgement and the backlog.
func (r *Router) deliver(to *attachment, msg *wire.Message) error {
	to.sendMu.Lock()
	defer to.sendMu.Unlock()

	if err := to.ep.SendRequest(msg); err != nil {
		return err
	}

	r.count(func(s *Stats) { s.Forwarded++ })

	return nil
}

func (r *Router) forward(ctx context.Context, from *attachment, msg *wire.Message) error {
	key := rankKey{job: msg.JobID, rank: msg.Dest}

	r.mu.Lock()
	to, ok := r.byRank[key]
	if !ok {
		if !r.hasJob(msg.JobID) {
			r.mu.Unlock()
			return fmt.Errorf("%w: %d", ErrUnknownJob, msg.JobID)
		}

		r.waiting[key] = append(r.waiting[key], held{seq: r.nextSeq(), msg: msg})
		r.stats.Queued++
		r.mu.Unlock()

		r.log.Debug(ctx, "queued for unregistered rank", "job", msg.JobID, "rank", msg.Dest)
		r.route(from, msg, Route{Queued: 1})

		return nil
	}
	r.mu.Unlock()

	if err := r.deliver(to, msg); err != nil {
		return err
	}

	r.route(from, msg, Route{To: []string{to.ep.Name()}})

	return nil
}

func (r *Router) broadcast(ctx context.Context, from *attachment, msg *wire.Message) error {
	route := Route{}
	var targets []*attachment

	r.mu.Lock()
	if !r.hasJob(msg.JobID) {
		r.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownJob, msg.JobID)
	}

	seq := r.nextSeq()

	for _, a := range r.attachments {
		if a.jobID != msg.JobID || a == from {
			continue
		}

		if !a.ready {
			a.backlog = append(a.backlog, held{seq: seq, msg: msg})
			r.stats.Queued++
			route.Queued++

			continue
		}

		targets = append(targets, a)
	}
	r.mu.Unlock()

	for _, a := range targets {
		if err := r.deliver(a, msg); err != nil {
			return err
		}

		route.To = append(route.To, a.ep.Name())
	}

	r.log.Debug(ctx, "broadcast", "job", msg.JobID,
		"delivered", len(route.To), "queued", route.Queued)
	r.route(from, msg, route)

	return nil
}

func (r *Router) extended(ctx context.Context, from *attachment, msg *wire.Message) error {
	desc, err := wire.ParseMethodDescriptor(msg.Method)
	if err != nil {
		return err
	}

	r.mu.Lock()
	h, ok := r.handlers[desc.FullName()]
	if ok {
		r.stats.Extended++
	} else {
		r.stats.Unhandled++
	}
	r.mu.Unlock()

	if !ok {
		r.log.Warn(ctx, "no handler for extended call", "method", desc.FullName())
		r.route(from, msg, Route{})

		return nil
	}

	r.route(from, msg, Route{Handled: true})

	return h.HandleExtended(ctx, ExtendedCall{
		Descriptor: desc,
		Message:    msg,
		Endpoint:   from.ep.Name(),
	})
}

func (r *Router) finalize(ctx context.Context, a *attachment) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a.finalized {
		return
	}

	a.finalized = true
	r.finalized++

	r.log.Info(ctx, "worker finalized", "job", a.jobID, "rank", a.rank)

	if r.finalized == len(r.attachments) {
		r.doneOnce.Do(func() { close(r.done) })
	}
}

// Inject sends a runtime-originated message to rank of job jobID under the
// extended tag.
func (r *Router) Inject(jobID, rank int32, msg *wire.Message) error {
	r.mu.Lock()
	a, ok := r.byRank[rankKey{job: jobID, rank: rank}]
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: rank %d of job %d", ErrUnknownRank, rank, jobID)
	}

	out := msg.Clone()
	out.Dest = rank

	if out.JobID == 0 {
		out.JobID = jobID
	}

	a.sendMu.Lock()
	defer a.sendMu.Unlock()

	return a.ep.SendExtendedRequest(out)
}

// nextSeq must be called with r.mu held.
func (r *Router) nextSeq() uint64 {
	r.seq++
	return r.seq
}

// mergeHeld joins two seq-ordered lists into one seq-ordered list.
func mergeHeld(a, b []held) []held {
	out := make([]held, 0, len(a)+len(b))

	for len(a) > 0 && len(b) > 0 {
		if a[0].seq <= b[0].seq {
			out = append(out, a[0])
			a = a[1:]
		} else {
			out = append(out, b[0])
			b = b[1:]
		}
	}

	out = append(out, a...)

	return append(out, b...)
}

func (r *Router) hasJob(jobID int32) bool {
	for _, a := range r.attachments {
		if a.jobID == jobID {
			return true
		}
	}

	return false
}

func (r *Router) route(from *attachment, msg *wire.Message, route Route) {
	route.From = from.ep.Name()
	r.InvokeHook(hooking.HookCtx{Domain: r, Pos: HookPosRoute, Item: msg, Detail: route})
}

func (r *Router) count(f func(s *Stats)) {
	r.mu.Lock()
	f(&r.stats)
	r.mu.Unlock()
}
