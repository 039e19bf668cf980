// Package bridge is the worker side of the relay: it lets an MPI process send
// typed data to, and receive typed data from, processes of other jobs through
// the runtime.
//
// A Context is used from a single goroutine. It moves from Uninitialized to
// Ready on Init and to Finalized on Finalize; everything else requires Ready.
package bridge

import (
	"errors"

	"github.com/sarchlab/mpirelay/hooking"
	"github.com/sarchlab/mpirelay/idgen"
	"github.com/sarchlab/mpirelay/ipc"
	"github.com/sarchlab/mpirelay/logging"
	"github.com/sarchlab/mpirelay/pending"
	"github.com/sarchlab/mpirelay/split"
	"github.com/sarchlab/mpirelay/wire"
)

//go:generate mockgen -destination "mock_bridge_test.go" -package $GOPACKAGE -write_package_comment=false github.com/sarchlab/mpirelay/bridge Comm

// State is the lifecycle state of a Context.
type State int

// The lifecycle states.
const (
	StateUninitialized State = iota
	StateReady
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateReady:
		return "Ready"
	case StateFinalized:
		return "Finalized"
	}

	return "Unknown"
}

// Errors returned by a Context.
var (
	ErrNotReady       = errors.New("bridge: not initialized")
	ErrFinalized      = errors.New("bridge: already finalized")
	ErrInitFailed     = errors.New("bridge: initialization failed")
	ErrWrongJob       = errors.New("bridge: barrier on a foreign job")
	ErrBufferTooSmall = errors.New("bridge: buffer too small")

	ErrChannelUnavailable  = ipc.ErrChannelUnavailable
	ErrSendFailed          = ipc.ErrSendFailed
	ErrReceiveFailed       = ipc.ErrReceiveFailed
	ErrUnsupportedDatatype = wire.ErrUnsupportedDatatype
	ErrStoreFull           = pending.ErrStoreFull
)

// Wildcards for the receive calls.
const (
	AnySource = pending.AnySource
	AnyTag    = pending.AnyTag
	AnyJob    = pending.AnyJob
)

// Hook positions. The hook item is the *wire.Message and the detail is the
// message's trace ID.
var (
	HookPosSend  = &hooking.HookPos{Name: "Bridge Send"}
	HookPosRecv  = &hooking.HookPos{Name: "Bridge Recv"}
	HookPosStore = &hooking.HookPos{Name: "Bridge Store"}
	HookPosDrop  = &hooking.HookPos{Name: "Bridge Drop"}
)

// Comm is the collective layer of the worker's own job.
type Comm interface {
	Barrier() error
}

// soloComm is the communicator of a job with a single process.
type soloComm struct{}

func (soloComm) Barrier() error {
	return nil
}

// Stats counts what a Context has done so far.
type Stats struct {
	Sent     uint64
	Records  uint64
	Received uint64
	Stored   uint64
	Dropped  uint64
}

// Context is one worker's connection to the runtime.
type Context struct {
	hooking.HookableBase

	name            string
	host            ipc.Host
	keys            ipc.Keys
	comm            Comm
	log             logging.Logger
	ids             idgen.Generator
	splitter        split.Splitter
	failOnStoreFull bool

	state    State
	rank     int32
	jobID    int32
	jobCount int32
	pair     *ipc.Pair
	store    *pending.Store
	stats    Stats
}

// Name returns the context name.
func (c *Context) Name() string {
	return c.name
}

// State returns the lifecycle state.
func (c *Context) State() State {
	return c.state
}

// Rank returns the rank given to Init.
func (c *Context) Rank() int32 {
	return c.rank
}

// Job returns the job ID assigned by the runtime and the number of jobs.
func (c *Context) Job() (jobID, jobCount int32) {
	return c.jobID, c.jobCount
}

// Stats returns the counters.
func (c *Context) Stats() Stats {
	return c.stats
}

// Store exposes the pending store, mostly so observers can hook it.
func (c *Context) Store() *pending.Store {
	return c.store
}

// Pair returns the channels selected during Init, or nil before Init.
func (c *Context) Pair() *ipc.Pair {
	return c.pair
}

func (c *Context) mustBeReady() error {
	switch c.state {
	case StateReady:
		return nil
	case StateFinalized:
		return ErrFinalized
	}

	return ErrNotReady
}

func (c *Context) invoke(pos *hooking.HookPos, msg *wire.Message) {
	if c.NumHooks() == 0 {
		return
	}

	c.InvokeHook(hooking.HookCtx{
		Domain: c,
		Pos:    pos,
		Item:   msg,
		Detail: c.ids.Generate(),
	})
}
