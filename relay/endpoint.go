// Package relay is the runtime side of the bridge. An Endpoint owns the
// runtime end of one worker's queue pair and a Router moves messages between
// endpoints according to the job table.
package relay

import (
	"fmt"
	"sync"

	"github.com/sarchlab/mpirelay/hooking"
	"github.com/sarchlab/mpirelay/ipc"
	"github.com/sarchlab/mpirelay/split"
	"github.com/sarchlab/mpirelay/wire"
)

// HookPosEndpointRecv marks a message read from a worker. The detail is nil.
var HookPosEndpointRecv = &hooking.HookPos{Name: "Endpoint Recv"}

// HookPosEndpointSend marks a message written to a worker.
var HookPosEndpointSend = &hooking.HookPos{Name: "Endpoint Send"}

// Endpoint is the runtime end of one queue pair.
type Endpoint struct {
	hooking.HookableBase

	name     string
	keys     ipc.Keys
	pair     *ipc.Pair
	splitter split.Splitter

	// writeLock keeps the records of one split message together.
	writeLock sync.Mutex
}

// OpenEndpoint creates a queue pair for one worker, using the fallback keys
// when another endpoint on the host already holds the primary ones.
func OpenEndpoint(host ipc.Host, keys ipc.Keys, name string) (*Endpoint, error) {
	sem, err := host.Semaphore(keys.RuntimeSemaphore)
	if err != nil {
		return nil, fmt.Errorf("relay: runtime semaphore: %w", err)
	}

	var pair *ipc.Pair

	err = ipc.WithSemaphore(sem, func() error {
		pair, err = ipc.CreatePair(host, keys)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &Endpoint{
		name:     name,
		keys:     keys,
		pair:     pair,
		splitter: split.DefaultSplitter(),
	}, nil
}

// Name returns the endpoint name.
func (e *Endpoint) Name() string {
	return e.name
}

// Keys returns the active inbound and outbound keys.
func (e *Endpoint) Keys() (in, out ipc.Key) {
	return e.pair.In.ActiveKey, e.pair.Out.ActiveKey
}

// UsesFallback tells whether the endpoint holds the fallback pair.
func (e *Endpoint) UsesFallback() bool {
	return e.pair.In.UsesFallback()
}

// RecvRequest blocks for the next message from the worker and reassembles it
// if it was split.
func (e *Endpoint) RecvRequest() (*wire.Message, error) {
	msg, err := split.ReadMessage(e.pair.In, int64(e.pair.In.ActiveKey), true)
	if err != nil {
		return nil, err
	}

	e.InvokeHook(hooking.HookCtx{Domain: e, Pos: HookPosEndpointRecv, Item: msg})

	return msg, nil
}

// SendRequest delivers a message to the worker.
func (e *Endpoint) SendRequest(msg *wire.Message) error {
	return e.write(int64(e.pair.Out.ActiveKey), msg)
}

// SendExtendedRequest delivers a runtime-originated message to the worker
// under the extended tag.
func (e *Endpoint) SendExtendedRequest(msg *wire.Message) error {
	return e.write(int64(e.keys.Extended), msg)
}

// SendJobNumber acknowledges a worker's INIT with its job and the number of
// jobs.
func (e *Endpoint) SendJobNumber(jobID, jobCount int32) error {
	return e.write(int64(e.pair.Out.ActiveKey), &wire.Message{
		Kind:  wire.KindInit,
		JobID: jobID,
		Src:   jobCount,
	})
}

// RefuseInit turns away a worker whose INIT cannot be accepted.
func (e *Endpoint) RefuseInit() error {
	return e.write(int64(e.pair.Out.ActiveKey), &wire.Message{
		Kind:  wire.KindInit,
		JobID: wire.InitRefused,
	})
}

func (e *Endpoint) write(tag int64, msg *wire.Message) error {
	out := msg.Clone()
	out.Tag = tag

	e.writeLock.Lock()
	_, err := split.WriteMessage(e.pair.Out, e.splitter, out)
	e.writeLock.Unlock()

	if err != nil {
		return err
	}

	e.InvokeHook(hooking.HookCtx{Domain: e, Pos: HookPosEndpointSend, Item: out})

	return nil
}

// Stat returns the state of the inbound and outbound queues.
func (e *Endpoint) Stat() (in, out ipc.QueueStat, err error) {
	in, err = e.pair.In.Stat()
	if err != nil {
		return in, out, err
	}

	out, err = e.pair.Out.Stat()

	return in, out, err
}

// Close removes the endpoint's queues. Workers blocked on them fail.
func (e *Endpoint) Close() error {
	return e.pair.Close()
}
