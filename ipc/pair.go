package ipc

import (
	"errors"
	"fmt"
)

// Pair is a worker's two channels: Out carries worker to runtime traffic and
// In carries runtime to worker traffic.
type Pair struct {
	Out *Channel
	In  *Channel
}

// AttachPair opens the queue pair a worker should use. The caller must hold
// the worker semaphore and keep holding it until its first message is on Out,
// otherwise two workers can pick the same pair.
//
// The primary pair is used unless a process already sent on the primary
// outbound queue, in which case both directions switch to their fallback
// keys.
func AttachPair(host Host, keys Keys) (*Pair, error) {
	useFallback := false

	out, err := Attach(host, keys.WorkerToRuntime, keys.WorkerToRuntimeFallback, false)
	if err != nil {
		return nil, err
	}

	claimed, err := out.Claimed()
	if err != nil {
		return nil, fmt.Errorf("%w: stat key %d: %v",
			ErrChannelUnavailable, out.ActiveKey, err)
	}

	if claimed {
		useFallback = true

		out, err = Attach(host, keys.WorkerToRuntime, keys.WorkerToRuntimeFallback, true)
		if err != nil {
			return nil, err
		}

		claimed, err = out.Claimed()
		if err != nil {
			return nil, fmt.Errorf("%w: stat key %d: %v",
				ErrChannelUnavailable, out.ActiveKey, err)
		}

		if claimed {
			return nil, fmt.Errorf("%w: primary and fallback pairs are both claimed",
				ErrChannelUnavailable)
		}
	}

	in, err := Attach(host, keys.RuntimeToWorker, keys.RuntimeToWorkerFallback, useFallback)
	if err != nil {
		return nil, err
	}

	return &Pair{Out: out, In: in}, nil
}

// CreatePair creates the runtime side of a queue pair. The inbound channel of
// the runtime (worker to runtime) decides between primary and fallback, and
// the outbound channel follows the same choice.
func CreatePair(host Host, keys Keys) (*Pair, error) {
	in, err := OpenOrCreate(host, keys.WorkerToRuntime, keys.WorkerToRuntimeFallback)
	if err != nil {
		return nil, err
	}

	outKey := keys.RuntimeToWorker
	if in.UsesFallback() {
		outKey = keys.RuntimeToWorkerFallback
	}

	q, err := host.Create(outKey)
	if err != nil {
		_ = host.Remove(in.ActiveKey)

		if errors.Is(err, ErrExist) {
			return nil, fmt.Errorf("%w: key %d is in use", ErrChannelUnavailable, outKey)
		}

		return nil, fmt.Errorf("%w: create key %d: %v", ErrChannelUnavailable, outKey, err)
	}

	out := &Channel{
		PrimaryKey:  keys.RuntimeToWorker,
		FallbackKey: keys.RuntimeToWorkerFallback,
		ActiveKey:   outKey,
		host:        host,
		queue:       q,
	}

	return &Pair{Out: out, In: in}, nil
}

// Close removes the identities held by the pair. Only the active keys are
// removed so the other pair on the host is not disturbed.
func (p *Pair) Close() error {
	return RemoveKeys(p.In.host, p.In.ActiveKey, p.Out.ActiveKey)
}

// WithSemaphore runs fn while holding sem.
func WithSemaphore(sem Semaphore, fn func() error) error {
	if err := sem.Lock(); err != nil {
		return fmt.Errorf("ipc: lock semaphore: %w", err)
	}

	fnErr := fn()

	if err := sem.Unlock(); err != nil && fnErr == nil {
		return fmt.Errorf("ipc: unlock semaphore: %w", err)
	}

	return fnErr
}
