// Package ipc manages the host-local message queues that connect an MPI worker
// to the runtime. A queue pair has a primary and a fallback key so that two
// workers on one host can each own a pair.
package ipc

import "errors"

//go:generate mockgen -destination "mock_ipc_test.go" -package ipc_test -write_package_comment=false github.com/sarchlab/mpirelay/ipc Queue,Host,Semaphore

// Key identifies a queue or a semaphore on the host.
type Key int32

// Errors reported by Host and Queue implementations.
var (
	ErrExist       = errors.New("ipc: identity already exists")
	ErrNotExist    = errors.New("ipc: identity does not exist")
	ErrNoMessage   = errors.New("ipc: no message available")
	ErrInterrupted = errors.New("ipc: interrupted system call")
	ErrRemoved     = errors.New("ipc: queue removed")
	ErrTooBig      = errors.New("ipc: message larger than buffer")
	ErrUnsupported = errors.New("ipc: not supported on this platform")
)

// Errors reported by Channel.
var (
	ErrChannelUnavailable = errors.New("ipc: channel unavailable")
	ErrSendFailed         = errors.New("ipc: send failed")
	ErrReceiveFailed      = errors.New("ipc: receive failed")
)

// QueueStat is a snapshot of a queue's state.
type QueueStat struct {
	Messages        uint64
	Bytes           uint64
	LastSenderPID   int
	LastReceiverPID int
}

// Queue is a typed message queue. Messages are selected by their type; a type
// of 0 selects the oldest message of any type.
type Queue interface {
	Key() Key

	// Send enqueues body under the given message type, blocking while the
	// queue is full.
	Send(mtype int64, body []byte) error

	// Recv copies the oldest matching message into buf and returns its
	// length. With noWait it returns ErrNoMessage instead of blocking.
	Recv(mtype int64, buf []byte, noWait bool) (int, error)

	Stat() (QueueStat, error)
}

// Semaphore is a host-wide binary lock.
type Semaphore interface {
	Lock() error
	Unlock() error
	Remove() error
}

// Host is a namespace of queues and semaphores.
type Host interface {
	// Create makes a new queue and fails with ErrExist if the key is taken.
	Create(key Key) (Queue, error)

	// Open returns an existing queue or ErrNotExist.
	Open(key Key) (Queue, error)

	// Remove deletes a queue. Missing queues give ErrNotExist.
	Remove(key Key) error

	// Semaphore opens the semaphore at key, creating it unlocked if needed.
	Semaphore(key Key) (Semaphore, error)
}

// Keys is the set of well-known identities the two sides agree on.
type Keys struct {
	WorkerToRuntime         Key `toml:"worker_to_runtime"`
	WorkerToRuntimeFallback Key `toml:"worker_to_runtime_fallback"`
	RuntimeToWorker         Key `toml:"runtime_to_worker"`
	RuntimeToWorkerFallback Key `toml:"runtime_to_worker_fallback"`

	// Extended is the message type of runtime-originated extended calls.
	Extended Key `toml:"extended"`

	WorkerSemaphore  Key `toml:"worker_semaphore"`
	RuntimeSemaphore Key `toml:"runtime_semaphore"`
}

// DefaultKeys returns the identities used when nothing is configured.
func DefaultKeys() Keys {
	return Keys{
		WorkerToRuntime:         1200,
		WorkerToRuntimeFallback: 1201,
		RuntimeToWorker:         1300,
		RuntimeToWorkerFallback: 1301,
		Extended:                1400,
		WorkerSemaphore:         350,
		RuntimeSemaphore:        250,
	}
}

// Validate reports duplicated keys.
func (k Keys) Validate() error {
	queues := []Key{
		k.WorkerToRuntime, k.WorkerToRuntimeFallback,
		k.RuntimeToWorker, k.RuntimeToWorkerFallback,
		k.Extended,
	}

	seen := make(map[Key]bool, len(queues))
	for _, key := range queues {
		if key <= 0 {
			return errors.New("ipc: queue keys must be positive")
		}

		if seen[key] {
			return errors.New("ipc: queue keys must be distinct")
		}

		seen[key] = true
	}

	if k.WorkerSemaphore == k.RuntimeSemaphore {
		return errors.New("ipc: semaphore keys must be distinct")
	}

	return nil
}
