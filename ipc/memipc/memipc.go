// Package memipc is an in-process ipc.Host. Several goroutines can play the
// role of separate processes by using different Process views of one Host.
package memipc

import (
	"fmt"
	"sync"

	"github.com/sarchlab/mpirelay/ipc"
)

// DefaultQuota is the number of bytes a queue holds before Send blocks.
const DefaultQuota = 1 << 20

type message struct {
	mtype int64
	body  []byte
}

type queue struct {
	key      ipc.Key
	messages []message
	bytes    int
	removed  bool
	lspid    int
	lrpid    int
}

type semaphore struct {
	locked  bool
	removed bool
}

// Host is the shared key namespace.
type Host struct {
	mu    sync.Mutex
	cond  *sync.Cond
	quota int

	queues     map[ipc.Key]*queue
	semaphores map[ipc.Key]*semaphore
}

// NewHost creates an empty namespace.
func NewHost() *Host {
	h := &Host{
		quota:      DefaultQuota,
		queues:     make(map[ipc.Key]*queue),
		semaphores: make(map[ipc.Key]*semaphore),
	}
	h.cond = sync.NewCond(&h.mu)

	return h
}

// WithQuota sets the per-queue byte quota.
func (h *Host) WithQuota(bytes int) *Host {
	h.quota = bytes
	return h
}

// Process returns a view of the namespace that acts as process pid.
func (h *Host) Process(pid int) ipc.Host {
	if pid <= 0 {
		panic("memipc: pid must be positive")
	}

	return &process{host: h, pid: pid}
}

// Hold marks key as taken, as if another process created a queue there.
func (h *Host) Hold(key ipc.Key) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.queues[key]; !ok {
		h.queues[key] = &queue{key: key}
	}
}

// Keys lists the queue keys currently in the namespace.
func (h *Host) Keys() []ipc.Key {
	h.mu.Lock()
	defer h.mu.Unlock()

	keys := make([]ipc.Key, 0, len(h.queues))
	for k := range h.queues {
		keys = append(keys, k)
	}

	return keys
}

type process struct {
	host *Host
	pid  int
}

func (p *process) Create(key ipc.Key) (ipc.Queue, error) {
	h := p.host
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.queues[key]; ok {
		return nil, fmt.Errorf("key %d: %w", key, ipc.ErrExist)
	}

	q := &queue{key: key}
	h.queues[key] = q

	return &handle{proc: p, q: q}, nil
}

func (p *process) Open(key ipc.Key) (ipc.Queue, error) {
	h := p.host
	h.mu.Lock()
	defer h.mu.Unlock()

	q, ok := h.queues[key]
	if !ok {
		return nil, fmt.Errorf("key %d: %w", key, ipc.ErrNotExist)
	}

	return &handle{proc: p, q: q}, nil
}

func (p *process) Remove(key ipc.Key) error {
	h := p.host
	h.mu.Lock()
	defer h.mu.Unlock()

	q, ok := h.queues[key]
	if !ok {
		return fmt.Errorf("key %d: %w", key, ipc.ErrNotExist)
	}

	q.removed = true
	delete(h.queues, key)
	h.cond.Broadcast()

	return nil
}

func (p *process) Semaphore(key ipc.Key) (ipc.Semaphore, error) {
	h := p.host
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.semaphores[key]
	if !ok {
		s = &semaphore{}
		h.semaphores[key] = s
	}

	return &semHandle{host: h, key: key, s: s}, nil
}

type handle struct {
	proc *process
	q    *queue
}

func (q *handle) Key() ipc.Key {
	return q.q.key
}

func (q *handle) Send(mtype int64, body []byte) error {
	if mtype <= 0 {
		return fmt.Errorf("memipc: message type must be positive, got %d", mtype)
	}

	h := q.proc.host
	h.mu.Lock()
	defer h.mu.Unlock()

	for !q.q.removed && q.q.bytes+len(body) > h.quota && len(q.q.messages) > 0 {
		h.cond.Wait()
	}

	if q.q.removed {
		return ipc.ErrRemoved
	}

	q.q.messages = append(q.q.messages, message{
		mtype: mtype,
		body:  append([]byte(nil), body...),
	})
	q.q.bytes += len(body)
	q.q.lspid = q.proc.pid
	h.cond.Broadcast()

	return nil
}

func (q *handle) Recv(mtype int64, buf []byte, noWait bool) (int, error) {
	h := q.proc.host
	h.mu.Lock()
	defer h.mu.Unlock()

	for {
		if q.q.removed {
			return 0, ipc.ErrRemoved
		}

		if i := q.q.find(mtype); i >= 0 {
			m := q.q.messages[i]
			if len(m.body) > len(buf) {
				return 0, fmt.Errorf("%w: %d > %d", ipc.ErrTooBig, len(m.body), len(buf))
			}

			q.q.messages = append(q.q.messages[:i], q.q.messages[i+1:]...)
			q.q.bytes -= len(m.body)
			q.q.lrpid = q.proc.pid
			h.cond.Broadcast()

			return copy(buf, m.body), nil
		}

		if noWait {
			return 0, ipc.ErrNoMessage
		}

		h.cond.Wait()
	}
}

func (q *handle) Stat() (ipc.QueueStat, error) {
	h := q.proc.host
	h.mu.Lock()
	defer h.mu.Unlock()

	if q.q.removed {
		return ipc.QueueStat{}, ipc.ErrRemoved
	}

	return ipc.QueueStat{
		Messages:        uint64(len(q.q.messages)),
		Bytes:           uint64(q.q.bytes),
		LastSenderPID:   q.q.lspid,
		LastReceiverPID: q.q.lrpid,
	}, nil
}

func (q *queue) find(mtype int64) int {
	for i, m := range q.messages {
		if mtype == 0 || m.mtype == mtype {
			return i
		}
	}

	return -1
}

type semHandle struct {
	host *Host
	key  ipc.Key
	s    *semaphore
}

func (s *semHandle) Lock() error {
	h := s.host
	h.mu.Lock()
	defer h.mu.Unlock()

	for s.s.locked && !s.s.removed {
		h.cond.Wait()
	}

	if s.s.removed {
		return ipc.ErrRemoved
	}

	s.s.locked = true

	return nil
}

func (s *semHandle) Unlock() error {
	h := s.host
	h.mu.Lock()
	defer h.mu.Unlock()

	if s.s.removed {
		return ipc.ErrRemoved
	}

	s.s.locked = false
	h.cond.Broadcast()

	return nil
}

func (s *semHandle) Remove() error {
	h := s.host
	h.mu.Lock()
	defer h.mu.Unlock()

	if cur, ok := h.semaphores[s.key]; ok && cur == s.s {
		delete(h.semaphores, s.key)
	}

	s.s.removed = true
	h.cond.Broadcast()

	return nil
}
