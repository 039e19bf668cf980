package pending

import (
	"errors"
	"fmt"

	"github.com/sarchlab/mpirelay/hooking"
	"github.com/sarchlab/mpirelay/wire"
)

// DefaultCapacity is the number of slots a store has unless told otherwise.
const DefaultCapacity = 20

// ErrStoreFull means a message could not be kept.
var ErrStoreFull = errors.New("pending: store full")

// Hook positions.
var (
	HookPosPut  = &hooking.HookPos{Name: "Pending Put"}
	HookPosTake = &hooking.HookPos{Name: "Pending Take"}
	HookPosDrop = &hooking.HookPos{Name: "Pending Drop"}
)

type slot struct {
	msg   *wire.Message
	order int
}

// Store keeps up to a fixed number of messages. Each stored message has an
// arrival counter; counters are dense, starting at 0 for the oldest. A Store
// is not safe for concurrent use.
type Store struct {
	hooking.HookableBase

	name  string
	slots []slot
	used  int
}

// NewStore creates a store with the given number of slots.
func NewStore(name string, capacity int) *Store {
	if capacity <= 0 {
		panic("pending: capacity must be positive")
	}

	return &Store{
		name:  name,
		slots: make([]slot, capacity),
	}
}

// Name returns the store name.
func (s *Store) Name() string {
	return s.name
}

// Len returns the number of stored messages.
func (s *Store) Len() int {
	return s.used
}

// Capacity returns the number of slots.
func (s *Store) Capacity() int {
	return len(s.slots)
}

// Put keeps msg as the newest entry. When all slots are taken it returns
// ErrStoreFull and the message is not kept.
func (s *Store) Put(msg *wire.Message) error {
	for i := range s.slots {
		if s.slots[i].msg != nil {
			continue
		}

		s.slots[i] = slot{msg: msg, order: s.used}
		s.used++
		s.InvokeHook(hooking.HookCtx{Domain: s, Pos: HookPosPut, Item: msg})

		return nil
	}

	s.InvokeHook(hooking.HookCtx{Domain: s, Pos: HookPosDrop, Item: msg})

	return fmt.Errorf("%w: %d messages held", ErrStoreFull, s.used)
}

// Take removes and returns the oldest message matching f.
func (s *Store) Take(f Filter) (*wire.Message, bool) {
	best := -1

	for i, sl := range s.slots {
		if sl.msg == nil || !f.Matches(sl.msg) {
			continue
		}

		if best < 0 || sl.order < s.slots[best].order {
			best = i
		}
	}

	if best < 0 {
		return nil, false
	}

	taken := s.slots[best]
	s.slots[best] = slot{}
	s.used--

	for i := range s.slots {
		if s.slots[i].msg != nil && s.slots[i].order > taken.order {
			s.slots[i].order--
		}
	}

	s.InvokeHook(hooking.HookCtx{Domain: s, Pos: HookPosTake, Item: taken.msg})

	return taken.msg, true
}

// Snapshot returns the stored messages, oldest first.
func (s *Store) Snapshot() []*wire.Message {
	out := make([]*wire.Message, s.used)
	for _, sl := range s.slots {
		if sl.msg != nil {
			out[sl.order] = sl.msg
		}
	}

	return out
}

// Clear drops every stored message.
func (s *Store) Clear() {
	for i := range s.slots {
		s.slots[i] = slot{}
	}

	s.used = 0
}
