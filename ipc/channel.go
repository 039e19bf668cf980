package ipc

import (
	"errors"
	"fmt"
)

// Channel is one direction of a queue pair. The active key is either the
// primary or the fallback key.
type Channel struct {
	PrimaryKey  Key
	FallbackKey Key
	ActiveKey   Key

	host  Host
	queue Queue
}

// OpenOrCreate creates the queue at primary. If another process already holds
// primary it creates the queue at fallback instead. When both are held it
// returns ErrChannelUnavailable.
func OpenOrCreate(host Host, primary, fallback Key) (*Channel, error) {
	for _, key := range []Key{primary, fallback} {
		q, err := host.Create(key)
		if err == nil {
			return &Channel{
				PrimaryKey:  primary,
				FallbackKey: fallback,
				ActiveKey:   key,
				host:        host,
				queue:       q,
			}, nil
		}

		if !errors.Is(err, ErrExist) {
			return nil, fmt.Errorf("%w: create key %d: %v",
				ErrChannelUnavailable, key, err)
		}
	}

	return nil, fmt.Errorf("%w: keys %d and %d are both in use",
		ErrChannelUnavailable, primary, fallback)
}

// Attach opens an existing queue created by the peer.
func Attach(host Host, primary, fallback Key, useFallback bool) (*Channel, error) {
	key := primary
	if useFallback {
		key = fallback
	}

	q, err := host.Open(key)
	if err != nil {
		return nil, fmt.Errorf("%w: open key %d: %v", ErrChannelUnavailable, key, err)
	}

	return &Channel{
		PrimaryKey:  primary,
		FallbackKey: fallback,
		ActiveKey:   key,
		host:        host,
		queue:       q,
	}, nil
}

// UsesFallback tells whether the channel settled on its fallback key.
func (c *Channel) UsesFallback() bool {
	return c.ActiveKey == c.FallbackKey
}

// Send enqueues body with the given tag, retrying interrupted calls.
func (c *Channel) Send(tag int64, body []byte) error {
	for {
		err := c.queue.Send(tag, body)
		if err == nil {
			return nil
		}

		if errors.Is(err, ErrInterrupted) {
			continue
		}

		return fmt.Errorf("%w: key %d: %v", ErrSendFailed, c.ActiveKey, err)
	}
}

// Recv reads the oldest message with the given tag into buf. A non-blocking
// receive on an empty queue returns ErrNoMessage unwrapped.
func (c *Channel) Recv(tag int64, buf []byte, blocking bool) (int, error) {
	for {
		n, err := c.queue.Recv(tag, buf, !blocking)
		if err == nil {
			return n, nil
		}

		switch {
		case errors.Is(err, ErrInterrupted):
			continue
		case errors.Is(err, ErrNoMessage) && !blocking:
			return 0, ErrNoMessage
		}

		return 0, fmt.Errorf("%w: key %d: %v", ErrReceiveFailed, c.ActiveKey, err)
	}
}

// Stat returns the queue state.
func (c *Channel) Stat() (QueueStat, error) {
	return c.queue.Stat()
}

// Claimed tells whether any process has already sent on the queue.
func (c *Channel) Claimed() (bool, error) {
	st, err := c.queue.Stat()
	if err != nil {
		return false, err
	}

	return st.LastSenderPID != 0, nil
}

// Close removes both the primary and the fallback identities. Identities that
// are already gone are skipped; the first other failure is returned.
func (c *Channel) Close() error {
	return RemoveKeys(c.host, c.PrimaryKey, c.FallbackKey)
}

// RemoveKeys deletes the queues at keys, ignoring the ones that do not exist.
func RemoveKeys(host Host, keys ...Key) error {
	var firstErr error

	for _, key := range keys {
		err := host.Remove(key)
		if err == nil || errors.Is(err, ErrNotExist) {
			continue
		}

		if firstErr == nil {
			firstErr = fmt.Errorf("ipc: remove key %d: %w", key, err)
		}
	}

	return firstErr
}
