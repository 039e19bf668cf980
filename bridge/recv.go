package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/sarchlab/mpirelay/ipc"
	"github.com/sarchlab/mpirelay/pending"
	"github.com/sarchlab/mpirelay/split"
	"github.com/sarchlab/mpirelay/wire"
)

// Request is a receive registered with IRecv and completed by Test or Wait.
type Request struct {
	buf    []byte
	filter pending.Filter
	done   bool
}

// Done tells whether the data has been copied into the buffer.
func (r *Request) Done() bool {
	return r.done
}

// Recv blocks until a message from rank src of job jobID with the given tag,
// count and datatype arrives, and copies its payload into buf. src, tag and
// jobID accept the wildcards. Messages that arrive in the meantime and do not
// match are kept for later receives.
func (c *Context) Recv(
	buf []byte,
	count int32,
	datatype wire.DatatypeTag,
	src, tag, jobID int32,
) error {
	f, err := c.filter(buf, count, datatype, src, tag, jobID, int64(c.inKey()))
	if err != nil {
		return err
	}

	_, err = c.recv(buf, f, true)

	return err
}

// RecvExtended is Recv for messages the runtime originates itself, which
// travel under the extended tag.
func (c *Context) RecvExtended(
	buf []byte,
	count int32,
	datatype wire.DatatypeTag,
	src, tag, jobID int32,
) error {
	f, err := c.filter(buf, count, datatype, src, tag, jobID, int64(c.keys.Extended))
	if err != nil {
		return err
	}

	_, err = c.recv(buf, f, true)

	return err
}

// IRecv registers a receive without waiting for it.
func (c *Context) IRecv(
	buf []byte,
	count int32,
	datatype wire.DatatypeTag,
	src, tag, jobID int32,
) (*Request, error) {
	f, err := c.filter(buf, count, datatype, src, tag, jobID, int64(c.inKey()))
	if err != nil {
		return nil, err
	}

	return &Request{buf: buf, filter: f}, nil
}

// IRecvExtended is IRecv on the extended tag.
func (c *Context) IRecvExtended(
	buf []byte,
	count int32,
	datatype wire.DatatypeTag,
	src, tag, jobID int32,
) (*Request, error) {
	f, err := c.filter(buf, count, datatype, src, tag, jobID, int64(c.keys.Extended))
	if err != nil {
		return nil, err
	}

	return &Request{buf: buf, filter: f}, nil
}

// Test polls a request without blocking. It reports finished=false with a nil
// error when the message has not arrived yet.
func (c *Context) Test(req *Request) (finished bool, err error) {
	if req.done {
		return true, nil
	}

	if err := c.mustBeReady(); err != nil {
		return false, err
	}

	req.done, err = c.recv(req.buf, req.filter, false)

	return req.done, err
}

// Wait blocks until a request completes.
func (c *Context) Wait(req *Request) error {
	if req.done {
		return nil
	}

	if err := c.mustBeReady(); err != nil {
		return err
	}

	done, err := c.recv(req.buf, req.filter, true)
	req.done = done

	return err
}

func (c *Context) inKey() ipc.Key {
	if c.pair == nil {
		return 0
	}

	return c.pair.In.ActiveKey
}

func (c *Context) filter(
	buf []byte,
	count int32,
	datatype wire.DatatypeTag,
	src, tag, jobID int32,
	ipcTag int64,
) (pending.Filter, error) {
	if err := c.mustBeReady(); err != nil {
		return pending.Filter{}, err
	}

	n := wire.BufferLength(count, datatype)
	if n < 0 {
		return pending.Filter{}, fmt.Errorf("%w: %v", ErrUnsupportedDatatype, datatype)
	}

	if len(buf) < n {
		return pending.Filter{}, fmt.Errorf("%w: have %d bytes, need %d",
			ErrBufferTooSmall, len(buf), n)
	}

	return pending.Filter{
		Count:    count,
		Datatype: datatype,
		Src:      src,
		UserTag:  tag,
		JobID:    jobID,
		Tag:      ipcTag,
	}, nil
}

// recv looks in the pending store first and then reads the inbound channel
// until a match arrives. Without blocking it gives up, with done=false, once
// the channel is empty.
func (c *Context) recv(buf []byte, f pending.Filter, blocking bool) (bool, error) {
	if msg, ok := c.store.Take(f); ok {
		copy(buf, msg.Payload)
		return true, nil
	}

	for {
		msg, err := split.ReadMessage(c.pair.In, f.Tag, blocking)
		if errors.Is(err, ipc.ErrNoMessage) {
			return false, nil
		}

		if err != nil {
			c.log.Error(context.Background(), "receive failed", "err", err)
			return false, err
		}

		c.stats.Received++
		c.invoke(HookPosRecv, msg)

		if f.Matches(msg) {
			copy(buf, msg.Payload)
			return true, nil
		}

		if err := c.keep(msg); err != nil {
			return false, err
		}
	}
}

func (c *Context) keep(msg *wire.Message) error {
	err := c.store.Put(msg)
	if err == nil {
		c.stats.Stored++
		c.invoke(HookPosStore, msg)

		return nil
	}

	c.stats.Dropped++
	c.invoke(HookPosDrop, msg)
	c.log.Warn(context.Background(), "pending store full, message dropped",
		"src", msg.Src,
		"job", msg.JobID,
		"tag", msg.UserTag,
		"count", msg.Count,
		"datatype", msg.Datatype)

	if c.failOnStoreFull {
		return fmt.Errorf("%w: dropped message from rank %d of job %d",
			ErrStoreFull, msg.Src, msg.JobID)
	}

	return nil
}
