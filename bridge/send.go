package bridge

import (
	"context"
	"fmt"

	"github.com/sarchlab/mpirelay/split"
	"github.com/sarchlab/mpirelay/wire"
)

// Send delivers count elements of datatype from buf to rank dest of job
// jobID. It returns once the data is queued.
func (c *Context) Send(
	buf []byte,
	count int32,
	datatype wire.DatatypeTag,
	dest, tag, jobID int32,
) error {
	msg, err := c.dataMessage(wire.KindSend, buf, count, datatype, tag)
	if err != nil {
		return err
	}

	msg.Dest = dest
	msg.JobID = jobID

	return c.send(msg)
}

// AllSend delivers the data to every rank of job jobID.
func (c *Context) AllSend(
	buf []byte,
	count int32,
	datatype wire.DatatypeTag,
	tag, jobID int32,
) error {
	msg, err := c.dataMessage(wire.KindAllSend, buf, count, datatype, tag)
	if err != nil {
		return err
	}

	msg.Dest = -1
	msg.JobID = jobID

	return c.send(msg)
}

// NoForward hands the data to the runtime itself instead of to another
// worker.
func (c *Context) NoForward(
	buf []byte,
	count int32,
	datatype wire.DatatypeTag,
	tag int32,
) error {
	msg, err := c.dataMessage(wire.KindNoForward, buf, count, datatype, tag)
	if err != nil {
		return err
	}

	msg.Dest = c.rank
	msg.JobID = c.jobID

	return c.send(msg)
}

// SendExtended delivers the data to rank dest of job jobID together with the
// name of a runtime-side method to invoke with it.
func (c *Context) SendExtended(
	buf []byte,
	count int32,
	datatype wire.DatatypeTag,
	dest int32,
	class, method string,
	jobID int32,
	args ...string,
) error {
	desc, err := wire.MethodDescriptor{Class: class, Method: method, Args: args}.Encode()
	if err != nil {
		return err
	}

	msg, err := c.dataMessage(wire.KindSendExtended, buf, count, datatype, 0)
	if err != nil {
		return err
	}

	msg.Dest = dest
	msg.JobID = jobID
	msg.Method = desc

	return c.send(msg)
}

func (c *Context) dataMessage(
	kind wire.Kind,
	buf []byte,
	count int32,
	datatype wire.DatatypeTag,
	tag int32,
) (*wire.Message, error) {
	if err := c.mustBeReady(); err != nil {
		return nil, err
	}

	n := wire.BufferLength(count, datatype)
	if n < 0 {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedDatatype, datatype)
	}

	if len(buf) < n {
		return nil, fmt.Errorf("%w: have %d bytes, need %d", ErrBufferTooSmall, len(buf), n)
	}

	return &wire.Message{
		Kind:     kind,
		Count:    count,
		Src:      c.rank,
		UserTag:  tag,
		Datatype: datatype,
		Payload:  buf[:n],
	}, nil
}

func (c *Context) send(msg *wire.Message) error {
	msg.Tag = int64(c.pair.Out.ActiveKey)

	records, err := split.WriteMessage(c.pair.Out, c.splitter, msg)
	c.stats.Records += uint64(records)

	if err != nil {
		c.log.Error(context.Background(), "send failed", "kind", msg.Kind, "dest", msg.Dest, "err", err)
		return err
	}

	c.stats.Sent++
	c.invoke(HookPosSend, msg)

	if records > 1 {
		c.log.Debug(context.Background(), "sent split message",
			"kind", msg.Kind, "dest", msg.Dest, "records", records)
	}

	return nil
}
