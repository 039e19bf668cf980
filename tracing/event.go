// Package tracing records the messages that flow through bridges and routers.
package tracing

import (
	"time"

	"github.com/sarchlab/mpirelay/wire"
)

// MsgEvent is one observation of a message at one place.
type MsgEvent struct {
	ID       string
	Time     time.Time
	Where    string
	What     string
	Kind     string
	Tag      int64
	JobID    int32
	Src      int32
	Dest     int32
	UserTag  int32
	Datatype string
	Count    int32
	Bytes    int
	Detail   string
}

func eventFromMessage(msg *wire.Message) MsgEvent {
	return MsgEvent{
		Kind:     msg.Kind.String(),
		Tag:      msg.Tag,
		JobID:    msg.JobID,
		Src:      msg.Src,
		Dest:     msg.Dest,
		UserTag:  msg.UserTag,
		Datatype: msg.Datatype.String(),
		Count:    msg.Count,
		Bytes:    len(msg.Payload),
	}
}

// Writer stores events.
type Writer interface {
	Init() error
	Write(e MsgEvent)
	Flush()
}
