// Package pending holds messages that arrived before anybody asked for them.
package pending

import "github.com/sarchlab/mpirelay/wire"

// Wildcards accepted by Filter.
const (
	AnySource int32 = -2
	AnyTag    int32 = -1
	AnyJob    int32 = -2
)

// Filter describes the message a receive call is waiting for.
type Filter struct {
	Count    int32
	Datatype wire.DatatypeTag
	Src      int32
	UserTag  int32
	JobID    int32

	// Tag is the IPC message type the message was read under.
	Tag int64
}

// Matches reports whether msg satisfies f. Count, datatype and IPC tag must
// be equal; source, user tag and job may be wildcards.
func (f Filter) Matches(msg *wire.Message) bool {
	if msg.Count != f.Count || msg.Datatype != f.Datatype || msg.Tag != f.Tag {
		return false
	}

	if f.Src != AnySource && msg.Src != f.Src {
		return false
	}

	if f.UserTag != AnyTag && msg.UserTag != f.UserTag {
		return false
	}

	if f.JobID != AnyJob && msg.JobID != f.JobID {
		return false
	}

	return true
}
