// Package split breaks messages that do not fit a single record into a
// SPLIT_BEGIN header followed by data segments, and puts them back together.
package split

import (
	"errors"
	"fmt"

	"github.com/sarchlab/mpirelay/wire"
)

var (
	// ErrSegmentOverflow means the segments carry more bytes than announced.
	ErrSegmentOverflow = errors.New("split: segments exceed announced length")

	// ErrSegmentUnderflow means SPLIT_END arrived before all bytes did.
	ErrSegmentUnderflow = errors.New("split: message ended early")

	// ErrUnexpectedRecord means a record arrived out of sequence.
	ErrUnexpectedRecord = errors.New("split: unexpected record")
)

// Frame is one record to put on the queue: either the SPLIT_BEGIN header or a
// segment.
type Frame struct {
	Header  *wire.Message
	Segment *wire.Segment
}

// Encode returns the bytes to enqueue.
func (f Frame) Encode() ([]byte, error) {
	if f.Header != nil {
		return wire.EncodeHeader(f.Header), nil
	}

	return wire.EncodeSegment(*f.Segment)
}

// DefaultMaxPayload is the largest split payload accepted when no other
// limit is set.
const DefaultMaxPayload = 1 << 30

// Splitter decides when and how messages are split.
type Splitter struct {
	// InlineCapacity is the largest payload sent without splitting.
	InlineCapacity int

	// SegmentCapacity is the largest span of one segment.
	SegmentCapacity int

	// MaxPayload is the largest payload that may be split. Zero means
	// DefaultMaxPayload.
	MaxPayload int
}

// DefaultSplitter uses the record capacities of the wire package.
func DefaultSplitter() Splitter {
	return Splitter{
		InlineCapacity:  wire.InlineCapacity,
		SegmentCapacity: wire.SegmentCapacity,
		MaxPayload:      DefaultMaxPayload,
	}
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return DefaultMaxPayload
	}

	return limit
}

// NeedsSplit tells whether msg's payload exceeds the inline capacity.
func (s Splitter) NeedsSplit(msg *wire.Message) bool {
	return len(msg.Payload) > s.InlineCapacity
}

// Split returns the frames for msg. Each segment carries a whole number of
// elements; the last one is SPLIT_END.
func (s Splitter) Split(msg *wire.Message) ([]Frame, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	if limit := limitOrDefault(s.MaxPayload); len(msg.Payload) > limit {
		return nil, fmt.Errorf("%w: %d bytes, limit %d",
			wire.ErrPayloadTooLarge, len(msg.Payload), limit)
	}

	size := msg.Datatype.Size()
	perSegment := s.SegmentCapacity / size
	if perSegment == 0 {
		return nil, fmt.Errorf("split: segment capacity %d below element size %d",
			s.SegmentCapacity, size)
	}

	header := msg.Clone()
	header.Payload = nil
	header.Kind = wire.KindSplitBegin
	header.Inner = msg.Kind

	frames := []Frame{{Header: header}}
	step := perSegment * size

	for off := 0; off < len(msg.Payload); off += step {
		end := off + step
		kind := wire.KindSplitContinue

		if end >= len(msg.Payload) {
			end = len(msg.Payload)
			kind = wire.KindSplitEnd
		}

		frames = append(frames, Frame{Segment: &wire.Segment{
			Kind: kind,
			Data: msg.Payload[off:end],
		}})
	}

	if len(msg.Payload) == 0 {
		frames = append(frames, Frame{Segment: &wire.Segment{Kind: wire.KindSplitEnd}})
	}

	return frames, nil
}

// Reassembler collects the segments that follow a SPLIT_BEGIN.
type Reassembler struct {
	// Limit is the largest payload a header may announce. Zero means
	// DefaultMaxPayload.
	Limit int

	msg    *wire.Message
	origin wire.Kind
	filled int
	done   bool
}

// Begin starts a new message from its SPLIT_BEGIN header.
func (r *Reassembler) Begin(header *wire.Message) error {
	if header.Kind != wire.KindSplitBegin {
		return fmt.Errorf("%w: %v instead of SPLIT_BEGIN", ErrUnexpectedRecord, header.Kind)
	}

	n := header.Length()
	if n < 0 {
		return fmt.Errorf("%w: %v", wire.ErrUnsupportedDatatype, header.Datatype)
	}

	if limit := limitOrDefault(r.Limit); n > limit {
		return fmt.Errorf("%w: header announces %d bytes, limit %d",
			ErrSegmentOverflow, n, limit)
	}

	r.msg = header.Clone()
	r.msg.Payload = make([]byte, n)
	r.msg.Inner = 0
	r.origin = wire.KindSend

	if header.Inner.CarriesData() && header.Inner != wire.KindSplitBegin {
		r.origin = header.Inner
	}
	r.filled = 0
	r.done = false

	return nil
}

// Append adds a segment. It reports true once SPLIT_END has been appended.
func (r *Reassembler) Append(s wire.Segment) (bool, error) {
	if r.msg == nil || r.done {
		return false, fmt.Errorf("%w: segment without SPLIT_BEGIN", ErrUnexpectedRecord)
	}

	if !s.Kind.IsSegment() {
		return false, fmt.Errorf("%w: %v inside a split message", ErrUnexpectedRecord, s.Kind)
	}

	if r.filled+len(s.Data) > len(r.msg.Payload) {
		return false, fmt.Errorf("%w: %d + %d > %d",
			ErrSegmentOverflow, r.filled, len(s.Data), len(r.msg.Payload))
	}

	r.filled += copy(r.msg.Payload[r.filled:], s.Data)

	if s.Kind != wire.KindSplitEnd {
		return false, nil
	}

	if r.filled != len(r.msg.Payload) {
		return false, fmt.Errorf("%w: %d of %d bytes",
			ErrSegmentUnderflow, r.filled, len(r.msg.Payload))
	}

	r.done = true

	return true, nil
}

// Message returns the reassembled message with the kind announced by
// SPLIT_BEGIN, or SEND when none was announced. It is nil until Append
// reported completion.
func (r *Reassembler) Message() *wire.Message {
	if !r.done {
		return nil
	}

	m := r.msg
	m.Kind = r.origin

	return m
}
