package split

import (
	"errors"
	"fmt"

	"github.com/sarchlab/mpirelay/ipc"
	"github.com/sarchlab/mpirelay/wire"
)

// Channel is the part of ipc.Channel the framing helpers need.
type Channel interface {
	Send(tag int64, body []byte) error
	Recv(tag int64, buf []byte, blocking bool) (int, error)
}

var _ Channel = (*ipc.Channel)(nil)

// WriteMessage enqueues msg on ch under msg.Tag, splitting it if it does not
// fit a single record. It returns the number of records written.
func WriteMessage(ch Channel, s Splitter, msg *wire.Message) (int, error) {
	if !s.NeedsSplit(msg) {
		b, err := wire.Encode(msg)
		if err != nil {
			return 0, err
		}

		return 1, ch.Send(msg.Tag, b)
	}

	frames, err := s.Split(msg)
	if err != nil {
		return 0, err
	}

	for i, f := range frames {
		b, err := f.Encode()
		if err != nil {
			return i, err
		}

		if err := ch.Send(msg.Tag, b); err != nil {
			return i, err
		}
	}

	return len(frames), nil
}

// ReadMessage dequeues one logical message with the given tag. A non-blocking
// read returns ipc.ErrNoMessage on an empty queue, but once SPLIT_BEGIN has
// been read the remaining segments are always waited for.
func ReadMessage(ch Channel, tag int64, blocking bool) (*wire.Message, error) {
	buf := make([]byte, wire.RecordSize)

	n, err := ch.Recv(tag, buf, blocking)
	if err != nil {
		return nil, err
	}

	msg, err := wire.Decode(buf[:n])
	if err != nil {
		return nil, err
	}

	msg.Tag = tag

	if msg.Kind.IsSegment() {
		return nil, fmt.Errorf("%w: %v without SPLIT_BEGIN", ErrUnexpectedRecord, msg.Kind)
	}

	if msg.Kind != wire.KindSplitBegin {
		return msg, nil
	}

	var r Reassembler
	if err := r.Begin(msg); err != nil {
		if errors.Is(err, ErrSegmentOverflow) {
			if skipErr := skipSegments(ch, tag, buf); skipErr != nil {
				return nil, skipErr
			}
		}

		return nil, err
	}

	for {
		n, err := ch.Recv(tag, buf, true)
		if err != nil {
			return nil, fmt.Errorf("split: reading segment: %w", err)
		}

		seg, err := wire.DecodeSegment(buf[:n])
		if err != nil {
			return nil, err
		}

		done, err := r.Append(seg)
		if err != nil {
			return nil, err
		}

		if done {
			return r.Message(), nil
		}
	}
}

// skipSegments reads and discards the segments of a refused split message so
// the next read starts at a record boundary.
func skipSegments(ch Channel, tag int64, buf []byte) error {
	for {
		n, err := ch.Recv(tag, buf, true)
		if err != nil {
			return fmt.Errorf("split: skipping segment: %w", err)
		}

		seg, err := wire.DecodeSegment(buf[:n])
		if err != nil {
			return err
		}

		if seg.Kind == wire.KindSplitEnd {
			return nil
		}
	}
}
