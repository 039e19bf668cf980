package wire

import (
	"encoding/binary"
	"fmt"
)

// Segment record layout:
//
//	offset size
//	0      4    kind (SPLIT_CONTINUE or SPLIT_END)
//	4      4    data length
//	8      -    raw span (SegmentCapacity)
const (
	// SegmentHeaderSize is the size of the kind and length fields.
	SegmentHeaderSize = 8

	// SegmentCapacity is the largest span a single segment carries.
	SegmentCapacity = RecordSize - SegmentHeaderSize
)

// Segment is one slice of a split message.
type Segment struct {
	Kind Kind
	Data []byte
}

// EncodeSegment lays out a segment record.
func EncodeSegment(s Segment) ([]byte, error) {
	if !s.Kind.IsSegment() {
		return nil, fmt.Errorf("wire: %v is not a segment kind", s.Kind)
	}

	if len(s.Data) > SegmentCapacity {
		return nil, fmt.Errorf("%w: segment of %d bytes", ErrPayloadTooLarge, len(s.Data))
	}

	b := make([]byte, SegmentHeaderSize+len(s.Data))
	binary.NativeEndian.PutUint32(b[0:4], uint32(s.Kind))
	binary.NativeEndian.PutUint32(b[4:8], uint32(len(s.Data)))
	copy(b[SegmentHeaderSize:], s.Data)

	return b, nil
}

// DecodeSegment parses a segment record.
func DecodeSegment(b []byte) (Segment, error) {
	if len(b) < SegmentHeaderSize {
		return Segment{}, fmt.Errorf("%w: %d bytes", ErrShortRecord, len(b))
	}

	s := Segment{Kind: Kind(binary.NativeEndian.Uint32(b[0:4]))}
	if !s.Kind.IsSegment() {
		return Segment{}, fmt.Errorf("wire: expected a segment, got %v", s.Kind)
	}

	n := int(binary.NativeEndian.Uint32(b[4:8]))
	if n > SegmentCapacity || len(b) < SegmentHeaderSize+n {
		return Segment{}, fmt.Errorf("%w: segment claims %d bytes", ErrShortRecord, n)
	}

	s.Data = append([]byte(nil), b[SegmentHeaderSize:SegmentHeaderSize+n]...)

	return s, nil
}
