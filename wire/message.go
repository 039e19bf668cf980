package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Record layout, native byte order. The IPC tag travels out of band as the
// queue message type.
//
//	offset size
//	0      4    kind
//	4      4    job id
//	8      4    count
//	12     4    src
//	16     4    dest
//	20     4    user tag
//	24     4    datatype
//	28     4    inner kind (SPLIT_BEGIN only, zero otherwise)
//	32     -    inline payload (InlineCapacity)
//	-      -    method descriptor (MethodCapacity)
const (
	// RecordSize is the body size of every record on the queue.
	RecordSize = 8192

	// HeaderSize is the size of the fixed metadata at the start of a record.
	HeaderSize = 32

	// MethodCapacity is the size of the method descriptor field.
	MethodCapacity = 256

	// InlineCapacity is the largest payload that fits in a single record.
	InlineCapacity = RecordSize - HeaderSize - MethodCapacity

	methodOffset = HeaderSize + InlineCapacity
)

// Message is one logical message between a worker and the runtime.
type Message struct {
	// Tag is the IPC message type used to select the logical queue.
	Tag int64

	Kind     Kind
	JobID    int32
	Count    int32
	Src      int32
	Dest     int32
	UserTag  int32
	Datatype DatatypeTag

	// Payload holds Count elements of Datatype in native byte order.
	Payload []byte

	// Method is the descriptor of a SEND_EXTENDED message.
	Method string

	// Inner is the kind of the message announced by a SPLIT_BEGIN record.
	Inner Kind
}

// Length returns the number of payload bytes implied by Count and Datatype.
func (m *Message) Length() int {
	return BufferLength(m.Count, m.Datatype)
}

// Validate checks that the payload matches count and datatype.
func (m *Message) Validate() error {
	if !m.Kind.CarriesData() {
		return nil
	}

	n := m.Length()
	if n < 0 {
		return fmt.Errorf("%w: %v", ErrUnsupportedDatatype, m.Datatype)
	}

	if m.Kind == KindSplitBegin {
		return nil
	}

	if len(m.Payload) != n {
		return fmt.Errorf("%w: have %d bytes, want %d",
			ErrPayloadLength, len(m.Payload), n)
	}

	return nil
}

// Clone returns a deep copy.
func (m *Message) Clone() *Message {
	c := *m
	if m.Payload != nil {
		c.Payload = append([]byte(nil), m.Payload...)
	}

	return &c
}

func (m *Message) String() string {
	return fmt.Sprintf(
		"%s tag=%d job=%d count=%d src=%d dest=%d user_tag=%d type=%v bytes=%d method=%q",
		m.Kind, m.Tag, m.JobID, m.Count, m.Src, m.Dest, m.UserTag,
		m.Datatype, len(m.Payload), m.Method)
}

// Encode lays the message out as a full record. Payloads above
// InlineCapacity must be split first.
func Encode(m *Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	if len(m.Payload) > InlineCapacity {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(m.Payload))
	}

	if len(m.Method) > MethodCapacity {
		return nil, fmt.Errorf("%w: %d bytes", ErrDescriptorTooLong, len(m.Method))
	}

	b := make([]byte, RecordSize)
	putHeader(b, m)
	copy(b[HeaderSize:], m.Payload)
	copy(b[methodOffset:], m.Method)

	return b, nil
}

// EncodeHeader lays out the metadata and method only, leaving the payload
// empty. SPLIT_BEGIN records are encoded this way.
func EncodeHeader(m *Message) []byte {
	b := make([]byte, RecordSize)
	putHeader(b, m)
	copy(b[methodOffset:methodOffset+MethodCapacity], m.Method)

	return b
}

func putHeader(b []byte, m *Message) {
	e := binary.NativeEndian
	e.PutUint32(b[0:4], uint32(m.Kind))
	e.PutUint32(b[4:8], uint32(m.JobID))
	e.PutUint32(b[8:12], uint32(m.Count))
	e.PutUint32(b[12:16], uint32(m.Src))
	e.PutUint32(b[16:20], uint32(m.Dest))
	e.PutUint32(b[20:24], uint32(m.UserTag))
	e.PutUint32(b[24:28], uint32(m.Datatype))
	e.PutUint32(b[28:32], uint32(m.Inner))
}

// PeekKind reads the kind of a record without decoding the rest.
func PeekKind(b []byte) (Kind, error) {
	if len(b) < 4 {
		return 0, ErrShortRecord
	}

	return Kind(binary.NativeEndian.Uint32(b[0:4])), nil
}

// Decode parses a record produced by Encode or EncodeHeader. The tag is left
// zero; the IPC layer fills it in.
func Decode(b []byte) (*Message, error) {
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortRecord, len(b))
	}

	e := binary.NativeEndian
	m := &Message{
		Kind:     Kind(e.Uint32(b[0:4])),
		JobID:    int32(e.Uint32(b[4:8])),
		Count:    int32(e.Uint32(b[8:12])),
		Src:      int32(e.Uint32(b[12:16])),
		Dest:     int32(e.Uint32(b[16:20])),
		UserTag:  int32(e.Uint32(b[20:24])),
		Datatype: DatatypeTag(e.Uint32(b[24:28])),
		Inner:    Kind(e.Uint32(b[28:32])),
	}

	if m.Kind.CarriesData() && m.Kind != KindSplitBegin {
		n := m.Length()
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedDatatype, m.Datatype)
		}

		if n > InlineCapacity || len(b) < HeaderSize+n {
			return nil, fmt.Errorf("%w: payload of %d bytes", ErrShortRecord, n)
		}

		m.Payload = append([]byte(nil), b[HeaderSize:HeaderSize+n]...)
	}

	if len(b) >= RecordSize {
		method := b[methodOffset:RecordSize]
		if i := bytes.IndexByte(method, 0); i >= 0 {
			method = method[:i]
		}

		m.Method = string(method)
	}

	return m, nil
}
