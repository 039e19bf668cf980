package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"reflect"
)

// Pack converts a Go numeric slice into a payload of datatype d. The slice
// element size must equal the datatype size. A []byte is taken as-is for any
// datatype, which is how LongDouble payloads travel.
func Pack(d DatatypeTag, values any) ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedDatatype, d)
	}

	if raw, ok := values.([]byte); ok {
		if len(raw)%d.Size() != 0 {
			return nil, fmt.Errorf("%w: %d bytes is not a whole number of %v",
				ErrPayloadLength, len(raw), d)
		}

		return append([]byte(nil), raw...), nil
	}

	if err := checkElemSize(d, values); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.NativeEndian, values); err != nil {
		return nil, fmt.Errorf("wire: pack %v: %w", d, err)
	}

	return buf.Bytes(), nil
}

// Unpack decodes payload into dst, a slice whose length equals the element
// count.
func Unpack(d DatatypeTag, payload []byte, dst any) error {
	if !d.Valid() {
		return fmt.Errorf("%w: %v", ErrUnsupportedDatatype, d)
	}

	if raw, ok := dst.([]byte); ok {
		if len(raw) != len(payload) {
			return fmt.Errorf("%w: have %d bytes, want %d",
				ErrPayloadLength, len(payload), len(raw))
		}

		copy(raw, payload)

		return nil
	}

	if err := checkElemSize(d, dst); err != nil {
		return err
	}

	want := reflect.ValueOf(dst).Len() * d.Size()
	if want != len(payload) {
		return fmt.Errorf("%w: have %d bytes, want %d",
			ErrPayloadLength, len(payload), want)
	}

	return binary.Read(bytes.NewReader(payload), binary.NativeEndian, dst)
}

func checkElemSize(d DatatypeTag, values any) error {
	v := reflect.ValueOf(values)
	if v.Kind() != reflect.Slice {
		return fmt.Errorf("wire: expected a slice, got %T", values)
	}

	if d == LongDouble {
		return fmt.Errorf("%w: %v only travels as raw bytes",
			ErrUnsupportedDatatype, d)
	}

	if size := int(v.Type().Elem().Size()); size != d.Size() {
		return fmt.Errorf("wire: %T has %d-byte elements, %v needs %d",
			values, size, d, d.Size())
	}

	return nil
}
