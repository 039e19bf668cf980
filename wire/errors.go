package wire

import "errors"

var (
	// ErrUnsupportedDatatype is returned when a datatype tag or native type
	// has no mapping.
	ErrUnsupportedDatatype = errors.New("wire: unsupported datatype")

	// ErrPayloadLength means the payload does not hold count elements.
	ErrPayloadLength = errors.New("wire: payload length does not match count")

	// ErrPayloadTooLarge means the payload needs splitting before encoding.
	ErrPayloadTooLarge = errors.New("wire: payload exceeds inline capacity")

	// ErrShortRecord means the input is smaller than a record header.
	ErrShortRecord = errors.New("wire: record too short")

	// ErrDescriptorTooLong means a method descriptor does not fit its field.
	ErrDescriptorTooLong = errors.New("wire: method descriptor too long")

	// ErrMalformedDescriptor means a method descriptor could not be parsed.
	ErrMalformedDescriptor = errors.New("wire: malformed method descriptor")
)
