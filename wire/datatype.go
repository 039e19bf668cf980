// Package wire defines the records exchanged between MPI workers and the
// runtime over IPC queues, and how they are laid out in bytes.
package wire

import "fmt"

// DatatypeTag is the portable element type carried in a message. Both peers
// agree on these values regardless of the MPI implementation.
type DatatypeTag int32

// The supported datatypes. DatatypeNull marks an invalid or unsupported type.
const (
	DatatypeNull DatatypeTag = iota
	Char
	UnsignedChar
	Byte
	Short
	UnsignedShort
	Int
	Unsigned
	Long
	UnsignedLong
	Float
	Double
	LongDouble
	LongLongInt
)

// NativeType is the MPI library's own datatype handle.
type NativeType uint32

// MPICH datatype handles.
const (
	NativeDatatypeNull  NativeType = 0x0c000000
	NativeChar          NativeType = 0x4c000101
	NativeUnsignedChar  NativeType = 0x4c000102
	NativeByte          NativeType = 0x4c00010d
	NativeShort         NativeType = 0x4c000203
	NativeUnsignedShort NativeType = 0x4c000204
	NativeInt           NativeType = 0x4c000405
	NativeUnsigned      NativeType = 0x4c000406
	NativeLong          NativeType = 0x4c000807
	NativeUnsignedLong  NativeType = 0x4c000808
	NativeFloat         NativeType = 0x4c00040a
	NativeDouble        NativeType = 0x4c00080b
	NativeLongDouble    NativeType = 0x4c00100c
	NativeLongLongInt   NativeType = 0x4c000809
)

type datatypeInfo struct {
	name   string
	size   int
	native NativeType
}

// datatypes is indexed by DatatypeTag. Sizes follow LP64.
var datatypes = [...]datatypeInfo{
	DatatypeNull:  {"NULL", 0, NativeDatatypeNull},
	Char:          {"CHAR", 1, NativeChar},
	UnsignedChar:  {"UNSIGNED_CHAR", 1, NativeUnsignedChar},
	Byte:          {"BYTE", 1, NativeByte},
	Short:         {"SHORT", 2, NativeShort},
	UnsignedShort: {"UNSIGNED_SHORT", 2, NativeUnsignedShort},
	Int:           {"INT", 4, NativeInt},
	Unsigned:      {"UNSIGNED", 4, NativeUnsigned},
	Long:          {"LONG", 8, NativeLong},
	UnsignedLong:  {"UNSIGNED_LONG", 8, NativeUnsignedLong},
	Float:         {"FLOAT", 4, NativeFloat},
	Double:        {"DOUBLE", 8, NativeDouble},
	LongDouble:    {"LONG_DOUBLE", 16, NativeLongDouble},
	LongLongInt:   {"LONG_LONG_INT", 8, NativeLongLongInt},
}

var nativeToTag = func() map[NativeType]DatatypeTag {
	m := make(map[NativeType]DatatypeTag, len(datatypes))
	for tag := Char; tag <= LongLongInt; tag++ {
		m[datatypes[tag].native] = tag
	}

	return m
}()

// SupportedDatatypes lists every valid tag.
func SupportedDatatypes() []DatatypeTag {
	tags := make([]DatatypeTag, 0, len(datatypes)-1)
	for tag := Char; tag <= LongLongInt; tag++ {
		tags = append(tags, tag)
	}

	return tags
}

// Valid tells whether the tag is one of the supported datatypes.
func (d DatatypeTag) Valid() bool {
	return d >= Char && d <= LongLongInt
}

// Size returns the element size in bytes, or 0 for unsupported tags.
func (d DatatypeTag) Size() int {
	if !d.Valid() {
		return 0
	}

	return datatypes[d].size
}

func (d DatatypeTag) String() string {
	if !d.Valid() {
		return fmt.Sprintf("DatatypeTag(%d)", int32(d))
	}

	return datatypes[d].name
}

// ToNative maps a portable tag to the MPI handle. Unsupported tags map to
// NativeDatatypeNull.
func ToNative(d DatatypeTag) NativeType {
	if !d.Valid() {
		return NativeDatatypeNull
	}

	return datatypes[d].native
}

// FromNative maps an MPI handle to the portable tag. Unmapped handles give
// DatatypeNull.
func FromNative(n NativeType) DatatypeTag {
	tag, ok := nativeToTag[n]
	if !ok {
		return DatatypeNull
	}

	return tag
}

// BufferLength returns count*size in bytes, or -1 when the datatype is not
// supported or count is negative.
func BufferLength(count int32, d DatatypeTag) int {
	if !d.Valid() || count < 0 {
		return -1
	}

	return int(count) * datatypes[d].size
}
