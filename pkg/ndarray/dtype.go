package ndarray

import (
	"fmt"
	"strconv"
)

// Type is an element type tag. Values follow the NumPy dtype numbering that
// clients of the fabric already use; tags missing from the registry are
// carried opaquely.
type Type int

const (
	Bool       Type = 0
	Int8       Type = 1
	Uint8      Type = 2
	Int16      Type = 3
	Uint16     Type = 4
	Int32      Type = 5
	Uint32     Type = 6
	Long       Type = 7
	Ulong      Type = 8
	Int64      Type = 9
	Uint64     Type = 10
	Float32    Type = 11
	Float64    Type = 12
	LongDouble Type = 13
	Complex64  Type = 14
	Complex128 Type = 15
	Float16    Type = 23
)

// ByteOrder is the first character of a NumPy typestr.
type ByteOrder byte

const (
	BONotRelevant  ByteOrder = '|'
	BOLittleEndian ByteOrder = '<'
	BOBigEndian    ByteOrder = '>'
)

// BasicType is the kind character of a NumPy typestr.
type BasicType byte

const (
	BTBoolean       BasicType = 'b'
	BTInteger       BasicType = 'i'
	BTUnsigned      BasicType = 'u'
	BTFloatingPoint BasicType = 'f'
	BTComplex       BasicType = 'c'
	BTOther         BasicType = 'V'
)

// Dtype describes the in-memory layout of one element, in the array
// protocol typestr format ("<f8", "|u1", ...).
type Dtype struct {
	ByteOrder ByteOrder
	BasicType BasicType
	ByteSize  int
}

func (dt Dtype) String() string {
	return string(dt.ByteOrder) + string(dt.BasicType) + strconv.Itoa(dt.ByteSize)
}

// ParseDtype parses a typestr such as "<i4".
func ParseDtype(s string) (Dtype, error) {
	if len(s) < 3 {
		return Dtype{}, fmt.Errorf("invalid dtype string. %q is too short", s)
	}
	var dt Dtype
	switch bo := ByteOrder(s[0]); bo {
	case BONotRelevant, BOLittleEndian, BOBigEndian:
		dt.ByteOrder = bo
	default:
		return Dtype{}, fmt.Errorf("unsupported byte order format: %q", s[0])
	}
	switch bt := BasicType(s[1]); bt {
	case BTBoolean, BTInteger, BTUnsigned, BTFloatingPoint, BTComplex, BTOther:
		dt.BasicType = bt
	default:
		return Dtype{}, fmt.Errorf("unsupported basic type: %q", s[1])
	}
	size, err := strconv.Atoi(s[2:])
	if err != nil {
		return Dtype{}, fmt.Errorf("invalid dtype size in %q: %w", s, err)
	}
	dt.ByteSize = size
	return dt, nil
}

var dtypes = map[Type]Dtype{
	Bool:       {BONotRelevant, BTBoolean, 1},
	Int8:       {BONotRelevant, BTInteger, 1},
	Uint8:      {BONotRelevant, BTUnsigned, 1},
	Int16:      {BOLittleEndian, BTInteger, 2},
	Uint16:     {BOLittleEndian, BTUnsigned, 2},
	Int32:      {BOLittleEndian, BTInteger, 4},
	Uint32:     {BOLittleEndian, BTUnsigned, 4},
	Long:       {BOLittleEndian, BTInteger, 8},
	Ulong:      {BOLittleEndian, BTUnsigned, 8},
	Int64:      {BOLittleEndian, BTInteger, 8},
	Uint64:     {BOLittleEndian, BTUnsigned, 8},
	Float32:    {BOLittleEndian, BTFloatingPoint, 4},
	Float64:    {BOLittleEndian, BTFloatingPoint, 8},
	LongDouble: {BOLittleEndian, BTFloatingPoint, 16},
	Complex64:  {BOLittleEndian, BTComplex, 8},
	Complex128: {BOLittleEndian, BTComplex, 16},
	Float16:    {BOLittleEndian, BTFloatingPoint, 2},
}

// Dtype looks up the registered layout for t.
func (t Type) Dtype() (Dtype, bool) {
	dt, ok := dtypes[t]
	return dt, ok
}

// Size is the registered byte width of t, or 0 when t is not registered.
func (t Type) Size() int {
	return dtypes[t].ByteSize
}

// Known reports whether t is in the registry.
func (t Type) Known() bool {
	_, ok := dtypes[t]
	return ok
}

// TypestrFor returns the typestr to describe elements of type t and width
// size. Unregistered types are described as opaque void elements.
func TypestrFor(t Type, size int) string {
	if dt, ok := dtypes[t]; ok {
		return dt.String()
	}
	return Dtype{BONotRelevant, BTOther, size}.String()
}
