package ndarray

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patina/dxspaces/pkg/geometry"
)

func TestEncode_SizeValidation(t *testing.T) {
	box := geometry.Box([2]int64{0, 2}, [2]int64{0, 4})

	tests := []struct {
		name    string
		size    int
		wantErr error
	}{
		{name: "exact", size: 32},
		{name: "one short", size: 31, wantErr: ErrSizeMismatch},
		{name: "one over", size: 33, wantErr: ErrSizeMismatch},
		{name: "empty", size: 0, wantErr: ErrSizeMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			arr, err := Encode(box, 4, Float32, make([]byte, tt.size))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []int64{2, 4}, arr.Shape)
			assert.Equal(t, []int64{0, 0}, arr.Offset)
			require.NoError(t, arr.Validate())
		})
	}
}

func TestEncode_VolumeOverflow(t *testing.T) {
	tests := []struct {
		name string
		box  geometry.BoundingBox
		size int
	}{
		// 2^32 * 2^32 wraps to 0 in int64, so an empty payload would match
		{name: "element count wraps", box: geometry.Box([2]int64{0, 1 << 32}, [2]int64{0, 1 << 32}), size: 0},
		{name: "byte count wraps", box: geometry.Box([2]int64{0, 1 << 31}, [2]int64{0, 1 << 31}), size: 0},
		{name: "three axes wrap", box: geometry.Box([2]int64{0, 1 << 21}, [2]int64{0, 1 << 21}, [2]int64{0, 1 << 22}), size: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.box, 8, Float64, make([]byte, tt.size))
			require.ErrorIs(t, err, ErrSizeMismatch)
			require.ErrorIs(t, err, geometry.ErrVolumeOverflow)
		})
	}
}

func TestValidate_ShapeOverflow(t *testing.T) {
	arr := &Array{ElementSize: 1, Shape: []int64{1 << 32, 1 << 32}}
	require.ErrorIs(t, arr.Validate(), ErrSizeMismatch)

	_, err := arr.Len()
	require.ErrorIs(t, err, geometry.ErrVolumeOverflow)

	arr = &Array{ElementSize: 1 << 20, Shape: []int64{1 << 22, 1 << 22}}
	_, err = arr.ByteLen()
	require.ErrorIs(t, err, ErrSizeMismatch)

	arr = &Array{ElementSize: 4, Shape: []int64{2, 3}, Data: make([]byte, 24)}
	n, err := arr.Len()
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)
	require.NoError(t, arr.Validate())
}

func TestEncode_OffsetIsStart(t *testing.T) {
	box := geometry.Box([2]int64{5, 1}, [2]int64{-1, 3})
	arr, err := Encode(box, 2, Int16, make([]byte, 6))
	require.NoError(t, err)
	assert.Equal(t, []int64{5, -1}, arr.Offset)
	assert.Equal(t, []int64{5, -1}, arr.Lower())
	assert.Equal(t, []int64{5, 1}, arr.Upper())
}

func TestEncode_TypeWidth(t *testing.T) {
	box := geometry.Box([2]int64{0, 4})

	_, err := Encode(box, 4, Float64, make([]byte, 16))
	require.ErrorIs(t, err, ErrSizeMismatch)

	// unregistered tags are opaque, only the caller's width counts
	arr, err := Encode(box, 3, Type(99), make([]byte, 12))
	require.NoError(t, err)
	assert.Equal(t, Type(99), arr.Type)

	_, err = Encode(box, 0, Uint8, nil)
	require.ErrorIs(t, err, ErrInvalidElementSize)
}

func TestDecode_FullShape(t *testing.T) {
	box := geometry.Box([2]int64{1, 2}, [2]int64{3, 4})
	arr := &Array{Type: Float64, ElementSize: 8, Shape: []int64{2, 4}, Data: make([]byte, 64)}

	data, md := Decode(arr, box)
	assert.Len(t, data, 64)
	assert.Equal(t, Float64, md.Tag)
	assert.Equal(t, 8, md.ElementSize)
	assert.Equal(t, []int64{1, 3}, md.LowerBounds)
	assert.Equal(t, []int64{2, 6}, md.UpperBounds)
	assert.Equal(t, []int64{2, 4}, md.Dims)
}

func TestDecode_ReducedShape(t *testing.T) {
	box := geometry.Box([2]int64{10, 5}, [2]int64{20, 5})
	arr := &Array{Type: Int32, ElementSize: 4, Shape: []int64{2}, Data: make([]byte, 8)}

	_, md := Decode(arr, box)
	assert.Equal(t, []int64{10, 20}, md.LowerBounds)
	assert.Equal(t, []int64{11}, md.UpperBounds)
	assert.Equal(t, []int64{2}, md.Dims)
}

func TestOverlay(t *testing.T) {
	// 3x3 destination at (0,0), 2x2 source at (1,1) filled with 1..4
	dst := &Array{ElementSize: 1, Shape: []int64{3, 3}, Offset: []int64{0, 0}, Data: make([]byte, 9)}
	src := &Array{ElementSize: 1, Shape: []int64{2, 2}, Offset: []int64{1, 1}, Data: []byte{1, 2, 3, 4}}

	n, err := Overlay(dst, src)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.Equal(t, []byte{0, 0, 0, 0, 1, 2, 0, 3, 4}, dst.Data)
}

func TestOverlay_PartialAndDisjoint(t *testing.T) {
	dst := &Array{ElementSize: 2, Shape: []int64{2}, Offset: []int64{4}, Data: make([]byte, 4)}
	src := &Array{ElementSize: 2, Shape: []int64{3}, Offset: []int64{2}, Data: []byte{1, 1, 2, 2, 3, 3}}

	n, err := Overlay(dst, src)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, []byte{3, 3, 0, 0}, dst.Data)

	far := &Array{ElementSize: 2, Shape: []int64{1}, Offset: []int64{100}, Data: []byte{9, 9}}
	n, err = Overlay(dst, far)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = Overlay(dst, &Array{ElementSize: 4, Shape: []int64{1}, Offset: []int64{4}, Data: make([]byte, 4)})
	require.Error(t, err)
}

func TestOverlay_DataDoesNotBackShape(t *testing.T) {
	dst := &Array{ElementSize: 1, Shape: []int64{4, 4}, Offset: []int64{0, 0}, Data: make([]byte, 16)}

	// wrapped shape with an empty buffer
	huge := &Array{ElementSize: 1, Shape: []int64{1 << 32, 1 << 32}, Offset: []int64{0, 0}}
	_, err := Overlay(dst, huge)
	require.ErrorIs(t, err, ErrSizeMismatch)

	short := &Array{ElementSize: 1, Shape: []int64{2, 2}, Offset: []int64{1, 1}, Data: []byte{1, 2}}
	_, err = Overlay(dst, short)
	require.ErrorIs(t, err, ErrSizeMismatch)
	assert.Equal(t, make([]byte, 16), dst.Data)
}

func TestWriteNPY(t *testing.T) {
	arr := &Array{Type: Float64, ElementSize: 8, Shape: []int64{3}, Data: make([]byte, 24)}

	var buf bytes.Buffer
	require.NoError(t, WriteNPY(&buf, arr))

	out := buf.Bytes()
	require.True(t, bytes.HasPrefix(out, []byte("\x93NUMPY\x01\x00")))
	hlen := int(binary.LittleEndian.Uint16(out[8:10]))
	assert.Zero(t, (10+hlen)%64)
	header := string(out[10 : 10+hlen])
	assert.Contains(t, header, "'descr': '<f8'")
	assert.Contains(t, header, "'shape': (3,)")
	assert.Equal(t, byte('\n'), header[len(header)-1])
	assert.Len(t, out, 10+hlen+24)
}

func TestParseDtype(t *testing.T) {
	dt, err := ParseDtype("<f8")
	require.NoError(t, err)
	assert.Equal(t, Dtype{BOLittleEndian, BTFloatingPoint, 8}, dt)
	assert.Equal(t, "<f8", dt.String())

	_, err = ParseDtype("<f")
	require.Error(t, err)
	_, err = ParseDtype("?f8")
	require.Error(t, err)

	assert.Equal(t, "|V3", TypestrFor(Type(99), 3))
	assert.Equal(t, "|u1", TypestrFor(Uint8, 1))
}
