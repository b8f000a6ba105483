package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patina/dxspaces/pkg/fabric"
	"github.com/patina/dxspaces/pkg/ndarray"
)

func piece(offset int64, data ...byte) *ndarray.Array {
	return &ndarray.Array{ElementSize: 1, Shape: []int64{int64(len(data))}, Offset: []int64{offset}, Data: data}
}

func TestBackend_SaveCopies(t *testing.T) {
	b := New()
	ctx := context.Background()

	arr := piece(0, 1, 2)
	require.NoError(t, b.Save(ctx, "v", 0, arr))
	arr.Data[0] = 9
	arr.Offset[0] = 5

	got, err := b.Load(ctx, "v", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []byte{1, 2}, got[0].Data)
	assert.Equal(t, []int64{0}, got[0].Offset)
}

func TestBackend_WriteOrder(t *testing.T) {
	b := New()
	ctx := context.Background()

	for i := range 5 {
		require.NoError(t, b.Save(ctx, "v", 1, piece(int64(i), byte(i))))
	}
	got, err := b.Load(ctx, "v", 1)
	require.NoError(t, err)
	for i, p := range got {
		assert.Equal(t, []byte{byte(i)}, p.Data)
	}
}

func TestBackend_Concurrent(t *testing.T) {
	b := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Save(ctx, "v", uint(i%3), piece(int64(i), 1))
		}()
	}
	wg.Wait()

	total := 0
	for v := range uint(3) {
		got, err := b.Load(ctx, "v", v)
		require.NoError(t, err)
		total += len(got)
	}
	assert.Equal(t, 50, total)
}

func TestBackend_Listings(t *testing.T) {
	b := New()
	ctx := context.Background()

	require.NoError(t, b.Save(ctx, "b", 2, piece(4, 1)))
	require.NoError(t, b.Save(ctx, "a", 0, piece(0, 1)))
	require.NoError(t, b.Save(ctx, "b", 1, piece(7, 1, 2)))
	require.NoError(t, b.Save(ctx, "b", 1, piece(0, 1)))

	names, err := b.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	objs, err := b.Objects(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, []fabric.ObjectInfo{
		{Name: "b", Version: 1, LB: []int64{0}, UB: []int64{0}},
		{Name: "b", Version: 1, LB: []int64{7}, UB: []int64{8}},
		{Name: "b", Version: 2, LB: []int64{4}, UB: []int64{4}},
	}, objs)

	require.NoError(t, b.Close())
	names, err = b.Names(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}
