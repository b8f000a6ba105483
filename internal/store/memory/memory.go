// Package memory is an in-process piece backend for the reference store.
package memory

import (
	"cmp"
	"context"
	"slices"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/patina/dxspaces/internal/store"
	"github.com/patina/dxspaces/pkg/fabric"
	"github.com/patina/dxspaces/pkg/ndarray"
)

type objectKey struct {
	name    string
	version uint
}

// Backend keeps pieces in a concurrent map keyed by name and version
type Backend struct {
	pieces *xsync.MapOf[objectKey, []*ndarray.Array]
}

var _ store.Backend = (*Backend)(nil)

// New creates an empty backend
func New() *Backend {
	return &Backend{
		pieces: xsync.NewMapOf[objectKey, []*ndarray.Array](),
	}
}

func (b *Backend) Save(ctx context.Context, name string, version uint, arr *ndarray.Array) error {
	piece := clone(arr)
	b.pieces.Compute(objectKey{name, version}, func(old []*ndarray.Array, loaded bool) ([]*ndarray.Array, bool) {
		return append(slices.Clip(old), piece), false
	})
	return nil
}

func (b *Backend) Load(ctx context.Context, name string, version uint) ([]*ndarray.Array, error) {
	pieces, _ := b.pieces.Load(objectKey{name, version})
	return pieces, nil
}

func (b *Backend) Names(ctx context.Context) ([]string, error) {
	seen := map[string]struct{}{}
	b.pieces.Range(func(k objectKey, _ []*ndarray.Array) bool {
		seen[k.name] = struct{}{}
		return true
	})
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	slices.Sort(names)
	return names, nil
}

func (b *Backend) Objects(ctx context.Context, name string) ([]fabric.ObjectInfo, error) {
	var objs []fabric.ObjectInfo
	b.pieces.Range(func(k objectKey, pieces []*ndarray.Array) bool {
		if k.name != name {
			return true
		}
		for _, p := range pieces {
			objs = append(objs, fabric.ObjectInfo{Name: k.name, Version: k.version, LB: p.Lower(), UB: p.Upper()})
		}
		return true
	})
	slices.SortStableFunc(objs, func(a, b fabric.ObjectInfo) int {
		if a.Version != b.Version {
			return cmp.Compare(a.Version, b.Version)
		}
		return slices.Compare(a.LB, b.LB)
	})
	return objs, nil
}

func (b *Backend) Close() error {
	b.pieces.Clear()
	return nil
}

func clone(arr *ndarray.Array) *ndarray.Array {
	return &ndarray.Array{
		Type:        arr.Type,
		ElementSize: arr.ElementSize,
		Shape:       slices.Clone(arr.Shape),
		Offset:      slices.Clone(arr.Offset),
		Data:        slices.Clone(arr.Data),
	}
}

