// Package store is a reference implementation of the fabric contract. It
// keeps every write as a placed array ("piece") in a Backend and assembles
// reads from the pieces overlapping the requested corners.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/patina/dxspaces/pkg/fabric"
	"github.com/patina/dxspaces/pkg/geometry"
	"github.com/patina/dxspaces/pkg/ndarray"
)

// Backend persists pieces. Implementations must be safe for concurrent use
// and return pieces of one object version in write order.
type Backend interface {
	Save(ctx context.Context, name string, version uint, arr *ndarray.Array) error
	Load(ctx context.Context, name string, version uint) ([]*ndarray.Array, error)
	Names(ctx context.Context) ([]string, error)
	Objects(ctx context.Context, name string) ([]fabric.ObjectInfo, error)
	Close() error
}

// DefaultPollInterval is how often a waiting read checks for new data.
const DefaultPollInterval = 100 * time.Millisecond

// Store implements fabric.Client over a Backend
type Store struct {
	backend  Backend
	runner   fabric.Runner
	registry *Registry
	logger   *slog.Logger
	poll     time.Duration
}

var _ fabric.Client = (*Store)(nil)

// Option configures a Store
type Option func(*Store)

// WithRunner sets the runner used by Exec and VecExec
func WithRunner(r fabric.Runner) Option {
	return func(s *Store) { s.runner = r }
}

// WithLogger sets the store logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithModules sets the registration types the store accepts
func WithModules(types ...string) Option {
	return func(s *Store) { s.registry = NewRegistry(types...) }
}

// WithPollInterval sets how often waiting reads poll the backend
func WithPollInterval(d time.Duration) Option {
	return func(s *Store) { s.poll = d }
}

// New creates a store over backend
func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend:  backend,
		registry: NewRegistry(),
		logger:   slog.Default(),
		poll:     DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry exposes the store's registrations
func (s *Store) Registry() *Registry { return s.registry }

// Get assembles the region [lb, ub] of an object version. It returns nil
// when no stored piece overlaps the region. With WaitForever it polls until
// data appears or ctx is done.
func (s *Store) Get(ctx context.Context, name string, version uint, lb, ub []int64, wait fabric.WaitMode) (*ndarray.Array, error) {
	if len(lb) != len(ub) {
		return nil, fmt.Errorf("%w: got %d and %d", geometry.ErrDimensionMismatch, len(lb), len(ub))
	}

	for {
		arr, err := s.assemble(ctx, name, version, lb, ub)
		if err != nil || arr != nil || wait != fabric.WaitForever {
			return arr, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.poll):
		}
	}
}

func (s *Store) assemble(ctx context.Context, name string, version uint, lb, ub []int64) (*ndarray.Array, error) {
	pieces, err := s.backend.Load(ctx, name, version)
	if err != nil {
		return nil, err
	}

	shape := make([]int64, len(lb))
	for i := range lb {
		shape[i] = max(ub[i]-lb[i]+1, 0)
	}
	out := &ndarray.Array{Shape: shape, Offset: append([]int64{}, lb...)}

	found := false
	for _, p := range pieces {
		if len(p.Shape) != len(shape) {
			continue
		}
		if _, _, ok := ndarray.Intersect(out, p); !ok {
			continue
		}
		if !found {
			out.Type = p.Type
			out.ElementSize = p.ElementSize
			size, err := out.ByteLen()
			if err != nil {
				return nil, fmt.Errorf("assembling %q version %d: %w", name, version, err)
			}
			out.Data = make([]byte, size)
			found = true
		}
		if _, err := ndarray.Overlay(out, p); err != nil {
			return nil, fmt.Errorf("assembling %q version %d: %w", name, version, err)
		}
	}
	if !found {
		return nil, nil
	}
	return out, nil
}

// Put stores arr at offset
func (s *Store) Put(ctx context.Context, arr *ndarray.Array, name string, version uint, offset []int64) error {
	if err := arr.Validate(); err != nil {
		return fmt.Errorf("%w: %w", fabric.ErrWrite, err)
	}
	if len(offset) != len(arr.Shape) {
		return fmt.Errorf("%w: offset has %d dimensions, array has %d", fabric.ErrWrite, len(offset), len(arr.Shape))
	}

	placed := *arr
	placed.Offset = append([]int64{}, offset...)
	if err := s.backend.Save(ctx, name, version, &placed); err != nil {
		return fmt.Errorf("%w: %w", fabric.ErrWrite, err)
	}
	s.logger.Debug("stored piece", "name", name, "version", version, "shape", arr.Shape, "offset", offset)
	return nil
}

// GetVars lists every stored variable name
func (s *Store) GetVars(ctx context.Context) ([]string, error) {
	names, err := s.backend.Names(ctx)
	if err != nil {
		return nil, err
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// GetObjVars lists the stored pieces of a variable
func (s *Store) GetObjVars(ctx context.Context, name string) ([]fabric.ObjectInfo, error) {
	return s.backend.Objects(ctx, name)
}

// Exec runs fn with the region as its only argument. It returns nil when
// the region holds no data.
func (s *Store) Exec(ctx context.Context, ref fabric.ObjectRef, fn []byte) ([]byte, error) {
	return s.VecExec(ctx, []fabric.ObjectRef{ref}, fn)
}

// VecExec runs fn with every region as a positional argument. Arguments are
// fetched concurrently; a missing argument makes the whole call return nil.
func (s *Store) VecExec(ctx context.Context, refs []fabric.ObjectRef, fn []byte) ([]byte, error) {
	if s.runner == nil {
		return nil, fmt.Errorf("%w: no function runner configured", fabric.ErrRemoteFault)
	}

	args := make([]*ndarray.Array, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	for i, ref := range refs {
		g.Go(func() error {
			arr, err := s.Get(gctx, ref.Name, ref.Version, ref.LB, ref.UB, fabric.WaitNone)
			args[i] = arr
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, arr := range args {
		if arr == nil {
			s.logger.Info("execution input missing", "arg", i, "name", refs[i].Name, "version", refs[i].Version)
			return nil, nil
		}
	}

	out, err := s.runner.Run(ctx, fn, args)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", fabric.ErrRemoteFault, err)
	}
	return out, nil
}

// Register records an external dataset under a module type
func (s *Store) Register(ctx context.Context, typ, name string, params map[string]any) (*fabric.RegHandle, error) {
	reg, err := s.registry.Register(typ, name, params)
	if err != nil {
		return nil, err
	}
	return reg.Handle(), nil
}

// Close closes the backend
func (s *Store) Close() error {
	return s.backend.Close()
}
