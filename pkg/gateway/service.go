// Package gateway orchestrates the addressing, geometry and payload codec
// around calls to the data fabric. Every operation is a single
// request/response against one injected fabric client.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/patina/dxspaces/pkg/fabric"
	"github.com/patina/dxspaces/pkg/geometry"
	"github.com/patina/dxspaces/pkg/naming"
	"github.com/patina/dxspaces/pkg/ndarray"
)

const tracerName = "github.com/patina/dxspaces/pkg/gateway"

// GetInput addresses a region to read
type GetInput struct {
	Namespace string
	Name      string
	Version   uint
	Box       geometry.BoundingBox
}

// GetResult carries the flattened array and the metadata to rebuild it
type GetResult struct {
	Data     []byte
	Metadata ndarray.Metadata
}

// PutInput carries a raw payload and how to frame it
type PutInput struct {
	Namespace   string
	Name        string
	Version     uint
	Box         geometry.BoundingBox
	ElementSize int
	ElementType ndarray.Type
	Data        []byte
}

// ExecInput addresses a region to run a serialized function against
type ExecInput struct {
	Namespace string
	Name      string
	Version   uint
	Box       geometry.BoundingBox
	Fn        []byte
}

// Service implements Gateway on top of a fabric client
type Service struct {
	client fabric.Client
	logger *slog.Logger
	tracer trace.Tracer
	wait   fabric.WaitMode
}

var _ Gateway = (*Service)(nil)

// Option configures a Service
type Option func(*Service)

// WithWaitMode sets the wait mode passed to every fabric read
func WithWaitMode(mode fabric.WaitMode) Option {
	return func(s *Service) { s.wait = mode }
}

// NewService creates a gateway over client. The client is owned by the
// caller and shared by every operation.
func NewService(client fabric.Client, logger *slog.Logger, opts ...Option) (*Service, error) {
	if client == nil {
		return nil, ErrNoClient
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		client: client,
		logger: logger,
		tracer: otel.Tracer(tracerName),
		wait:   fabric.WaitNone,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Get reads a region of an object version
func (s *Service) Get(ctx context.Context, in *GetInput) (res *GetResult, err error) {
	if err := validateBox(in.Box); err != nil {
		return nil, err
	}

	ref := BuildSingleRequest(in.Namespace, naming.Unescape(in.Name), in.Version, in.Box)
	ctx, span := s.start(ctx, "Get", ref)
	defer func() { finish(span, err) }()

	arr, err := s.client.Get(ctx, ref.Name, ref.Version, ref.LB, ref.UB, s.wait)
	if err != nil {
		return nil, s.fabricError("get", ref.Name, err)
	}
	if arr == nil {
		return nil, fmt.Errorf("%w: could not find the object %q version %d", ErrNotFound, ref.Name, ref.Version)
	}

	data, md := ndarray.Decode(arr, in.Box)
	return &GetResult{Data: data, Metadata: md}, nil
}

// Put frames a raw payload and writes it. Size validation happens before
// the fabric is contacted.
func (s *Service) Put(ctx context.Context, in *PutInput) (err error) {
	if err := validateBox(in.Box); err != nil {
		return err
	}
	arr, err := ndarray.Encode(in.Box, in.ElementSize, in.ElementType, in.Data)
	if err != nil {
		return err
	}

	ref := BuildSingleRequest(in.Namespace, naming.Unescape(in.Name), in.Version, in.Box)
	ctx, span := s.start(ctx, "Put", ref)
	defer func() { finish(span, err) }()

	if err := s.client.Put(ctx, arr, ref.Name, ref.Version, arr.Offset); err != nil {
		if errors.Is(err, fabric.ErrConnection) {
			return s.fabricError("put", ref.Name, err)
		}
		s.logger.Error("put failed", "name", ref.Name, "version", ref.Version, "error", err)
		return fmt.Errorf("%w: %w", ErrStorageWrite, err)
	}

	s.logger.Debug("stored object", "name", ref.Name, "version", ref.Version, "bytes", len(in.Data))
	return nil
}

// ListVariables returns every variable name known to the fabric
func (s *Service) ListVariables(ctx context.Context) (vars []string, err error) {
	ctx, span := s.tracer.Start(ctx, "gateway.ListVariables")
	defer func() { finish(span, err) }()

	vars, err = s.client.GetVars(ctx)
	if err != nil {
		if errors.Is(err, fabric.ErrConnection) {
			return nil, s.fabricError("list variables", "", err)
		}
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	if vars == nil {
		return nil, ErrQueryFailed
	}
	return vars, nil
}

// ListObjects returns every stored version of a variable with its bounds
func (s *Service) ListObjects(ctx context.Context, namespace, name string) (objs []DSObject, err error) {
	qualified := naming.Qualify(namespace, naming.Unescape(name))
	ctx, span := s.tracer.Start(ctx, "gateway.ListObjects", trace.WithAttributes(attribute.String("dxspaces.name", qualified)))
	defer func() { finish(span, err) }()

	infos, err := s.client.GetObjVars(ctx, qualified)
	if err != nil {
		return nil, s.fabricError("list objects", qualified, err)
	}
	if len(infos) == 0 {
		return nil, fmt.Errorf("%w: could not find any objects for %q", ErrNotFound, qualified)
	}

	prefix := ""
	if namespace != "" {
		prefix = namespace + naming.Separator
	}
	objs = make([]DSObject, 0, len(infos))
	for _, info := range infos {
		box, err := geometry.BoxFromCorners(info.LB, info.UB)
		if err != nil {
			return nil, fmt.Errorf("object %q version %d: %w", info.Name, info.Version, err)
		}
		obj := DSObject{Name: info.Name, Version: info.Version, Bounds: box.Bounds}
		if prefix != "" && strings.HasPrefix(info.Name, prefix) {
			obj.Name = strings.TrimPrefix(info.Name, prefix)
			obj.Namespace = namespace
		}
		objs = append(objs, obj)
	}
	return objs, nil
}

// Exec runs a serialized function against one region
func (s *Service) Exec(ctx context.Context, in *ExecInput) (out []byte, err error) {
	if err := validateBox(in.Box); err != nil {
		return nil, err
	}

	ref := BuildSingleRequest(in.Namespace, naming.Unescape(in.Name), in.Version, in.Box)
	ctx, span := s.start(ctx, "Exec", ref)
	defer func() { finish(span, err) }()

	s.logger.Info("remote execution", "name", ref.Name, "version", ref.Version, "fn_bytes", len(in.Fn))
	out, err = s.client.Exec(ctx, ref, in.Fn)
	if err != nil {
		return nil, s.fabricError("exec", ref.Name, err)
	}
	if out == nil {
		return nil, fmt.Errorf("%w: could not find the input data", ErrNotFound)
	}
	return out, nil
}

// VecExec runs a serialized function with several regions as positional
// arguments, in list order. An empty list is a valid call.
func (s *Service) VecExec(ctx context.Context, reqs RequestList, fn []byte) (out []byte, err error) {
	for i, req := range reqs.Requests {
		if err := validateBox(req.Box()); err != nil {
			return nil, fmt.Errorf("request %d: %w", i, err)
		}
	}

	refs, fn := BuildVectorRequest(reqs, fn)
	ctx, span := s.tracer.Start(ctx, "gateway.VecExec", trace.WithAttributes(attribute.Int("dxspaces.args", len(refs))))
	defer func() { finish(span, err) }()

	s.logger.Info("remote vector execution", "args", len(refs), "fn_bytes", len(fn))
	out, err = s.client.VecExec(ctx, refs, fn)
	if err != nil {
		return nil, s.fabricError("vector exec", "", err)
	}
	if out == nil {
		return nil, fmt.Errorf("%w: could not find the input data", ErrNotFound)
	}
	return out, nil
}

// Register associates an external dataset with the fabric
func (s *Service) Register(ctx context.Context, typ, name string, params map[string]any) (h *fabric.RegHandle, err error) {
	ctx, span := s.tracer.Start(ctx, "gateway.Register", trace.WithAttributes(
		attribute.String("dxspaces.reg_type", typ),
		attribute.String("dxspaces.reg_name", name),
	))
	defer func() { finish(span, err) }()

	if typ == "" || name == "" {
		return nil, fmt.Errorf("%w: registration type and name are required", ErrInvalidInput)
	}
	if params == nil {
		params = map[string]any{}
	}

	h, err = s.client.Register(ctx, typ, name, params)
	if err != nil {
		return nil, s.fabricError("register", name, err)
	}
	s.logger.Info("registered dataset", "type", typ, "name", name, "namespace", h.Namespace)
	return h, nil
}

// fabricError recategorizes a fabric error for callers without changing
// what it means.
func (s *Service) fabricError(op, name string, err error) error {
	var category error
	switch {
	case errors.Is(err, fabric.ErrConnection):
		category = ErrConnectionFailed
	case errors.Is(err, fabric.ErrModule):
		category = ErrRegistrationType
	case errors.Is(err, fabric.ErrRemoteFault):
		category = ErrRemoteFault
	case errors.Is(err, fabric.ErrNotFound):
		category = ErrNotFound
	case errors.Is(err, fabric.ErrWrite):
		category = ErrStorageWrite
	case errors.Is(err, geometry.ErrDimensionMismatch):
		category = ErrDimensionMismatch
	default:
		s.logger.Error("fabric call failed", "op", op, "name", name, "error", err)
		return fmt.Errorf("%s %s: %w", op, name, err)
	}
	s.logger.Warn("fabric call failed", "op", op, "name", name, "error", err)
	return fmt.Errorf("%w: %w", category, err)
}

func (s *Service) start(ctx context.Context, op string, ref fabric.ObjectRef) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "gateway."+op, trace.WithAttributes(
		attribute.String("dxspaces.name", ref.Name),
		attribute.Int("dxspaces.version", int(ref.Version)),
		attribute.Int("dxspaces.dims", len(ref.LB)),
	))
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func validateBox(box geometry.BoundingBox) error {
	if err := box.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return nil
}
