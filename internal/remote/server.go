package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	ws "github.com/coder/websocket"

	"github.com/patina/dxspaces/pkg/fabric"
)

// Server exposes a fabric.Client to remote gateways
type Server struct {
	client    fabric.Client
	logger    *slog.Logger
	readLimit int64
}

// ServerOption configures a Server
type ServerOption func(*Server)

// WithMessageLimit sets the largest request the server accepts. A larger
// request closes that gateway's connection.
func WithMessageLimit(n int64) ServerOption {
	return func(s *Server) { s.readLimit = n }
}

// NewServer creates a server answering requests with client
func NewServer(client fabric.Client, logger *slog.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{client: client, logger: logger, readLimit: DefaultReadLimit}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServeHTTP upgrades the request and serves protocol messages until the
// peer goes away. Each request is handled on its own goroutine so a
// waiting read does not hold up the connection.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Accept(w, r, nil)
	if err != nil {
		s.logger.Error("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(s.readLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	s.logger.Info("gateway connected", "remote", r.RemoteAddr)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if status := ws.CloseStatus(err); status == ws.StatusNormalClosure || status == ws.StatusGoingAway {
				s.logger.Info("gateway disconnected", "remote", r.RemoteAddr)
			} else if !errors.Is(err, context.Canceled) {
				s.logger.Warn("connection read failed", "remote", r.RemoteAddr, "error", err)
			}
			return
		}

		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			s.logger.Warn("dropping malformed request", "remote", r.RemoteAddr, "error", err)
			continue
		}

		go func() {
			out, err := json.Marshal(s.handle(ctx, req))
			if err != nil {
				s.logger.Error("failed to encode response", "op", req.Op, "error", err)
				return
			}
			if err := conn.Write(ctx, ws.MessageBinary, out); err != nil {
				s.logger.Debug("failed to write response", "op", req.Op, "error", err)
			}
		}()
	}
}

func (s *Server) handle(ctx context.Context, req Request) (resp Response) {
	var (
		result any
		err    error
	)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("request panicked", "op", req.Op, "id", req.ID, "panic", r, "stack", string(debug.Stack()))
			resp = Response{ID: req.ID, Error: fmt.Sprintf("%s: internal error: %v", req.Op, r), Kind: KindRemoteFault}
		}
	}()

	switch req.Op {
	case OpGet:
		var p getParams
		if err = json.Unmarshal(req.Params, &p); err == nil {
			arr, gerr := s.client.Get(ctx, p.Name, p.Version, p.LB, p.UB, p.Wait)
			result, err = toWire(arr), gerr
		}
	case OpPut:
		var p putParams
		if err = json.Unmarshal(req.Params, &p); err == nil {
			if p.Array == nil {
				err = fmt.Errorf("%w: missing array", fabric.ErrWrite)
			} else {
				err = s.client.Put(ctx, p.Array.array(), p.Name, p.Version, p.Offset)
			}
		}
	case OpGetVars:
		result, err = s.client.GetVars(ctx)
	case OpGetObjVars:
		var p objVarsParams
		if err = json.Unmarshal(req.Params, &p); err == nil {
			result, err = s.client.GetObjVars(ctx, p.Name)
		}
	case OpExec:
		var p execParams
		if err = json.Unmarshal(req.Params, &p); err == nil {
			if len(p.Refs) != 1 {
				err = fmt.Errorf("exec takes exactly one reference, got %d", len(p.Refs))
			} else {
				result, err = s.client.Exec(ctx, p.Refs[0], p.Fn)
			}
		}
	case OpVecExec:
		var p execParams
		if err = json.Unmarshal(req.Params, &p); err == nil {
			result, err = s.client.VecExec(ctx, p.Refs, p.Fn)
		}
	case OpRegister:
		var p registerParams
		if err = json.Unmarshal(req.Params, &p); err == nil {
			result, err = s.client.Register(ctx, p.Type, p.Name, p.Params)
		}
	default:
		err = fmt.Errorf("unknown operation %q", req.Op)
	}

	if err != nil {
		s.logger.Debug("request failed", "op", req.Op, "id", req.ID, "error", err)
		return Response{ID: req.ID, Error: err.Error(), Kind: kindOf(err)}
	}
	if result == nil {
		return Response{ID: req.ID}
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return Response{ID: req.ID, Error: err.Error()}
	}
	return Response{ID: req.ID, Result: raw}
}
