// Package remote carries the fabric contract over a websocket so the
// gateway and a storage node can run as separate processes. Every message
// is one JSON envelope; array payloads travel base64-encoded inside it.
package remote

import (
	"errors"

	jsoniter "github.com/json-iterator/go"

	"github.com/patina/dxspaces/pkg/fabric"
	"github.com/patina/dxspaces/pkg/geometry"
	"github.com/patina/dxspaces/pkg/ndarray"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Path is the HTTP path a node serves the protocol on
const Path = "/fabric"

// Operation names
const (
	OpGet        = "get"
	OpPut        = "put"
	OpGetVars    = "get_vars"
	OpGetObjVars = "get_obj_vars"
	OpExec       = "exec"
	OpVecExec    = "vec_exec"
	OpRegister   = "register"
)

// Error kinds, one per fabric error category
const (
	KindModule      = "module"
	KindRemoteFault = "remote_fault"
	KindWrite       = "write"
	KindNotFound    = "not_found"
	KindDimension   = "dimension"
)

// Request is sent by the client
type Request struct {
	ID     string              `json:"id"`
	Op     string              `json:"op"`
	Params jsoniter.RawMessage `json:"params,omitempty"`
}

// Response answers the Request with the same ID
type Response struct {
	ID     string              `json:"id"`
	Result jsoniter.RawMessage `json:"result,omitempty"`
	Error  string              `json:"error,omitempty"`
	Kind   string              `json:"kind,omitempty"`
}

type wireArray struct {
	Type        ndarray.Type `json:"type"`
	ElementSize int          `json:"element_size"`
	Shape       []int64      `json:"shape"`
	Offset      []int64      `json:"offset,omitempty"`
	Data        []byte       `json:"data"`
}

func toWire(a *ndarray.Array) *wireArray {
	if a == nil {
		return nil
	}
	return &wireArray{Type: a.Type, ElementSize: a.ElementSize, Shape: a.Shape, Offset: a.Offset, Data: a.Data}
}

func (w *wireArray) array() *ndarray.Array {
	if w == nil {
		return nil
	}
	return &ndarray.Array{Type: w.Type, ElementSize: w.ElementSize, Shape: w.Shape, Offset: w.Offset, Data: w.Data}
}

type getParams struct {
	Name    string          `json:"name"`
	Version uint            `json:"version"`
	LB      []int64         `json:"lb"`
	UB      []int64         `json:"ub"`
	Wait    fabric.WaitMode `json:"wait"`
}

type putParams struct {
	Name    string     `json:"name"`
	Version uint       `json:"version"`
	Offset  []int64    `json:"offset"`
	Array   *wireArray `json:"array"`
}

type objVarsParams struct {
	Name string `json:"name"`
}

type execParams struct {
	Refs []fabric.ObjectRef `json:"refs"`
	Fn   []byte             `json:"fn"`
}

type registerParams struct {
	Type   string         `json:"type"`
	Name   string         `json:"name"`
	Params map[string]any `json:"params"`
}

var kinds = []struct {
	kind string
	err  error
}{
	{KindModule, fabric.ErrModule},
	{KindRemoteFault, fabric.ErrRemoteFault},
	{KindWrite, fabric.ErrWrite},
	{KindNotFound, fabric.ErrNotFound},
	{KindDimension, geometry.ErrDimensionMismatch},
}

func kindOf(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return ""
}

// remoteError is an error reported by the node, re-wrapped in its fabric
// category on the client side
type remoteError struct {
	msg      string
	category error
}

func (e *remoteError) Error() string { return e.msg }

func (e *remoteError) Unwrap() error { return e.category }

func errorFrom(resp Response) error {
	if resp.Error == "" {
		return nil
	}
	for _, k := range kinds {
		if k.kind == resp.Kind {
			return &remoteError{msg: resp.Error, category: k.err}
		}
	}
	return &remoteError{msg: resp.Error}
}
