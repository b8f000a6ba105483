package testutil

import (
	"context"
	"sync"

	"github.com/patina/dxspaces/pkg/fabric"
	"github.com/patina/dxspaces/pkg/ndarray"
)

// Call records one invocation of the mock client
type Call struct {
	Op      string
	Name    string
	Version uint
	LB, UB  []int64
	Offset  []int64
	Refs    []fabric.ObjectRef
	Fn      []byte
	Wait    fabric.WaitMode
	Params  map[string]any
}

// MockClient is a test implementation of fabric.Client. Each *Result field
// is returned as is, each *Err field short-circuits its operation.
type MockClient struct {
	GetResult     *ndarray.Array
	VarsResult    []string
	ObjVarsResult []fabric.ObjectInfo
	ExecResult    []byte
	RegResult     *fabric.RegHandle

	GetErr      error
	PutErr      error
	VarsErr     error
	ObjVarsErr  error
	ExecErr     error
	RegisterErr error

	mu     sync.Mutex
	calls  []Call
	closed bool
}

var _ fabric.Client = (*MockClient)(nil)

// NewMockClient creates a new mock client
func NewMockClient() *MockClient {
	return &MockClient{}
}

// Calls returns a copy of the recorded calls
func (m *MockClient) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// LastCall returns the most recent call, or a zero Call
func (m *MockClient) LastCall() Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return Call{}
	}
	return m.calls[len(m.calls)-1]
}

func (m *MockClient) record(c Call) {
	m.mu.Lock()
	m.calls = append(m.calls, c)
	m.mu.Unlock()
}

// Get mock implementation
func (m *MockClient) Get(ctx context.Context, name string, version uint, lb, ub []int64, wait fabric.WaitMode) (*ndarray.Array, error) {
	m.record(Call{Op: "Get", Name: name, Version: version, LB: lb, UB: ub, Wait: wait})
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	return m.GetResult, nil
}

// Put mock implementation
func (m *MockClient) Put(ctx context.Context, arr *ndarray.Array, name string, version uint, offset []int64) error {
	m.record(Call{Op: "Put", Name: name, Version: version, Offset: offset})
	return m.PutErr
}

// GetVars mock implementation
func (m *MockClient) GetVars(ctx context.Context) ([]string, error) {
	m.record(Call{Op: "GetVars"})
	if m.VarsErr != nil {
		return nil, m.VarsErr
	}
	return m.VarsResult, nil
}

// GetObjVars mock implementation
func (m *MockClient) GetObjVars(ctx context.Context, name string) ([]fabric.ObjectInfo, error) {
	m.record(Call{Op: "GetObjVars", Name: name})
	if m.ObjVarsErr != nil {
		return nil, m.ObjVarsErr
	}
	return m.ObjVarsResult, nil
}

// Exec mock implementation
func (m *MockClient) Exec(ctx context.Context, ref fabric.ObjectRef, fn []byte) ([]byte, error) {
	m.record(Call{Op: "Exec", Name: ref.Name, Version: ref.Version, LB: ref.LB, UB: ref.UB, Fn: fn})
	if m.ExecErr != nil {
		return nil, m.ExecErr
	}
	return m.ExecResult, nil
}

// VecExec mock implementation
func (m *MockClient) VecExec(ctx context.Context, refs []fabric.ObjectRef, fn []byte) ([]byte, error) {
	m.record(Call{Op: "VecExec", Refs: refs, Fn: fn})
	if m.ExecErr != nil {
		return nil, m.ExecErr
	}
	return m.ExecResult, nil
}

// Register mock implementation
func (m *MockClient) Register(ctx context.Context, typ, name string, params map[string]any) (*fabric.RegHandle, error) {
	m.record(Call{Op: "Register", Name: typ + "/" + name, Params: params})
	if m.RegisterErr != nil {
		return nil, m.RegisterErr
	}
	if m.RegResult != nil {
		return m.RegResult, nil
	}
	return &fabric.RegHandle{Namespace: typ + "-" + name, Parameters: params}, nil
}

// Close mock implementation
func (m *MockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called
func (m *MockClient) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
