// Package fabric defines the contract between the gateway and the data
// fabric: a versioned, namespaced store of n-dimensional arrays addressed
// by qualified name, version and inclusive corners.
package fabric

import (
	"context"
	"errors"

	"github.com/patina/dxspaces/pkg/ndarray"
)

// Store-level error categories. Implementations wrap these so callers can
// tell them apart with errors.Is.
var (
	// ErrModule indicates a registration type with no module to serve it
	ErrModule = errors.New("unknown registration module")

	// ErrRemoteFault indicates the module or function run by the fabric failed
	ErrRemoteFault = errors.New("remote fault")

	// ErrConnection indicates the fabric could not be reached
	ErrConnection = errors.New("fabric connection failed")

	// ErrWrite indicates the fabric rejected or failed a write
	ErrWrite = errors.New("fabric write failed")

	// ErrNotFound indicates no data for an execution input
	ErrNotFound = errors.New("no data found")
)

// WaitMode tells the fabric whether a read waits for data to appear.
// The gateway passes it through without interpreting it.
type WaitMode int

const (
	// WaitNone fails fast when the data is not available.
	WaitNone WaitMode = 0
	// WaitForever blocks until the data is available.
	WaitForever WaitMode = -1
)

// ObjectRef is a fabric-native reference to one region of one object
// version.
type ObjectRef struct {
	Name    string  `json:"name"`
	Version uint    `json:"version"`
	LB      []int64 `json:"lb"`
	UB      []int64 `json:"ub"`
}

// ObjectInfo describes one stored object version from a listing.
type ObjectInfo struct {
	Name    string  `json:"name"`
	Version uint    `json:"version"`
	LB      []int64 `json:"lb"`
	UB      []int64 `json:"ub"`
}

// RegHandle is returned by a registration: the namespace to query the
// registered dataset under and the parameters stored with it.
type RegHandle struct {
	Namespace  string         `json:"namespace"`
	Parameters map[string]any `json:"parameters"`
}

// Client is the fabric client the gateway is built on. A nil array from
// Get, a nil slice from GetVars and a nil result from Exec or VecExec are
// the fabric's "nothing there" answers and are not errors.
type Client interface {
	Get(ctx context.Context, name string, version uint, lb, ub []int64, wait WaitMode) (*ndarray.Array, error)
	Put(ctx context.Context, arr *ndarray.Array, name string, version uint, offset []int64) error
	GetVars(ctx context.Context) ([]string, error)
	GetObjVars(ctx context.Context, name string) ([]ObjectInfo, error)
	Exec(ctx context.Context, ref ObjectRef, fn []byte) ([]byte, error)
	VecExec(ctx context.Context, refs []ObjectRef, fn []byte) ([]byte, error)
	Register(ctx context.Context, typ, name string, params map[string]any) (*RegHandle, error)
	Close() error
}

// Runner invokes a serialized function with arrays as positional
// arguments and returns the serialized result. The blob is opaque to
// everything but the Runner.
type Runner interface {
	Run(ctx context.Context, fn []byte, args []*ndarray.Array) ([]byte, error)
}
