package gateway

import (
	"context"

	"github.com/patina/dxspaces/pkg/fabric"
)

// Gateway defines the operations exposed to callers
type Gateway interface {
	Get(ctx context.Context, in *GetInput) (*GetResult, error)
	Put(ctx context.Context, in *PutInput) error
	ListVariables(ctx context.Context) ([]string, error)
	ListObjects(ctx context.Context, namespace, name string) ([]DSObject, error)
	Exec(ctx context.Context, in *ExecInput) ([]byte, error)
	VecExec(ctx context.Context, reqs RequestList, fn []byte) ([]byte, error)
	Register(ctx context.Context, typ, name string, params map[string]any) (*fabric.RegHandle, error)
}
