package remote

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patina/dxspaces/internal/store"
	"github.com/patina/dxspaces/internal/store/memory"
	"github.com/patina/dxspaces/pkg/fabric"
	"github.com/patina/dxspaces/pkg/geometry"
	"github.com/patina/dxspaces/pkg/ndarray"
)

type echoRunner struct{}

func (echoRunner) Run(ctx context.Context, fn []byte, args []*ndarray.Array) ([]byte, error) {
	switch string(fn) {
	case "boom":
		return nil, errors.New("traceback")
	case "crash":
		panic("runner crashed")
	}
	var out []byte
	for _, a := range args {
		out = append(out, a.Data...)
	}
	return out, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// dropper lets a test sever every open websocket from the node side
type dropper struct {
	next    http.Handler
	mu      sync.Mutex
	cancels []context.CancelFunc
}

func (d *dropper) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	d.mu.Lock()
	d.cancels = append(d.cancels, cancel)
	d.mu.Unlock()
	d.next.ServeHTTP(w, r.WithContext(ctx))
}

func (d *dropper) dropAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, cancel := range d.cancels {
		cancel()
	}
	d.cancels = nil
}

type testNode struct {
	url   string
	store *store.Store
	conns *dropper
}

func startNode(t *testing.T, opts ...ServerOption) *testNode {
	t.Helper()
	st := store.New(memory.New(), store.WithRunner(echoRunner{}), store.WithLogger(quietLogger()))

	conns := &dropper{next: NewServer(st, quietLogger(), opts...)}
	mux := http.NewServeMux()
	mux.Handle(Path, conns)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &testNode{url: "ws" + strings.TrimPrefix(srv.URL, "http") + Path, store: st, conns: conns}
}

func dial(t *testing.T, url string, opts ...Option) *Client {
	t.Helper()
	c, err := Dial(context.Background(), url, append([]Option{WithLogger(quietLogger())}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func setup(t *testing.T) (*Client, *store.Store) {
	t.Helper()
	node := startNode(t)
	return dial(t, node.url), node.store
}

func TestClient_PutGet(t *testing.T) {
	c, _ := setup(t)
	ctx := context.Background()

	arr, err := ndarray.Encode(geometry.Box([2]int64{2, 2}, [2]int64{0, 2}), 2, ndarray.Int16, []byte{1, 0, 2, 0, 3, 0, 4, 0})
	require.NoError(t, err)
	require.NoError(t, c.Put(ctx, arr, `ns\v`, 4, arr.Offset))

	got, err := c.Get(ctx, `ns\v`, 4, []int64{2, 1}, []int64{3, 1}, fabric.WaitNone)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ndarray.Int16, got.Type)
	assert.Equal(t, 2, got.ElementSize)
	assert.Equal(t, []int64{2, 1}, got.Shape)
	assert.Equal(t, []byte{2, 0, 4, 0}, got.Data)

	missing, err := c.Get(ctx, `ns\v`, 5, []int64{2, 1}, []int64{3, 1}, fabric.WaitNone)
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = c.Get(ctx, `ns\v`, 4, []int64{0}, []int64{0, 0}, fabric.WaitNone)
	require.ErrorIs(t, err, geometry.ErrDimensionMismatch)
}

func TestClient_PutRejected(t *testing.T) {
	c, _ := setup(t)

	bad := &ndarray.Array{ElementSize: 4, Shape: []int64{2}, Data: []byte{1}}
	err := c.Put(context.Background(), bad, "v", 0, []int64{0})
	require.ErrorIs(t, err, fabric.ErrWrite)
}

func TestClient_Listings(t *testing.T) {
	c, st := setup(t)
	ctx := context.Background()

	vars, err := c.GetVars(ctx)
	require.NoError(t, err)
	assert.Empty(t, vars)

	arr := &ndarray.Array{ElementSize: 1, Shape: []int64{3}, Data: []byte{1, 2, 3}}
	require.NoError(t, st.Put(ctx, arr, "a", 1, []int64{7}))

	vars, err = c.GetVars(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, vars)

	objs, err := c.GetObjVars(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []fabric.ObjectInfo{{Name: "a", Version: 1, LB: []int64{7}, UB: []int64{9}}}, objs)
}

func TestClient_Exec(t *testing.T) {
	c, st := setup(t)
	ctx := context.Background()

	require.NoError(t, st.Put(ctx, &ndarray.Array{ElementSize: 1, Shape: []int64{2}, Data: []byte{5, 6}}, "a", 0, []int64{0}))
	require.NoError(t, st.Put(ctx, &ndarray.Array{ElementSize: 1, Shape: []int64{1}, Data: []byte{7}}, "b", 0, []int64{0}))

	out, err := c.Exec(ctx, fabric.ObjectRef{Name: "a", LB: []int64{1}, UB: []int64{1}}, []byte("fn"))
	require.NoError(t, err)
	assert.Equal(t, []byte{6}, out)

	out, err = c.VecExec(ctx, []fabric.ObjectRef{
		{Name: "b", LB: []int64{0}, UB: []int64{0}},
		{Name: "a", LB: []int64{0}, UB: []int64{1}},
	}, []byte("fn"))
	require.NoError(t, err)
	assert.Equal(t, []byte{7, 5, 6}, out)

	out, err = c.Exec(ctx, fabric.ObjectRef{Name: "nope", LB: []int64{0}, UB: []int64{0}}, []byte("fn"))
	require.NoError(t, err)
	assert.Nil(t, out)

	_, err = c.VecExec(ctx, nil, []byte("boom"))
	require.ErrorIs(t, err, fabric.ErrRemoteFault)
}

func TestClient_Register(t *testing.T) {
	c, _ := setup(t)
	ctx := context.Background()

	h, err := c.Register(ctx, "url", "site", map[string]any{"href": "https://example.org"})
	require.NoError(t, err)
	assert.Equal(t, store.NamespaceFor("url", "site"), h.Namespace)
	assert.Equal(t, "https://example.org", h.Parameters["href"])

	_, err = c.Register(ctx, "hdf5", "site", nil)
	require.ErrorIs(t, err, fabric.ErrModule)
}

func TestClient_WaitingGetDoesNotBlockOthers(t *testing.T) {
	c, st := setup(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type result struct {
		arr *ndarray.Array
		err error
	}
	waiting := make(chan result, 1)
	go func() {
		arr, err := c.Get(ctx, "later", 0, []int64{0}, []int64{0}, fabric.WaitForever)
		waiting <- result{arr, err}
	}()

	_, err := c.GetVars(ctx)
	require.NoError(t, err)

	require.NoError(t, st.Put(ctx, &ndarray.Array{ElementSize: 1, Shape: []int64{1}, Data: []byte{3}}, "later", 0, []int64{0}))
	r := <-waiting
	require.NoError(t, r.err)
	assert.Equal(t, []byte{3}, r.arr.Data)
}

func TestClient_Closed(t *testing.T) {
	c, _ := setup(t)
	require.NoError(t, c.Close())

	_, err := c.GetVars(context.Background())
	require.ErrorIs(t, err, fabric.ErrConnection)
}

func TestClient_CloseIsIdempotent(t *testing.T) {
	c, _ := setup(t)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}

func TestClient_RedialsAfterDrop(t *testing.T) {
	node := startNode(t)
	c := dial(t, node.url, WithRetries(3))
	ctx := context.Background()

	arr := &ndarray.Array{Type: ndarray.Uint8, ElementSize: 1, Shape: []int64{2}, Offset: []int64{0}, Data: []byte{8, 9}}
	require.NoError(t, c.Put(ctx, arr, "kept", 0, arr.Offset))

	node.conns.dropAll()

	// calls racing the drop may fail once; a later call must get through
	require.Eventually(t, func() bool {
		_, err := c.GetVars(ctx)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	got, err := c.Get(ctx, "kept", 0, []int64{0}, []int64{1}, fabric.WaitNone)
	require.NoError(t, err)
	assert.Equal(t, []byte{8, 9}, got.Data)
}

func TestClient_RecoversFromOversizedMessage(t *testing.T) {
	node := startNode(t, WithMessageLimit(4096))
	c := dial(t, node.url)
	ctx := context.Background()

	big := &ndarray.Array{Type: ndarray.Uint8, ElementSize: 1, Shape: []int64{8 << 10}, Offset: []int64{0}, Data: make([]byte, 8<<10)}
	err := c.Put(ctx, big, "big", 0, big.Offset)
	require.ErrorIs(t, err, fabric.ErrConnection)

	for range 3 {
		vars, err := c.GetVars(ctx)
		require.NoError(t, err)
		assert.Empty(t, vars)
	}
}

func TestClient_PutOverPayloadLimit(t *testing.T) {
	node := startNode(t)
	c := dial(t, node.url, WithReadLimit(1<<20))
	ctx := context.Background()

	limit := MaxPayload(1 << 20)
	over := &ndarray.Array{Type: ndarray.Uint8, ElementSize: 1, Shape: []int64{limit + 1}, Offset: []int64{0}, Data: make([]byte, limit+1)}
	err := c.Put(ctx, over, "v", 0, over.Offset)
	require.ErrorIs(t, err, fabric.ErrWrite)

	// rejected locally, the connection stays up
	vars, err := c.GetVars(ctx)
	require.NoError(t, err)
	assert.Empty(t, vars)
}

func TestMaxPayload_FitsOneMessage(t *testing.T) {
	const limit = 256 << 10
	n := MaxPayload(limit)
	require.Positive(t, n)

	params, err := json.Marshal(putParams{
		Name:   "ns\\variable",
		Offset: []int64{0, 0, 0},
		Array:  &wireArray{Type: ndarray.Float64, ElementSize: 8, Shape: []int64{1, 1, n / 8}, Offset: []int64{0, 0, 0}, Data: make([]byte, n)},
	})
	require.NoError(t, err)
	msg, err := json.Marshal(Request{ID: "0123abcd-18446744073709551615", Op: OpPut, Params: params})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(msg), limit)

	assert.Zero(t, MaxPayload(1024))
}

func TestServer_RecoversFromPanickingCall(t *testing.T) {
	c, st := setup(t)
	ctx := context.Background()
	require.NoError(t, st.Put(ctx, &ndarray.Array{ElementSize: 1, Shape: []int64{1}, Data: []byte{1}}, "a", 0, []int64{0}))

	_, err := c.Exec(ctx, fabric.ObjectRef{Name: "a", LB: []int64{0}, UB: []int64{0}}, []byte("crash"))
	require.ErrorIs(t, err, fabric.ErrRemoteFault)

	out, err := c.Exec(ctx, fabric.ObjectRef{Name: "a", LB: []int64{0}, UB: []int64{0}}, []byte("fn"))
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, out)
}

func TestDial_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + Path
	srv.Close()

	_, err := Dial(context.Background(), url, WithRetries(1), WithLogger(quietLogger()))
	require.ErrorIs(t, err, fabric.ErrConnection)
}

func TestErrorKinds(t *testing.T) {
	for _, k := range kinds {
		err := errorFrom(Response{Error: "x", Kind: kindOf(k.err)})
		assert.ErrorIs(t, err, k.err)
	}
	assert.NoError(t, errorFrom(Response{}))
	assert.EqualError(t, errorFrom(Response{Error: "plain"}), "plain")
}
