package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/cenkalti/backoff/v4"
	ws "github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/patina/dxspaces/pkg/fabric"
	"github.com/patina/dxspaces/pkg/ndarray"
)

// DefaultReadLimit bounds a single protocol message
const DefaultReadLimit = 1 << 30

// envelopeHeadroom covers the request framing around an encoded array
const envelopeHeadroom = 64 << 10

// MaxPayload is the largest array, in raw bytes, that fits in one message
// under readLimit. Array data travels base64 encoded, so it grows by a third.
func MaxPayload(readLimit int64) int64 {
	return max(readLimit/4*3-envelopeHeadroom, 0)
}

var errClientClosed = errors.New("client closed")

// session is one websocket connection and its reader
type session struct {
	conn   *ws.Conn
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	err    error
}

func (s *session) fail(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}

func (s *session) lost() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Client is a fabric.Client talking to a node over a websocket.
// Requests are multiplexed by ID and may be issued concurrently. A dropped
// connection fails the calls in flight; the next call dials again.
type Client struct {
	url       string
	idPrefix  string
	serial    atomic.Uint64
	listeners *xsync.MapOf[string, chan Response]
	logger    *slog.Logger
	retries   uint64
	readLimit int64

	mu     sync.Mutex
	sess   *session
	closed bool
}

var _ fabric.Client = (*Client)(nil)

// Option configures a Client
type Option func(*Client)

// WithLogger sets the client logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithRetries sets how many times a dial retries before giving up
func WithRetries(n uint64) Option {
	return func(c *Client) { c.retries = n }
}

// WithReadLimit sets the largest message the client accepts
func WithReadLimit(n int64) Option {
	return func(c *Client) { c.readLimit = n }
}

// Dial connects to the node at url, retrying with exponential backoff.
// Failure to connect wraps fabric.ErrConnection.
func Dial(ctx context.Context, url string, opts ...Option) (*Client, error) {
	c := &Client{
		url:       url,
		idPrefix:  uuid.NewString()[:8],
		listeners: xsync.NewMapOf[string, chan Response](),
		logger:    slog.Default(),
		retries:   5,
		readLimit: DefaultReadLimit,
	}
	for _, opt := range opts {
		opt(c)
	}

	sess, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.sess = sess
	c.logger.Info("connected to fabric", "url", url)
	return c, nil
}

func (c *Client) dial(ctx context.Context) (*session, error) {
	var conn *ws.Conn
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.retries), ctx)
	err := backoff.Retry(func() error {
		var err error
		conn, _, err = ws.Dial(ctx, c.url, nil)
		if err != nil {
			c.logger.Warn("fabric dial failed", "url", c.url, "error", err)
		}
		return err
	}, policy)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", fabric.ErrConnection, c.url, err)
	}
	conn.SetReadLimit(c.readLimit)

	readCtx, cancel := context.WithCancel(context.Background())
	sess := &session{conn: conn, cancel: cancel, done: make(chan struct{})}
	go c.readLoop(readCtx, sess)
	return sess, nil
}

// session returns the live connection, dialing again if the last one
// dropped.
func (c *Client) session(ctx context.Context) (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("%w: %w", fabric.ErrConnection, errClientClosed)
	}
	if !c.sess.lost() {
		return c.sess, nil
	}

	c.logger.Info("reconnecting to fabric", "url", c.url, "cause", c.sess.err)
	sess, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.sess = sess
	return sess, nil
}

func (c *Client) readLoop(ctx context.Context, sess *session) {
	defer sess.cancel()
	for {
		_, data, err := sess.conn.Read(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && ws.CloseStatus(err) != ws.StatusNormalClosure {
				c.logger.Warn("fabric connection lost", "url", c.url, "error", err)
			}
			sess.fail(err)
			return
		}

		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			c.logger.Warn("dropping malformed response", "error", err)
			continue
		}
		if ch, ok := c.listeners.LoadAndDelete(resp.ID); ok {
			ch <- resp
		}
	}
}

func (c *Client) rpc(ctx context.Context, op string, params, out any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	id := c.idPrefix + "-" + strconv.FormatUint(c.serial.Add(1), 10)
	req, err := json.Marshal(Request{ID: id, Op: op, Params: raw})
	if err != nil {
		return err
	}

	sess, err := c.session(ctx)
	if err != nil {
		return err
	}

	ch := make(chan Response, 1)
	c.listeners.Store(id, ch)
	defer c.listeners.Delete(id)

	if err := sess.conn.Write(ctx, ws.MessageBinary, req); err != nil {
		// a failed write leaves the connection closed
		sess.fail(err)
		return fmt.Errorf("%w: %w", fabric.ErrConnection, err)
	}

	var resp Response
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-sess.done:
		return fmt.Errorf("%w: %w", fabric.ErrConnection, sess.err)
	case resp = <-ch:
	}

	if err := errorFrom(resp); err != nil {
		return err
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	return json.Unmarshal(resp.Result, out)
}

func (c *Client) Get(ctx context.Context, name string, version uint, lb, ub []int64, wait fabric.WaitMode) (*ndarray.Array, error) {
	var w *wireArray
	err := c.rpc(ctx, OpGet, getParams{Name: name, Version: version, LB: lb, UB: ub, Wait: wait}, &w)
	if err != nil {
		return nil, err
	}
	return w.array(), nil
}

func (c *Client) Put(ctx context.Context, arr *ndarray.Array, name string, version uint, offset []int64) error {
	if limit := MaxPayload(c.readLimit); arr != nil && int64(len(arr.Data)) > limit {
		return fmt.Errorf("%w: %d bytes exceeds the %d byte message payload limit", fabric.ErrWrite, len(arr.Data), limit)
	}
	return c.rpc(ctx, OpPut, putParams{Name: name, Version: version, Offset: offset, Array: toWire(arr)}, nil)
}

func (c *Client) GetVars(ctx context.Context) ([]string, error) {
	var names []string
	if err := c.rpc(ctx, OpGetVars, struct{}{}, &names); err != nil {
		return nil, err
	}
	return names, nil
}

func (c *Client) GetObjVars(ctx context.Context, name string) ([]fabric.ObjectInfo, error) {
	var objs []fabric.ObjectInfo
	if err := c.rpc(ctx, OpGetObjVars, objVarsParams{Name: name}, &objs); err != nil {
		return nil, err
	}
	return objs, nil
}

func (c *Client) Exec(ctx context.Context, ref fabric.ObjectRef, fn []byte) ([]byte, error) {
	var out []byte
	if err := c.rpc(ctx, OpExec, execParams{Refs: []fabric.ObjectRef{ref}, Fn: fn}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) VecExec(ctx context.Context, refs []fabric.ObjectRef, fn []byte) ([]byte, error) {
	if refs == nil {
		refs = []fabric.ObjectRef{}
	}
	var out []byte
	if err := c.rpc(ctx, OpVecExec, execParams{Refs: refs, Fn: fn}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Register(ctx context.Context, typ, name string, params map[string]any) (*fabric.RegHandle, error) {
	var h *fabric.RegHandle
	if err := c.rpc(ctx, OpRegister, registerParams{Type: typ, Name: name, Params: params}, &h); err != nil {
		return nil, err
	}
	return h, nil
}

// Close closes the connection. Pending and later calls fail with
// fabric.ErrConnection and no new connection is dialed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sess := c.sess
	c.mu.Unlock()

	var err error
	if !sess.lost() {
		err = sess.conn.Close(ws.StatusNormalClosure, "")
	}
	sess.cancel()
	sess.fail(errClientClosed)
	return err
}
