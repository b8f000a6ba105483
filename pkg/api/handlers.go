package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/patina/dxspaces/pkg/gateway"
	"github.com/patina/dxspaces/pkg/geometry"
	"github.com/patina/dxspaces/pkg/ndarray"
)

// Options configures the HTTP surface
type Options struct {
	// Title is used in the greeting
	Title string
	// UnsafeEndpoints enables the routes that accept serialized functions
	UnsafeEndpoints bool
	// MaxBodyBytes bounds request bodies and uploads
	MaxBodyBytes int64
}

// DefaultOptions returns the options used when none are given
func DefaultOptions() *Options {
	return &Options{
		Title:        "DXSpaces API",
		MaxBodyBytes: 1 << 30,
	}
}

// Handlers contains HTTP handlers for the gateway API
type Handlers struct {
	gw     gateway.Gateway
	logger *slog.Logger
	opts   *Options
}

// NewHandlers creates a new handlers instance
func NewHandlers(gw gateway.Gateway, logger *slog.Logger, opts *Options) *Handlers {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultOptions().MaxBodyBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		gw:     gw,
		logger: logger,
		opts:   opts,
	}
}

// Routes mounts every route on mux
func (h *Handlers) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/", h.HandleRoot)
	mux.HandleFunc("/health", h.HandleHealth)
	mux.HandleFunc("/dspaces/obj/", h.HandleObject)
	mux.HandleFunc("/dspaces/var/", h.HandleVariables)
	mux.HandleFunc("/dspaces/exec/", h.HandleExec)
	mux.HandleFunc("/dspaces/register/", h.HandleRegister)
}

// HandleRoot greets callers
func (h *Handlers) HandleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		h.notFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w, r)
		return
	}
	h.json(w, MessageResponse{Message: "Hello, welcome to " + h.opts.Title})
}

// HandleHealth handles health check requests
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	Health(h.logger)(w, r)
}

// Health answers liveness checks. It needs no gateway, so a fabric node
// mounts it as well.
func Health(logger *slog.Logger) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]string{"status": "healthy"}); err != nil {
			logger.Debug("failed to write health response", "remote", r.RemoteAddr, "error", err)
		}
	}
}

// HandleObject handles /dspaces/obj/{name}/{version}
func (h *Handlers) HandleObject(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path, "/dspaces/obj/")
	if len(parts) != 2 {
		h.notFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodPost:
		h.getObject(w, r, parts[0], parts[1])
	case http.MethodPut:
		h.putObject(w, r, parts[0], parts[1])
	default:
		h.methodNotAllowed(w, r)
	}
}

// HandleVariables handles /dspaces/var/ and /dspaces/var/{name}
func (h *Handlers) HandleVariables(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w, r)
		return
	}

	parts := pathParts(r.URL.Path, "/dspaces/var/")
	switch len(parts) {
	case 0:
		h.listVariables(w, r)
	case 1:
		h.listObjects(w, r, parts[0])
	default:
		h.notFound(w, r)
	}
}

// HandleExec handles /dspaces/exec/ and /dspaces/exec/{name}/{version}.
// Both routes only exist when unsafe endpoints are enabled.
func (h *Handlers) HandleExec(w http.ResponseWriter, r *http.Request) {
	if !h.opts.UnsafeEndpoints {
		h.notFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		h.methodNotAllowed(w, r)
		return
	}

	parts := pathParts(r.URL.Path, "/dspaces/exec/")
	switch len(parts) {
	case 0:
		h.vecExec(w, r)
	case 2:
		h.exec(w, r, parts[0], parts[1])
	default:
		h.notFound(w, r)
	}
}

// HandleRegister handles /dspaces/register/{type}/{name}
func (h *Handlers) HandleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.methodNotAllowed(w, r)
		return
	}
	parts := pathParts(r.URL.Path, "/dspaces/register/")
	if len(parts) != 2 {
		h.notFound(w, r)
		return
	}

	var params map[string]any
	if err := json.NewDecoder(h.body(w, r)).Decode(&params); err != nil {
		h.bodyError(w, err, "invalid registration parameters")
		return
	}

	handle, err := h.gw.Register(r.Context(), parts[0], parts[1], params)
	if err != nil {
		h.gatewayError(w, err, "registration failed")
		return
	}
	h.json(w, handle)
}

// getObject reads a region. The body is the bounding box.
func (h *Handlers) getObject(w http.ResponseWriter, r *http.Request, name, version string) {
	in := &gateway.GetInput{Name: name}
	var ok bool
	if in.Namespace, in.Version, ok = h.address(w, r, name, version); !ok {
		return
	}

	body, err := io.ReadAll(h.body(w, r))
	if err != nil {
		h.bodyError(w, err, "invalid request body")
		return
	}
	if in.Box, err = geometry.Parse(string(body)); err != nil {
		h.errorWithCode(w, err, CodeInvalidRequest, http.StatusBadRequest)
		return
	}

	res, err := h.gw.Get(r.Context(), in)
	if err != nil {
		h.gatewayError(w, err, "could not find the object")
		return
	}

	hdr := w.Header()
	hdr.Set("Content-Type", "application/octet-stream")
	hdr.Set(HeaderTag, strconv.Itoa(int(res.Metadata.Tag)))
	hdr.Set(HeaderElementSize, strconv.Itoa(res.Metadata.ElementSize))
	hdr.Set(HeaderLowerBounds, csv(res.Metadata.LowerBounds))
	hdr.Set(HeaderUpperBounds, csv(res.Metadata.UpperBounds))
	hdr.Set(HeaderDims, csv(res.Metadata.Dims))
	if _, err := w.Write(res.Data); err != nil {
		h.logger.Error("failed to write object", "name", name, "error", err)
	}
}

// putObject stores an uploaded payload. The multipart form carries the
// raw bytes in "data" and the bounding box in "box".
func (h *Handlers) putObject(w http.ResponseWriter, r *http.Request, name, version string) {
	in := &gateway.PutInput{Name: name}
	var ok bool
	if in.Namespace, in.Version, ok = h.address(w, r, name, version); !ok {
		return
	}

	q := r.URL.Query()
	elemSize, err := strconv.Atoi(q.Get("element_size"))
	if err != nil || elemSize <= 0 {
		h.errorWithCode(w, "element_size must be a positive integer", CodeInvalidRequest, http.StatusBadRequest)
		return
	}
	elemType, err := strconv.Atoi(q.Get("element_type"))
	if err != nil || elemType <= 0 {
		h.errorWithCode(w, "element_type must be a positive integer", CodeInvalidRequest, http.StatusBadRequest)
		return
	}
	in.ElementSize = elemSize
	in.ElementType = ndarray.Type(elemType)

	if in.Data, ok = h.formFile(w, r, "data"); !ok {
		return
	}
	if in.Box, err = geometry.Parse(r.FormValue("box")); err != nil {
		h.errorWithCode(w, fmt.Sprintf("invalid box: %v", err), CodeInvalidRequest, http.StatusBadRequest)
		return
	}

	if err := h.gw.Put(r.Context(), in); err != nil {
		h.gatewayError(w, err, "could not find the object")
		return
	}
	h.json(w, MessageResponse{Message: "Stored data successfully"})
}

func (h *Handlers) listVariables(w http.ResponseWriter, r *http.Request) {
	vars, err := h.gw.ListVariables(r.Context())
	if err != nil {
		h.gatewayError(w, err, "query failed.")
		return
	}
	h.json(w, vars)
}

func (h *Handlers) listObjects(w http.ResponseWriter, r *http.Request, name string) {
	namespace := r.URL.Query().Get("namespace")
	if !h.validName(w, name, namespace) {
		return
	}

	objs, err := h.gw.ListObjects(r.Context(), namespace, name)
	if err != nil {
		h.gatewayError(w, err, "could not find any objects")
		return
	}
	h.json(w, objs)
}

func (h *Handlers) exec(w http.ResponseWriter, r *http.Request, name, version string) {
	in := &gateway.ExecInput{Name: name}
	var ok bool
	if in.Namespace, in.Version, ok = h.address(w, r, name, version); !ok {
		return
	}
	if in.Fn, ok = h.formFile(w, r, "fn"); !ok {
		return
	}

	var err error
	if in.Box, err = geometry.Parse(r.FormValue("box")); err != nil {
		h.errorWithCode(w, fmt.Sprintf("invalid box: %v", err), CodeInvalidRequest, http.StatusBadRequest)
		return
	}

	out, err := h.gw.Exec(r.Context(), in)
	if err != nil {
		h.gatewayError(w, err, "could not find the input data")
		return
	}
	h.octets(w, out)
}

func (h *Handlers) vecExec(w http.ResponseWriter, r *http.Request) {
	fn, ok := h.formFile(w, r, "fn")
	if !ok {
		return
	}
	reqs, err := gateway.ParseRequestList(r.FormValue("requests"))
	if err != nil {
		h.errorWithCode(w, fmt.Sprintf("invalid requests: %v", err), CodeInvalidRequest, http.StatusBadRequest)
		return
	}

	out, err := h.gw.VecExec(r.Context(), reqs, fn)
	if err != nil {
		h.gatewayError(w, err, "could not find the input data")
		return
	}
	h.octets(w, out)
}

// Helper methods

// address validates the addressing parameters shared by the object and
// exec routes
func (h *Handlers) address(w http.ResponseWriter, r *http.Request, name, version string) (string, uint, bool) {
	namespace := r.URL.Query().Get("namespace")
	if !h.validName(w, name, namespace) {
		return "", 0, false
	}
	v, err := strconv.ParseUint(version, 10, 0)
	if err != nil {
		h.errorWithCode(w, "version must be a non-negative integer", CodeInvalidRequest, http.StatusBadRequest)
		return "", 0, false
	}
	return namespace, uint(v), true
}

func (h *Handlers) validName(w http.ResponseWriter, name, namespace string) bool {
	if name == "" || len(name) > MaxNameLength {
		h.errorWithCode(w, fmt.Sprintf("name must be 1 to %d characters", MaxNameLength), CodeInvalidRequest, http.StatusBadRequest)
		return false
	}
	if len(namespace) > MaxNamespaceLength {
		h.errorWithCode(w, fmt.Sprintf("namespace must be at most %d characters", MaxNamespaceLength), CodeInvalidRequest, http.StatusBadRequest)
		return false
	}
	return true
}

func (h *Handlers) body(w http.ResponseWriter, r *http.Request) io.Reader {
	return http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes)
}

func (h *Handlers) formFile(w http.ResponseWriter, r *http.Request, field string) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		h.bodyError(w, err, "invalid multipart form")
		return nil, false
	}

	f, _, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			h.errorWithCode(w, field+" file is required", CodeInvalidRequest, http.StatusBadRequest)
		} else {
			h.error(w, err, http.StatusBadRequest)
		}
		return nil, false
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		h.bodyError(w, err, "invalid "+field+" file")
		return nil, false
	}
	return data, true
}

// bodyError answers a failed body read: 413 once the body passes
// MaxBodyBytes, 400 otherwise.
func (h *Handlers) bodyError(w http.ResponseWriter, err error, msg string) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		h.errorWithCode(w, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit), CodeTooLarge, http.StatusRequestEntityTooLarge)
		return
	}
	h.errorWithCode(w, fmt.Sprintf("%s: %v", msg, err), CodeInvalidRequest, http.StatusBadRequest)
}

// gatewayError maps a gateway error onto a status. notFound is the
// message used for a missing object on this route.
func (h *Handlers) gatewayError(w http.ResponseWriter, err error, notFound string) {
	var (
		status int
		code   string
		msg    string
	)

	switch {
	case gateway.IsConnectionFailed(err):
		status, code, msg = http.StatusServiceUnavailable, CodeConnectionFailed, gateway.ErrConnectionFailed.Error()
	case errors.Is(err, gateway.ErrSizeMismatch):
		status, code, msg = http.StatusUnprocessableEntity, CodeSizeMismatch, gateway.ErrSizeMismatch.Error()
	case gateway.IsValidation(err):
		status, code, msg = http.StatusBadRequest, CodeInvalidRequest, err.Error()
	case gateway.IsNotFound(err):
		status, code, msg = http.StatusNotFound, CodeNotFound, notFound
	case errors.Is(err, gateway.ErrQueryFailed):
		status, code, msg = http.StatusBadGateway, CodeQueryFailed, "query failed."
	case errors.Is(err, gateway.ErrRegistrationType):
		status, code, msg = http.StatusInternalServerError, CodeRegistrationType, gateway.ErrRegistrationType.Error()
	case errors.Is(err, gateway.ErrRemoteFault):
		status, code, msg = http.StatusInternalServerError, CodeRemoteFault, gateway.ErrRemoteFault.Error()
	case errors.Is(err, gateway.ErrStorageWrite):
		status, code, msg = http.StatusInternalServerError, CodeStorageWrite, gateway.ErrStorageWrite.Error()
	default:
		h.logger.Error("unhandled gateway error", "error", err)
		h.error(w, err, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: msg, Code: code, Details: err.Error()})
}

func (h *Handlers) octets(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := w.Write(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handlers) json(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) error(w http.ResponseWriter, err interface{}, status int) {
	h.errorWithCode(w, err, "", status)
}

func (h *Handlers) errorWithCode(w http.ResponseWriter, err interface{}, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := ErrorResponse{
		Code: code,
	}

	switch v := err.(type) {
	case string:
		resp.Error = v
	case error:
		resp.Error = v.Error()
	default:
		resp.Error = "unknown error"
	}

	json.NewEncoder(w).Encode(resp)
}

func (h *Handlers) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	h.error(w, "method not allowed", http.StatusMethodNotAllowed)
}

func (h *Handlers) notFound(w http.ResponseWriter, r *http.Request) {
	h.error(w, "not found", http.StatusNotFound)
}

func pathParts(path, prefix string) []string {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}

func csv(vals []int64) string {
	s := make([]string, len(vals))
	for i, v := range vals {
		s[i] = strconv.FormatInt(v, 10)
	}
	return strings.Join(s, ",")
}
