// Package sandbox runs serialized user functions against fabric data in a
// throwaway container. Each call gets a fresh container derived from one
// prepared Python image.
package sandbox

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"dagger.io/dagger"

	"github.com/patina/dxspaces/pkg/fabric"
	"github.com/patina/dxspaces/pkg/ndarray"
)

// DefaultImage is the base image functions run in
const DefaultImage = "python:3.12-slim"

const workDir = "/work"

//go:embed runner.py
var runnerScript string

// Runner executes functions in Dagger containers
type Runner struct {
	dag      *dagger.Client
	image    string
	packages []string
	timeout  time.Duration
	logger   *slog.Logger
	base     *dagger.Container
}

var _ fabric.Runner = (*Runner)(nil)

// Option configures a Runner
type Option func(*Runner)

// WithImage sets the base image
func WithImage(image string) Option {
	return func(r *Runner) { r.image = image }
}

// WithPackages sets the pip packages installed into the base image
func WithPackages(pkgs ...string) Option {
	return func(r *Runner) { r.packages = pkgs }
}

// WithTimeout bounds a single run
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) { r.timeout = d }
}

// WithLogger sets the runner logger
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// New creates a runner on an open Dagger client
func New(dag *dagger.Client, opts ...Option) *Runner {
	r := &Runner{
		dag:      dag,
		image:    DefaultImage,
		packages: []string{"dill", "numpy"},
		timeout:  5 * time.Minute,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.base = dag.Container().From(r.image)
	if len(r.packages) > 0 {
		r.base = r.base.WithExec(append([]string{"pip", "install", "--no-cache-dir"}, r.packages...))
	}
	r.base = r.base.
		WithNewFile(workDir+"/runner.py", runnerScript).
		WithWorkdir(workDir)
	return r
}

// Run calls the function in fn with args and returns the serialized result
func (r *Runner) Run(ctx context.Context, fn []byte, args []*ndarray.Array) ([]byte, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	files, err := inputFiles(fn, args)
	if err != nil {
		return nil, err
	}

	ctr := r.base
	for _, f := range files {
		ctr = ctr.WithNewFile(workDir+"/"+f.name, f.contents)
	}
	ctr = ctr.WithExec([]string{"python", "runner.py", strconv.Itoa(len(args))})

	start := time.Now()
	stdout, err := ctr.Stdout(ctx)
	if err != nil {
		return nil, fmt.Errorf("execution failed: %w", err)
	}
	r.logger.Debug("function finished", "args", len(args), "duration", time.Since(start))

	return decodeOutput(stdout)
}

type inputFile struct {
	name     string
	contents string
}

// inputFiles lays out the function and its arguments as base64 text files:
// fn.b64 and one argN.npy.b64 per argument, in argument order.
func inputFiles(fn []byte, args []*ndarray.Array) ([]inputFile, error) {
	files := make([]inputFile, 0, len(args)+1)
	files = append(files, inputFile{"fn.b64", base64.StdEncoding.EncodeToString(fn)})

	var buf bytes.Buffer
	for i, arg := range args {
		buf.Reset()
		if err := ndarray.WriteNPY(&buf, arg); err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		files = append(files, inputFile{
			name:     fmt.Sprintf("arg%d.npy.b64", i),
			contents: base64.StdEncoding.EncodeToString(buf.Bytes()),
		})
	}
	return files, nil
}

func decodeOutput(stdout string) ([]byte, error) {
	out := strings.TrimSpace(stdout)
	if out == "" {
		return nil, fmt.Errorf("function produced no result")
	}
	res, err := base64.StdEncoding.DecodeString(out)
	if err != nil {
		return nil, fmt.Errorf("malformed function result: %w", err)
	}
	return res, nil
}
