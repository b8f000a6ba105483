package sandbox

import (
	"bytes"
	"context"
	"encoding/base64"
	"os"
	"strings"
	"testing"

	"dagger.io/dagger"

	"github.com/patina/dxspaces/pkg/ndarray"
)

func TestInputFiles(t *testing.T) {
	args := []*ndarray.Array{
		{Type: ndarray.Uint8, ElementSize: 1, Shape: []int64{2}, Data: []byte{1, 2}},
		{Type: ndarray.Float64, ElementSize: 8, Shape: []int64{1, 1}, Data: make([]byte, 8)},
	}

	files, err := inputFiles([]byte("pickled"), args)
	if err != nil {
		t.Fatalf("failed to lay out inputs: %v", err)
	}

	names := []string{"fn.b64", "arg0.npy.b64", "arg1.npy.b64"}
	if len(files) != len(names) {
		t.Fatalf("expected %d files, got %d", len(names), len(files))
	}
	for i, name := range names {
		if files[i].name != name {
			t.Errorf("file %d: expected %s, got %s", i, name, files[i].name)
		}
	}

	fn, err := base64.StdEncoding.DecodeString(files[0].contents)
	if err != nil || string(fn) != "pickled" {
		t.Errorf("fn.b64 does not decode to the function: %q, %v", fn, err)
	}

	npy, err := base64.StdEncoding.DecodeString(files[1].contents)
	if err != nil {
		t.Fatalf("arg0 is not base64: %v", err)
	}
	if !bytes.HasPrefix(npy, []byte("\x93NUMPY")) {
		t.Error("arg0 is not an NPY file")
	}
	if !bytes.HasSuffix(npy, []byte{1, 2}) {
		t.Error("arg0 does not end with the array data")
	}
}

func TestInputFiles_NoArgs(t *testing.T) {
	files, err := inputFiles(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0].name != "fn.b64" {
		t.Errorf("expected only fn.b64, got %v", files)
	}
}

func TestDecodeOutput(t *testing.T) {
	out, err := decodeOutput(base64.StdEncoding.EncodeToString([]byte("result")) + "\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != "result" {
		t.Errorf("expected result, got %q", out)
	}

	if _, err := decodeOutput("  \n"); err == nil {
		t.Error("expected error for empty output")
	}
	if _, err := decodeOutput("not base64!"); err == nil {
		t.Error("expected error for malformed output")
	}
}

func TestRunnerScript(t *testing.T) {
	for _, want := range []string{"fn.b64", "npy.b64", "dill.loads", "fn(*args)"} {
		if !strings.Contains(runnerScript, want) {
			t.Errorf("runner script does not mention %s", want)
		}
	}
}

// TestRunner_Dagger needs a Dagger engine and network access
func TestRunner_Dagger(t *testing.T) {
	if testing.Short() || os.Getenv("DXSPACES_SANDBOX_TESTS") == "" {
		t.Skip("set DXSPACES_SANDBOX_TESTS to run against a Dagger engine")
	}

	ctx := context.Background()
	client, err := dagger.Connect(ctx, dagger.WithLogOutput(os.Stderr))
	if err != nil {
		t.Skipf("Dagger not available: %v", err)
	}
	defer client.Close()

	// the function travels pickled; an empty payload makes dill fail
	r := New(client)
	_, err = r.Run(ctx, nil, nil)
	if err == nil {
		t.Error("expected failure for an empty function")
	}
}
