package ndarray

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var npyMagic = []byte("\x93NUMPY")

// WriteNPY writes a in the NPY 1.0 format so a Python process can load it
// with numpy.load.
func WriteNPY(w io.Writer, a *Array) error {
	if err := a.Validate(); err != nil {
		return err
	}

	dims := make([]string, len(a.Shape))
	for i, d := range a.Shape {
		dims[i] = strconv.FormatInt(d, 10)
	}
	shape := "(" + strings.Join(dims, ", ")
	if len(dims) == 1 {
		shape += ","
	}
	shape += ")"

	header := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': %s, }",
		TypestrFor(a.Type, a.ElementSize), shape)
	// magic(6) + version(2) + header length(2) + header + '\n' is padded to 64
	total := len(npyMagic) + 4 + len(header) + 1
	if pad := total % 64; pad != 0 {
		header += strings.Repeat(" ", 64-pad)
	}
	header += "\n"

	var buf bytes.Buffer
	buf.Write(npyMagic)
	buf.Write([]byte{1, 0})
	if err := binary.Write(&buf, binary.LittleEndian, uint16(len(header))); err != nil {
		return err
	}
	buf.WriteString(header)
	if _, err := w.Write(buf.Bytes()); err != nil {
		return err
	}
	_, err := w.Write(a.Data)
	return err
}
