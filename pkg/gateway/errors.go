package gateway

import (
	"errors"

	"github.com/patina/dxspaces/pkg/geometry"
	"github.com/patina/dxspaces/pkg/ndarray"
)

// Caller-facing error categories. Each operation returns errors wrapping
// exactly one of these.
var (
	// ErrDimensionMismatch indicates corners of different dimensionality
	ErrDimensionMismatch = geometry.ErrDimensionMismatch

	// ErrSizeMismatch indicates a payload that does not fill its box
	ErrSizeMismatch = ndarray.ErrSizeMismatch

	// ErrInvalidInput indicates a request rejected before reaching the fabric
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound indicates the fabric has no data for the request
	ErrNotFound = errors.New("not found")

	// ErrQueryFailed indicates a listing the fabric could not answer
	ErrQueryFailed = errors.New("query failed")

	// ErrRegistrationType indicates a registration type no module serves
	ErrRegistrationType = errors.New("invalid registration type")

	// ErrRemoteFault indicates a fault inside a registered module or function
	ErrRemoteFault = errors.New("plugin handling fault")

	// ErrConnectionFailed indicates the fabric is unreachable
	ErrConnectionFailed = errors.New("backend server connection failed")

	// ErrStorageWrite indicates the fabric failed to store data
	ErrStorageWrite = errors.New("put failed")

	// ErrNoClient indicates the service was built without a fabric client
	ErrNoClient = errors.New("fabric client not initialized")
)

// IsNotFound returns true if the error is ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation returns true for errors detected before any fabric call
func IsValidation(err error) bool {
	return errors.Is(err, ErrSizeMismatch) ||
		errors.Is(err, ErrDimensionMismatch) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ndarray.ErrInvalidElementSize)
}

// IsConnectionFailed returns true if the fabric could not be reached
func IsConnectionFailed(err error) bool {
	return errors.Is(err, ErrConnectionFailed)
}
