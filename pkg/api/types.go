package api

// MessageResponse carries a human-readable confirmation
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// Error codes
const (
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeSizeMismatch     = "SIZE_MISMATCH"
	CodeNotFound         = "NOT_FOUND"
	CodeQueryFailed      = "QUERY_FAILED"
	CodeRegistrationType = "REGISTRATION_TYPE"
	CodeRemoteFault      = "REMOTE_FAULT"
	CodeStorageWrite     = "STORAGE_WRITE"
	CodeConnectionFailed = "CONNECTION_FAILED"
	CodeTooLarge         = "PAYLOAD_TOO_LARGE"
)

// Response headers describing a returned array
const (
	HeaderTag         = "X-DS-Tag"
	HeaderElementSize = "X-DS-Element-Size"
	HeaderLowerBounds = "X-DS-Lower-Bounds"
	HeaderUpperBounds = "X-DS-Upper-Bounds"
	HeaderDims        = "X-DS-Dims"
)

// Request limits
const (
	MaxNameLength      = 96
	MaxNamespaceLength = 48
)
