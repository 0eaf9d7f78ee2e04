package constant

import "errors"

var (
	ErrInvalidParams = errors.New("invalid request parameters")
	ErrInternalError = errors.New("internal server error")
	ErrNotFound      = errors.New("record not found")
	ErrDatabaseError = errors.New("database error")

	// Offer generation.
	ErrTemplateNotFound        = errors.New("offer template not found")
	ErrTemplateCorrupted       = errors.New("offer template could not be parsed")
	ErrInjectionAnchorNotFound = errors.New("product injection anchor not found")
	ErrInvalidOutputFormat     = errors.New("unsupported output format")

	// Conversion pipeline.
	ErrUnsupportedPlatform = errors.New("no document converter available on this platform")
	ErrConversionFailed    = errors.New("document conversion failed")

	// Load testing.
	ErrTestAlreadyRunning = errors.New("a load test is already running")
	ErrTestNotRunning     = errors.New("no load test is running")
)

const (
	ErrorCodeInvalidParams = 400
	ErrorCodeNotFound      = 404
	ErrorCodeConflict      = 409
	ErrorCodeInternal      = 500
)

// GetErrorCode maps a domain error to an HTTP status code.
func GetErrorCode(err error) int {
	switch {
	case errors.Is(err, ErrInvalidParams),
		errors.Is(err, ErrInvalidOutputFormat):
		return ErrorCodeInvalidParams
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrTestNotRunning):
		return ErrorCodeNotFound
	case errors.Is(err, ErrTestAlreadyRunning):
		return ErrorCodeConflict
	default:
		return ErrorCodeInternal
	}
}
