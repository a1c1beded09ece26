package handlers

// Error codes carried in ErrorResponse.Code. Clients branch on these, not on
// the message.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeInternal         = "internal_error"

	// Domain-specific:
	ErrCodeNotReady = "not_ready"
	ErrCodeSchema   = "schema_mismatch"
)
