package contract

import "errors"

var (
	// Calendar gateway failures.
	ErrGatewayUnavailable        = errors.New("calendar gateway unavailable")
	ErrPermissionDenied          = errors.New("calendar permission denied")
	ErrQuotaExceeded             = errors.New("calendar quota exceeded")
	ErrStaleAppointmentReference = errors.New("referenced appointment no longer exists")

	// Coordinator outcomes.
	ErrCommitInProgress       = errors.New("a commit is already in flight for this conversation")
	ErrUncertainCommitOutcome = errors.New("commit outcome uncertain, verify calendar before retrying")

	// Understanding failures.
	ErrMalformedTemporalExpression = errors.New("expression is not a temporal reference")
	ErrModelInvoke                 = errors.New("model invoke failed")
	ErrSchemaViolation             = errors.New("model response violates schema")
	ErrValidation                  = errors.New("validation failed")
)
