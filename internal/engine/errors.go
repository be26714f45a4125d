package engine

import "errors"

var ErrPermission = errors.New("permission denied")
var ErrInvalidPhase = errors.New("action not allowed in current phase")
var ErrInvalidPayload = errors.New("invalid payload")
var ErrUnsupportedAction = errors.New("unsupported action")

// Code maps a rejection to the code sent to the offending client.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrPermission):
		return "PERMISSION_DENIED"
	case errors.Is(err, ErrInvalidPhase):
		return "INVALID_PHASE"
	case errors.Is(err, ErrInvalidPayload):
		return "INVALID_PAYLOAD"
	case errors.Is(err, ErrUnsupportedAction):
		return "UNKNOWN_ACTION"
	default:
		return "INTERNAL"
	}
}
