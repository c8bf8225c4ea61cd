package registry

import "errors"

// Sentinel errors, in the shape of the teacher's pkg/database errors:
// callers distinguish "not found" from genuine transport failures with
// errors.Is rather than string matching.
var (
	ErrModelNotFound      = errors.New("registry: model not found")
	ErrInferenceNotFound  = errors.New("registry: inference not found")
	ErrChallengeNotFound  = errors.New("registry: challenge not found")
)
