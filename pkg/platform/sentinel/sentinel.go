package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into domain errors: a missing
// reading row is ErrNotFound here and CodeNotFound at the API.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in store
// - ErrConflict: unique constraint hit (e.g. duplicate reading hash)
// - ErrInvalidState: entity in wrong state for the operation (closed stage)
// - ErrUnavailable: cache or broker temporarily unreachable
//
// For validation errors (bad input, illegal reading type), use
// pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
