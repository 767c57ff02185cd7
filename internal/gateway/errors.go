package gateway

import "errors"

// ErrNotConnected is returned when a request is issued with no active
// gateway session. Callers treat it as fatal for the operation; it is
// never retried here.
var ErrNotConnected = errors.New("no active gateway session")

// ErrRequestTimeout is returned when a pending request's deadline
// passes with no answer. Batch fetches absorb it into partial data.
var ErrRequestTimeout = errors.New("request timed out")

// ErrContractNotFound is returned when the gateway has no security
// definition matching a resolution request.
var ErrContractNotFound = errors.New("no matching contract found")

// ErrResolutionTimeout is returned when a contract resolution request
// times out before the gateway answers.
var ErrResolutionTimeout = errors.New("contract resolution timed out")
