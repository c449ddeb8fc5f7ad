// Package csaerr classifies the failure kinds the Connection-Scan core can
// surface, so callers can branch on errors.Is instead of parsing messages.
package csaerr

import "errors"

// Build-time range errors: data is rejected at insert, never silently
// corrupted.
var (
	ErrDurationOutOfRange  = errors.New("csa: connection duration out of range")
	ErrDepartureOutOfRange = errors.New("csa: departure time out of range")
	ErrArrivalNotAfterDep  = errors.New("csa: arrival time must be after departure time")
	ErrStopLinkOutOfOrder  = errors.New("csa: stop link appended out of order")
)

// Serialization errors: fail open, caller sees a clear kind.
var (
	ErrVersionMismatch = errors.New("csa: serialized version mismatch")
	ErrTruncatedStream = errors.New("csa: truncated stream")
	ErrGuidMismatch    = errors.New("csa: router db guid mismatch")
)

// Query-time construction errors.
var (
	ErrInvalidProfile  = errors.New("csa: access profile metric is not time-based")
	ErrStoreNotSorted  = errors.New("csa: secondary enumerator requested on an unsorted store")
	ErrUnknownSorting  = errors.New("csa: unknown sort order byte")
)

// ErrCancelled is the dedicated terminal kind for a cancelled search,
// distinct from "no route".
var ErrCancelled = errors.New("csa: search cancelled")

// ErrNoRoute marks "no route found" — not a failure of the algorithm,
// just an empty result, surfaced distinctly so callers don't confuse it
// with a real error.
var ErrNoRoute = errors.New("csa: no route found")

// Is reports whether err matches target using errors.Is, exported here so
// call sites don't need a second import just to check a csaerr sentinel.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
