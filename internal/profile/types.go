// Package profile implements ProfileSearch: the forward Connection-Scan
// sweep that computes, per reachable stop, a Pareto front of
// (arrival-time, transfer-count) profile entries, plus reconstruction of
// a concrete itinerary from the chosen arrival.
package profile

// StopProfileEntry is one Pareto-front entry for a stop at a given
// transfer count k. Seconds is strictly decreasing as k increases across
// the valid entries of a StopProfile (see StopProfile's invariant).
type StopProfileEntry struct {
	Valid bool

	Seconds uint32

	// HasPrevConnection is true for entries produced by relaxing a
	// connection (step 8): PrevConnectionID/PrevStopID identify it.
	HasPrevConnection bool
	PrevConnectionID  uint32
	PrevStopID        uint32

	// IsTransfer marks an entry produced by footpath-transfer
	// propagation (step 9) rather than a vehicle connection.
	IsTransfer bool

	// ContinuedTrip is true when this transit entry continues a trip
	// already boarded earlier in the scan, meaning the profile entry
	// that granted boarding lives at the SAME k at PrevStopID rather
	// than k-1. This augments the spec's literal four-field entry
	// tuple to make back-pointer reconstruction well-defined without
	// re-deriving boarding history at walk-back time.
	ContinuedTrip bool
}

// StopProfile is one stop's Pareto front, indexed by transfer count k.
type StopProfile []StopProfileEntry

// tripStatus is the per-trip in-vehicle continuation shortcut.
type tripStatus struct {
	reached              bool
	boardStop            uint32
	boardTime            uint32
	transfersWhenBoarded int
}

// ScheduleFilter is the trip_is_possible(trip_id, date) predicate: an
// external schedule collaborator (GTFS calendar), opaque to the scan.
type ScheduleFilter func(tripID uint32, connectionTime int64) bool

// Leg is one reconstructed hop: either a transit connection (possibly
// merged from several same-trip connections) or a footpath transfer.
type Leg struct {
	FromStop      uint32
	ToStop        uint32
	IsTransfer    bool
	Trip          uint32 // valid iff !IsTransfer
	ConnectionIDs []uint32
	DepartureTime uint32
	ArrivalTime   uint32
}

// Itinerary is the reconstructed transit portion of a journey: the
// source-side boundary and target-side boundary road legs are
// concatenated by internal/routebuilder, not here.
type Itinerary struct {
	SourceStop      uint32
	TargetStop      uint32
	DepartureTime   uint32
	ArrivalTime     uint32
	TransferCount   int
	Legs            []Leg
}
