package profile

import (
	"context"

	"github.com/passbi/passbi_core/internal/csa"
	"github.com/passbi/passbi_core/internal/csaerr"
	"github.com/passbi/passbi_core/internal/models"
	"github.com/passbi/passbi_core/internal/routing"
)

// ProfileSearch is the forward Connection-Scan engine: a single pass over
// a departure-sorted ConnectionsStore that maintains a Pareto-front
// StopProfile per stop and an O(1) TripStatus continuation shortcut per
// trip.
type ProfileSearch struct {
	connections *csa.ConnectionsStore
	transfers   *csa.TransfersStore
	scheduleOK  ScheduleFilter

	// strategy optionally weights the transfer count reported by
	// WeightedTransferCost, so the teacher's A*-era Strategy values
	// keep meaning against the CSA engine (SPEC_FULL.md §3.1). It does
	// not take part in dominance comparisons.
	strategy routing.Strategy

	profiles map[uint32]StopProfile
	trips    map[uint32]*tripStatus

	targetWalkSeconds map[uint32]float64

	hasSucceeded     bool
	bestTargetArrival float64
	bestArrivalStop   uint32
	bestArrivalK      int
	bestArrivalTime   uint32
}

// NewProfileSearch returns a ready-to-seed search over connections (which
// must already be sorted ByDeparture) and an optional transfers store.
// scheduleOK is the trip_is_possible predicate; it may be nil, in which
// case every trip is considered possible.
func NewProfileSearch(connections *csa.ConnectionsStore, transfers *csa.TransfersStore, scheduleOK ScheduleFilter) *ProfileSearch {
	return &ProfileSearch{
		connections:       connections,
		transfers:         transfers,
		scheduleOK:        scheduleOK,
		profiles:          make(map[uint32]StopProfile),
		trips:             make(map[uint32]*tripStatus),
		targetWalkSeconds: make(map[uint32]float64),
	}
}

// WithStrategy attaches a transfer-weighting strategy used by
// WeightedTransferCost (see SPEC_FULL.md §3.1); nil restores a weight of 1.
// The dominance rule is the same with or without a strategy.
func (s *ProfileSearch) WithStrategy(strategy routing.Strategy) *ProfileSearch {
	s.strategy = strategy
	return s
}

// SetSourceStop seeds stopID's k=0 profile entry with earliestSeconds,
// the time ClosestStopsSearch(forward, source) reported reaching it.
func (s *ProfileSearch) SetSourceStop(stopID uint32, earliestSeconds uint32) {
	s.ensureProfile(stopID, 0)
	s.profiles[stopID][0] = StopProfileEntry{Valid: true, Seconds: earliestSeconds}
}

// SetTargetStop registers stopID as a journey target, reachable from the
// transit network by a final walkingSeconds leg.
func (s *ProfileSearch) SetTargetStop(stopID uint32, walkingSeconds float64) {
	s.targetWalkSeconds[stopID] = walkingSeconds
}

// HasSucceeded reports whether any target stop has a non-empty profile.
func (s *ProfileSearch) HasSucceeded() bool {
	return s.hasSucceeded
}

// transferWeight returns the per-transfer cost WeightedTransferCost
// applies: 1 with no strategy, or the strategy's transfer-edge cost when
// one is attached.
func (s *ProfileSearch) transferWeight() int {
	if s.strategy == nil {
		return 1
	}
	return s.strategy.EdgeCost(models.Edge{Type: models.EdgeTransfer, CostTransfer: 1})
}

func (s *ProfileSearch) ensureProfile(stopID uint32, k int) {
	p := s.profiles[stopID]
	for len(p) <= k {
		p = append(p, StopProfileEntry{})
	}
	s.profiles[stopID] = p
}

func (s *ProfileSearch) profileAt(stopID uint32, k int) StopProfileEntry {
	p := s.profiles[stopID]
	if k < 0 || k >= len(p) {
		return StopProfileEntry{}
	}
	return p[k]
}

// bestDepartureProfile returns the smallest transfer count k at stopID
// whose profile entry is valid and available by tDep (step 3).
func (s *ProfileSearch) bestDepartureProfile(stopID uint32, tDep uint32) (int, bool) {
	p := s.profiles[stopID]
	for k, entry := range p {
		if entry.Valid && entry.Seconds <= tDep {
			return k, true
		}
	}
	return 0, false
}

// tryImprove proposes entry at index k in stopID's profile. It accepts
// iff entry strictly improves over the existing profile[k] AND is not
// dominated by any profile[k'] for k' < k (step 8's dominance rule),
// truncating now-dominated entries at k'' > k on acceptance.
func (s *ProfileSearch) tryImprove(stopID uint32, k int, entry StopProfileEntry) bool {
	s.ensureProfile(stopID, k)
	p := s.profiles[stopID]

	for kk := 0; kk < k; kk++ {
		if p[kk].Valid && p[kk].Seconds <= entry.Seconds {
			return false // dominated by a better-or-equal, fewer-transfer entry
		}
	}
	if p[k].Valid && p[k].Seconds <= entry.Seconds {
		return false // not an improvement
	}

	entry.Valid = true
	p[k] = entry

	for kk := k + 1; kk < len(p); kk++ {
		if !p[kk].Valid {
			continue
		}
		if p[kk].Seconds >= entry.Seconds {
			p[kk] = StopProfileEntry{}
			continue
		}
		break // invariant restored: everything past here is already smaller
	}

	s.profiles[stopID] = p
	return true
}

// Run performs the forward Connection-Scan sweep. connections must
// already be sorted ByDeparture. dayOrigin is a Unix-seconds timestamp
// for the midnight of the service day the query departs on, used to
// translate a connection's seconds-of-day departure into an absolute
// instant for the schedule filter.
func (s *ProfileSearch) Run(ctx context.Context, dayOrigin int64) error {
	enumerator, err := s.connections.Enumerate(csa.SortByDeparture)
	if err != nil {
		return err
	}

	for enumerator.MoveNext() {
		select {
		case <-ctx.Done():
			return csaerr.ErrCancelled
		default:
		}

		c, ok := enumerator.Current()
		if !ok {
			break
		}

		if s.scheduleOK != nil && !s.scheduleOK(c.Trip, dayOrigin+int64(c.DepartureTime)) {
			continue
		}

		if s.hasSucceeded && float64(c.DepartureTime) >= s.bestTargetArrival {
			break // deadline gate: later connections can only worsen
		}

		footK, footOK := s.bestDepartureProfile(c.DepartureStop, c.DepartureTime)
		trip := s.trips[c.Trip]
		tripReached := trip != nil && trip.reached

		if !footOK && !tripReached {
			continue
		}

		kNew := 0
		continuedTrip := false
		switch {
		case footOK && tripReached:
			fresh := footK + 1
			if trip.transfersWhenBoarded <= fresh {
				kNew = trip.transfersWhenBoarded
				continuedTrip = true
			} else {
				kNew = fresh
			}
		case tripReached:
			kNew = trip.transfersWhenBoarded
			continuedTrip = true
		default:
			kNew = footK + 1
		}

		if !tripReached || kNew < trip.transfersWhenBoarded {
			s.trips[c.Trip] = &tripStatus{
				reached:              true,
				boardStop:            c.DepartureStop,
				boardTime:            c.DepartureTime,
				transfersWhenBoarded: kNew,
			}
		}

		arrival := StopProfileEntry{
			HasPrevConnection: true,
			PrevConnectionID:  c.ID,
			PrevStopID:        c.DepartureStop,
			IsTransfer:        false,
			ContinuedTrip:     continuedTrip,
			Seconds:           c.ArrivalTime(),
		}
		s.tryImprove(c.ArrivalStop, kNew, arrival)

		if s.transfers != nil {
			for _, nb := range s.transfers.Neighbors(c.ArrivalStop) {
				transferEntry := StopProfileEntry{
					PrevStopID: c.ArrivalStop,
					IsTransfer: true,
					Seconds:    c.ArrivalTime() + nb.Seconds,
				}
				s.tryImprove(nb.Stop, kNew+1, transferEntry)
			}
		}

		if walk, isTarget := s.targetWalkSeconds[c.ArrivalStop]; isTarget {
			candidate := float64(c.ArrivalTime()) + walk
			if !s.hasSucceeded || candidate < s.bestTargetArrival {
				s.hasSucceeded = true
				s.bestTargetArrival = candidate
				s.bestArrivalStop = c.ArrivalStop
				s.bestArrivalK = kNew
				s.bestArrivalTime = c.ArrivalTime()
			}
		}
	}

	return nil
}

// BestArrival returns the transit-only arrival (stop, transfer count,
// seconds) the search reconstructs from, before RouteBuilder appends the
// final walking leg to the true geographic target.
func (s *ProfileSearch) BestArrival() (stopID uint32, k int, seconds uint32, ok bool) {
	if !s.hasSucceeded {
		return 0, 0, 0, false
	}
	return s.bestArrivalStop, s.bestArrivalK, s.bestArrivalTime, true
}

// WeightedTransferCost returns k scaled by the attached strategy's
// transfer-edge cost (1 if no strategy is attached), letting a caller
// rank candidate itineraries the way the teacher's A* strategies would
// without changing the Pareto dominance rule itself.
func (s *ProfileSearch) WeightedTransferCost(k int) int {
	return k * s.transferWeight()
}
