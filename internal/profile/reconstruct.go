package profile

import "github.com/passbi/passbi_core/internal/csaerr"

// Reconstruct walks previous_connection_id/previous_stop_id back-pointers
// from the chosen target arrival back to the seeded source-stop profile,
// emitting one Leg per transfer and consolidating consecutive
// same-trip connections into a single transit Leg.
func (s *ProfileSearch) Reconstruct() (*Itinerary, error) {
	if !s.hasSucceeded {
		return nil, csaerr.ErrNoRoute
	}

	stop := s.bestArrivalStop
	k := s.bestArrivalK

	type hop struct {
		from, to      uint32
		isTransfer    bool
		trip          uint32
		connectionID  uint32
		departureTime uint32
		arrivalTime   uint32
	}
	var hops []hop
	var sourceStop uint32
	var seedSeconds uint32

	for {
		entry := s.profileAt(stop, k)
		if !entry.HasPrevConnection && !entry.IsTransfer {
			sourceStop = stop
			seedSeconds = entry.Seconds
			break // seeded source entry: nothing further to unwind
		}

		if entry.IsTransfer {
			prevArrival := s.profileAt(entry.PrevStopID, k-1)
			hops = append(hops, hop{
				from:          entry.PrevStopID,
				to:            stop,
				isTransfer:    true,
				departureTime: prevArrival.Seconds,
				arrivalTime:   entry.Seconds,
			})
			stop = entry.PrevStopID
			k--
			continue
		}

		conn := s.connections.Decode(entry.PrevConnectionID)
		hops = append(hops, hop{
			from:          conn.DepartureStop,
			to:            stop,
			isTransfer:    false,
			trip:          conn.Trip,
			connectionID:  conn.ID,
			departureTime: conn.DepartureTime,
			arrivalTime:   conn.ArrivalTime(),
		})

		stop = entry.PrevStopID
		if !entry.ContinuedTrip {
			k--
		}
	}

	// hops were collected target-to-source; reverse and consolidate
	// consecutive same-trip hops into one Leg, the way buildSteps folds
	// consecutive RIDE edges.
	legs := make([]Leg, 0, len(hops))
	for i := len(hops) - 1; i >= 0; i-- {
		h := hops[i]
		if !h.isTransfer && len(legs) > 0 {
			last := &legs[len(legs)-1]
			if !last.IsTransfer && last.Trip == h.trip && last.ToStop == h.from {
				last.ToStop = h.to
				last.ArrivalTime = h.arrivalTime
				last.ConnectionIDs = append(last.ConnectionIDs, h.connectionID)
				continue
			}
		}
		leg := Leg{
			FromStop:      h.from,
			ToStop:        h.to,
			IsTransfer:    h.isTransfer,
			Trip:          h.trip,
			DepartureTime: h.departureTime,
			ArrivalTime:   h.arrivalTime,
		}
		if !h.isTransfer {
			leg.ConnectionIDs = []uint32{h.connectionID}
		}
		legs = append(legs, leg)
	}

	return &Itinerary{
		SourceStop:    sourceStop,
		TargetStop:    s.bestArrivalStop,
		DepartureTime: seedSeconds,
		ArrivalTime:   s.bestArrivalTime,
		TransferCount: s.bestArrivalK,
		Legs:          legs,
	}, nil
}
