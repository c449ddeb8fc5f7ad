package csa

import (
	"fmt"
	"sort"

	"github.com/passbi/passbi_core/internal/csaerr"
)

// ConnectionsStore is a columnar database of timetabled connections: a
// packed primary record array plus an order[] permutation that exposes
// the opposite time-based ordering without re-permuting the records
// themselves (see internal/csa/sorting.go and §9 of the spec).
type ConnectionsStore struct {
	words   []uint32 // len = wordsPerConnection*N, physical record storage
	idAtPos []uint32 // len N; idAtPos[pos] = logical id of the record at pos
	posOfID []uint32 // len N; inverse of idAtPos

	order             []uint32 // len N; order[i] = physical position of the i-th record in the opposite order. nil until Sort is called.
	secondaryIdxOfPos []uint32 // len N; inverse of order. nil until Sort is called.

	sorting SortOrder
	nextID  uint32
}

// NewConnectionsStore returns an empty, unsorted store ready for Add.
func NewConnectionsStore() *ConnectionsStore {
	return &ConnectionsStore{sorting: SortNone}
}

// Len returns the number of connections currently in the store.
func (s *ConnectionsStore) Len() int {
	return len(s.idAtPos)
}

// Sorting reports the store's current primary sort order.
func (s *ConnectionsStore) Sorting() SortOrder {
	return s.sorting
}

// Add appends a new connection, validating the range invariants from the
// connection model. Returns a monotonically increasing connection id.
// Appending after the store has been sorted drops the cached secondary
// order, since the new tail is not yet part of either ordering.
func (s *ConnectionsStore) Add(departureStop, arrivalStop, trip, departureTime, arrivalTime uint32) (uint32, error) {
	if err := validateRange(departureTime, arrivalTime); err != nil {
		return 0, err
	}
	duration := uint16(arrivalTime - departureTime)

	pos := uint32(len(s.idAtPos))
	id := s.nextID
	s.nextID++

	s.words = append(s.words, departureStop, arrivalStop, trip, packWord3(departureTime, duration))
	s.idAtPos = append(s.idAtPos, id)
	s.posOfID = append(s.posOfID, pos) // will be fixed up by the next Sort

	if s.sorting != SortNone {
		s.sorting = SortNone
		s.order = nil
		s.secondaryIdxOfPos = nil
	}

	return id, nil
}

// Decode looks up the connection with the given logical id in O(1),
// independent of any open Enumerator.
func (s *ConnectionsStore) Decode(id uint32) Connection {
	return s.decodeAt(int(s.posOfID[id]))
}

// decodeAt reads the connection stored at physical position pos.
func (s *ConnectionsStore) decodeAt(pos int) Connection {
	base := pos * wordsPerConnection
	departureTime, duration := unpackWord3(s.words[base+3])
	return Connection{
		DepartureStop: s.words[base],
		ArrivalStop:   s.words[base+1],
		Trip:          s.words[base+2],
		DepartureTime: departureTime,
		Duration:      duration,
		ID:            s.idAtPos[pos],
	}
}

func (s *ConnectionsStore) primaryKey(primary SortOrder, c Connection) (uint64, uint32) {
	if primary == SortByDeparture {
		return uint64(c.DepartureTime), c.Trip
	}
	return uint64(c.ArrivalTime()), c.Trip
}

// Sort permutes the record array into primary order (ties broken by trip
// id) and rebuilds the order[] permutation so that iterating
// connections[order[i]] yields the opposite time-based ordering, without
// permuting the records a second time.
func (s *ConnectionsStore) Sort(primary SortOrder) error {
	if primary != SortByDeparture && primary != SortByArrival {
		return fmt.Errorf("%w: %v", csaerr.ErrUnknownSorting, primary)
	}

	n := len(s.idAtPos)

	// Permute the physical record array into primary order.
	positions := make([]int, n)
	for i := range positions {
		positions[i] = i
	}
	sort.SliceStable(positions, func(i, j int) bool {
		a := s.decodeAt(positions[i])
		b := s.decodeAt(positions[j])
		aKey, aTrip := s.primaryKey(primary, a)
		bKey, bTrip := s.primaryKey(primary, b)
		if aKey != bKey {
			return aKey < bKey
		}
		return aTrip < bTrip
	})

	newWords := make([]uint32, len(s.words))
	newIdAtPos := make([]uint32, n)
	for newPos, oldPos := range positions {
		c := s.decodeAt(oldPos)
		base := newPos * wordsPerConnection
		newWords[base] = c.DepartureStop
		newWords[base+1] = c.ArrivalStop
		newWords[base+2] = c.Trip
		newWords[base+3] = packWord3(c.DepartureTime, c.Duration)
		newIdAtPos[newPos] = c.ID
	}
	s.words = newWords
	s.idAtPos = newIdAtPos

	s.posOfID = make([]uint32, n)
	for pos, id := range s.idAtPos {
		s.posOfID[id] = uint32(pos)
	}
	s.sorting = primary

	// Build the secondary order: sort a plain identity permutation of
	// physical positions under a comparator keyed on the opposite
	// time-based key, swapping only the index array — never re-decoding
	// through a second indirection level (the §9 pitfall).
	secondary := primary.opposite()
	order := make([]uint32, n)
	for i := range order {
		order[i] = uint32(i)
	}
	sort.SliceStable(order, func(i, j int) bool {
		a := s.decodeAt(int(order[i]))
		b := s.decodeAt(int(order[j]))
		aKey, aTrip := s.primaryKey(secondary, a)
		bKey, bTrip := s.primaryKey(secondary, b)
		if aKey != bKey {
			return aKey < bKey
		}
		return aTrip < bTrip
	})
	s.order = order

	s.secondaryIdxOfPos = make([]uint32, n)
	for idx, pos := range order {
		s.secondaryIdxOfPos[pos] = uint32(idx)
	}

	return nil
}

// Enumerate returns an enumerator walking the store in the requested
// order. Requesting the order opposite the current primary sort (the
// "secondary" enumerator) fails if the store has never been sorted.
func (s *ConnectionsStore) Enumerate(order SortOrder) (*Enumerator, error) {
	if order != SortByDeparture && order != SortByArrival {
		return nil, fmt.Errorf("%w: %v", csaerr.ErrUnknownSorting, order)
	}
	isPrimary := order == s.sorting
	if !isPrimary && s.sorting == SortNone {
		return nil, csaerr.ErrStoreNotSorted
	}
	return &Enumerator{store: s, order: order, isPrimary: isPrimary, idx: -1}, nil
}
