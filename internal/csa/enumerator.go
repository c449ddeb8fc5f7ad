package csa

// Enumerator walks a ConnectionsStore in a single time-based order,
// supporting O(1) MoveNext, MovePrevious and MoveTo.
type Enumerator struct {
	store     *ConnectionsStore
	order     SortOrder
	isPrimary bool
	idx       int // -1 before the first MoveNext
}

// physicalPos returns the physical record-array position the enumerator's
// current logical index maps to.
func (e *Enumerator) physicalPos(idx int) int {
	if e.isPrimary {
		return idx
	}
	return int(e.store.order[idx])
}

// MoveNext advances the enumerator and reports whether a connection is
// now available.
func (e *Enumerator) MoveNext() bool {
	e.idx++
	return e.idx >= 0 && e.idx < e.store.Len()
}

// MovePrevious steps the enumerator backward and reports whether a
// connection is now available.
func (e *Enumerator) MovePrevious() bool {
	e.idx--
	return e.idx >= 0 && e.idx < e.store.Len()
}

// MoveTo seeks directly to the connection with the given id in O(1).
func (e *Enumerator) MoveTo(id uint32) bool {
	pos := e.store.posOfID[id]
	if e.isPrimary {
		e.idx = int(pos)
	} else {
		e.idx = int(e.store.secondaryIdxOfPos[pos])
	}
	return e.idx >= 0 && e.idx < e.store.Len()
}

// Current returns the connection at the enumerator's current position. ok
// is false if the enumerator is positioned before the first or after the
// last element.
func (e *Enumerator) Current() (c Connection, ok bool) {
	if e.idx < 0 || e.idx >= e.store.Len() {
		return Connection{}, false
	}
	return e.store.decodeAt(e.physicalPos(e.idx)), true
}

// Reset repositions the enumerator before its first element.
func (e *Enumerator) Reset() {
	e.idx = -1
}
