package csa

// Transfer is one endpoint of a symmetric footpath entry: the stop you
// can walk to, and how long it takes.
type Transfer struct {
	Stop    uint32
	Seconds uint32
}

// TransfersStore is a sparse symmetric stop-to-stop footpath table. Only
// pairs within MaxTransferSeconds are retained.
type TransfersStore struct {
	MaxTransferSeconds uint32
	neighbors          map[uint32][]Transfer
}

// NewTransfersStore returns an empty store that rejects walks longer than
// maxTransferSeconds.
func NewTransfersStore(maxTransferSeconds uint32) *TransfersStore {
	return &TransfersStore{
		MaxTransferSeconds: maxTransferSeconds,
		neighbors:          make(map[uint32][]Transfer),
	}
}

// Add records a symmetric walk transfer between a and b. Returns false
// (and stores nothing) if seconds exceeds MaxTransferSeconds.
func (t *TransfersStore) Add(a, b, seconds uint32) bool {
	if seconds > t.MaxTransferSeconds {
		return false
	}
	if a == b {
		return false
	}
	t.neighbors[a] = append(t.neighbors[a], Transfer{Stop: b, Seconds: seconds})
	t.neighbors[b] = append(t.neighbors[b], Transfer{Stop: a, Seconds: seconds})
	return true
}

// Neighbors returns the walk-reachable stops from a.
func (t *TransfersStore) Neighbors(a uint32) []Transfer {
	return t.neighbors[a]
}

// Len returns the number of stops with at least one recorded transfer.
func (t *TransfersStore) Len() int {
	return len(t.neighbors)
}
