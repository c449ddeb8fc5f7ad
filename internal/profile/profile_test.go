package profile

import (
	"context"
	"testing"

	"github.com/passbi/passbi_core/internal/csa"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSortedStore(t *testing.T, adds func(s *csa.ConnectionsStore)) *csa.ConnectionsStore {
	t.Helper()
	store := csa.NewConnectionsStore()
	adds(store)
	require.NoError(t, store.Sort(csa.SortByDeparture))
	return store
}

func TestProfileSearch_ScenarioA_OneHopSuccess(t *testing.T) {
	store := newSortedStore(t, func(s *csa.ConnectionsStore) {
		_, err := s.Add(0, 1, 0, 3600, 6000)
		require.NoError(t, err)
	})

	search := NewProfileSearch(store, nil, nil)
	search.SetSourceStop(0, 3000)
	search.SetTargetStop(1, 0)

	require.NoError(t, search.Run(context.Background(), 0))
	require.True(t, search.HasSucceeded())

	stop, k, seconds, ok := search.BestArrival()
	require.True(t, ok)
	assert.Equal(t, uint32(1), stop)
	assert.Equal(t, 1, k)
	assert.Equal(t, uint32(6000), seconds)

	itin, err := search.Reconstruct()
	require.NoError(t, err)
	assert.Equal(t, uint32(6000-3000), itin.ArrivalTime-itin.DepartureTime)
	require.Len(t, itin.Legs, 1)
	assert.False(t, itin.Legs[0].IsTransfer)
	assert.Equal(t, uint32(0), itin.Legs[0].Trip)
}

func TestProfileSearch_ScenarioB_OneHopMiss(t *testing.T) {
	store := newSortedStore(t, func(s *csa.ConnectionsStore) {
		_, err := s.Add(0, 1, 0, 3600, 6000)
		require.NoError(t, err)
	})

	search := NewProfileSearch(store, nil, nil)
	search.SetSourceStop(0, 30600)
	search.SetTargetStop(1, 0)

	require.NoError(t, search.Run(context.Background(), 0))
	assert.False(t, search.HasSucceeded())

	_, err := search.Reconstruct()
	assert.Error(t, err)
}

func TestProfileSearch_ScenarioC_TwoHopSameTrip(t *testing.T) {
	store := newSortedStore(t, func(s *csa.ConnectionsStore) {
		_, err := s.Add(0, 1, 0, 28800, 29400)
		require.NoError(t, err)
		_, err = s.Add(1, 2, 0, 29460, 30000)
		require.NoError(t, err)
	})

	search := NewProfileSearch(store, nil, nil)
	search.SetSourceStop(0, 27000)
	search.SetTargetStop(2, 0)

	require.NoError(t, search.Run(context.Background(), 0))
	require.True(t, search.HasSucceeded())

	stop, k, seconds, ok := search.BestArrival()
	require.True(t, ok)
	assert.Equal(t, uint32(2), stop)
	assert.Equal(t, uint32(30000), seconds)
	assert.Equal(t, 1, k, "continuing the same trip must not add a transfer")

	itin, err := search.Reconstruct()
	require.NoError(t, err)
	assert.Equal(t, uint32(3000), itin.ArrivalTime-itin.DepartureTime)
	require.Len(t, itin.Legs, 1, "both connections of the same trip merge into one transit leg")
	assert.Equal(t, uint32(0), itin.Legs[0].Trip)
	assert.Equal(t, uint32(0), itin.Legs[0].FromStop)
	assert.Equal(t, uint32(2), itin.Legs[0].ToStop)
}

func TestProfileSearch_ScenarioD_TwoHopWithTransfer(t *testing.T) {
	store := newSortedStore(t, func(s *csa.ConnectionsStore) {
		_, err := s.Add(0, 1, 0, 28800, 29400)
		require.NoError(t, err)
		_, err = s.Add(1, 2, 1, 29700, 30300)
		require.NoError(t, err)
	})

	search := NewProfileSearch(store, nil, nil)
	search.SetSourceStop(0, 27000)
	search.SetTargetStop(2, 0)

	require.NoError(t, search.Run(context.Background(), 0))
	stop, k, seconds, ok := search.BestArrival()
	require.True(t, ok)
	assert.Equal(t, uint32(2), stop)
	assert.Equal(t, uint32(30300), seconds)
	assert.Equal(t, 2, k)

	itin, err := search.Reconstruct()
	require.NoError(t, err)
	require.Len(t, itin.Legs, 2, "a trip change at stop 1 yields two transit legs")
	assert.Equal(t, uint32(0), itin.Legs[0].Trip)
	assert.Equal(t, uint32(1), itin.Legs[1].Trip)
	assert.Equal(t, uint32(1), itin.Legs[0].ToStop)
	assert.Equal(t, uint32(1), itin.Legs[1].FromStop)
}

func TestProfileSearch_ScenarioE_DominancePrefersFewerTransfers(t *testing.T) {
	store := newSortedStore(t, func(s *csa.ConnectionsStore) {
		_, err := s.Add(0, 1, 0, 28800, 29400)
		require.NoError(t, err)
		_, err = s.Add(1, 2, 1, 29700, 30300)
		require.NoError(t, err)
		_, err = s.Add(0, 2, 2, 28860, 30300)
		require.NoError(t, err)
	})

	search := NewProfileSearch(store, nil, nil)
	search.SetSourceStop(0, 27000)
	search.SetTargetStop(2, 0)

	require.NoError(t, search.Run(context.Background(), 0))
	stop, k, seconds, ok := search.BestArrival()
	require.True(t, ok)
	assert.Equal(t, uint32(2), stop)
	assert.Equal(t, uint32(30300), seconds)
	assert.Equal(t, 1, k, "same arrival time but fewer transfers must win")

	itin, err := search.Reconstruct()
	require.NoError(t, err)
	require.Len(t, itin.Legs, 1)
	assert.Equal(t, uint32(2), itin.Legs[0].Trip, "reconstruction must prefer the direct trip")
}

func TestProfileSearch_ScenarioF_FootpathTransfer(t *testing.T) {
	store := newSortedStore(t, func(s *csa.ConnectionsStore) {
		_, err := s.Add(0, 1, 0, 28800, 29400)
		require.NoError(t, err)
		_, err = s.Add(2, 3, 1, 29700, 30300)
		require.NoError(t, err)
	})
	transfers := csa.NewTransfersStore(3600)
	require.True(t, transfers.Add(1, 2, 100))

	search := NewProfileSearch(store, transfers, nil)
	search.SetSourceStop(0, 27000)
	search.SetTargetStop(3, 0)

	require.NoError(t, search.Run(context.Background(), 0))
	stop, _, seconds, ok := search.BestArrival()
	require.True(t, ok)
	assert.Equal(t, uint32(3), stop)
	assert.Equal(t, uint32(30300), seconds)

	transferEntry := search.profileAt(2, 2)
	require.True(t, transferEntry.Valid)
	assert.True(t, transferEntry.IsTransfer)
	assert.Equal(t, uint32(29500), transferEntry.Seconds)

	itin, err := search.Reconstruct()
	require.NoError(t, err)
	require.Len(t, itin.Legs, 3, "ride, transfer, ride")
	assert.False(t, itin.Legs[0].IsTransfer)
	assert.True(t, itin.Legs[1].IsTransfer)
	assert.False(t, itin.Legs[2].IsTransfer)
	assert.Equal(t, uint32(1), itin.Legs[1].FromStop)
	assert.Equal(t, uint32(2), itin.Legs[1].ToStop)
}

func TestProfileSearch_ScheduleFilterSkipsImpossibleTrips(t *testing.T) {
	store := newSortedStore(t, func(s *csa.ConnectionsStore) {
		_, err := s.Add(0, 1, 0, 3600, 6000)
		require.NoError(t, err)
	})

	search := NewProfileSearch(store, nil, func(tripID uint32, connectionTime int64) bool {
		return false // no trip ever operates
	})
	search.SetSourceStop(0, 3000)
	search.SetTargetStop(1, 0)

	require.NoError(t, search.Run(context.Background(), 0))
	assert.False(t, search.HasSucceeded())
}

func TestProfileSearch_Cancellation(t *testing.T) {
	store := newSortedStore(t, func(s *csa.ConnectionsStore) {
		_, err := s.Add(0, 1, 0, 3600, 6000)
		require.NoError(t, err)
	})

	search := NewProfileSearch(store, nil, nil)
	search.SetSourceStop(0, 3000)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := search.Run(ctx, 0)
	assert.Error(t, err)
}
