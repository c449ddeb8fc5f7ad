package csa

import (
	"bytes"
	"testing"

	"github.com/passbi/passbi_core/internal/csaerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSampleStore(t *testing.T) *ConnectionsStore {
	t.Helper()
	s := NewConnectionsStore()

	// deliberately inserted out of departure order
	_, err := s.Add(1, 2, 10, 28800, 29400) // dep 08:00
	require.NoError(t, err)
	_, err = s.Add(0, 1, 5, 27000, 28800) // dep 07:30
	require.NoError(t, err)
	_, err = s.Add(2, 3, 20, 29700, 30300) // dep 08:15
	require.NoError(t, err)
	return s
}

func TestConnectionsStore_AddValidation(t *testing.T) {
	s := NewConnectionsStore()

	t.Run("rejects arrival before departure", func(t *testing.T) {
		_, err := s.Add(0, 1, 0, 100, 50)
		assert.ErrorIs(t, err, csaerr.ErrArrivalNotAfterDep)
	})

	t.Run("rejects too-long duration", func(t *testing.T) {
		_, err := s.Add(0, 1, 0, 0, maxDuration+2)
		assert.ErrorIs(t, err, csaerr.ErrDurationOutOfRange)
	})

	t.Run("rejects too-late departure", func(t *testing.T) {
		_, err := s.Add(0, 1, 0, maxDepartureTime+1, maxDepartureTime+100)
		assert.ErrorIs(t, err, csaerr.ErrDepartureOutOfRange)
	})

	t.Run("assigns monotonically increasing ids", func(t *testing.T) {
		id0, err := s.Add(0, 1, 0, 100, 200)
		require.NoError(t, err)
		id1, err := s.Add(1, 2, 1, 300, 400)
		require.NoError(t, err)
		assert.Equal(t, id0+1, id1)
	})
}

func TestConnectionsStore_SortByDeparture(t *testing.T) {
	s := buildSampleStore(t)
	require.NoError(t, s.Sort(SortByDeparture))

	enum, err := s.Enumerate(SortByDeparture)
	require.NoError(t, err)

	var seen []uint32
	for enum.MoveNext() {
		c, ok := enum.Current()
		require.True(t, ok)
		seen = append(seen, c.DepartureTime)
	}
	assert.Equal(t, []uint32{27000, 28800, 29700}, seen)
}

func TestConnectionsStore_SecondaryOrderViaArrival(t *testing.T) {
	s := buildSampleStore(t)
	require.NoError(t, s.Sort(SortByDeparture))

	enum, err := s.Enumerate(SortByArrival)
	require.NoError(t, err)

	var seen []uint32
	for enum.MoveNext() {
		c, ok := enum.Current()
		require.True(t, ok)
		seen = append(seen, c.ArrivalTime())
	}
	assert.Equal(t, []uint32{28800, 29400, 30300}, seen)
}

func TestConnectionsStore_SecondaryEnumeratorFailsUnsorted(t *testing.T) {
	s := buildSampleStore(t)
	_, err := s.Enumerate(SortByArrival)
	assert.ErrorIs(t, err, csaerr.ErrStoreNotSorted)
}

func TestConnectionsStore_EnumeratorMoveTo(t *testing.T) {
	s := buildSampleStore(t)
	require.NoError(t, s.Sort(SortByDeparture))

	enum, err := s.Enumerate(SortByDeparture)
	require.NoError(t, err)

	require.True(t, enum.MoveNext())
	first, _ := enum.Current()

	require.True(t, enum.MoveNext())
	second, _ := enum.Current()

	assert.True(t, enum.MoveTo(first.ID))
	c, ok := enum.Current()
	require.True(t, ok)
	assert.Equal(t, first.DepartureTime, c.DepartureTime)

	assert.True(t, enum.MoveTo(second.ID))
	c, ok = enum.Current()
	require.True(t, ok)
	assert.Equal(t, second.DepartureTime, c.DepartureTime)
}

func TestConnectionsStore_MovePrevious(t *testing.T) {
	s := buildSampleStore(t)
	require.NoError(t, s.Sort(SortByDeparture))

	enum, err := s.Enumerate(SortByDeparture)
	require.NoError(t, err)

	require.True(t, enum.MoveNext())
	require.True(t, enum.MoveNext())
	second, _ := enum.Current()

	require.True(t, enum.MovePrevious())
	first, _ := enum.Current()
	assert.Less(t, first.DepartureTime, second.DepartureTime)
}

func TestConnectionsStore_SortStability_TieBreakByTrip(t *testing.T) {
	s := NewConnectionsStore()
	_, err := s.Add(0, 1, 20, 1000, 1100)
	require.NoError(t, err)
	_, err = s.Add(1, 2, 10, 1000, 1100)
	require.NoError(t, err)
	require.NoError(t, s.Sort(SortByDeparture))

	enum, err := s.Enumerate(SortByDeparture)
	require.NoError(t, err)

	require.True(t, enum.MoveNext())
	c1, _ := enum.Current()
	require.True(t, enum.MoveNext())
	c2, _ := enum.Current()

	assert.Equal(t, uint32(10), c1.Trip)
	assert.Equal(t, uint32(20), c2.Trip)
}

func TestConnectionsStore_SerializeRoundTrip(t *testing.T) {
	s := buildSampleStore(t)
	require.NoError(t, s.Sort(SortByDeparture))

	var buf bytes.Buffer
	require.NoError(t, s.Save(&buf))

	loaded, err := Load(&buf)
	require.NoError(t, err)

	origEnum, err := s.Enumerate(SortByDeparture)
	require.NoError(t, err)
	loadedEnum, err := loaded.Enumerate(SortByDeparture)
	require.NoError(t, err)

	for origEnum.MoveNext() {
		require.True(t, loadedEnum.MoveNext())
		o, _ := origEnum.Current()
		l, _ := loadedEnum.Current()
		assert.Equal(t, o.DepartureStop, l.DepartureStop)
		assert.Equal(t, o.ArrivalStop, l.ArrivalStop)
		assert.Equal(t, o.Trip, l.Trip)
		assert.Equal(t, o.DepartureTime, l.DepartureTime)
		assert.Equal(t, o.Duration, l.Duration)
	}
	assert.False(t, loadedEnum.MoveNext())
}

func TestConnectionsStore_SerializeRejectsBadVersion(t *testing.T) {
	s := buildSampleStore(t)
	require.NoError(t, s.Sort(SortByDeparture))

	var buf bytes.Buffer
	require.NoError(t, s.Save(&buf))
	raw := buf.Bytes()
	raw[0] = 9 // corrupt version byte

	_, err := Load(bytes.NewReader(raw))
	assert.ErrorIs(t, err, csaerr.ErrVersionMismatch)
}

func TestConnectionsStore_SerializeRejectsTruncatedStream(t *testing.T) {
	s := buildSampleStore(t)
	require.NoError(t, s.Sort(SortByDeparture))

	var buf bytes.Buffer
	require.NoError(t, s.Save(&buf))
	truncated := buf.Bytes()[:len(buf.Bytes())-4]

	_, err := Load(bytes.NewReader(truncated))
	assert.ErrorIs(t, err, csaerr.ErrTruncatedStream)
}
