package csa

import (
	"testing"

	"github.com/passbi/passbi_core/internal/csaerr"
	"github.com/stretchr/testify/assert"
)

func TestPackWord3_RoundTrip(t *testing.T) {
	t.Run("typical values", func(t *testing.T) {
		packed := packWord3(28800, 600)
		dep, dur := unpackWord3(packed)
		assert.Equal(t, uint32(28800), dep)
		assert.Equal(t, uint16(600), dur)
	})

	t.Run("max departure and max duration", func(t *testing.T) {
		packed := packWord3(maxDepartureTime, maxDuration)
		dep, dur := unpackWord3(packed)
		assert.Equal(t, uint32(maxDepartureTime), dep)
		assert.Equal(t, uint16(maxDuration), dur)
	})

	t.Run("zero values", func(t *testing.T) {
		packed := packWord3(0, 0)
		dep, dur := unpackWord3(packed)
		assert.Equal(t, uint32(0), dep)
		assert.Equal(t, uint16(0), dur)
	})
}

func TestValidateRange(t *testing.T) {
	t.Run("rejects arrival not after departure", func(t *testing.T) {
		err := validateRange(1000, 1000)
		assert.ErrorIs(t, err, csaerr.ErrArrivalNotAfterDep)
	})

	t.Run("rejects duration over 32767 seconds", func(t *testing.T) {
		err := validateRange(0, 32769)
		assert.Error(t, err)
	})

	t.Run("rejects departure over 131071 seconds", func(t *testing.T) {
		err := validateRange(maxDepartureTime+1, maxDepartureTime+100)
		assert.Error(t, err)
	})

	t.Run("accepts boundary duration", func(t *testing.T) {
		err := validateRange(0, maxDuration)
		assert.NoError(t, err)
	})
}

func TestConnection_ArrivalTime(t *testing.T) {
	c := Connection{DepartureTime: 28800, Duration: 600}
	assert.Equal(t, uint32(29400), c.ArrivalTime())
}
