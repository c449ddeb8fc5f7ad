package routebuilder

import (
	"testing"

	"github.com/passbi/passbi_core/internal/models"
	"github.com/passbi/passbi_core/internal/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeStopMeta(t *testing.T) StopMetaFunc {
	coords := map[uint32][2]float64{
		0: {1.0, 1.0},
		1: {1.1, 1.1},
		2: {1.2, 1.2},
	}
	names := map[uint32]string{0: "Stop A", 1: "Stop B", 2: "Stop C"}
	return func(stopID uint32) (string, float64, float64, bool) {
		c, ok := coords[stopID]
		if !ok {
			return "", 0, 0, false
		}
		return names[stopID], c[0], c[1], true
	}
}

func TestBuild_ConcatenatesBoundaryLegsAndTransit(t *testing.T) {
	meta := fakeStopMeta(t)

	itin := &profile.Itinerary{
		SourceStop:    0,
		TargetStop:    2,
		DepartureTime: 1000,
		ArrivalTime:   1500,
		TransferCount: 1,
		Legs: []profile.Leg{
			{FromStop: 0, ToStop: 1, Trip: 7, DepartureTime: 1000, ArrivalTime: 1300, ConnectionIDs: []uint32{0}},
			{FromStop: 1, ToStop: 2, IsTransfer: true, DepartureTime: 1300, ArrivalTime: 1500},
		},
	}

	sourceLeg := BoundaryLeg{Seconds: 120, DistanceM: 150, EndpointStop: 0, EndpointLat: 1.0, EndpointLon: 1.0}
	targetLeg := BoundaryLeg{Seconds: 0, EndpointStop: 2, EndpointLat: 1.2, EndpointLon: 1.2}

	path, err := Build(sourceLeg, itin, targetLeg, meta)
	require.NoError(t, err)

	require.Len(t, path.Steps, 3)
	assert.Equal(t, models.EdgeWalk, path.Steps[0].Type)
	assert.Equal(t, 120, path.Steps[0].Duration)
	assert.Equal(t, models.EdgeRide, path.Steps[1].Type)
	assert.Equal(t, 300, path.Steps[1].Duration)
	assert.Equal(t, models.EdgeTransfer, path.Steps[2].Type)

	assert.Equal(t, 120+300+200, path.TotalTime)
	assert.Equal(t, 150, path.TotalWalk)
}

func TestBuild_RejectsMismatchedSourceStop(t *testing.T) {
	meta := fakeStopMeta(t)
	itin := &profile.Itinerary{SourceStop: 1, TargetStop: 2}
	sourceLeg := BoundaryLeg{EndpointStop: 0}
	targetLeg := BoundaryLeg{EndpointStop: 2, EndpointLat: 1.2, EndpointLon: 1.2}

	_, err := Build(sourceLeg, itin, targetLeg, meta)
	assert.Error(t, err)
}

func TestBuild_RejectsCoordinateMismatchBeyondEpsilon(t *testing.T) {
	meta := fakeStopMeta(t)
	itin := &profile.Itinerary{SourceStop: 0, TargetStop: 2}
	sourceLeg := BoundaryLeg{EndpointStop: 0, EndpointLat: 5.0, EndpointLon: 5.0}
	targetLeg := BoundaryLeg{EndpointStop: 2, EndpointLat: 1.2, EndpointLon: 1.2}

	_, err := Build(sourceLeg, itin, targetLeg, meta)
	assert.Error(t, err)
}
