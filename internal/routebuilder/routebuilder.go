// Package routebuilder assembles the final itinerary: a boundary
// forward road leg from the query's source point to the first transit
// stop, the transit portion reconstructed by internal/profile, and a
// boundary backward road leg from the last transit stop to the target
// point.
package routebuilder

import (
	"fmt"
	"math"

	"github.com/passbi/passbi_core/internal/models"
	"github.com/passbi/passbi_core/internal/profile"
)

// coordEpsilon is the floating-point tolerance spec.md §4.6 permits when
// concatenating legs that are supposed to share an endpoint coordinate.
const coordEpsilon = 1e-6

// BoundaryLeg is one of the two road-network legs bookending the transit
// portion: the result of a ClosestStopsSearch run in one direction.
type BoundaryLeg struct {
	Seconds      float64
	DistanceM    int
	EndpointStop uint32
	EndpointLat  float64
	EndpointLon  float64
}

// StopMetaFunc resolves a stop id to display metadata and coordinates,
// an external collaborator (spec's parallel stop array).
type StopMetaFunc func(stopID uint32) (name string, lat, lon float64, ok bool)

// Build concatenates sourceLeg (query source -> first transit stop),
// the reconstructed transit itinerary, and targetLeg (last transit stop
// -> query target) into one models.Path, in the teacher's Path/Step
// shape (internal/routing/astar.go's buildSteps).
func Build(sourceLeg BoundaryLeg, itinerary *profile.Itinerary, targetLeg BoundaryLeg, stopMeta StopMetaFunc) (*models.Path, error) {
	if sourceLeg.EndpointStop != itinerary.SourceStop {
		return nil, fmt.Errorf("routebuilder: source leg ends at stop %d but itinerary starts at stop %d", sourceLeg.EndpointStop, itinerary.SourceStop)
	}
	if targetLeg.EndpointStop != itinerary.TargetStop {
		return nil, fmt.Errorf("routebuilder: target leg starts at stop %d but itinerary ends at stop %d", targetLeg.EndpointStop, itinerary.TargetStop)
	}
	if err := checkCoordJoin(sourceLeg.EndpointStop, sourceLeg.EndpointLat, sourceLeg.EndpointLon, stopMeta); err != nil {
		return nil, err
	}
	if err := checkCoordJoin(targetLeg.EndpointStop, targetLeg.EndpointLat, targetLeg.EndpointLon, stopMeta); err != nil {
		return nil, err
	}

	var steps []models.Step
	totalTime := 0
	totalWalk := 0
	transfers := 0

	if sourceLeg.Seconds > 0 {
		toName, _, _, _ := stopMeta(itinerary.SourceStop)
		steps = append(steps, models.Step{
			Type:         models.EdgeWalk,
			ToStop:       stopID(itinerary.SourceStop),
			ToStopName:   toName,
			Duration:     int(math.Round(sourceLeg.Seconds)),
			Distance:     sourceLeg.DistanceM,
		})
		totalTime += int(math.Round(sourceLeg.Seconds))
		totalWalk += sourceLeg.DistanceM
	}

	var lastRideTrip uint32
	lastRideValid := false

	for _, leg := range itinerary.Legs {
		fromName, _, _, _ := stopMeta(leg.FromStop)
		toName, _, _, _ := stopMeta(leg.ToStop)
		duration := int(leg.ArrivalTime) - int(leg.DepartureTime)

		if leg.IsTransfer {
			steps = append(steps, models.Step{
				Type:         models.EdgeTransfer,
				FromStop:     stopID(leg.FromStop),
				FromStopName: fromName,
				ToStop:       stopID(leg.ToStop),
				ToStopName:   toName,
				Duration:     duration,
			})
			totalTime += duration
			continue
		}

		steps = append(steps, models.Step{
			Type:         models.EdgeRide,
			FromStop:     stopID(leg.FromStop),
			FromStopName: fromName,
			ToStop:       stopID(leg.ToStop),
			ToStopName:   toName,
			Duration:     duration,
			NumStops:     len(leg.ConnectionIDs),
		})
		totalTime += duration
		if lastRideValid && leg.Trip != lastRideTrip {
			transfers++
		}
		lastRideTrip = leg.Trip
		lastRideValid = true
	}

	if targetLeg.Seconds > 0 {
		fromName, _, _, _ := stopMeta(itinerary.TargetStop)
		steps = append(steps, models.Step{
			Type:         models.EdgeWalk,
			FromStop:     stopID(itinerary.TargetStop),
			FromStopName: fromName,
			Duration:     int(math.Round(targetLeg.Seconds)),
			Distance:     targetLeg.DistanceM,
		})
		totalTime += int(math.Round(targetLeg.Seconds))
		totalWalk += targetLeg.DistanceM
	}

	return &models.Path{
		TotalTime:     totalTime,
		TotalWalk:     totalWalk,
		Transfers:     transfers,
		Strategy:      "csa",
		DurationMins:  (totalTime + 59) / 60,
		WalkDistanceM: totalWalk,
		Steps:         steps,
	}, nil
}

func checkCoordJoin(stop uint32, lat, lon float64, stopMeta StopMetaFunc) error {
	_, wantLat, wantLon, ok := stopMeta(stop)
	if !ok {
		return fmt.Errorf("routebuilder: stop %d has no metadata", stop)
	}
	if math.Abs(lat-wantLat) > coordEpsilon || math.Abs(lon-wantLon) > coordEpsilon {
		return fmt.Errorf("routebuilder: boundary leg endpoint (%f,%f) does not match stop %d at (%f,%f)", lat, lon, stop, wantLat, wantLon)
	}
	return nil
}

// stopID renders a numeric stop id as the string form models.Step uses,
// matching the teacher's GTFS-derived string stop ids.
func stopID(id uint32) string {
	return fmt.Sprintf("%d", id)
}
