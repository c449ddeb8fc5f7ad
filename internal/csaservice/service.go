// Package csaservice holds the CSA stores (ConnectionsStore, TransfersStore,
// stoplinks.Index) in memory for the life of the API process, the same
// singleton-load-at-startup shape internal/graph.GetGraph uses for the A*
// node/edge graph.
package csaservice

import (
	"context"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/passbi/passbi_core/internal/csa"
	"github.com/passbi/passbi_core/internal/csabuild"
	"github.com/passbi/passbi_core/internal/gtfs"
	"github.com/passbi/passbi_core/internal/routing"
	"github.com/passbi/passbi_core/internal/stoplinks"
)

// walkingSpeed mirrors csabuild's constant, used to turn a straight-line
// boundary-leg distance into a walking duration.
const walkingSpeed = 1.4

// maxBoundaryWalkM bounds how far a query's source/target point may sit
// from the nearest stop before profile search gives up, the CSA analogue
// of graph.InMemoryGraph.FindNearestNodes' search radii.
const maxBoundaryWalkM = 1500

// Service holds the CSA stores plus the stop metadata needed to resolve
// query coordinates into boundary stops.
type Service struct {
	mu sync.RWMutex

	connections *csa.ConnectionsStore
	transfers   *csa.TransfersStore
	stopLinks   *stoplinks.Index

	stops          []csabuild.StopMeta // indexed by dense stop id
	stopIndex      map[string]uint32   // GTFS stop_id -> dense stop id
	tripServiceIDs []string
	calendar       *gtfs.ServiceCalendar

	loaded bool
}

var (
	global     *Service
	globalOnce sync.Once
)

// Get returns the singleton CSA service.
func Get() *Service {
	globalOnce.Do(func() {
		global = &Service{}
	})
	return global
}

// LoadFromDB populates the service from the routing database, the CSA
// analogue of graph.InMemoryGraph.LoadFromDB. routerDBGuid identifies the
// road-network snapshot the stop_road_link rows were snapped against.
func (s *Service) LoadFromDB(ctx context.Context, db *pgxpool.Pool, routerDBGuid uuid.UUID) error {
	result, err := csabuild.NewBuilder(db).Build(ctx, routerDBGuid)
	if err != nil {
		return fmt.Errorf("csaservice: build CSA stores: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.connections = result.Connections
	s.transfers = result.Transfers
	s.stopLinks = result.StopLinks
	s.stops = result.Stops
	s.tripServiceIDs = result.TripServiceIDs
	s.calendar = result.Calendar

	s.stopIndex = make(map[string]uint32, len(result.Stops))
	for denseID, meta := range result.Stops {
		s.stopIndex[meta.StopID] = uint32(denseID)
	}

	s.loaded = true

	return nil
}

// IsLoaded reports whether LoadFromDB has completed successfully.
func (s *Service) IsLoaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// Connections returns the loaded ConnectionsStore, already sorted
// ByDeparture.
func (s *Service) Connections() *csa.ConnectionsStore {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connections
}

// Transfers returns the loaded TransfersStore.
func (s *Service) Transfers() *csa.TransfersStore {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transfers
}

// ScheduleFilter returns the trip_is_possible predicate ProfileSearch
// needs, bound to the loaded calendar and trip->service_id mapping.
func (s *Service) ScheduleFilter() func(tripID uint32, connectionTime int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tripServiceIDs := s.tripServiceIDs
	calendar := s.calendar
	return (&csabuild.Result{TripServiceIDs: tripServiceIDs, Calendar: calendar}).ScheduleFilter()
}

// IsServiceActive reports whether a GTFS service_id runs on date, per the
// loaded calendar (internal/gtfs.ServiceCalendar.IsActiveOn). Exposed so
// HTTP handlers that already hold a loaded Service (rather than going
// back to the database's calendar/calendar_date join) can reuse the same
// calendar the CSA schedule filter scans against.
func (s *Service) IsServiceActive(serviceID string, date time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.calendar == nil {
		return false
	}
	return s.calendar.IsActiveOn(serviceID, date)
}

// StopMeta resolves a dense stop id to its name and coordinates, the
// collaborator internal/routebuilder.StopMetaFunc expects.
func (s *Service) StopMeta(stopID uint32) (name string, lat, lon float64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if int(stopID) >= len(s.stops) {
		return "", 0, 0, false
	}
	meta := s.stops[stopID]
	return meta.Name, meta.Lat, meta.Lon, true
}

// NearestStop is a straight-line approximation of
// internal/access.BoundedSearch: the teacher's road-network router and
// Dijkstra primitive are external collaborators with no in-repo
// implementation (internal/access.RoadGraph/RoadDijkstra), so the
// boundary leg here is a Haversine walk from the query point to the
// closest stop rather than a road-snapped route.
func (s *Service) NearestStop(lat, lon float64) (stopID uint32, meta csabuild.StopMeta, distanceM float64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Prefer the A* graph's spatial index (internal/graph.InMemoryGraph)
	// when it happens to be loaded in the same process: both subsystems
	// index the same stop table, so its nearest-node search is a faster,
	// already-built alternative to the linear scan below.
	if router := routing.NewRouter(); router != nil {
		if gtfsStopID, dist, found := router.NearestStopID(lat, lon); found && dist <= maxBoundaryWalkM {
			if denseID, indexed := s.stopIndex[gtfsStopID]; indexed {
				return denseID, s.stops[denseID], dist, true
			}
		}
	}

	best := -1
	bestDist := math.Inf(1)
	for i, stop := range s.stops {
		d := haversineMeters(lat, lon, stop.Lat, stop.Lon)
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	if best < 0 || bestDist > maxBoundaryWalkM {
		return 0, csabuild.StopMeta{}, 0, false
	}
	return uint32(best), s.stops[best], bestDist, true
}

// BoundaryWalkSeconds converts a straight-line distance into a walking
// duration at walkingSpeed, the same conversion csabuild.buildTransfers
// uses for footpath transfers.
func BoundaryWalkSeconds(distanceM float64) float64 {
	return distanceM / walkingSpeed
}

func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	return gtfs.HaversineMeters(lat1, lon1, lat2, lon2)
}

// RouterDBGuidFromEnv reads ROUTER_DB_GUID, the road-network snapshot
// identifier csabuild.Builder.Build ties the stop-links index to.
func RouterDBGuidFromEnv() (uuid.UUID, error) {
	raw := os.Getenv("ROUTER_DB_GUID")
	if raw == "" {
		return uuid.UUID{}, fmt.Errorf("ROUTER_DB_GUID not set")
	}
	return uuid.Parse(raw)
}
