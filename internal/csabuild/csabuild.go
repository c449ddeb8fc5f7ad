// Package csabuild populates the in-memory CSA stores (ConnectionsStore,
// TransfersStore, stoplinks.Index) from the routing database, the same
// way internal/graph.Builder populates the node/edge A* graph from GTFS
// data already imported into Postgres.
package csabuild

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/passbi/passbi_core/internal/csa"
	"github.com/passbi/passbi_core/internal/gtfs"
	"github.com/passbi/passbi_core/internal/models"
	"github.com/passbi/passbi_core/internal/profile"
	"github.com/passbi/passbi_core/internal/stoplinks"
)

// pedestrianProfile is the only access-mode profile csabuild populates
// today; a second profile (e.g. "wheelchair") would be a second Index
// built from a different stop_road_link query.
const pedestrianProfile = "pedestrian"

// maxTransferSeconds bounds which nearby-stop pairs become TransfersStore
// footpaths, the time-budget analogue of graph.Builder's maxWalkDistance.
const maxTransferSeconds = 600

// walkingSpeed mirrors graph.Builder's walkingSpeed (meters/second) used
// to convert the Haversine stop-to-stop distance into a walk duration.
const walkingSpeed = 1.4

// StopMeta is the resolved identity of a dense uint32 stop id: its GTFS
// string id, display name, and coordinates, as internal/routebuilder's
// StopMetaFunc needs.
type StopMeta struct {
	StopID string
	Name   string
	Lat    float64
	Lon    float64
}

// Result bundles the three CSA stores plus the per-dense-id stop and trip
// metadata and the service calendar. cmd/build-csa serializes only the
// connections and stop-links stores.
type Result struct {
	Connections *csa.ConnectionsStore
	Transfers   *csa.TransfersStore
	StopLinks   *stoplinks.Index

	Stops          []StopMeta // indexed by dense stop id
	TripIDs        []string   // indexed by dense trip id
	TripServiceIDs []string   // indexed by dense trip id; the calendar service each trip belongs to
	Calendar       *gtfs.ServiceCalendar

	ConnectionCount int
	TransferCount   int
	LinkCount       int
}

// Builder loads CSA stores from the routing database.
type Builder struct {
	db *pgxpool.Pool
}

// NewBuilder returns a Builder reading from db, the same *pgxpool.Pool
// internal/graph.Builder and internal/db.GetDB share.
func NewBuilder(db *pgxpool.Pool) *Builder {
	return &Builder{db: db}
}

// Build reads stop_time/trip/stop rows (plus a stop_road_link snap table)
// and returns the populated CSA stores. routerDBGuid ties the returned
// StopLinks index to whichever road-network snapshot produced the
// stop_road_link rows; callers regenerate both together.
func (b *Builder) Build(ctx context.Context, routerDBGuid uuid.UUID) (*Result, error) {
	log.Println("Building CSA stores from database...")

	stopIndex, stops, err := b.loadStops(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load stops: %w", err)
	}
	log.Printf("Resolved %d stops", len(stops))

	tripIndex, tripIDs, tripServiceIDs, err := b.loadTrips(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load trips: %w", err)
	}
	log.Printf("Resolved %d trips", len(tripIDs))

	connections, connCount, err := b.buildConnections(ctx, stopIndex, tripIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to build connections: %w", err)
	}
	log.Printf("Created %d connections", connCount)

	if err := connections.Sort(csa.SortByDeparture); err != nil {
		return nil, fmt.Errorf("failed to sort connections: %w", err)
	}

	transfers, transferCount, err := b.buildTransfers(ctx, stopIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to build transfers: %w", err)
	}
	log.Printf("Created %d transfer pairs", transferCount)

	links, linkCount, err := b.buildStopLinks(ctx, stopIndex, routerDBGuid)
	if err != nil {
		return nil, fmt.Errorf("failed to build stop links: %w", err)
	}
	log.Printf("Created %d stop links", linkCount)

	calendar, err := b.LoadServiceCalendar(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load service calendar: %w", err)
	}

	log.Println("CSA store build complete")

	return &Result{
		Connections:     connections,
		Transfers:       transfers,
		StopLinks:       links,
		Stops:           stops,
		TripIDs:         tripIDs,
		TripServiceIDs:  tripServiceIDs,
		Calendar:        calendar,
		ConnectionCount: connCount,
		TransferCount:   transferCount,
		LinkCount:       linkCount,
	}, nil
}

// loadStops assigns each GTFS stop_id a dense uint32 id, in ascending
// stop_id order so that stoplinks' append-only-ascending contract can be
// satisfied simply by iterating stops in the same order.
func (b *Builder) loadStops(ctx context.Context) (map[string]uint32, []StopMeta, error) {
	rows, err := b.db.Query(ctx, `
		SELECT stop_id, name, lat, lon
		FROM stop
		WHERE lat IS NOT NULL AND lon IS NOT NULL
		ORDER BY stop_id
	`)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	index := make(map[string]uint32)
	var stops []StopMeta

	for rows.Next() {
		var meta StopMeta
		if err := rows.Scan(&meta.StopID, &meta.Name, &meta.Lat, &meta.Lon); err != nil {
			return nil, nil, fmt.Errorf("scan stop row: %w", err)
		}
		index[meta.StopID] = uint32(len(stops))
		stops = append(stops, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	return index, stops, nil
}

// loadTrips assigns each GTFS trip_id a dense uint32 id, alongside the
// calendar service_id it runs under (needed by ScheduleFilter to turn a
// trip id back into a service for trip_is_possible checks).
func (b *Builder) loadTrips(ctx context.Context) (map[string]uint32, []string, []string, error) {
	rows, err := b.db.Query(ctx, `SELECT trip_id, service_id FROM trip ORDER BY trip_id`)
	if err != nil {
		return nil, nil, nil, err
	}
	defer rows.Close()

	index := make(map[string]uint32)
	var ids []string
	var serviceIDs []string

	for rows.Next() {
		var tripID, serviceID string
		if err := rows.Scan(&tripID, &serviceID); err != nil {
			return nil, nil, nil, fmt.Errorf("scan trip row: %w", err)
		}
		index[tripID] = uint32(len(ids))
		ids = append(ids, tripID)
		serviceIDs = append(serviceIDs, serviceID)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, nil, err
	}

	return index, ids, serviceIDs, nil
}

// ScheduleFilter adapts Result's Calendar and dense trip->service_id
// mapping into the profile.ScheduleFilter ProfileSearch consumes as its
// trip_is_possible predicate. connectionTime arrives as Unix seconds
// (ProfileSearch's dayOrigin plus the connection's time-of-day offset);
// the teacher does no GTFS timezone handling elsewhere either, so this
// resolves the calendar date via time.UTC.
func (r *Result) ScheduleFilter() profile.ScheduleFilter {
	return func(tripID uint32, connectionTime int64) bool {
		if int(tripID) >= len(r.TripServiceIDs) {
			return false
		}
		serviceID := r.TripServiceIDs[tripID]
		date := time.Unix(connectionTime, 0).UTC()
		return r.Calendar.IsActiveOn(serviceID, date)
	}
}

// LoadServiceCalendar reads the calendar/calendar_date tables (already
// populated by cmd/importer's importCalendar/importCalendarDates) into a
// gtfs.ServiceCalendar.
func (b *Builder) LoadServiceCalendar(ctx context.Context) (*gtfs.ServiceCalendar, error) {
	calRows, err := b.db.Query(ctx, `
		SELECT service_id, monday, tuesday, wednesday, thursday, friday, saturday, sunday,
			to_char(start_date, 'YYYYMMDD'), to_char(end_date, 'YYYYMMDD')
		FROM calendar
	`)
	if err != nil {
		return nil, fmt.Errorf("query calendar: %w", err)
	}
	defer calRows.Close()

	var calendars []models.GTFSCalendar
	for calRows.Next() {
		var c models.GTFSCalendar
		if err := calRows.Scan(&c.ServiceID, &c.Monday, &c.Tuesday, &c.Wednesday, &c.Thursday,
			&c.Friday, &c.Saturday, &c.Sunday, &c.StartDate, &c.EndDate); err != nil {
			return nil, fmt.Errorf("scan calendar row: %w", err)
		}
		calendars = append(calendars, c)
	}
	if err := calRows.Err(); err != nil {
		return nil, err
	}

	dateRows, err := b.db.Query(ctx, `
		SELECT service_id, to_char(date, 'YYYYMMDD'), exception_type
		FROM calendar_date
	`)
	if err != nil {
		return nil, fmt.Errorf("query calendar_date: %w", err)
	}
	defer dateRows.Close()

	var calendarDates []models.GTFSCalendarDate
	for dateRows.Next() {
		var d models.GTFSCalendarDate
		if err := dateRows.Scan(&d.ServiceID, &d.Date, &d.ExceptionType); err != nil {
			return nil, fmt.Errorf("scan calendar_date row: %w", err)
		}
		calendarDates = append(calendarDates, d)
	}
	if err := dateRows.Err(); err != nil {
		return nil, err
	}

	return gtfs.NewServiceCalendar(calendars, calendarDates), nil
}

type stopTimeRow struct {
	tripID        string
	stopID        string
	sequence      int
	arrivalTime   string
	departureTime string
}

// buildConnections pairs up consecutive stop_time rows on each trip into
// CSA connections, the same consecutive-stop pairing graph.Builder's
// buildRideEdges does for RIDE edges, adapted to append to a
// ConnectionsStore instead of batching INSERT INTO edge statements.
func (b *Builder) buildConnections(ctx context.Context, stopIndex, tripIndex map[string]uint32) (*csa.ConnectionsStore, int, error) {
	rows, err := b.db.Query(ctx, `
		SELECT st.trip_id, st.stop_id, st.stop_sequence, st.arrival_time::text, st.departure_time::text
		FROM stop_time st
		JOIN trip t ON st.trip_id = t.trip_id
		ORDER BY st.trip_id, st.stop_sequence
	`)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	byTrip := make(map[string][]stopTimeRow)
	for rows.Next() {
		var r stopTimeRow
		if err := rows.Scan(&r.tripID, &r.stopID, &r.sequence, &r.arrivalTime, &r.departureTime); err != nil {
			return nil, 0, fmt.Errorf("scan stop_time row: %w", err)
		}
		byTrip[r.tripID] = append(byTrip[r.tripID], r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	store := csa.NewConnectionsStore()
	count := 0

	for tripID, stopTimes := range byTrip {
		trip, ok := tripIndex[tripID]
		if !ok {
			continue
		}
		sort.Slice(stopTimes, func(i, j int) bool {
			return stopTimes[i].sequence < stopTimes[j].sequence
		})

		for i := 0; i < len(stopTimes)-1; i++ {
			from := stopTimes[i]
			to := stopTimes[i+1]

			fromStop, ok := stopIndex[from.stopID]
			if !ok {
				continue
			}
			toStop, ok := stopIndex[to.stopID]
			if !ok {
				continue
			}

			depSeconds, err := gtfs.ParseTimeToSeconds(from.departureTime)
			if err != nil {
				log.Printf("Warning: skipping connection with unparseable departure time on trip %s: %v", tripID, err)
				continue
			}
			arrSeconds, err := gtfs.ParseTimeToSeconds(to.arrivalTime)
			if err != nil {
				log.Printf("Warning: skipping connection with unparseable arrival time on trip %s: %v", tripID, err)
				continue
			}
			if arrSeconds <= depSeconds {
				continue
			}

			if _, err := store.Add(fromStop, toStop, trip, uint32(depSeconds), uint32(arrSeconds)); err != nil {
				return nil, 0, fmt.Errorf("add connection for trip %s: %w", tripID, err)
			}
			count++
		}
	}

	return store, count, nil
}

// buildTransfers derives walk-transfer pairs from stops within
// maxTransferSeconds of each other, computed with the same Haversine
// formula graph.Builder's buildWalkEdges uses for WALK edges, but
// expressed as a time budget instead of a buildable edge.
func (b *Builder) buildTransfers(ctx context.Context, stopIndex map[string]uint32) (*csa.TransfersStore, int, error) {
	store := csa.NewTransfersStore(maxTransferSeconds)

	rows, err := b.db.Query(ctx, `
		SELECT s1.stop_id, s2.stop_id,
			6371000 * acos(
				LEAST(1.0, GREATEST(-1.0,
					cos(radians(s1.lat)) * cos(radians(s2.lat)) *
					cos(radians(s2.lon) - radians(s1.lon)) +
					sin(radians(s1.lat)) * sin(radians(s2.lat))
				))
			) AS distance_m
		FROM stop s1
		JOIN stop s2 ON s2.stop_id > s1.stop_id
		WHERE s1.lat IS NOT NULL AND s1.lon IS NOT NULL
			AND s2.lat IS NOT NULL AND s2.lon IS NOT NULL
	`)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var stopA, stopB string
		var distanceM float64
		if err := rows.Scan(&stopA, &stopB, &distanceM); err != nil {
			return nil, 0, fmt.Errorf("scan stop-distance row: %w", err)
		}

		a, ok := stopIndex[stopA]
		if !ok {
			continue
		}
		c, ok := stopIndex[stopB]
		if !ok {
			continue
		}

		seconds := uint32(distanceM / walkingSpeed)
		if store.Add(a, c, seconds) {
			count++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return store, count, nil
}

// buildStopLinks reads pre-snapped (stop, road edge, offset) rows from
// stop_road_link, a table populated by the road-network import alongside
// the stop/trip/stop_time tables graph.Builder already reads.
func (b *Builder) buildStopLinks(ctx context.Context, stopIndex map[string]uint32, routerDBGuid uuid.UUID) (*stoplinks.Index, int, error) {
	index := stoplinks.NewIndex(pedestrianProfile, routerDBGuid)

	rows, err := b.db.Query(ctx, `
		SELECT srl.stop_id, srl.edge_id, srl.offset
		FROM stop_road_link srl
		JOIN stop s ON s.stop_id = srl.stop_id
		ORDER BY s.stop_id, srl.edge_id, srl.offset
	`)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var stopID string
		var edgeID uint32
		var offset uint16
		if err := rows.Scan(&stopID, &edgeID, &offset); err != nil {
			return nil, 0, fmt.Errorf("scan stop_road_link row: %w", err)
		}

		stop, ok := stopIndex[stopID]
		if !ok {
			continue
		}

		if err := index.Add(stop, edgeID, offset); err != nil {
			return nil, 0, fmt.Errorf("add stop link for stop %s: %w", stopID, err)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return index, count, nil
}
