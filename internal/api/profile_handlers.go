package api

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/passbi/passbi_core/internal/cache"
	"github.com/passbi/passbi_core/internal/csaservice"
	"github.com/passbi/passbi_core/internal/models"
	"github.com/passbi/passbi_core/internal/profile"
	"github.com/passbi/passbi_core/internal/routebuilder"
	"github.com/passbi/passbi_core/internal/routing"
)

// ProfileSearchResponse is the /v2/profile-search response: a single
// CSA-derived itinerary, in the teacher's Path/Step shape.
type ProfileSearchResponse struct {
	Route           *RouteResult     `json:"route"`
	VehiclePosition *VehiclePosition `json:"vehicle_position,omitempty"`
}

// VehiclePosition is the optional ?vehicle_elapsed= estimate of where a
// vehicle following this itinerary would be after the given number of
// seconds, per internal/routing.VehiclePositionEstimator.
type VehiclePosition struct {
	Lat            float64 `json:"lat"`
	Lon            float64 `json:"lon"`
	DistanceM      int     `json:"distance_meters"`
	ElapsedSeconds int     `json:"elapsed_seconds"`
}

// ProfileSearch handles the /v2/profile-search endpoint: the
// Connection-Scan profile search, as opposed to RouteSearch's per-strategy
// A* search.
func ProfileSearch(c *fiber.Ctx) error {
	fromStr := c.Query("from")
	toStr := c.Query("to")

	if fromStr == "" || toStr == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "missing required parameters: from and to",
		})
	}

	fromLat, fromLon, err := parseCoordinates(fromStr)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": fmt.Sprintf("invalid 'from' coordinates: %v", err),
		})
	}

	toLat, toLon, err := parseCoordinates(toStr)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": fmt.Sprintf("invalid 'to' coordinates: %v", err),
		})
	}

	departure := time.Now().UTC()
	if depStr := c.Query("departure"); depStr != "" {
		unixSeconds, err := strconv.ParseInt(depStr, 10, 64)
		if err != nil {
			return c.Status(400).JSON(fiber.Map{
				"error": "invalid 'departure' (expected unix seconds)",
			})
		}
		departure = time.Unix(unixSeconds, 0).UTC()
	}

	svc := csaservice.Get()
	if !svc.IsLoaded() {
		return c.Status(503).JSON(fiber.Map{
			"error": "CSA stores not loaded",
		})
	}

	strategy := routing.ProfileStrategyFor(c.Query("strategy"))

	ctx := c.Context()
	path, err := computeProfileRoute(ctx, svc, fromLat, fromLon, toLat, toLon, departure, strategy)
	if err != nil {
		log.Printf("Profile search failed: %v", err)
		return c.Status(404).JSON(fiber.Map{
			"error": "no route found between the specified locations",
		})
	}

	resp := ProfileSearchResponse{
		Route: &RouteResult{
			DurationSeconds: path.TotalTime,
			WalkDistanceM:   path.TotalWalk,
			Transfers:       path.Transfers,
			Steps:           path.Steps,
		},
	}

	if elapsedStr := c.Query("vehicle_elapsed"); elapsedStr != "" {
		elapsed, err := strconv.Atoi(elapsedStr)
		if err != nil {
			return c.Status(400).JSON(fiber.Map{
				"error": "invalid 'vehicle_elapsed' (expected seconds)",
			})
		}
		estimator := routing.NewVehiclePositionEstimator(nil)
		lat, lon, err := estimator.EstimatePositionFromSteps(path, elapsed, stopCoordsFunc(svc))
		if err != nil {
			log.Printf("Vehicle position estimate failed: %v", err)
		} else {
			resp.VehiclePosition = &VehiclePosition{
				Lat:            lat,
				Lon:            lon,
				DistanceM:      estimator.DistanceAlongPathFromSteps(path, elapsed),
				ElapsedSeconds: elapsed,
			}
		}
	}

	return c.JSON(resp)
}

// stopCoordsFunc adapts csaservice's dense-id-keyed stop metadata into the
// string-keyed routing.StopCoordsFunc the vehicle position estimator
// expects, since routebuilder.Build renders stop ids as decimal strings
// (internal/routebuilder.stopID).
func stopCoordsFunc(svc *csaservice.Service) routing.StopCoordsFunc {
	return func(stopIDStr string) (lat, lon float64, ok bool) {
		id, err := strconv.ParseUint(stopIDStr, 10, 32)
		if err != nil {
			return 0, 0, false
		}
		_, lat, lon, ok = svc.StopMeta(uint32(id))
		return lat, lon, ok
	}
}

// computeProfileRoute runs a CSA profile search with the same
// cache-then-lock-then-compute flow RouteSearch's computeRoute uses for
// A* results, caching the reconstructed profile.Itinerary rather than the
// final models.Path since the boundary legs (and so the assembled Path)
// depend on the exact query point, while the transit itinerary only
// depends on the boarding/alighting stops.
func computeProfileRoute(ctx context.Context, svc *csaservice.Service, fromLat, fromLon, toLat, toLon float64, departure time.Time, strategy routing.Strategy) (*models.Path, error) {
	sourceStop, sourceMeta, sourceDist, ok := svc.NearestStop(fromLat, fromLon)
	if !ok {
		return nil, fmt.Errorf("no stop found near origin")
	}
	targetStop, targetMeta, targetDist, ok := svc.NearestStop(toLat, toLon)
	if !ok {
		return nil, fmt.Errorf("no stop found near destination")
	}

	dayOrigin := time.Date(departure.Year(), departure.Month(), departure.Day(), 0, 0, 0, 0, time.UTC).Unix()
	earliestSeconds := uint32(departure.Sub(time.Unix(dayOrigin, 0).UTC()).Seconds())

	cacheKey := cache.ProfileKey(fromLat, fromLon, toLat, toLon, earliestSeconds) + ":" + strategy.Name()
	lockKey := cache.LockKey(cacheKey)

	itinerary, err := cache.GetProfile(ctx, cacheKey)
	if err != nil {
		log.Printf("Failed to read profile cache: %v", err)
	}

	if itinerary == nil {
		acquired, lockErr := cache.AcquireLock(ctx, lockKey, 5*time.Second)
		if lockErr != nil {
			log.Printf("Failed to acquire profile lock: %v", lockErr)
		} else if !acquired {
			if cached, waitErr := cache.WaitForProfile(ctx, cacheKey, 3*time.Second); waitErr == nil && cached != nil {
				itinerary = cached
			}
		}

		if itinerary == nil {
			search := profile.NewProfileSearch(svc.Connections(), svc.Transfers(), svc.ScheduleFilter()).
				WithStrategy(strategy)
			search.SetSourceStop(sourceStop, earliestSeconds)
			search.SetTargetStop(targetStop, 0)

			if err := search.Run(ctx, dayOrigin); err != nil {
				if acquired {
					cache.ReleaseLock(ctx, lockKey)
				}
				return nil, fmt.Errorf("profile search: %w", err)
			}

			built, err := search.Reconstruct()
			if err != nil {
				if acquired {
					cache.ReleaseLock(ctx, lockKey)
				}
				return nil, fmt.Errorf("reconstruct itinerary: %w", err)
			}
			itinerary = built

			if cacheErr := cache.SetProfile(ctx, cacheKey, itinerary, 2*time.Minute); cacheErr != nil {
				log.Printf("Failed to cache profile result: %v", cacheErr)
			}
		}

		if acquired {
			cache.ReleaseLock(ctx, lockKey)
		}
	}

	sourceLeg := routebuilder.BoundaryLeg{
		Seconds:      csaservice.BoundaryWalkSeconds(sourceDist),
		DistanceM:    int(sourceDist),
		EndpointStop: sourceStop,
		EndpointLat:  sourceMeta.Lat,
		EndpointLon:  sourceMeta.Lon,
	}
	targetLeg := routebuilder.BoundaryLeg{
		Seconds:      csaservice.BoundaryWalkSeconds(targetDist),
		DistanceM:    int(targetDist),
		EndpointStop: targetStop,
		EndpointLat:  targetMeta.Lat,
		EndpointLon:  targetMeta.Lon,
	}

	return routebuilder.Build(sourceLeg, itinerary, targetLeg, svc.StopMeta)
}
