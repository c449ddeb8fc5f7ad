// Package csa implements the Connection-Scan core's columnar connection
// storage: a compact, sortable array of timetabled connections plus a
// sparse symmetric footpath-transfer table.
package csa

import (
	"fmt"

	"github.com/passbi/passbi_core/internal/csaerr"
)

const (
	// wordsPerConnection is the number of packed u32 words a single
	// connection occupies in the primary record array.
	wordsPerConnection = 4

	// maxDuration is 2^15-1 seconds (~9h6m), the largest value that fits
	// the 15 high bits of the packed word.
	maxDuration = (1 << 15) - 1

	// maxDepartureTime is 2^17-1 seconds (~36h), the largest value that
	// fits the 17 low bits of the packed word, deliberately spanning more
	// than a day to permit overnight trips.
	maxDepartureTime = (1 << 17) - 1

	departureBits = 17
)

// Connection is a single vehicle hop from Stop to Stop departing at
// DepartureTime and arriving DepartureTime+Duration seconds later.
type Connection struct {
	DepartureStop uint32
	ArrivalStop   uint32
	Trip          uint32
	DepartureTime uint32 // seconds-of-day, may exceed 86400 for overnight trips
	Duration      uint16 // seconds
	ID            uint32
}

// ArrivalTime returns DepartureTime + Duration.
func (c Connection) ArrivalTime() uint32 {
	return c.DepartureTime + uint32(c.Duration)
}

// packWord3 encodes DepartureTime (low 17 bits) and Duration (next 15
// bits) into a single u32, per the on-disk word-3 layout.
func packWord3(departureTime uint32, duration uint16) uint32 {
	return (departureTime & maxDepartureTime) | (uint32(duration) << departureBits)
}

// unpackWord3 is the inverse of packWord3.
func unpackWord3(word uint32) (departureTime uint32, duration uint16) {
	departureTime = word & maxDepartureTime
	duration = uint16(word >> departureBits)
	return
}

// validateRange enforces the build-time invariants from the connection
// model: arrival must strictly follow departure, duration must fit 15
// bits, and departure time must fit 17 bits.
func validateRange(departureTime, arrivalTime uint32) error {
	if arrivalTime <= departureTime {
		return fmt.Errorf("%w: arrival %d <= departure %d", csaerr.ErrArrivalNotAfterDep, arrivalTime, departureTime)
	}
	duration := arrivalTime - departureTime
	if duration > maxDuration {
		return fmt.Errorf("%w: duration %ds exceeds %ds", csaerr.ErrDurationOutOfRange, duration, maxDuration)
	}
	if departureTime > maxDepartureTime {
		return fmt.Errorf("%w: departure %ds exceeds %ds", csaerr.ErrDepartureOutOfRange, departureTime, maxDepartureTime)
	}
	return nil
}
