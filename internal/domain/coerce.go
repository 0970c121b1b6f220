package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// TracePrecip is the value recorded for a trace ("T") precipitation amount.
const TracePrecip = 0.005

// VariableWind is stored for both wind direction and cardinal when the
// source reports a variable direction.
const VariableWind = "VRB"

var cardinals = [16]string{
	"N", "NNE", "NE", "ENE", "E", "ESE", "SE", "SSE",
	"S", "SSW", "SW", "WSW", "W", "WNW", "NW", "NNW",
}

// isMissing reports whether s is one of the NOAA missing-value sentinels.
func isMissing(s string) bool {
	switch s {
	case "", "M", "-", "err", "null":
		return true
	}
	return false
}

// FloatOrNA parses s as a float. Missing sentinels yield (nil, nil); an
// unparseable value yields (nil, err) and the caller records a diagnostic.
func FloatOrNA(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if isMissing(s) {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("parse float %q: %w", s, err)
	}
	return &v, nil
}

// IntegerOrNA parses s as an integer. "VRB" is treated as missing in addition
// to the usual sentinels.
func IntegerOrNA(s string) (*int, error) {
	s = strings.TrimSpace(s)
	if isMissing(s) || s == VariableWind {
		return nil, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil, fmt.Errorf("parse integer %q: %w", s, err)
	}
	return &v, nil
}

// Temp parses a temperature, stripping the trailing "*" estimate marker.
func Temp(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "*")
	return FloatOrNA(s)
}

// Precip parses a precipitation amount. "T" (trace) becomes TracePrecip.
func Precip(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "T" {
		v := TracePrecip
		return &v, nil
	}
	return FloatOrNA(s)
}

// Wind is a normalized wind direction: whole degrees as text (or "VRB") and
// the 16-point cardinal. Both are nil when there is no meaningful direction.
type Wind struct {
	Direction *string
	Cardinal  *string
}

// ParseWind normalizes a reported wind direction for the given speed.
// A calm wind (speed == 0) has no direction. A nil speed does not force
// nulls because speed may simply be missing.
func ParseWind(speed *float64, dir string) (Wind, error) {
	if speed != nil && *speed == 0 {
		return Wind{}, nil
	}

	dir = strings.TrimSpace(dir)
	switch dir {
	case "VR", "M", VariableWind:
		return Wind{Direction: ptr(VariableWind), Cardinal: ptr(VariableWind)}, nil
	case "", "-":
		return Wind{}, nil
	}

	v, err := strconv.ParseFloat(dir, 64)
	if err != nil {
		return Wind{}, fmt.Errorf("parse wind direction %q: %w", dir, err)
	}
	deg := int(math.Round(v))
	return Wind{
		Direction: ptr(strconv.Itoa(deg)),
		Cardinal:  ptr(CardinalDirection(deg)),
	}, nil
}

// CardinalDirection maps degrees to one of 16 compass points.
// Bucket boundaries sit half a sector either side of each point, so 11 is N
// and 12 is NNE.
func CardinalDirection(deg int) string {
	idx := int(float64(deg)/22.5+0.5) % 16
	if idx < 0 {
		idx += 16
	}
	return cardinals[idx]
}

func ptr[T any](v T) *T { return &v }

// intToFloat widens an optional integer, used where the wind speed is
// reported as an integer but direction handling takes a float.
func intToFloat(v *int) *float64 {
	if v == nil {
		return nil
	}
	f := float64(*v)
	return &f
}
