package geo

import (
	"errors"
	"fmt"
	"math"
)

const earthRadiusMeters = 6371000.0

var ErrInvalidCoordinate = errors.New("invalid coordinate")

type Point struct {
	Lat float64
	Lon float64
}

// DistanceFunc returns the distance in meters between two points.
type DistanceFunc func(a, b Point) (float64, error)

func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lon, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

func checkPoints(a, b Point) error {
	if !a.Valid() {
		return fmt.Errorf("%w: (%v, %v)", ErrInvalidCoordinate, a.Lat, a.Lon)
	}
	if !b.Valid() {
		return fmt.Errorf("%w: (%v, %v)", ErrInvalidCoordinate, b.Lat, b.Lon)
	}
	return nil
}

// Haversine is the fast spherical approximation.
func Haversine(a, b Point) (float64, error) {
	if err := checkPoints(a, b); err != nil {
		return 0, err
	}
	return haversine(a.Lat, a.Lon, b.Lat, b.Lon), nil
}

func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

// Bearing from a to b in degrees, 0..360.
func Bearing(a, b Point) float64 {
	y := math.Sin((b.Lon-a.Lon)*math.Pi/180.0) * math.Cos(b.Lat*math.Pi/180.0)
	x := math.Cos(a.Lat*math.Pi/180.0)*math.Sin(b.Lat*math.Pi/180.0) - math.Sin(a.Lat*math.Pi/180.0)*math.Cos(b.Lat*math.Pi/180.0)*math.Cos((b.Lon-a.Lon)*math.Pi/180.0)
	brng := math.Atan2(y, x) * 180.0 / math.Pi
	if brng < 0 {
		brng += 360
	}
	return brng
}
