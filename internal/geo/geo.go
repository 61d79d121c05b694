// SPDX-License-Identifier: MIT

// Package geo holds the coordinate arithmetic shared by the upstream clients:
// great-circle distances, the Australian bounding box used for station
// queries, and nearest-point selection against gridded datasets.
package geo

import (
	"fmt"
	"math"
)

const earthRadiusKM = 6371.0

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64
	Lon float64
}

// Valid reports whether the point is a plausible WGS84 coordinate.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

func (p Point) String() string {
	return fmt.Sprintf("%.5f,%.5f", p.Lat, p.Lon)
}

// BBox is a lat/lon bounding box (min corner, max corner).
type BBox struct {
	MinLat, MinLon float64
	MaxLat, MaxLon float64
}

// Australia is the bounding box used for SILO station queries
// (south-west -44,112 to north-east -10,154).
var Australia = BBox{MinLat: -44, MinLon: 112, MaxLat: -10, MaxLon: 154}

// Contains reports whether p lies within the box (inclusive).
func (b BBox) Contains(p Point) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat &&
		p.Lon >= b.MinLon && p.Lon <= b.MaxLon
}

// Query renders the box in the "minlat,minlon,maxlat,maxlon" form the SILO
// station endpoint expects.
func (b BBox) Query() string {
	return fmt.Sprintf("%g,%g,%g,%g", b.MinLat, b.MinLon, b.MaxLat, b.MaxLon)
}

// Haversine returns the great-circle distance between two points in km.
func Haversine(a, b Point) float64 {
	latA := a.Lat * math.Pi / 180
	latB := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(latA)*math.Cos(latB)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKM * math.Asin(math.Sqrt(h))
}

// Nearest returns the index of the point in candidates closest to target and
// its distance in km. It returns -1 when candidates is empty.
func Nearest(target Point, candidates []Point) (int, float64) {
	best := -1
	bestDist := math.MaxFloat64
	for i, c := range candidates {
		if d := Haversine(target, c); d < bestDist {
			best = i
			bestDist = d
		}
	}
	if best == -1 {
		return -1, 0
	}
	return best, bestDist
}

// SnapToGrid returns the grid node nearest to p for a regular grid with the
// given origin and spacing in degrees. The CAWCR hindcast grids are regular,
// so the nearest node can be computed instead of scanned.
func SnapToGrid(p Point, origin Point, spacing float64) Point {
	if spacing <= 0 {
		return p
	}
	return Point{
		Lat: origin.Lat + math.Round((p.Lat-origin.Lat)/spacing)*spacing,
		Lon: origin.Lon + math.Round((p.Lon-origin.Lon)/spacing)*spacing,
	}
}
