// Package frame converts between geodetic coordinates and a local
// north-east-down tangent plane anchored at a home position.
package frame

import (
	"math"

	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
	"github.com/tiiuae/motionplanning/internal/types"
)

const earthRadiusMetres float64 = 6371000

// GlobalToLocal returns the NED offset of pos from home.
func GlobalToLocal(pos types.GlobalPosition, home types.GlobalPosition) types.NED {
	north, east := deltaNE(home.Lon, home.Lat, pos.Lon, pos.Lat)
	return types.NED{
		North: north,
		East:  east,
		Down:  -(pos.Alt - home.Alt),
	}
}

// LocalToGlobal is the inverse of GlobalToLocal.
func LocalToGlobal(local types.NED, home types.GlobalPosition) types.GlobalPosition {
	lat := home.Lat + s1.Angle(local.North/earthRadiusMetres).Degrees()
	cos := math.Cos(home.Lat * math.Pi / 180)
	lon := home.Lon
	if cos > 1e-12 {
		lon += s1.Angle(local.East/(earthRadiusMetres*cos)).Degrees()
	}
	return types.GlobalPosition{
		Lon: lon,
		Lat: lat,
		Alt: home.Alt - local.Down,
	}
}

// Convert difference between two geo coordinates into distances along the
// meridian (north) and the parallel (east), meters
func deltaNE(lonFrom float64, latFrom float64, lonTo float64, latTo float64) (float64, float64) {
	dn := distance(lonFrom, latFrom, lonFrom, latTo)
	de := distance(lonFrom, latFrom, lonTo, latFrom)

	return math.Copysign(dn, latTo-latFrom), math.Copysign(de, lonTo-lonFrom)
}

func distance(lonFrom float64, latFrom float64, lonTo float64, latTo float64) float64 {
	from := s2.LatLngFromDegrees(latFrom, lonFrom)
	to := s2.LatLngFromDegrees(latTo, lonTo)

	return from.Distance(to).Radians() * earthRadiusMetres
}
