// Package geo holds the coordinate math used by the classifier, the tile
// renderer and the build pipeline: EPSG projections, Web Mercator tile
// addressing and camera footprints.
package geo

import (
	"fmt"
	"math"
)

// WGS84 ellipsoid.
const (
	semiMajor    = 6378137.0
	flattening   = 1 / 298.257223563
	eccSquared   = flattening * (2 - flattening)
	utmScale     = 0.9996
	falseEasting = 500000.0
	falseNorthS  = 10000000.0
)

// OriginShift is half the Web Mercator extent in meters.
const OriginShift = math.Pi * semiMajor

// Projection converts between a projected CRS and WGS84 lon/lat degrees.
type Projection interface {
	EPSG() int
	// ToLonLat converts projected coordinates to degrees.
	ToLonLat(x, y float64) (lon, lat float64)
	// FromLonLat converts degrees to projected coordinates.
	FromLonLat(lon, lat float64) (x, y float64)
}

// FromEPSG returns the projection for code. Supported codes are 4326,
// 3857 (and its alias 900913) and the WGS84 UTM zones 32601-32660 and
// 32701-32760.
func FromEPSG(code int) (Projection, error) {
	switch {
	case code == 4326:
		return geographic{}, nil
	case code == 3857 || code == 900913:
		return webMercator{}, nil
	case code >= 32601 && code <= 32660:
		return utm{zone: code - 32600}, nil
	case code >= 32701 && code <= 32760:
		return utm{zone: code - 32700, south: true}, nil
	}
	return nil, fmt.Errorf("unsupported projection EPSG:%d", code)
}

type geographic struct{}

func (geographic) EPSG() int { return 4326 }

func (geographic) ToLonLat(x, y float64) (float64, float64) { return x, y }

func (geographic) FromLonLat(lon, lat float64) (float64, float64) { return lon, lat }

type webMercator struct{}

func (webMercator) EPSG() int { return 3857 }

func (webMercator) ToLonLat(x, y float64) (float64, float64) {
	lon := x / OriginShift * 180
	lat := y / OriginShift * 180
	lat = 180 / math.Pi * (2*math.Atan(math.Exp(lat*math.Pi/180)) - math.Pi/2)
	return lon, lat
}

func (webMercator) FromLonLat(lon, lat float64) (float64, float64) {
	lat = math.Max(-85.05112878, math.Min(85.05112878, lat))
	x := lon * OriginShift / 180
	y := math.Log(math.Tan((90+lat)*math.Pi/360)) / (math.Pi / 180)
	return x, y * OriginShift / 180
}

// utm is a transverse Mercator zone on WGS84 (USGS series formulas).
type utm struct {
	zone  int
	south bool
}

func (u utm) EPSG() int {
	if u.south {
		return 32700 + u.zone
	}
	return 32600 + u.zone
}

func (u utm) centralMeridian() float64 {
	return float64(u.zone-1)*6 - 180 + 3
}

func (u utm) FromLonLat(lon, lat float64) (float64, float64) {
	phi := lat * math.Pi / 180
	lambda := (lon - u.centralMeridian()) * math.Pi / 180

	ep2 := eccSquared / (1 - eccSquared)
	sinPhi, cosPhi := math.Sin(phi), math.Cos(phi)
	n := semiMajor / math.Sqrt(1-eccSquared*sinPhi*sinPhi)
	t := math.Tan(phi) * math.Tan(phi)
	c := ep2 * cosPhi * cosPhi
	a := cosPhi * lambda
	m := meridianArc(phi)

	x := utmScale * n * (a + (1-t+c)*math.Pow(a, 3)/6 +
		(5-18*t+t*t+72*c-58*ep2)*math.Pow(a, 5)/120)
	y := utmScale * (m + n*math.Tan(phi)*(a*a/2+(5-t+9*c+4*c*c)*math.Pow(a, 4)/24+
		(61-58*t+t*t+600*c-330*ep2)*math.Pow(a, 6)/720))

	x += falseEasting
	if u.south {
		y += falseNorthS
	}
	return x, y
}

func (u utm) ToLonLat(x, y float64) (float64, float64) {
	x -= falseEasting
	if u.south {
		y -= falseNorthS
	}

	ep2 := eccSquared / (1 - eccSquared)
	e1 := (1 - math.Sqrt(1-eccSquared)) / (1 + math.Sqrt(1-eccSquared))
	m := y / utmScale
	mu := m / (semiMajor * (1 - eccSquared/4 - 3*eccSquared*eccSquared/64 - 5*math.Pow(eccSquared, 3)/256))

	phi1 := mu + (3*e1/2-27*math.Pow(e1, 3)/32)*math.Sin(2*mu) +
		(21*e1*e1/16-55*math.Pow(e1, 4)/32)*math.Sin(4*mu) +
		(151*math.Pow(e1, 3)/96)*math.Sin(6*mu) +
		(1097*math.Pow(e1, 4)/512)*math.Sin(8*mu)

	sin1, cos1 := math.Sin(phi1), math.Cos(phi1)
	n1 := semiMajor / math.Sqrt(1-eccSquared*sin1*sin1)
	t1 := math.Tan(phi1) * math.Tan(phi1)
	c1 := ep2 * cos1 * cos1
	r1 := semiMajor * (1 - eccSquared) / math.Pow(1-eccSquared*sin1*sin1, 1.5)
	d := x / (n1 * utmScale)

	lat := phi1 - (n1*math.Tan(phi1)/r1)*(d*d/2-
		(5+3*t1+10*c1-4*c1*c1-9*ep2)*math.Pow(d, 4)/24+
		(61+90*t1+298*c1+45*t1*t1-252*ep2-3*c1*c1)*math.Pow(d, 6)/720)
	lon := (d - (1+2*t1+c1)*math.Pow(d, 3)/6 +
		(5-2*c1+28*t1-3*c1*c1+8*ep2+24*t1*t1)*math.Pow(d, 5)/120) / cos1

	return u.centralMeridian() + lon*180/math.Pi, lat * 180 / math.Pi
}

func meridianArc(phi float64) float64 {
	e2, e4, e6 := eccSquared, eccSquared*eccSquared, math.Pow(eccSquared, 3)
	return semiMajor * ((1-e2/4-3*e4/64-5*e6/256)*phi -
		(3*e2/8+3*e4/32+45*e6/1024)*math.Sin(2*phi) +
		(15*e4/256+45*e6/1024)*math.Sin(4*phi) -
		(35*e6/3072)*math.Sin(6*phi))
}

// UTMZone returns the UTM projection covering lon/lat.
func UTMZone(lon, lat float64) Projection {
	zone := int(math.Floor((lon+180)/6)) + 1
	zone = max(1, min(60, zone))
	return utm{zone: zone, south: lat < 0}
}

// MetersPerDegree returns the length in meters of one degree of latitude
// and one degree of longitude at lat.
func MetersPerDegree(lat float64) (latMeters, lonMeters float64) {
	phi := lat * math.Pi / 180
	latMeters = 111132.92 - 559.82*math.Cos(2*phi) + 1.175*math.Cos(4*phi) - 0.0023*math.Cos(6*phi)
	lonMeters = 111412.84*math.Cos(phi) - 93.5*math.Cos(3*phi) + 0.118*math.Cos(5*phi)
	return latMeters, lonMeters
}
