package geo

import "math"

// Camera describes a photo taken at a known position with a known gimbal
// attitude. Angles are in degrees and follow the DJI gimbal convention:
// yaw then pitch then roll, each about the camera's own axes.
type Camera struct {
	Lon, Lat float64
	// Altitude is the absolute altitude of the camera
	Altitude float64
	// RelativeAltitude is the height above the take-off point
	RelativeAltitude float64
	SensorWidth      float64 // mm
	SensorHeight     float64 // mm
	FocalLength      float64 // mm
	// Yaw is the heading, clockwise from north
	Yaw float64
	// Pitch is 0 at the horizon and -90 looking straight down
	Pitch float64
	// Roll is positive when the right side of the image tilts down
	Roll float64
}

// Footprint returns the ground footprint ring of c, [lon, lat, alt]
// vertices counter-clockwise from the upper-left corner, closed. The ground
// is the plane RelativeAltitude below the camera. ok is false when the
// camera geometry is incomplete or a corner ray does not reach the ground.
func Footprint(c Camera) (ring [][]float64, ok bool) {
	if c.RelativeAltitude <= 0 || c.SensorWidth <= 0 || c.SensorHeight <= 0 || c.FocalLength <= 0 {
		return nil, false
	}

	groundAlt := c.Altitude - c.RelativeAltitude
	halfW := c.SensorWidth / c.FocalLength / 2
	halfH := c.SensorHeight / c.FocalLength / 2
	latM, lonM := MetersPerDegree(c.Lat)

	corners := [][2]float64{{-halfW, halfH}, {-halfW, -halfH}, {halfW, -halfH}, {halfW, halfH}}
	for _, p := range corners {
		east, north, up := c.ray(p[0], p[1])
		// rays at or above the horizon never meet the ground
		if up > -1e-9 {
			return nil, false
		}
		t := c.RelativeAltitude / -up
		ring = append(ring, []float64{c.Lon + east*t/lonM, c.Lat + north*t/latM, groundAlt})
	}
	ring = append(ring, []float64{ring[0][0], ring[0][1], ring[0][2]})
	return ring, true
}

// ray returns the east/north/up direction of the image point (x, y), given
// in focal lengths from the image center with y up.
func (c Camera) ray(x, y float64) (east, north, up float64) {
	// a level camera looking north: x east, y up, optical axis north
	e, n, u := x, 1.0, y

	r := c.Roll * math.Pi / 180
	e, u = e*math.Cos(r)+u*math.Sin(r), -e*math.Sin(r)+u*math.Cos(r)

	p := c.Pitch * math.Pi / 180
	n, u = n*math.Cos(p)-u*math.Sin(p), n*math.Sin(p)+u*math.Cos(p)

	// clockwise from north
	yaw := c.Yaw * math.Pi / 180
	e, n = e*math.Cos(yaw)+n*math.Sin(yaw), -e*math.Sin(yaw)+n*math.Cos(yaw)
	return e, n, u
}
