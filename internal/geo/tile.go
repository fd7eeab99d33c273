package geo

import "math"

// Bounds is an axis-aligned box, MinX/MinY the lower-left corner.
type Bounds struct {
	MinX, MinY, MaxX, MaxY float64
}

// Width returns the x extent.
func (b Bounds) Width() float64 { return b.MaxX - b.MinX }

// Height returns the y extent.
func (b Bounds) Height() float64 { return b.MaxY - b.MinY }

// Intersects reports whether b and o overlap.
func (b Bounds) Intersects(o Bounds) bool {
	return b.MinX < o.MaxX && o.MinX < b.MaxX && b.MinY < o.MaxY && o.MinY < b.MaxY
}

// Extend grows b to include x, y.
func (b *Bounds) Extend(x, y float64) {
	b.MinX = math.Min(b.MinX, x)
	b.MinY = math.Min(b.MinY, y)
	b.MaxX = math.Max(b.MaxX, x)
	b.MaxY = math.Max(b.MaxY, y)
}

// EmptyBounds returns an inverted box ready for Extend.
func EmptyBounds() Bounds {
	return Bounds{MinX: math.Inf(1), MinY: math.Inf(1), MaxX: math.Inf(-1), MaxY: math.Inf(-1)}
}

// Resolution returns the ground resolution in meters per pixel of a Web
// Mercator tile of the given pixel size at zoom z.
func Resolution(z, tileSize int) float64 {
	return 2 * OriginShift / float64(tileSize) / math.Exp2(float64(z))
}

// ZoomForResolution returns the highest zoom whose resolution is not finer
// than res meters per pixel.
func ZoomForResolution(res float64, tileSize int) int {
	if res <= 0 {
		return 0
	}
	z := int(math.Floor(math.Log2(2*OriginShift/float64(tileSize)/res) + 1e-9))
	return max(0, min(z, 24))
}

// TileBounds returns the Web Mercator bounds of tile z/x/y. When tms is
// true, y counts from the south.
func TileBounds(z, x, y int, tms bool) Bounds {
	n := math.Exp2(float64(z))
	if !tms {
		y = int(n) - 1 - y
	}
	size := 2 * OriginShift / n
	minX := float64(x)*size - OriginShift
	minY := float64(y)*size - OriginShift
	return Bounds{MinX: minX, MinY: minY, MaxX: minX + size, MaxY: minY + size}
}

// ValidTile reports whether z/x/y addresses a tile.
func ValidTile(z, x, y int) bool {
	if z < 0 || z > 30 {
		return false
	}
	n := 1 << z
	return x >= 0 && x < n && y >= 0 && y < n
}

// TileRange returns the XYZ tile columns and rows covering b (Web
// Mercator meters) at zoom z.
func TileRange(b Bounds, z int) (minX, minY, maxX, maxY int) {
	n := math.Exp2(float64(z))
	size := 2 * OriginShift / n
	last := int(n) - 1
	col := func(v float64) int { return max(0, min(last, int(math.Floor((v+OriginShift)/size)))) }
	row := func(v float64) int { return max(0, min(last, int(math.Floor((OriginShift-v)/size)))) }
	eps := size * 1e-6
	minX, maxX = col(b.MinX+eps), col(b.MaxX-eps)
	minY, maxY = row(b.MaxY-eps), row(b.MinY+eps)
	return minX, minY, maxX, maxY
}
