package classify

// sensorWidths maps lower-case "make model" to the sensor width in mm for
// cameras whose EXIF focal data is unreliable.
var sensorWidths = map[string]float64{
	"dji fc300s":       6.16,
	"dji fc300x":       6.16,
	"dji fc300c":       6.16,
	"dji fc330":        6.16,
	"dji fc350":        6.16,
	"dji fc220":        6.17,
	"dji fc2103":       6.17,
	"dji fc6310":       13.2,
	"dji fc6310s":      13.2,
	"dji fc6510":       13.2,
	"dji fc6520":       17.3,
	"dji fc7203":       6.3,
	"dji fc3170":       6.3,
	"dji fc3411":       13.2,
	"dji l1d-20c":      13.2,
	"dji zenmuse p1":   35.9,
	"parrot anafi":     5.6,
	"sony dsc-rx100m2": 13.2,
	"gopro hero4":      6.17,
}
