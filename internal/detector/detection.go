package detector

import (
	"encoding/json"
	"fmt"
	"math"
)

// Detection is a candidate object location with its confidence score.
// It encodes to JSON as [x_min, y_min, x_max, y_max, confidence].
type Detection struct {
	XMin       int
	YMin       int
	XMax       int
	YMax       int
	Confidence float64
}

// Valid reports whether the box lies inside a width x height frame and the
// confidence is within [0, 1].
func (d Detection) Valid(width, height int) bool {
	if d.XMin < 0 || d.YMin < 0 {
		return false
	}
	if d.XMin > d.XMax || d.YMin > d.YMax {
		return false
	}
	if d.XMax > width || d.YMax > height {
		return false
	}
	return d.Confidence >= 0 && d.Confidence <= 1
}

// MarshalJSON implements json.Marshaler.
func (d Detection) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{d.XMin, d.YMin, d.XMax, d.YMax, d.Confidence})
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Detection) UnmarshalJSON(data []byte) error {
	var raw []float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v, err := detectionFrom(raw)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// detectionFrom converts an [x_min, y_min, x_max, y_max, confidence] row.
func detectionFrom(raw []float64) (Detection, error) {
	if len(raw) != 5 {
		return Detection{}, fmt.Errorf("detection: want 5 values, got %d", len(raw))
	}
	return Detection{
		XMin:       int(raw[0]),
		YMin:       int(raw[1]),
		XMax:       int(raw[2]),
		YMax:       int(raw[3]),
		Confidence: raw[4],
	}, nil
}

// roundTo rounds v to the given number of decimal places.
func roundTo(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
