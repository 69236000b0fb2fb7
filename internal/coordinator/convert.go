package coordinator

import (
	"fmt"
	"math"

	"github.com/fakeyudi/ridelog/internal/telemetry"
)

// Converter maps a raw producer event to the persisted record shape. The
// returned record has a zero ID; the coordinator keys it.
type Converter func(ev telemetry.Event) (telemetry.Record, error)

const (
	msToKmh       = 3.6
	kelvinOffset  = 273.15
	radiansToDegs = 180 / math.Pi
)

// DefaultConverter returns the unit mapping for kind.
func DefaultConverter(kind telemetry.Kind) Converter {
	switch kind {
	case telemetry.Location:
		return ConvertLocation
	case telemetry.Inclination:
		return ConvertInclination
	case telemetry.Environment:
		return ConvertEnvironment
	default:
		return ConvertBody
	}
}

// ConvertLocation maps a GPSFix. Speed goes from m/s to km/h.
func ConvertLocation(ev telemetry.Event) (telemetry.Record, error) {
	fix, ok := ev.Payload.(telemetry.GPSFix)
	if !ok {
		return nil, unexpected(telemetry.Location, ev.Payload)
	}
	if !finite(fix.Latitude, fix.Longitude) || math.Abs(fix.Latitude) > 90 || math.Abs(fix.Longitude) > 180 {
		return nil, fmt.Errorf("convert location: invalid coordinates %v,%v", fix.Latitude, fix.Longitude)
	}
	return telemetry.LocationRecord{
		Latitude:  fix.Latitude,
		Longitude: fix.Longitude,
		Altitude:  fix.Altitude,
		Speed:     fix.SpeedMS * msToKmh,
		Accuracy:  fix.Accuracy,
		Bearing:   fix.Bearing,
	}, nil
}

// ConvertInclination maps an IMUSample. Rotation goes from radians to
// degrees.
func ConvertInclination(ev telemetry.Event) (telemetry.Record, error) {
	s, ok := ev.Payload.(telemetry.IMUSample)
	if !ok {
		return nil, unexpected(telemetry.Inclination, ev.Payload)
	}
	if !finite(s.Rotation.X, s.Rotation.Y, s.Rotation.Z) {
		return nil, fmt.Errorf("convert inclination: non-finite rotation %+v", s.Rotation)
	}
	return telemetry.InclinationRecord{
		Acceleration: s.Acceleration,
		Gravity:      s.Gravity,
		Orientation: telemetry.Vector3{
			X: s.Rotation.X * radiansToDegs,
			Y: s.Rotation.Y * radiansToDegs,
			Z: s.Rotation.Z * radiansToDegs,
		},
	}, nil
}

// ConvertEnvironment maps a WeatherReport. Temperature goes from kelvin
// to Celsius and wind speed from m/s to km/h.
func ConvertEnvironment(ev telemetry.Event) (telemetry.Record, error) {
	w, ok := ev.Payload.(telemetry.WeatherReport)
	if !ok {
		return nil, unexpected(telemetry.Environment, ev.Payload)
	}
	if !finite(w.TempKelvin) || w.TempKelvin < 0 {
		return nil, fmt.Errorf("convert environment: invalid temperature %v K", w.TempKelvin)
	}
	return telemetry.EnvironmentRecord{
		Temperature:   w.TempKelvin - kelvinOffset,
		WindSpeed:     w.WindSpeedMS * msToKmh,
		WindDirection: w.WindDeg,
		Humidity:      w.Humidity,
		Pressure:      w.PressureHPa,
	}, nil
}

// ConvertBody maps a HeartRateSample.
func ConvertBody(ev telemetry.Event) (telemetry.Record, error) {
	hr, ok := ev.Payload.(telemetry.HeartRateSample)
	if !ok {
		return nil, unexpected(telemetry.Body, ev.Payload)
	}
	if hr.BPM <= 0 {
		return nil, fmt.Errorf("convert body: invalid heart rate %d", hr.BPM)
	}
	return telemetry.BodyRecord{HeartRate: hr.BPM}, nil
}

func unexpected(kind telemetry.Kind, payload any) error {
	return fmt.Errorf("convert %s: unexpected payload %T", kind, payload)
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
