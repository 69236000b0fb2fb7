package telemetry

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event is one observation travelling from a producer to its
// coordinator. It lives in memory only.
type Event struct {
	Kind       Kind
	Payload    any
	ObservedAt time.Time
}

// GPSFix is the raw payload of the location producer.
type GPSFix struct {
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lon"`
	Altitude  float64   `json:"alt"`
	SpeedMS   float64   `json:"speed"`
	Accuracy  float64   `json:"accuracy"`
	Bearing   float64   `json:"bearing"`
	Time      time.Time `json:"time"`
}

// IMUSample is the raw payload of the inclination producer. Rotation is
// azimuth, pitch and roll in radians.
type IMUSample struct {
	Acceleration Vector3   `json:"acceleration"`
	Gravity      Vector3   `json:"gravity"`
	Rotation     Vector3   `json:"rotation"`
	Time         time.Time `json:"time"`
}

// WeatherReport is the raw payload of the environment producer.
type WeatherReport struct {
	TempKelvin  float64   `json:"temp"`
	WindSpeedMS float64   `json:"wind_speed"`
	WindDeg     float64   `json:"wind_deg"`
	Humidity    float64   `json:"humidity"`
	PressureHPa float64   `json:"pressure"`
	Time        time.Time `json:"time"`
}

// HeartRateSample is the raw payload of the body producer.
type HeartRateSample struct {
	BPM  int       `json:"bpm"`
	Time time.Time `json:"time"`
}

// DecodePayload parses one JSON-encoded raw payload of the given kind.
func DecodePayload(k Kind, data []byte) (any, error) {
	var (
		v   any
		err error
	)
	switch k {
	case Location:
		var p GPSFix
		err = json.Unmarshal(data, &p)
		v = p
	case Inclination:
		var p IMUSample
		err = json.Unmarshal(data, &p)
		v = p
	case Environment:
		var p WeatherReport
		err = json.Unmarshal(data, &p)
		v = p
	case Body:
		var p HeartRateSample
		err = json.Unmarshal(data, &p)
		v = p
	default:
		return nil, fmt.Errorf("decode payload: unknown kind %v", k)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", k, err)
	}
	return v, nil
}
