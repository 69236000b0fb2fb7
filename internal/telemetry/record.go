package telemetry

// ID is the composite key of one persisted telemetry row. Timestamp is
// the snapshot time in Unix milliseconds, assigned when the row is
// flushed rather than when the value was observed, so rows of different
// kinds from the same snapshot join on (SessionID, Timestamp).
type ID struct {
	SessionID string `json:"session_id"`
	Timestamp int64  `json:"timestamp"`
}

// Vector3 is a three-axis reading.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Record is implemented by every persisted telemetry variant.
type Record interface {
	Kind() Kind
	Key() ID
	// WithTimestamp returns a copy of the record keyed at ts.
	WithTimestamp(ts int64) Record
	// WithKey returns a copy of the record with its whole key replaced.
	WithKey(id ID) Record
}

// LocationRecord is a GPS fix. Speed is km/h.
type LocationRecord struct {
	ID        ID      `json:"id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
	Speed     float64 `json:"speed"`
	Accuracy  float64 `json:"accuracy"`
	Bearing   float64 `json:"bearing"`
}

func (r LocationRecord) Kind() Kind { return Location }
func (r LocationRecord) Key() ID    { return r.ID }
func (r LocationRecord) WithTimestamp(ts int64) Record {
	r.ID.Timestamp = ts
	return r
}
func (r LocationRecord) WithKey(id ID) Record {
	r.ID = id
	return r
}

// InclinationRecord holds the IMU vectors. Orientation is azimuth, pitch
// and roll in degrees.
type InclinationRecord struct {
	ID           ID      `json:"id"`
	Acceleration Vector3 `json:"acceleration"`
	Gravity      Vector3 `json:"gravity"`
	Orientation  Vector3 `json:"orientation"`
}

func (r InclinationRecord) Kind() Kind { return Inclination }
func (r InclinationRecord) Key() ID    { return r.ID }
func (r InclinationRecord) WithTimestamp(ts int64) Record {
	r.ID.Timestamp = ts
	return r
}
func (r InclinationRecord) WithKey(id ID) Record {
	r.ID = id
	return r
}

// EnvironmentRecord holds weather conditions: °C, km/h, degrees, %, hPa.
type EnvironmentRecord struct {
	ID            ID      `json:"id"`
	Temperature   float64 `json:"temperature"`
	WindSpeed     float64 `json:"wind_speed"`
	WindDirection float64 `json:"wind_direction"`
	Humidity      float64 `json:"humidity"`
	Pressure      float64 `json:"pressure"`
}

func (r EnvironmentRecord) Kind() Kind { return Environment }
func (r EnvironmentRecord) Key() ID    { return r.ID }
func (r EnvironmentRecord) WithTimestamp(ts int64) Record {
	r.ID.Timestamp = ts
	return r
}
func (r EnvironmentRecord) WithKey(id ID) Record {
	r.ID = id
	return r
}

// BodyRecord holds the rider's heart rate in beats per minute.
type BodyRecord struct {
	ID        ID  `json:"id"`
	HeartRate int `json:"heart_rate"`
}

func (r BodyRecord) Kind() Kind { return Body }
func (r BodyRecord) Key() ID    { return r.ID }
func (r BodyRecord) WithTimestamp(ts int64) Record {
	r.ID.Timestamp = ts
	return r
}
func (r BodyRecord) WithKey(id ID) Record {
	r.ID = id
	return r
}
