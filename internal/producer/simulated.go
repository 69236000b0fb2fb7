package producer

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/fakeyudi/ridelog/internal/clock"
	"github.com/fakeyudi/ridelog/internal/telemetry"
)

// Simulated synthesizes plausible readings for any kind on a fixed
// interval. It stands in for real sensors in demos and tests.
type Simulated struct {
	*Source

	clock    clock.Clock
	interval time.Duration

	mu     sync.Mutex
	rng    *rand.Rand
	walk   walkState
	ticker *clock.Ticker
	stop   chan struct{}
	done   chan struct{}
}

type walkState struct {
	lat, lon, alt float64
	heading       float64
	bpm           int
	tempK         float64
}

// NewSimulated returns a simulated producer emitting every interval.
// seed makes the generated sequence reproducible.
func NewSimulated(kind telemetry.Kind, c clock.Clock, interval time.Duration, seed int64) *Simulated {
	if c == nil {
		c = clock.Real()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Simulated{
		Source:   NewSource(kind),
		clock:    c,
		interval: interval,
		rng:      rand.New(rand.NewSource(seed)),
		walk: walkState{
			lat: 40.4168, lon: -3.7038, alt: 650,
			bpm: 95, tempK: 291.15,
		},
	}
}

// Configure always succeeds.
func (s *Simulated) Configure(ctx context.Context) error {
	return s.MarkConfigured(nil)
}

// Subscribe starts the generator.
func (s *Simulated) Subscribe(cb Callback) error {
	if s.State() == Subscribed {
		s.Arm(cb)
		return nil
	}
	if !s.Configured() {
		return fmt.Errorf("%w: simulated %s not configured", ErrNotReady, s.Kind())
	}

	s.mu.Lock()
	s.ticker = s.clock.NewTicker(s.interval)
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	ticker, stop, done := s.ticker, s.stop, s.done
	s.mu.Unlock()

	s.Arm(cb)
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			case now := <-ticker.C:
				s.Emit(s.next(now), now)
			}
		}
	}()
	return nil
}

// Stop halts the generator.
func (s *Simulated) Stop() error {
	s.Halt()

	s.mu.Lock()
	ticker, stop, done := s.ticker, s.stop, s.done
	s.ticker, s.stop, s.done = nil, nil, nil
	s.mu.Unlock()
	if ticker != nil {
		ticker.Stop()
		close(stop)
		<-done
	}
	return nil
}

// next advances the random walk and returns the payload for s.Kind().
func (s *Simulated) next(now time.Time) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := &s.walk
	switch s.Kind() {
	case telemetry.Location:
		speed := 6 + s.rng.Float64()*6 // m/s
		w.heading += (s.rng.Float64() - 0.5) * 0.3
		dist := speed * s.interval.Seconds()
		w.lat += dist * math.Cos(w.heading) / 111_320
		w.lon += dist * math.Sin(w.heading) / (111_320 * math.Cos(w.lat*math.Pi/180))
		w.alt += (s.rng.Float64() - 0.5) * 2
		return telemetry.GPSFix{
			Latitude: w.lat, Longitude: w.lon, Altitude: w.alt,
			SpeedMS: speed, Accuracy: 3 + s.rng.Float64()*4,
			Bearing: math.Mod(w.heading*180/math.Pi+360, 360),
			Time:    now,
		}
	case telemetry.Inclination:
		roll := (s.rng.Float64() - 0.5) * 0.6
		pitch := (s.rng.Float64() - 0.5) * 0.2
		return telemetry.IMUSample{
			Acceleration: telemetry.Vector3{X: s.rng.NormFloat64() * 0.4, Y: s.rng.NormFloat64() * 0.4, Z: s.rng.NormFloat64() * 0.2},
			Gravity:      telemetry.Vector3{X: 9.81 * math.Sin(roll), Y: 9.81 * math.Sin(pitch), Z: 9.81 * math.Cos(roll)},
			Rotation:     telemetry.Vector3{X: w.heading, Y: pitch, Z: roll},
			Time:         now,
		}
	case telemetry.Environment:
		w.tempK += (s.rng.Float64() - 0.5) * 0.1
		return telemetry.WeatherReport{
			TempKelvin:  w.tempK,
			WindSpeedMS: 1 + s.rng.Float64()*4,
			WindDeg:     s.rng.Float64() * 360,
			Humidity:    40 + s.rng.Float64()*20,
			PressureHPa: 1013 + (s.rng.Float64()-0.5)*4,
			Time:        now,
		}
	default:
		w.bpm += s.rng.Intn(7) - 3
		if w.bpm < 60 {
			w.bpm = 60
		}
		if w.bpm > 185 {
			w.bpm = 185
		}
		return telemetry.HeartRateSample{BPM: w.bpm, Time: now}
	}
}
