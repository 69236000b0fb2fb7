package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/fakeyudi/ridelog/internal/clock"
	"github.com/fakeyudi/ridelog/internal/logging"
	"github.com/fakeyudi/ridelog/internal/telemetry"
)

// Weather is the environment producer. It polls a weather endpoint that
// answers in the OpenWeatherMap "current weather" shape.
type Weather struct {
	*Source

	URL      string
	Interval time.Duration

	client   *http.Client
	clock    clock.Clock
	executor failsafe.Executor[telemetry.WeatherReport]
	logger   logging.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// weatherResponse is the subset of the endpoint's JSON that is mapped.
type weatherResponse struct {
	Main struct {
		Temp     float64 `json:"temp"`
		Humidity float64 `json:"humidity"`
		Pressure float64 `json:"pressure"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
		Deg   float64 `json:"deg"`
	} `json:"wind"`
	Dt int64 `json:"dt"`
}

// NewWeather returns a polling environment producer.
func NewWeather(rawURL string, interval time.Duration, c clock.Clock, logger logging.Logger) *Weather {
	if c == nil {
		c = clock.Real()
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	policy := retrypolicy.NewBuilder[telemetry.WeatherReport]().
		WithBackoff(200*time.Millisecond, 2*time.Second).
		WithMaxRetries(2).
		Build()
	return &Weather{
		Source:   NewSource(telemetry.Environment),
		URL:      rawURL,
		Interval: interval,
		client:   &http.Client{Timeout: 10 * time.Second},
		clock:    c,
		executor: failsafe.With(policy),
		logger:   logging.Component(logger, "producer").WithField("kind", "environment"),
	}
}

// Configure validates the endpoint URL.
func (w *Weather) Configure(ctx context.Context) error {
	if w.URL == "" {
		return w.MarkConfigured(fmt.Errorf("%w: no weather endpoint configured", ErrNotReady))
	}
	u, err := url.Parse(w.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return w.MarkConfigured(fmt.Errorf("%w: invalid weather endpoint %q", ErrNotReady, w.URL))
	}
	return w.MarkConfigured(nil)
}

// Subscribe starts polling: one request immediately, then every Interval.
func (w *Weather) Subscribe(cb Callback) error {
	if w.State() == Subscribed {
		w.Arm(cb)
		return nil
	}
	if !w.Configured() {
		return fmt.Errorf("%w: weather producer not configured", ErrNotReady)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	w.mu.Lock()
	w.cancel, w.done = cancel, done
	w.mu.Unlock()

	w.Arm(cb)
	go w.poll(ctx, done)
	return nil
}

// Stop halts polling and waits for an in-flight request to be abandoned.
func (w *Weather) Stop() error {
	w.Halt()

	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

func (w *Weather) poll(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := w.clock.NewTicker(w.Interval)
	defer ticker.Stop()

	w.fetchAndEmit(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.fetchAndEmit(ctx)
		}
	}
}

func (w *Weather) fetchAndEmit(ctx context.Context) {
	report, err := w.executor.WithContext(ctx).Get(func() (telemetry.WeatherReport, error) {
		return w.fetch(ctx)
	})
	if err != nil {
		if ctx.Err() == nil {
			w.logger.WithError(err).Warn("weather fetch failed")
		}
		return
	}
	w.Emit(report, report.Time)
}

// fetch performs a single request without retries.
func (w *Weather) fetch(ctx context.Context) (telemetry.WeatherReport, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.URL, nil)
	if err != nil {
		return telemetry.WeatherReport{}, err
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return telemetry.WeatherReport{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return telemetry.WeatherReport{}, fmt.Errorf("weather endpoint returned %s", resp.Status)
	}

	var body weatherResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return telemetry.WeatherReport{}, fmt.Errorf("decode weather response: %w", err)
	}
	observed := w.clock.Now()
	if body.Dt > 0 {
		observed = time.Unix(body.Dt, 0)
	}
	return telemetry.WeatherReport{
		TempKelvin:  body.Main.Temp,
		WindSpeedMS: body.Wind.Speed,
		WindDeg:     body.Wind.Deg,
		Humidity:    body.Main.Humidity,
		PressureHPa: body.Main.Pressure,
		Time:        observed,
	}, nil
}
