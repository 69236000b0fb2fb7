package telemetry

// Session is one recording run. Timestamps are Unix milliseconds.
// EndTimestamp is nil while the session is running.
type Session struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	InitTimestamp int64  `json:"init_timestamp"`
	EndTimestamp  *int64 `json:"end_timestamp,omitempty"`
}

// Stopped reports whether the session has an end timestamp.
func (s Session) Stopped() bool { return s.EndTimestamp != nil }

// Duration returns the recorded span in milliseconds, or 0 while running.
func (s Session) Duration() int64 {
	if s.EndTimestamp == nil {
		return 0
	}
	return *s.EndTimestamp - s.InitTimestamp
}
