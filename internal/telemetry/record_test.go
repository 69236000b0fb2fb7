package telemetry_test

import (
	"encoding/json"
	"testing"

	"pgregory.net/rapid"

	"github.com/fakeyudi/ridelog/internal/telemetry"
)

func TestParseKind(t *testing.T) {
	for _, k := range telemetry.Kinds {
		got, err := telemetry.ParseKind(k.String())
		if err != nil || got != k {
			t.Errorf("ParseKind(%q) = %v, %v", k.String(), got, err)
		}
	}
	if got, err := telemetry.ParseKind("Heart-Rate"); err != nil || got != telemetry.Body {
		t.Errorf("heart-rate alias = %v, %v", got, err)
	}
	if _, err := telemetry.ParseKind("altimeter"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestKindJSONMapKey(t *testing.T) {
	in := map[telemetry.Kind]string{telemetry.Location: "a.ndjson", telemetry.Body: "hr.ndjson"}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[telemetry.Kind]string
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out[telemetry.Location] != "a.ndjson" || out[telemetry.Body] != "hr.ndjson" {
		t.Errorf("round trip mismatch: %v", out)
	}
}

// Feature: ridelog, Property 1: WithTimestamp rekeys a copy only
func TestWithTimestampLeavesOriginal(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		orig := telemetry.LocationRecord{
			ID:        telemetry.ID{SessionID: "s", Timestamp: rapid.Int64().Draw(t, "orig")},
			Latitude:  rapid.Float64Range(-90, 90).Draw(t, "lat"),
			Longitude: rapid.Float64Range(-180, 180).Draw(t, "lon"),
		}
		ts := rapid.Int64().Draw(t, "ts")
		before := orig.ID.Timestamp

		got := orig.WithTimestamp(ts)
		if got.Key().Timestamp != ts || got.Key().SessionID != "s" {
			t.Fatalf("key = %+v", got.Key())
		}
		if got.(telemetry.LocationRecord).Latitude != orig.Latitude {
			t.Fatalf("payload changed")
		}
		if orig.ID.Timestamp != before {
			t.Fatalf("original mutated: %d -> %d", before, orig.ID.Timestamp)
		}
	})
}

func TestDecodePayload(t *testing.T) {
	v, err := telemetry.DecodePayload(telemetry.Location, []byte(`{"lat":40,"lon":-3,"speed":10}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	fix, ok := v.(telemetry.GPSFix)
	if !ok || fix.Latitude != 40 || fix.Longitude != -3 || fix.SpeedMS != 10 {
		t.Fatalf("got %#v", v)
	}

	if _, err := telemetry.DecodePayload(telemetry.Body, []byte(`{"bpm":"x"}`)); err == nil {
		t.Error("expected error for malformed heart rate")
	}
}
