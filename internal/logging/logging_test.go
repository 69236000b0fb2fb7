package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewLevelFallback(t *testing.T) {
	if got := New("nope", "text").GetLevel(); got != logrus.InfoLevel {
		t.Fatalf("level = %v, want info", got)
	}
	if got := New("debug", "text").GetLevel(); got != logrus.DebugLevel {
		t.Fatalf("level = %v, want debug", got)
	}
}

func TestComponentField(t *testing.T) {
	var buf bytes.Buffer
	l := New("info", "json")
	l.SetOutput(&buf)

	Component(l, "bus").Info("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal: %v (%q)", err, buf.String())
	}
	if entry["component"] != "bus" {
		t.Errorf("component = %v", entry["component"])
	}
	if entry["msg"] != "hello" {
		t.Errorf("msg = %v", entry["msg"])
	}
}

func TestComponentNilLogger(t *testing.T) {
	Component(nil, "x").Warn("dropped")
}
