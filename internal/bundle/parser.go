package bundle

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/fakeyudi/ridelog/internal/telemetry"
)

const (
	versionSentinel = "<!-- ridelog-bundle-version: 1 -->"
	dataPrefix      = "<!-- ridelog-data: "
	commentSuffix   = " -->"
)

// ErrInvalidBundle marks data that is not a ridelog ride bundle.
var ErrInvalidBundle = errors.New("not a valid ridelog bundle")

// BundleParser reads an exported ride back into a ContextBundle.
type BundleParser interface {
	Parse(data []byte) (*ContextBundle, error)
}

// JSONParser reads the output of JSONRenderer.
type JSONParser struct{}

func (p *JSONParser) Parse(data []byte) (*ContextBundle, error) {
	var b ContextBundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to parse JSON bundle: %w", err)
	}
	if err := validate(&b); err != nil {
		return nil, err
	}
	return &b, nil
}

// MarkdownParser reads the output of MarkdownRenderer from the payload
// embedded between the sentinel comments; the visible tables are ignored.
type MarkdownParser struct{}

func (p *MarkdownParser) Parse(data []byte) (*ContextBundle, error) {
	content := string(data)
	if !strings.Contains(content, versionSentinel) {
		return nil, fmt.Errorf("%w: no ridelog-bundle-version header", ErrInvalidBundle)
	}

	_, rest, ok := strings.Cut(content, dataPrefix)
	if !ok {
		return nil, fmt.Errorf("%w: ride data comment missing", ErrInvalidBundle)
	}
	payload, _, ok := strings.Cut(rest, commentSuffix)
	if !ok {
		return nil, fmt.Errorf("%w: ride data comment not closed", ErrInvalidBundle)
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: ride data is not base64: %v", ErrInvalidBundle, err)
	}
	var b ContextBundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("%w: ride data is not a session with rows: %v", ErrInvalidBundle, err)
	}
	if err := validate(&b); err != nil {
		return nil, err
	}
	return &b, nil
}

// validate checks what Build guarantees: a session id, rows in strictly
// ascending snapshot order, and every record keyed to its row.
func validate(b *ContextBundle) error {
	if b.Session.ID == "" {
		return fmt.Errorf("%w: session has no id", ErrInvalidBundle)
	}
	for i, r := range b.Rows {
		if i > 0 && r.Timestamp <= b.Rows[i-1].Timestamp {
			return fmt.Errorf("%w: row %d at %d is not after %d", ErrInvalidBundle, i, r.Timestamp, b.Rows[i-1].Timestamp)
		}
		want := telemetry.ID{SessionID: b.Session.ID, Timestamp: r.Timestamp}
		empty := true
		for _, k := range telemetry.Kinds {
			rec := r.record(k)
			if rec == nil {
				continue
			}
			empty = false
			if rec.Key() != want {
				return fmt.Errorf("%w: %s record in row %d keyed %+v, want %+v", ErrInvalidBundle, k, i, rec.Key(), want)
			}
		}
		if empty {
			return fmt.Errorf("%w: row %d at %d has no telemetry", ErrInvalidBundle, i, r.Timestamp)
		}
	}
	return nil
}

// Detect picks the parser for data: JSON when it is a JSON object,
// Markdown otherwise. The Markdown parser rejects files without the
// version header.
func Detect(data []byte) BundleParser {
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
		return &JSONParser{}
	}
	return &MarkdownParser{}
}
