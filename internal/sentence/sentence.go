// Package sentence parses ASCII sensor sentences of the form
// `$<TAG>,<field>,...[*<checksum>]` into typed samples.
package sentence

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// Marker is the character every sentence must start with.
	Marker = '$'
	// ChecksumSeparator precedes the two-character checksum suffix.
	ChecksumSeparator = '*'
)

// Default sentence type tags emitted by the sensor.
const (
	TagAcceleration = "XSACC"
	TagIntensity    = "XSINT"
	TagRaw          = "XSRAW"
)

// Parse failure sentinels. All of these are non-fatal: callers drop the line
// and report to their diagnostics sink.
var (
	ErrNoMarker   = errors.New("sentence: missing start marker")
	ErrUnknownTag = errors.New("sentence: unknown sentence tag")
	ErrTooShort   = errors.New("sentence: too few fields")
)

// Sample is one typed reading extracted from a sentence.
// Implementations are immutable once constructed.
type Sample interface {
	// CaptureTime returns the timestamp assigned when the line was parsed.
	CaptureTime() time.Time
}

// Acceleration carries raw three-axis accelerometer values.
type Acceleration struct {
	Timestamp time.Time
	X, Y, Z   float64
}

func (a Acceleration) CaptureTime() time.Time { return a.Timestamp }

// Intensity carries a single realtime seismic intensity value.
type Intensity struct {
	Timestamp time.Time
	Value     float64
}

func (i Intensity) CaptureTime() time.Time { return i.Timestamp }

// Raw carries the fields of a raw-output sentence without numeric
// interpretation.
type Raw struct {
	Timestamp time.Time
	Fields    []string
}

func (r Raw) CaptureTime() time.Time { return r.Timestamp }

// Tags selects the sentence type tags the parser dispatches on. Devices from
// different vendors use different talker prefixes, so the tags are
// configuration rather than constants baked into the parser.
type Tags struct {
	Acceleration string
	Intensity    string
	Raw          string
}

// DefaultTags returns the tag set for the stock sensor firmware.
func DefaultTags() Tags {
	return Tags{
		Acceleration: TagAcceleration,
		Intensity:    TagIntensity,
		Raw:          TagRaw,
	}
}

// Parser turns raw lines into samples. The checksum suffix is stripped but
// deliberately not verified; the device emits checksums, but the legacy
// ingestion path never validated them and rejecting lines now would change
// accepted input.
type Parser struct {
	tags Tags
}

// NewParser returns a parser dispatching on the given tags.
func NewParser(tags Tags) *Parser {
	return &Parser{tags: tags}
}

// Parse converts one framed line into a Sample stamped with ts. A nil Sample
// with a non-nil error means the line was dropped; no parse failure is fatal.
func (p *Parser) Parse(line string, ts time.Time) (Sample, error) {
	if len(line) == 0 || line[0] != Marker {
		return nil, ErrNoMarker
	}

	body := line[1:]
	if i := strings.IndexByte(body, ChecksumSeparator); i >= 0 {
		body = body[:i]
	}

	fields := strings.Split(body, ",")
	switch fields[0] {
	case p.tags.Acceleration:
		return parseAcceleration(fields, ts)
	case p.tags.Intensity:
		return parseIntensity(fields, ts)
	case p.tags.Raw:
		return Raw{Timestamp: ts, Fields: fields[1:]}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTag, fields[0])
	}
}

func parseAcceleration(fields []string, ts time.Time) (Sample, error) {
	if len(fields) < 4 {
		return nil, fmt.Errorf("%w: acceleration needs 4 fields, got %d", ErrTooShort, len(fields))
	}

	var axes [3]float64
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseFloat(fields[i+1], 64)
		if err != nil {
			return nil, fmt.Errorf("sentence: bad acceleration field %d %q: %w", i+1, fields[i+1], err)
		}
		axes[i] = v
	}

	return Acceleration{Timestamp: ts, X: axes[0], Y: axes[1], Z: axes[2]}, nil
}

func parseIntensity(fields []string, ts time.Time) (Sample, error) {
	// The intensity value is always the last field; anything between the tag
	// and the value (sequence counters, reserved fields) is ignored.
	if len(fields) < 2 {
		return nil, fmt.Errorf("%w: intensity needs a value field", ErrTooShort)
	}
	last := fields[len(fields)-1]
	v, err := strconv.ParseFloat(last, 64)
	if err != nil {
		return nil, fmt.Errorf("sentence: bad intensity field %q: %w", last, err)
	}
	return Intensity{Timestamp: ts, Value: v}, nil
}
