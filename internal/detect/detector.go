// Package detect implements threshold hysteresis over the realtime intensity
// signal and produces one event record per excursion above the threshold.
package detect

import (
	"time"

	"github.com/google/uuid"
)

// DefaultTriggerIntensity is the default intensity at which an event opens.
// Deployment constant; override through the tuning config.
const DefaultTriggerIntensity = 0.5

// State is the detector state.
type State int

const (
	// Idle means no event is in progress.
	Idle State = iota
	// Recording means intensity has crossed the trigger threshold and
	// maxima are being accumulated.
	Recording
)

// EventRecord is the closed record of one intensity excursion. Immutable once
// constructed; the aggregate fields are the true maxima over every sample
// observed between the opening and closing threshold crossings.
type EventRecord struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	MaxIntensity float64   `json:"max_intensity"`
	MaxGal       float64   `json:"max_gal"`
	MaxLpgmClass int       `json:"max_lpgm_class"`
	MaxSva       float64   `json:"max_sva"`
}

// Detector is the two-state hysteresis machine. It is single-owner state,
// driven from the pipeline worker goroutine only.
//
// The release threshold equals the trigger threshold: an event closes the
// instant intensity dips below the value that opened it. The source design
// never used a separate release band; see DESIGN.md.
type Detector struct {
	threshold float64
	state     State

	// latest observed values per channel, used to seed maxima on open
	lastGal  float64
	lastLpgm int
	lastSva  float64

	maxIntensity float64
	maxGal       float64
	maxLpgm      int
	maxSva       float64
}

// NewDetector returns an Idle detector with the given trigger threshold.
func NewDetector(threshold float64) *Detector {
	return &Detector{threshold: threshold}
}

// State returns the current detector state.
func (d *Detector) State() State {
	return d.state
}

// Recording reports whether an event is currently open.
func (d *Detector) Recording() bool {
	return d.state == Recording
}

// ObserveMotion feeds the latest acceleration-derived values. While an event
// is open each running maximum updates independently.
func (d *Detector) ObserveMotion(gal float64, lpgmClass int, sva float64) {
	d.lastGal = gal
	d.lastLpgm = lpgmClass
	d.lastSva = sva

	if d.state != Recording {
		return
	}
	if gal > d.maxGal {
		d.maxGal = gal
	}
	if lpgmClass > d.maxLpgm {
		d.maxLpgm = lpgmClass
	}
	if sva > d.maxSva {
		d.maxSva = sva
	}
}

// ObserveIntensity feeds one intensity sample and drives the state machine.
// It returns a completed EventRecord when the sample closes an event, nil
// otherwise.
func (d *Detector) ObserveIntensity(value float64, ts time.Time) *EventRecord {
	switch d.state {
	case Idle:
		if value >= d.threshold {
			d.state = Recording
			// seed every maximum from the most recent value on its channel
			d.maxIntensity = value
			d.maxGal = d.lastGal
			d.maxLpgm = d.lastLpgm
			d.maxSva = d.lastSva
		}
		return nil

	case Recording:
		if value >= d.threshold {
			if value > d.maxIntensity {
				d.maxIntensity = value
			}
			return nil
		}

		// closed: stamp with the closing sample's timestamp
		rec := &EventRecord{
			ID:           uuid.NewString(),
			Timestamp:    ts,
			MaxIntensity: d.maxIntensity,
			MaxGal:       d.maxGal,
			MaxLpgmClass: d.maxLpgm,
			MaxSva:       d.maxSva,
		}
		d.maxIntensity = 0
		d.maxGal = 0
		d.maxLpgm = 0
		d.maxSva = 0
		d.state = Idle
		return rec
	}
	return nil
}
