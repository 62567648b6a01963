// Package config loads deployment tuning constants. Calibration, filter, and
// classification values vary per installed sensor, so they live in a JSON
// file rather than in code.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// TuningConfig is the root configuration for the ingestion pipeline. All
// fields are optional: omitted fields fall back to the Get* defaults, so
// partial configs are safe.
type TuningConfig struct {
	// Signal processing params
	SampleRateHz      *float64  `json:"sample_rate_hz,omitempty"`
	CutoffHz          *float64  `json:"cutoff_hz,omitempty"`
	CalibrationFactor *float64  `json:"calibration_factor,omitempty"`
	LpgmBreakpoints   []float64 `json:"lpgm_breakpoints,omitempty"`

	// Event detection params
	TriggerIntensity *float64 `json:"trigger_intensity,omitempty"`

	// Display/publish params
	DisplayWindow   *int    `json:"display_window,omitempty"`
	PublishInterval *string `json:"publish_interval,omitempty"` // duration string like "33ms"
	StatusInterval  *string `json:"status_interval,omitempty"`  // duration string like "100ms"
	WorkerPoll      *string `json:"worker_poll,omitempty"`      // duration string like "2ms"

	// History params
	HistoryCapacity *int    `json:"history_capacity,omitempty"`
	HistoryPath     *string `json:"history_path,omitempty"`

	// Sentence tag overrides for non-stock firmware
	AccelerationTag *string `json:"acceleration_tag,omitempty"`
	IntensityTag    *string `json:"intensity_tag,omitempty"`
	RawTag          *string `json:"raw_tag,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields unset.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. The path must have
// a .json extension and the file must be under 1MB.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that configured values are usable.
func (c *TuningConfig) Validate() error {
	if c.SampleRateHz != nil && *c.SampleRateHz <= 0 {
		return fmt.Errorf("sample_rate_hz must be positive, got %f", *c.SampleRateHz)
	}
	if c.CutoffHz != nil && *c.CutoffHz <= 0 {
		return fmt.Errorf("cutoff_hz must be positive, got %f", *c.CutoffHz)
	}
	if c.CutoffHz != nil && *c.CutoffHz >= c.GetSampleRateHz()/2 {
		return fmt.Errorf("cutoff_hz %f must be below the Nyquist rate %f", *c.CutoffHz, c.GetSampleRateHz()/2)
	}
	if c.CalibrationFactor != nil && *c.CalibrationFactor <= 0 {
		return fmt.Errorf("calibration_factor must be positive, got %f", *c.CalibrationFactor)
	}
	if c.TriggerIntensity != nil && *c.TriggerIntensity < 0 {
		return fmt.Errorf("trigger_intensity must be non-negative, got %f", *c.TriggerIntensity)
	}
	if c.DisplayWindow != nil && *c.DisplayWindow < 1 {
		return fmt.Errorf("display_window must be at least 1, got %d", *c.DisplayWindow)
	}
	if c.HistoryCapacity != nil && *c.HistoryCapacity < 1 {
		return fmt.Errorf("history_capacity must be at least 1, got %d", *c.HistoryCapacity)
	}
	for i := 1; i < len(c.LpgmBreakpoints); i++ {
		if c.LpgmBreakpoints[i] < c.LpgmBreakpoints[i-1] {
			return fmt.Errorf("lpgm_breakpoints must be non-decreasing")
		}
	}

	for name, v := range map[string]*string{
		"publish_interval": c.PublishInterval,
		"status_interval":  c.StatusInterval,
		"worker_poll":      c.WorkerPoll,
	} {
		if v != nil && *v != "" {
			if _, err := time.ParseDuration(*v); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
			}
		}
	}

	return nil
}

// GetSampleRateHz returns the sensor output rate or the default 100 Hz.
func (c *TuningConfig) GetSampleRateHz() float64 {
	if c.SampleRateHz == nil {
		return 100
	}
	return *c.SampleRateHz
}

// GetCutoffHz returns the high-pass corner frequency or the default.
func (c *TuningConfig) GetCutoffHz() float64 {
	if c.CutoffHz == nil {
		return 0.1
	}
	return *c.CutoffHz
}

// GetCalibrationFactor returns the magnitude-to-Gal factor or the default
// (raw axes in g units, standard gravity in cm/s²).
func (c *TuningConfig) GetCalibrationFactor() float64 {
	if c.CalibrationFactor == nil {
		return 980.665
	}
	return *c.CalibrationFactor
}

// GetLpgmBreakpoints returns the classification table, or nil to select the
// seismic package default.
func (c *TuningConfig) GetLpgmBreakpoints() []float64 {
	return c.LpgmBreakpoints
}

// GetTriggerIntensity returns the event trigger threshold or the default.
func (c *TuningConfig) GetTriggerIntensity() float64 {
	if c.TriggerIntensity == nil {
		return 0.5
	}
	return *c.TriggerIntensity
}

// GetDisplayWindow returns the display window capacity or the default.
func (c *TuningConfig) GetDisplayWindow() int {
	if c.DisplayWindow == nil {
		return 50
	}
	return *c.DisplayWindow
}

// GetPublishInterval returns the display publish period (nominal 30 Hz).
func (c *TuningConfig) GetPublishInterval() time.Duration {
	return c.duration(c.PublishInterval, 33*time.Millisecond)
}

// GetStatusInterval returns the scalar status refresh period (nominal 10 Hz).
func (c *TuningConfig) GetStatusInterval() time.Duration {
	return c.duration(c.StatusInterval, 100*time.Millisecond)
}

// GetWorkerPoll returns how long the worker sleeps when the queue is empty.
func (c *TuningConfig) GetWorkerPoll() time.Duration {
	return c.duration(c.WorkerPoll, 2*time.Millisecond)
}

// GetHistoryCapacity returns the bounded history length or the default.
func (c *TuningConfig) GetHistoryCapacity() int {
	if c.HistoryCapacity == nil {
		return 200
	}
	return *c.HistoryCapacity
}

// GetHistoryPath returns the history snapshot file path or the default.
func (c *TuningConfig) GetHistoryPath() string {
	if c.HistoryPath == nil || *c.HistoryPath == "" {
		return "event_history.json"
	}
	return *c.HistoryPath
}

// GetAccelerationTag returns the acceleration sentence tag override, or "".
func (c *TuningConfig) GetAccelerationTag() string {
	if c.AccelerationTag == nil {
		return ""
	}
	return *c.AccelerationTag
}

// GetIntensityTag returns the intensity sentence tag override, or "".
func (c *TuningConfig) GetIntensityTag() string {
	if c.IntensityTag == nil {
		return ""
	}
	return *c.IntensityTag
}

// GetRawTag returns the raw sentence tag override, or "".
func (c *TuningConfig) GetRawTag() string {
	if c.RawTag == nil {
		return ""
	}
	return *c.RawTag
}

func (c *TuningConfig) duration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}
