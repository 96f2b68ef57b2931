// Package config loads the fusion tuning parameters from JSON. Fields left
// out of the file keep their defaults, so partial configs are safe, and the
// same schema is served back on /api/params.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FusionConfig is the JSON-loadable tuning schema. All fields are optional;
// the Get* accessors carry the defaults.
type FusionConfig struct {
	// Scan ingest params
	BucketSizeDeg *float64 `json:"bucket_size_deg,omitempty"`
	MinDistanceMM *float64 `json:"min_distance_mm,omitempty"`
	MaxDistanceMM *float64 `json:"max_distance_mm,omitempty"`

	// Correlation params
	MaxAngleDiffDeg *float64 `json:"max_angle_diff_deg,omitempty"`

	// Registry / publish params
	MaxObjectAgeMS  *int64 `json:"max_object_age_ms,omitempty"`
	ForceIntervalMS *int64 `json:"force_interval_ms,omitempty"`

	// Loop params
	MaxSweepFailures *int    `json:"max_sweep_failures,omitempty"`
	DetectionWait    *string `json:"detection_wait,omitempty"` // duration string like "2ms"
	StatsInterval    *string `json:"stats_interval,omitempty"` // duration string like "5s"
}

// EmptyFusionConfig returns a FusionConfig with all fields unset so every
// accessor falls back to its default.
func EmptyFusionConfig() *FusionConfig {
	return &FusionConfig{}
}

// LoadFusionConfig loads a FusionConfig from a JSON file. The path must have
// a .json extension and the file must be under 1MB.
func LoadFusionConfig(path string) (*FusionConfig, error) {
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

	cfg := EmptyFusionConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the set fields for sane values.
func (c *FusionConfig) Validate() error {
	if c.BucketSizeDeg != nil && *c.BucketSizeDeg <= 0 {
		return fmt.Errorf("bucket_size_deg must be positive, got %v", *c.BucketSizeDeg)
	}
	if c.MinDistanceMM != nil && *c.MinDistanceMM < 0 {
		return fmt.Errorf("min_distance_mm must be non-negative, got %v", *c.MinDistanceMM)
	}
	if c.MinDistanceMM != nil && c.MaxDistanceMM != nil && *c.MaxDistanceMM < *c.MinDistanceMM {
		return fmt.Errorf("max_distance_mm (%v) below min_distance_mm (%v)", *c.MaxDistanceMM, *c.MinDistanceMM)
	}
	if c.MaxAngleDiffDeg != nil && *c.MaxAngleDiffDeg < 0 {
		return fmt.Errorf("max_angle_diff_deg must be non-negative, got %v", *c.MaxAngleDiffDeg)
	}
	if c.MaxObjectAgeMS != nil && *c.MaxObjectAgeMS <= 0 {
		return fmt.Errorf("max_object_age_ms must be positive, got %d", *c.MaxObjectAgeMS)
	}
	if c.ForceIntervalMS != nil && *c.ForceIntervalMS <= 0 {
		return fmt.Errorf("force_interval_ms must be positive, got %d", *c.ForceIntervalMS)
	}
	if c.MaxSweepFailures != nil && *c.MaxSweepFailures < 1 {
		return fmt.Errorf("max_sweep_failures must be at least 1, got %d", *c.MaxSweepFailures)
	}
	if c.DetectionWait != nil && *c.DetectionWait != "" {
		if _, err := time.ParseDuration(*c.DetectionWait); err != nil {
			return fmt.Errorf("invalid detection_wait %q: %w", *c.DetectionWait, err)
		}
	}
	if c.StatsInterval != nil && *c.StatsInterval != "" {
		if _, err := time.ParseDuration(*c.StatsInterval); err != nil {
			return fmt.Errorf("invalid stats_interval %q: %w", *c.StatsInterval, err)
		}
	}
	return nil
}

// GetBucketSizeDeg returns the bucket_size_deg value or the default.
func (c *FusionConfig) GetBucketSizeDeg() float64 {
	if c.BucketSizeDeg == nil {
		return 1.0
	}
	return *c.BucketSizeDeg
}

// GetMinDistanceMM returns the min_distance_mm value or the default.
func (c *FusionConfig) GetMinDistanceMM() float64 {
	if c.MinDistanceMM == nil {
		return 100
	}
	return *c.MinDistanceMM
}

// GetMaxDistanceMM returns the max_distance_mm value or the default.
func (c *FusionConfig) GetMaxDistanceMM() float64 {
	if c.MaxDistanceMM == nil {
		return 3000
	}
	return *c.MaxDistanceMM
}

// GetMaxAngleDiffDeg returns the max_angle_diff_deg value or the default.
func (c *FusionConfig) GetMaxAngleDiffDeg() float64 {
	if c.MaxAngleDiffDeg == nil {
		return 10.0
	}
	return *c.MaxAngleDiffDeg
}

// GetMaxObjectAgeMS returns the max_object_age_ms value or the default.
func (c *FusionConfig) GetMaxObjectAgeMS() int64 {
	if c.MaxObjectAgeMS == nil {
		return 500
	}
	return *c.MaxObjectAgeMS
}

// GetForceIntervalMS returns the force_interval_ms value or the default.
func (c *FusionConfig) GetForceIntervalMS() int64 {
	if c.ForceIntervalMS == nil {
		return 1000
	}
	return *c.ForceIntervalMS
}

// GetMaxSweepFailures returns the max_sweep_failures value or the default.
func (c *FusionConfig) GetMaxSweepFailures() int {
	if c.MaxSweepFailures == nil {
		return 5
	}
	return *c.MaxSweepFailures
}

// GetDetectionWait parses and returns the detection_wait as a time.Duration.
func (c *FusionConfig) GetDetectionWait() time.Duration {
	if c.DetectionWait == nil || *c.DetectionWait == "" {
		return 2 * time.Millisecond
	}
	d, err := time.ParseDuration(*c.DetectionWait)
	if err != nil {
		return 2 * time.Millisecond
	}
	return d
}

// GetStatsInterval parses and returns the stats_interval as a time.Duration.
func (c *FusionConfig) GetStatsInterval() time.Duration {
	if c.StatsInterval == nil || *c.StatsInterval == "" {
		return 5 * time.Second
	}
	d, err := time.ParseDuration(*c.StatsInterval)
	if err != nil {
		return 5 * time.Second
	}
	return d
}
