package catalog

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

type (
	// TechnicalMetadata is stored under the 'technical' key of an asset's
	// metadata column and captures the probed stream properties.
	TechnicalMetadata struct {
		Container    string  `mapstructure:"container,omitempty" json:"container,omitempty"`
		Codec        string  `mapstructure:"codec,omitempty" json:"codec,omitempty"`
		Width        int     `mapstructure:"width,omitempty" json:"width,omitempty"`
		Height       int     `mapstructure:"height,omitempty" json:"height,omitempty"`
		FrameRate    float64 `mapstructure:"frame_rate,omitempty" json:"frame_rate,omitempty"`
		Duration     float64 `mapstructure:"duration,omitempty" json:"duration,omitempty"`
		BitRate      int     `mapstructure:"bit_rate,omitempty" json:"bit_rate,omitempty"`
		CameraMake   string  `mapstructure:"camera_make,omitempty" json:"camera_make,omitempty"`
		CameraModel  string  `mapstructure:"camera_model,omitempty" json:"camera_model,omitempty"`
		NeedsProxy   bool    `mapstructure:"needs_proxy" json:"needs_proxy"`
		SampleRate   int     `mapstructure:"sample_rate,omitempty" json:"sample_rate,omitempty"`
		ChannelCount int     `mapstructure:"channel_count,omitempty" json:"channel_count,omitempty"`
	}

	// FaceMetadata is stored under the 'face' key of an extracted face
	// image asset and mirrors the embedded header found inside the PNG.
	FaceMetadata struct {
		FaceType       string      `mapstructure:"face_type,omitempty" json:"face_type,omitempty"`
		SourceFilename string      `mapstructure:"source_filename,omitempty" json:"source_filename,omitempty"`
		SourceFilepath string      `mapstructure:"source_filepath,omitempty" json:"source_filepath,omitempty"`
		SourceWidth    int         `mapstructure:"source_width,omitempty" json:"source_width,omitempty"`
		SourceHeight   int         `mapstructure:"source_height,omitempty" json:"source_height,omitempty"`
		Yaw            *float64    `mapstructure:"yaw,omitempty" json:"yaw,omitempty"`
		Pitch          *float64    `mapstructure:"pitch,omitempty" json:"pitch,omitempty"`
		Roll           *float64    `mapstructure:"roll,omitempty" json:"roll,omitempty"`
		Landmarks      [][]float64 `mapstructure:"landmarks,omitempty" json:"landmarks,omitempty"`
		Sharpness      *float64    `mapstructure:"sharpness,omitempty" json:"sharpness,omitempty"`
		Confidence     *float64    `mapstructure:"confidence,omitempty" json:"confidence,omitempty"`
	}

	// PoseBucket is one cell of the specialized package pose histogram.
	// Yaw and pitch are bucketed to the nearest 10 degrees toward zero.
	PoseBucket struct {
		YawBucket   int `db:"yaw_bucket" mapstructure:"yaw_bucket" json:"yaw_bucket"`
		PitchBucket int `db:"pitch_bucket" mapstructure:"pitch_bucket" json:"pitch_bucket"`
		Count       int `db:"count" mapstructure:"count" json:"count"`
	}

	// FaceSummary is the first aggregation pass over a specialized
	// package: distinct face types, count of aligned assets, and the
	// maximum recorded source frame dimensions.
	FaceSummary struct {
		FaceTypes    []string `mapstructure:"face_types,omitempty" json:"face_types,omitempty"`
		AlignedCount int      `mapstructure:"aligned_count" json:"aligned_count"`
		SourceWidth  int      `mapstructure:"source_width,omitempty" json:"source_width,omitempty"`
		SourceHeight int      `mapstructure:"source_height,omitempty" json:"source_height,omitempty"`
	}

	// SourcePointers is the second aggregation pass: references from a
	// specialized package back to the assets it was derived from. When
	// no aligned asset records a source path, the plate asset's disk
	// path is used instead.
	SourcePointers struct {
		SourceVideoPath     string `mapstructure:"source_video_path,omitempty" json:"source_video_path,omitempty"`
		SourceVideoFilename string `mapstructure:"source_video_filename,omitempty" json:"source_video_filename,omitempty"`
		GridAssetID         string `mapstructure:"grid_asset_id,omitempty" json:"grid_asset_id,omitempty"`
		PlateAssetID        string `mapstructure:"plate_asset_id,omitempty" json:"plate_asset_id,omitempty"`
	}
)

// AsMap flattens a typed metadata value into the map shape stored in the
// jsonb column. Numeric types survive as their Go values; the database
// driver handles the JSON encoding.
func AsMap(v any) (map[string]any, error) {
	out := make(map[string]any)
	if err := mapstructure.Decode(v, &out); err != nil {
		return nil, fmt.Errorf("failed to flatten metadata %T: %w", v, err)
	}

	return out, nil
}

// DecodeMetadata extracts a typed value from a metadata map section. A nil
// source yields the zero value without error.
func DecodeMetadata[T any](source map[string]any) (T, error) {
	var out T
	if source == nil {
		return out, nil
	}

	if err := mapstructure.Decode(source, &out); err != nil {
		return out, fmt.Errorf("failed to decode metadata in to %T: %w", out, err)
	}

	return out, nil
}

// MergeMetadata shallow-merges the provided sections over the base map,
// returning a new map. Later sections win on key collisions.
func MergeMetadata(base map[string]any, sections ...map[string]any) map[string]any {
	merged := make(map[string]any, len(base))
	for k, v := range base {
		merged[k] = v
	}
	for _, section := range sections {
		for k, v := range section {
			merged[k] = v
		}
	}

	return merged
}
