package models

import "fmt"

// LatLng is a single route point. Bearing and Elevation are only present when
// the compute backend computed them.
type LatLng struct {
	Lat       float64  `json:"lat"`
	Lng       float64  `json:"lng"`
	Bearing   *float64 `json:"bearing,omitempty"`
	Elevation *float64 `json:"elevation,omitempty"`
}

// RouteMetadata describes the frames of a rendered or planned hyperlapse.
//
// Distance is in meters. GPSPoints holds one point per frame and
// OriginalPoints holds the route as uploaded.
type RouteMetadata struct {
	Frames         int      `json:"frames"`
	Distance       float64  `json:"distance"`
	AverageError   float64  `json:"averageError"`
	GPSPoints      []LatLng `json:"gpsPoints"`
	OriginalPoints []LatLng `json:"originalPoints"`
}

// Validate checks if the RouteMetadata is internally consistent.
//
// Returns an error if:
//   - Frames is negative
//   - Distance is negative
//   - the number of gps points differs from Frames
func (m *RouteMetadata) Validate() error {
	if m.Frames < 0 {
		return fmt.Errorf("frames must be non-negative, got %d", m.Frames)
	}
	if m.Distance < 0 {
		return fmt.Errorf("distance must be non-negative, got %.2f", m.Distance)
	}
	if len(m.GPSPoints) != m.Frames {
		return fmt.Errorf("expected %d gps points, got %d", m.Frames, len(m.GPSPoints))
	}
	return nil
}

// Clone returns a copy whose point slices can be appended to without
// touching the original.
func (m *RouteMetadata) Clone() *RouteMetadata {
	c := *m
	c.GPSPoints = append([]LatLng(nil), m.GPSPoints...)
	c.OriginalPoints = append([]LatLng(nil), m.OriginalPoints...)
	return &c
}
