// Package mock provides a scripted detect.Detector for tests.
package mock

import (
	"context"

	"github.com/hearkenlabs/hearken/pkg/provider/detect"
)

// Compile-time assertion that Detector satisfies detect.Detector.
var _ detect.Detector = (*Detector)(nil)

// Detector returns scripted segments or a scripted error on every call.
type Detector struct {
	DetectorName string
	Segments     []detect.Segment
	Err          error
}

// Name implements detect.Detector.
func (d *Detector) Name() string {
	if d.DetectorName == "" {
		return "mock"
	}
	return d.DetectorName
}

// Detect implements detect.Detector.
func (d *Detector) Detect(ctx context.Context, pcm []byte, sampleRate int) ([]detect.Segment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.Err != nil {
		return nil, d.Err
	}
	return d.Segments, nil
}
