// Package processing runs the voice conversion step of an inference job.
package processing

import (
	"context"
	"errors"
)

var (
	ErrConversionFailed   = errors.New("voice conversion failed")
	ErrBackendUnavailable = errors.New("conversion backend unavailable")
	ErrTimeout            = errors.New("conversion timeout")
)

// Input describes one conversion request.
type Input struct {
	JobID      int64
	UserID     int64
	VoiceID    int64
	Pitch      int
	SourcePath string
}

// Output is the converted artifact.
type Output struct {
	ConvertedPath string
	FileSize      int64
}

// Converter turns a source recording into a converted one. Implementations
// must honor ctx cancellation; the per-attempt deadline arrives through it.
type Converter interface {
	Name() string
	Convert(ctx context.Context, in Input) (Output, error)
}
