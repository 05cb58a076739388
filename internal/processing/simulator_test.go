package processing_test

import (
	"context"
	"testing"
	"time"

	"github.com/kiranshivaraju/wavedeck/internal/processing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixed(v float64) func() float64 {
	return func() float64 { return v }
}

func TestSimulator_Success(t *testing.T) {
	s := processing.NewSimulator(processing.SimulatorConfig{FailureRate: 0.1})
	s.Float = fixed(0.5)

	out, err := s.Convert(context.Background(), processing.Input{JobID: 1, SourcePath: "audio/3/voice.wav"})
	require.NoError(t, err)
	assert.Equal(t, "audio/3/converted_voice.wav", out.ConvertedPath)
	assert.Equal(t, int64(350_000), out.FileSize)
}

func TestSimulator_Failure(t *testing.T) {
	s := processing.NewSimulator(processing.SimulatorConfig{FailureRate: 0.1})
	s.Float = fixed(0.05)

	_, err := s.Convert(context.Background(), processing.Input{SourcePath: "a.wav"})
	assert.ErrorIs(t, err, processing.ErrConversionFailed)
}

func TestSimulator_HonorsDeadline(t *testing.T) {
	s := processing.NewSimulator(processing.SimulatorConfig{MinDelay: time.Minute, MaxDelay: time.Minute})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := s.Convert(ctx, processing.Input{SourcePath: "a.wav"})
	assert.ErrorIs(t, err, processing.ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestConvertedPath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"audio/1/a.wav", "audio/1/converted_a.wav"},
		{`audio\1\a.wav`, "audio/1/converted_a.wav"},
		{"a.wav", "converted_a.wav"},
		{"/abs/dir/b.mp3", "/abs/dir/converted_b.mp3"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, processing.ConvertedPath(tt.in))
		})
	}
}
