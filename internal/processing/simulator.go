package processing

import (
	"context"
	"fmt"
	"math/rand"
	"path"
	"strings"
	"time"
)

// SimulatorConfig tunes the simulated backend.
type SimulatorConfig struct {
	FailureRate float64
	MinDelay    time.Duration
	MaxDelay    time.Duration
}

// Simulator stands in for a real conversion model: it sleeps for a random
// delay, fails at FailureRate, and otherwise reports a converted file next to
// the source.
type Simulator struct {
	cfg SimulatorConfig
	// Float is the random source in [0, 1). Tests replace it.
	Float func() float64
}

func NewSimulator(cfg SimulatorConfig) *Simulator {
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	return &Simulator{cfg: cfg, Float: rand.Float64}
}

func (s *Simulator) Name() string { return "simulator" }

func (s *Simulator) Convert(ctx context.Context, in Input) (Output, error) {
	delay := s.cfg.MinDelay + time.Duration(s.Float()*float64(s.cfg.MaxDelay-s.cfg.MinDelay))

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return Output{}, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
	case <-timer.C:
	}

	if s.Float() < s.cfg.FailureRate {
		return Output{}, fmt.Errorf("%w: simulated model failure", ErrConversionFailed)
	}

	return Output{
		ConvertedPath: ConvertedPath(in.SourcePath),
		FileSize:      100_000 + int64(s.Float()*500_000),
	}, nil
}

// ConvertedPath places the converted artifact beside the source, prefixing
// the file name with "converted_". Separators are normalized to forward slashes.
func ConvertedPath(source string) string {
	p := strings.ReplaceAll(source, "\\", "/")
	dir, file := path.Split(p)
	return dir + "converted_" + file
}

var _ Converter = (*Simulator)(nil)
