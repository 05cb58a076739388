package processing

import (
	"fmt"

	"github.com/kiranshivaraju/wavedeck/internal/config"
)

// NewConverter constructs the conversion backend selected by config.
// Called once at startup.
func NewConverter(cfg config.ProcessorConfig) (Converter, error) {
	switch cfg.Backend {
	case "simulator":
		return NewSimulator(SimulatorConfig{
			FailureRate: cfg.FailureRate,
			MinDelay:    cfg.MinDelay,
			MaxDelay:    cfg.MaxDelay,
		}), nil
	case "http":
		return NewHTTPConverter(cfg.URL, 0), nil
	default:
		return nil, fmt.Errorf("unknown processor %q: must be one of simulator, http", cfg.Backend)
	}
}
