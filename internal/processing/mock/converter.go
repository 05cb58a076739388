package mock

import (
	"context"
	"sync"

	"github.com/kiranshivaraju/wavedeck/internal/processing"
)

// MockConverter satisfies processing.Converter for testing.
type MockConverter struct {
	Name_       string
	ConvertFunc func(ctx context.Context, in processing.Input) (processing.Output, error)

	mu    sync.Mutex
	calls []processing.Input
}

func (m *MockConverter) Name() string { return m.Name_ }

func (m *MockConverter) Convert(ctx context.Context, in processing.Input) (processing.Output, error) {
	m.mu.Lock()
	m.calls = append(m.calls, in)
	m.mu.Unlock()
	if m.ConvertFunc != nil {
		return m.ConvertFunc(ctx, in)
	}
	return processing.Output{}, nil
}

// Calls returns every input Convert received, in order.
func (m *MockConverter) Calls() []processing.Input {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]processing.Input(nil), m.calls...)
}

// NewMockConverter returns a MockConverter that succeeds with a converted
// file beside the source.
func NewMockConverter() *MockConverter {
	return &MockConverter{
		Name_: "mock",
		ConvertFunc: func(_ context.Context, in processing.Input) (processing.Output, error) {
			return processing.Output{
				ConvertedPath: processing.ConvertedPath(in.SourcePath),
				FileSize:      250_000,
			}, nil
		},
	}
}

// NewFailingConverter returns a MockConverter that always returns err.
func NewFailingConverter(err error) *MockConverter {
	return &MockConverter{
		Name_: "mock-failing",
		ConvertFunc: func(_ context.Context, _ processing.Input) (processing.Output, error) {
			return processing.Output{}, err
		},
	}
}

// NewTimeoutConverter returns a MockConverter that blocks until ctx is done.
func NewTimeoutConverter() *MockConverter {
	return &MockConverter{
		Name_: "mock-timeout",
		ConvertFunc: func(ctx context.Context, _ processing.Input) (processing.Output, error) {
			<-ctx.Done()
			return processing.Output{}, processing.ErrTimeout
		},
	}
}

// Compile-time check that MockConverter implements Converter.
var _ processing.Converter = (*MockConverter)(nil)
