package processing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// HTTPConverter delegates conversion to a remote model server:
// POST {baseURL}/convert with the job input, answered by
// {"convertedPath": "...", "fileSize": n}.
type HTTPConverter struct {
	baseURL string
	client  *http.Client
}

func NewHTTPConverter(baseURL string, timeout time.Duration) *HTTPConverter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPConverter{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPConverter) Name() string { return "http" }

func (c *HTTPConverter) Convert(ctx context.Context, in Input) (Output, error) {
	body, err := json.Marshal(convertRequest{
		JobID:      in.JobID,
		UserID:     in.UserID,
		VoiceID:    in.VoiceID,
		Pitch:      in.Pitch,
		SourcePath: in.SourcePath,
	})
	if err != nil {
		return Output{}, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/convert", bytes.NewReader(body))
	if err != nil {
		return Output{}, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Output{}, classifyError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return Output{}, fmt.Errorf("%w: status %d", ErrBackendUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		var e convertError
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error != "" {
			return Output{}, fmt.Errorf("%w: %s", ErrConversionFailed, e.Error)
		}
		return Output{}, fmt.Errorf("%w: status %d", ErrConversionFailed, resp.StatusCode)
	}

	var out convertResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Output{}, fmt.Errorf("%w: decoding response: %v", ErrConversionFailed, err)
	}
	if out.ConvertedPath == "" {
		return Output{}, fmt.Errorf("%w: response missing convertedPath", ErrConversionFailed)
	}
	return Output{ConvertedPath: out.ConvertedPath, FileSize: out.FileSize}, nil
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}

// --- wire types ---

type convertRequest struct {
	JobID      int64  `json:"jobId"`
	UserID     int64  `json:"userId"`
	VoiceID    int64  `json:"voiceId"`
	Pitch      int    `json:"pitch"`
	SourcePath string `json:"sourcePath"`
}

type convertResponse struct {
	ConvertedPath string `json:"convertedPath"`
	FileSize      int64  `json:"fileSize"`
}

type convertError struct {
	Error string `json:"error"`
}

// Compile-time check that HTTPConverter implements Converter.
var _ Converter = (*HTTPConverter)(nil)
