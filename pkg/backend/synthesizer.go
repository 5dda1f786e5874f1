package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// HTTPSynthesizer posts text to a synthesis service and returns the
// raw audio bytes in the requested format.
type HTTPSynthesizer struct {
	url    string
	client *http.Client
}

func NewHTTPSynthesizer(url string, timeout time.Duration) *HTTPSynthesizer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSynthesizer{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type synthesisPayload struct {
	Text       string `json:"text"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Encoding   string `json:"encoding"`
}

func (s *HTTPSynthesizer) Synthesize(ctx context.Context, req SynthesisRequest) ([]byte, error) {
	body, err := json.Marshal(synthesisPayload{
		Text:       req.Text,
		SampleRate: req.Format.SampleRate,
		Channels:   req.Format.Channels,
		Encoding:   req.Format.Encoding,
	})
	if err != nil {
		return nil, errors.Wrap(err, "marshal synthesis payload")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build synthesis request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), "synthesis cancelled")
		}
		return nil, errors.Wrapf(ErrSynthesisFailed, "request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(ErrSynthesisFailed, "status %d", resp.StatusCode)
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(ErrSynthesisFailed, "read audio: %v", err)
	}
	if len(audio) == 0 {
		return nil, errors.Wrap(ErrSynthesisFailed, "empty audio")
	}
	return audio, nil
}
