// Package backend defines the downstream AI boundaries the orchestrator
// talks to: response generation, speech synthesis, recognition, and the
// shared admission gate that bounds concurrent requests to them.
package backend

import (
	"context"

	"github.com/pkg/errors"

	"github.com/zenvox/switchboard/pkg/audio"
	"github.com/zenvox/switchboard/pkg/history"
)

var (
	ErrGenerationFailed       = errors.New("generation failed")
	ErrSynthesisFailed        = errors.New("synthesis failed")
	ErrBackendOverloaded      = errors.New("backend overloaded")
	ErrRecognitionUnavailable = errors.New("recognition unavailable")
)

// GenerationRequest carries everything the response backend needs for
// one turn: persona instructions, bounded history, the latest caller
// utterance, and optional retrieved context.
type GenerationRequest struct {
	SystemInstructions string
	Context            []history.Turn
	Utterance          string
	RetrievedContext   string
}

// Generator produces the assistant reply for one turn. Implementations
// must honor ctx cancellation mid-flight.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}

// AudioFormat declares the target encoding for synthesized speech.
type AudioFormat struct {
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Encoding   string `json:"encoding"`
}

// SynthesisRequest asks for spoken audio of Text in Format.
type SynthesisRequest struct {
	Text   string
	Format AudioFormat
}

// Synthesizer converts text to audio. Implementations must honor ctx
// cancellation mid-flight.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesisRequest) ([]byte, error)
}

// Recognizer consumes normalized audio segments for a call. Transcript
// events come back asynchronously over the event bus; a dropped stream
// surfaces as ErrRecognitionUnavailable from Feed.
type Recognizer interface {
	Feed(ctx context.Context, seg audio.Segment) error
}
