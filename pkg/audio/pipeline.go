package audio

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ErrFormatMismatch is returned for chunks that do not conform to the
// pipeline's ingest contract (mono 16-bit PCM at the declared rate).
var ErrFormatMismatch = errors.New("audio format mismatch")

// PipelineConfig sizes one per-call ingest pipeline.
type PipelineConfig struct {
	CallID string
	// Ingest contract: chunks must declare this rate and a single channel.
	SampleRate int
	// Emitted segments are resampled to this rate when it differs.
	TargetSampleRate int
	// Duration of each emitted segment at the target rate.
	SegmentDuration time.Duration
	// Drop-oldest threshold for unconsumed segments plus pending bytes.
	MaxBufferBytes int
}

// Pipeline normalizes raw telephony audio for one call into
// fixed-duration segments. Writes never block: when the consumer
// stalls past MaxBufferBytes, the oldest unconsumed segment is dropped
// and counted as an overflow.
type Pipeline struct {
	cfg       PipelineConfig
	mu        sync.Mutex
	pending   []byte
	segments  []Segment
	nextSeq   uint64
	overflows uint64
	closed    bool
	notify    chan struct{}
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 8000
	}
	if cfg.TargetSampleRate <= 0 {
		cfg.TargetSampleRate = cfg.SampleRate
	}
	if cfg.SegmentDuration <= 0 {
		cfg.SegmentDuration = 20 * time.Millisecond
	}
	if cfg.MaxBufferBytes <= 0 {
		cfg.MaxBufferBytes = 512 * 1024
	}
	return &Pipeline{
		cfg:    cfg,
		notify: make(chan struct{}, 1),
	}
}

// segmentBytes is the payload size of one emitted segment.
func (p *Pipeline) segmentBytes() int {
	n := int(int64(p.cfg.TargetSampleRate) * int64(p.cfg.SegmentDuration) / int64(time.Second))
	if n < 1 {
		n = 1
	}
	return n * bytesPerSample
}

// ingestBytesPerSegment is how many source bytes produce one segment.
func (p *Pipeline) ingestBytesPerSegment() int {
	n := int(int64(p.cfg.SampleRate) * int64(p.cfg.SegmentDuration) / int64(time.Second))
	if n < 1 {
		n = 1
	}
	return n * bytesPerSample
}

// Write appends one raw chunk to the call buffer and re-frames any
// complete segments. The declared chunk format must match the ingest
// contract exactly; mismatched chunks are rejected without touching
// buffered audio.
func (p *Pipeline) Write(chunk []byte, sampleRate, channels int) error {
	if sampleRate != p.cfg.SampleRate || channels != 1 {
		return errors.Wrapf(ErrFormatMismatch, "got %d Hz %d ch, want %d Hz mono", sampleRate, channels, p.cfg.SampleRate)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.pending = append(p.pending, chunk...)

	step := p.ingestBytesPerSegment()
	emitted := false
	for len(p.pending) >= step {
		raw := p.pending[:step:step]
		p.pending = p.pending[step:]
		data := Resample(raw, p.cfg.SampleRate, p.cfg.TargetSampleRate)
		p.segments = append(p.segments, Segment{
			CallID:     p.cfg.CallID,
			Seq:        p.nextSeq,
			Data:       data,
			SampleRate: p.cfg.TargetSampleRate,
			Channels:   1,
		})
		p.nextSeq++
		emitted = true
	}
	p.enforceBoundLocked()
	if emitted {
		select {
		case p.notify <- struct{}{}:
		default:
		}
	}
	return nil
}

func (p *Pipeline) enforceBoundLocked() {
	total := len(p.pending)
	for _, s := range p.segments {
		total += len(s.Data)
	}
	for total > p.cfg.MaxBufferBytes && len(p.segments) > 0 {
		dropped := p.segments[0]
		p.segments = p.segments[1:]
		total -= len(dropped.Data)
		p.overflows++
		log.Warn().
			Str("component", "audio_pipeline").
			Str("call_id", p.cfg.CallID).
			Uint64("seq", dropped.Seq).
			Msg("buffer overflow, dropping oldest segment")
	}
}

// Next pops the oldest unconsumed segment, if any.
func (p *Pipeline) Next() (Segment, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.segments) == 0 {
		return Segment{}, false
	}
	s := p.segments[0]
	p.segments = p.segments[1:]
	return s, true
}

// Ready signals when at least one segment may be available. A receive
// is a hint, not a guarantee; callers loop on Next.
func (p *Pipeline) Ready() <-chan struct{} { return p.notify }

// Overflows reports how many segments were dropped under backpressure.
func (p *Pipeline) Overflows() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.overflows
}

// Close releases buffered audio. Further writes are discarded.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.pending = nil
	p.segments = nil
}
