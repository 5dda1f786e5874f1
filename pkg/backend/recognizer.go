package backend

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zenvox/switchboard/pkg/audio"
	"github.com/zenvox/switchboard/pkg/transcript"
)

// TranscriptPublisher receives recognition results as they stream back.
type TranscriptPublisher interface {
	PublishTranscript(e transcript.Event) error
}

// WSRecognizer streams audio segments to a recognition service over a
// per-call websocket and publishes the transcript events that come
// back. Stream failures surface as ErrRecognitionUnavailable from Feed.
type WSRecognizer struct {
	url string
	pub TranscriptPublisher

	mu      sync.Mutex
	streams map[string]*recognizerStream
}

type recognizerStream struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	broken bool
}

func NewWSRecognizer(url string, pub TranscriptPublisher) *WSRecognizer {
	return &WSRecognizer{
		url:     url,
		pub:     pub,
		streams: map[string]*recognizerStream{},
	}
}

func (r *WSRecognizer) Feed(ctx context.Context, seg audio.Segment) error {
	stream, err := r.stream(ctx, seg.CallID)
	if err != nil {
		return err
	}
	stream.mu.Lock()
	defer stream.mu.Unlock()
	if stream.broken {
		return errors.Wrapf(ErrRecognitionUnavailable, "call %s stream is down", seg.CallID)
	}
	if err := stream.conn.WriteMessage(websocket.BinaryMessage, seg.Data); err != nil {
		stream.broken = true
		r.drop(seg.CallID)
		return errors.Wrapf(ErrRecognitionUnavailable, "write segment: %v", err)
	}
	return nil
}

func (r *WSRecognizer) stream(ctx context.Context, callID string) (*recognizerStream, error) {
	r.mu.Lock()
	if s, ok := r.streams[callID]; ok {
		r.mu.Unlock()
		return s, nil
	}
	r.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, r.url+"?call_id="+callID, nil)
	if err != nil {
		return nil, errors.Wrapf(ErrRecognitionUnavailable, "dial: %v", err)
	}
	s := &recognizerStream{conn: conn}

	r.mu.Lock()
	if existing, ok := r.streams[callID]; ok {
		// Lost the race with a concurrent dial.
		r.mu.Unlock()
		_ = conn.Close()
		return existing, nil
	}
	r.streams[callID] = s
	r.mu.Unlock()

	go r.readLoop(ctx, callID, s)
	return s, nil
}

// readLoop pumps recognition results back onto the bus until the call
// context closes or the stream breaks.
func (r *WSRecognizer) readLoop(ctx context.Context, callID string, s *recognizerStream) {
	defer func() {
		s.mu.Lock()
		s.broken = true
		s.mu.Unlock()
		r.drop(callID)
		_ = s.conn.Close()
	}()
	stop := context.AfterFunc(ctx, func() { _ = s.conn.Close() })
	defer stop()

	for {
		var e transcript.Event
		if err := s.conn.ReadJSON(&e); err != nil {
			if ctx.Err() == nil {
				log.Warn().Err(err).
					Str("component", "recognizer").
					Str("call_id", callID).
					Msg("recognition stream dropped")
			}
			return
		}
		if e.CallID == "" {
			e.CallID = callID
		}
		if err := r.pub.PublishTranscript(e); err != nil {
			log.Warn().Err(err).Str("call_id", callID).Msg("failed to publish transcript event")
		}
	}
}

func (r *WSRecognizer) drop(callID string) {
	r.mu.Lock()
	delete(r.streams, callID)
	r.mu.Unlock()
}
