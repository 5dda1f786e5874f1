package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zenvox/switchboard/pkg/audio"
	"github.com/zenvox/switchboard/pkg/transcript"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []transcript.Event
}

func (p *capturePublisher) PublishTranscript(e transcript.Event) error {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
	return nil
}

func (p *capturePublisher) snapshot() []transcript.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]transcript.Event, len(p.events))
	copy(out, p.events)
	return out
}

func TestWSRecognizerStreamsSegmentsAndPublishesEvents(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "c1", r.URL.Query().Get("call_id"))
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer func() { _ = conn.Close() }()

		// Echo a final for every binary segment received.
		seq := uint64(0)
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			seq++
			_ = conn.WriteJSON(transcript.Event{
				Kind: transcript.KindFinal,
				Text: fmt.Sprintf("heard %d bytes", len(data)),
				Seq:  seq,
			})
		}
	}))
	defer srv.Close()

	pub := &capturePublisher{}
	rec := NewWSRecognizer("ws"+strings.TrimPrefix(srv.URL, "http"), pub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, rec.Feed(ctx, audio.Segment{CallID: "c1", Seq: 0, Data: []byte{1, 2, 3}}))
	require.NoError(t, rec.Feed(ctx, audio.Segment{CallID: "c1", Seq: 1, Data: []byte{4, 5}}))

	require.Eventually(t, func() bool {
		return len(pub.snapshot()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	events := pub.snapshot()
	assert.Equal(t, "c1", events[0].CallID, "call id is filled in when the service omits it")
	assert.Equal(t, uint64(1), events[0].Seq)
	assert.Equal(t, uint64(2), events[1].Seq)
}

func TestWSRecognizerUnavailableOnDialFailure(t *testing.T) {
	rec := NewWSRecognizer("ws://127.0.0.1:1/stt", &capturePublisher{})
	err := rec.Feed(context.Background(), audio.Segment{CallID: "c1", Data: []byte{1}})
	require.ErrorIs(t, err, ErrRecognitionUnavailable)
}

func TestWSRecognizerBrokenStreamSurfacesOnFeed(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		_ = conn.Close() // drop immediately
	}))
	defer srv.Close()

	pub := &capturePublisher{}
	rec := NewWSRecognizer("ws"+strings.TrimPrefix(srv.URL, "http"), pub)

	ctx := context.Background()
	// The first feed may succeed before the close is observed; the
	// stream must report unavailable shortly after.
	require.Eventually(t, func() bool {
		err := rec.Feed(ctx, audio.Segment{CallID: "c1", Data: []byte{1}})
		return errors.Is(err, ErrRecognitionUnavailable)
	}, 2*time.Second, 20*time.Millisecond)
}
