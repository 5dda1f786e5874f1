package telephony

import (
	"context"
	"encoding/base64"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zenvox/switchboard/pkg/backend"
	"github.com/zenvox/switchboard/pkg/config"
	"github.com/zenvox/switchboard/pkg/eventbus"
	"github.com/zenvox/switchboard/pkg/session"
	"github.com/zenvox/switchboard/pkg/transfer"
)

type echoGenerator struct{}

func (echoGenerator) Generate(_ context.Context, req backend.GenerationRequest) (string, error) {
	return "you said: " + req.Utterance, nil
}

type textSynthesizer struct{}

func (textSynthesizer) Synthesize(_ context.Context, req backend.SynthesisRequest) ([]byte, error) {
	return []byte(req.Text), nil
}

func newTestServer(t *testing.T) (*httptest.Server, *session.Manager) {
	t.Helper()
	cfg := &config.Settings{}
	cfg.ApplyDefaults()

	bus, err := eventbus.New(config.RedisSettings{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	transport := NewTransport()
	mgr := session.NewManager(ctx, cfg, session.Deps{
		Bus:         bus,
		Gate:        backend.NewGate(4, time.Second),
		Generator:   echoGenerator{},
		Synthesizer: textSynthesizer{},
		Notifier:    transport,
	})
	transport.Bind(mgr)

	srv := httptest.NewServer(transport)
	t.Cleanup(srv.Close)
	return srv, mgr
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var f Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestMediaStreamTurnRoundtrip(t *testing.T) {
	srv, mgr := newTestServer(t)
	conn := dial(t, srv)

	require.NoError(t, conn.WriteJSON(Frame{Event: EventCallOpened, CallID: "c1"}))
	require.NoError(t, conn.WriteJSON(Frame{Event: EventMediaStart, CallID: "c1"}))
	require.NoError(t, conn.WriteJSON(Frame{
		Event:      EventAudioChunk,
		CallID:     "c1",
		Audio:      base64.StdEncoding.EncodeToString(make([]byte, 320)),
		SampleRate: 8000,
		Channels:   1,
	}))
	require.NoError(t, conn.WriteJSON(Frame{
		Event: EventTranscript, CallID: "c1", Kind: "final", Text: "hello", Seq: 1,
	}))

	f := readFrame(t, conn)
	require.Equal(t, EventPlayAudio, f.Event)
	assert.Equal(t, "c1", f.CallID)
	audio, err := base64.StdEncoding.DecodeString(f.Audio)
	require.NoError(t, err)
	assert.Equal(t, "you said: hello", string(audio))
	assert.Equal(t, 8000, f.SampleRate)

	require.NoError(t, conn.WriteJSON(Frame{Event: EventCallHangup, CallID: "c1"}))
	require.Eventually(t, func() bool {
		_, err := mgr.Get("c1")
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDuplicateOpenReportsError(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dial(t, srv)

	require.NoError(t, conn.WriteJSON(Frame{Event: EventCallOpened, CallID: "c1"}))
	require.NoError(t, conn.WriteJSON(Frame{Event: EventCallOpened, CallID: "c1"}))

	f := readFrame(t, conn)
	assert.Equal(t, EventError, f.Event)
	assert.Contains(t, f.Reason, "duplicate session")
}

func TestExplicitTransferEmitsTransferAndCloseNotice(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dial(t, srv)

	require.NoError(t, conn.WriteJSON(Frame{Event: EventCallOpened, CallID: "c1"}))
	require.NoError(t, conn.WriteJSON(Frame{Event: EventMediaStart, CallID: "c1"}))
	require.NoError(t, conn.WriteJSON(Frame{
		Event: EventTranscript, CallID: "c1", Kind: "final", Text: "I want to talk to a human", Seq: 1,
	}))

	f := readFrame(t, conn)
	require.Equal(t, EventTransferCall, f.Event)
	assert.Equal(t, string(transfer.ReasonExplicitRequest), f.Reason)

	f = readFrame(t, conn)
	assert.Equal(t, EventCloseNotice, f.Event)
}

func TestConnectionDropHangsUpItsCalls(t *testing.T) {
	srv, mgr := newTestServer(t)
	conn := dial(t, srv)

	require.NoError(t, conn.WriteJSON(Frame{Event: EventCallOpened, CallID: "c1"}))
	require.Eventually(t, func() bool {
		_, err := mgr.Get("c1")
		return err == nil
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		_, err := mgr.Get("c1")
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTrafficForUnknownCallReportsSessionLost(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dial(t, srv)

	require.NoError(t, conn.WriteJSON(Frame{
		Event:      EventAudioChunk,
		CallID:     "survived-a-restart",
		Audio:      base64.StdEncoding.EncodeToString(make([]byte, 320)),
		SampleRate: 8000,
		Channels:   1,
	}))

	f := readFrame(t, conn)
	assert.Equal(t, EventError, f.Event)
	assert.Equal(t, "session_lost", f.Reason)
}

func TestPlayAudioWithoutConnection(t *testing.T) {
	tr := NewTransport()
	err := tr.PlayAudio("ghost", []byte("x"), backend.AudioFormat{})
	require.Error(t, err)
}
