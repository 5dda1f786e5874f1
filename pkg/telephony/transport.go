// Package telephony is the switch-facing boundary. The switch speaks
// JSON frames over a websocket: call lifecycle and audio chunks inbound,
// playback, transfer, and close notices outbound.
package telephony

import (
	"encoding/base64"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zenvox/switchboard/pkg/backend"
	"github.com/zenvox/switchboard/pkg/session"
	"github.com/zenvox/switchboard/pkg/transcript"
	"github.com/zenvox/switchboard/pkg/transfer"
)

// Frame is the wire envelope in both directions.
type Frame struct {
	Event      string `json:"event"`
	CallID     string `json:"call_id"`
	Audio      string `json:"audio,omitempty"` // base64 PCM
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	Encoding   string `json:"encoding,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Kind       string `json:"kind,omitempty"`
	Text       string `json:"text,omitempty"`
	Seq        uint64 `json:"seq,omitempty"`
}

const (
	EventCallOpened = "call_opened"
	EventMediaStart = "media_start"
	EventAudioChunk = "audio_chunk"
	EventCallHangup = "call_hangup"
	EventTranscript = "transcript"

	EventPlayAudio    = "play_audio"
	EventTransferCall = "transfer_call"
	EventCloseNotice  = "close_notice"
	EventError        = "error"
)

// Transport serves the media-stream websocket and implements the
// outbound session.Notifier. Writes to a connection are serialized per
// connection; a call is bound to the connection that opened it.
type Transport struct {
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	calls map[string]*wsConn

	mgr *session.Manager
}

type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func NewTransport() *Transport {
	return &Transport{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		calls: map[string]*wsConn{},
	}
}

// Bind attaches the session manager. Must be called before serving.
func (t *Transport) Bind(mgr *session.Manager) { t.mgr = mgr }

// ServeHTTP upgrades the switch connection and pumps inbound frames.
func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	wc := &wsConn{conn: conn}
	opened := map[string]bool{}
	defer func() {
		// A dropped switch connection hangs up every call it carried.
		for callID := range opened {
			t.unbind(callID)
			t.mgr.Hangup(callID)
		}
		_ = conn.Close()
	}()

	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Msg("media stream connection dropped")
			}
			return
		}
		if err := t.handleFrame(wc, opened, f); err != nil {
			log.Warn().Err(err).
				Str("component", "telephony").
				Str("event", f.Event).
				Str("call_id", f.CallID).
				Msg("frame rejected")
			reason := err.Error()
			// Traffic for a call this process does not know (for example
			// a call that straddled a restart) is reported as lost so the
			// switch releases the leg instead of retrying.
			if errors.Is(err, session.ErrNotFound) {
				reason = "session_lost"
			}
			_ = wc.writeJSON(Frame{Event: EventError, CallID: f.CallID, Reason: reason})
		}
	}
}

func (t *Transport) handleFrame(wc *wsConn, opened map[string]bool, f Frame) error {
	if f.CallID == "" {
		return errors.New("missing call_id")
	}
	switch f.Event {
	case EventCallOpened:
		if _, err := t.mgr.Open(f.CallID); err != nil {
			return err
		}
		t.bind(f.CallID, wc)
		opened[f.CallID] = true
		return nil

	case EventMediaStart:
		return t.mgr.ConfirmMedia(f.CallID)

	case EventAudioChunk:
		raw, err := base64.StdEncoding.DecodeString(f.Audio)
		if err != nil {
			return errors.Wrap(err, "decode audio chunk")
		}
		return t.mgr.IngestAudio(f.CallID, raw, f.SampleRate, f.Channels)

	case EventCallHangup:
		t.mgr.Hangup(f.CallID)
		t.unbind(f.CallID)
		delete(opened, f.CallID)
		return nil

	case EventTranscript:
		return t.mgr.HandleTranscript(transcript.Event{
			CallID: f.CallID,
			Kind:   transcript.Kind(f.Kind),
			Text:   f.Text,
			Seq:    f.Seq,
		})

	default:
		return errors.Errorf("unknown event %q", f.Event)
	}
}

func (t *Transport) bind(callID string, wc *wsConn) {
	t.mu.Lock()
	t.calls[callID] = wc
	t.mu.Unlock()
}

func (t *Transport) unbind(callID string) {
	t.mu.Lock()
	delete(t.calls, callID)
	t.mu.Unlock()
}

func (t *Transport) lookup(callID string) (*wsConn, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	wc, ok := t.calls[callID]
	return wc, ok
}

// PlayAudio dispatches synthesized audio back to the switch.
func (t *Transport) PlayAudio(callID string, audioBytes []byte, format backend.AudioFormat) error {
	wc, ok := t.lookup(callID)
	if !ok {
		return errors.Errorf("no connection for call %s", callID)
	}
	return wc.writeJSON(Frame{
		Event:      EventPlayAudio,
		CallID:     callID,
		Audio:      base64.StdEncoding.EncodeToString(audioBytes),
		SampleRate: format.SampleRate,
		Channels:   format.Channels,
		Encoding:   format.Encoding,
	})
}

// TransferCall asks the switch to escalate the call to a human agent.
func (t *Transport) TransferCall(callID string, reason transfer.Reason) error {
	wc, ok := t.lookup(callID)
	if !ok {
		return errors.Errorf("no connection for call %s", callID)
	}
	return wc.writeJSON(Frame{Event: EventTransferCall, CallID: callID, Reason: string(reason)})
}

// CloseNotice tells the switch the session is gone so it can release
// transport resources.
func (t *Transport) CloseNotice(callID string) error {
	wc, ok := t.lookup(callID)
	if !ok {
		return nil
	}
	t.unbind(callID)
	return wc.writeJSON(Frame{Event: EventCloseNotice, CallID: callID})
}
