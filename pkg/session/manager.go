package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zenvox/switchboard/pkg/audio"
	"github.com/zenvox/switchboard/pkg/backend"
	"github.com/zenvox/switchboard/pkg/config"
	"github.com/zenvox/switchboard/pkg/eventbus"
	"github.com/zenvox/switchboard/pkg/history"
	"github.com/zenvox/switchboard/pkg/retrieval"
	"github.com/zenvox/switchboard/pkg/transcript"
	"github.com/zenvox/switchboard/pkg/transfer"
)

// Notifier is the outbound telephony boundary: playback, escalation,
// and teardown notices for a call.
type Notifier interface {
	PlayAudio(callID string, audioBytes []byte, format backend.AudioFormat) error
	TransferCall(callID string, reason transfer.Reason) error
	CloseNotice(callID string) error
}

// CallLogger records call lifecycle and finalized turns. Implementations
// must tolerate being called from many sessions concurrently.
type CallLogger interface {
	CallOpened(callID string, at time.Time) error
	CallClosed(callID string, reason string, at time.Time) error
	TurnRecorded(callID, role, text string, at time.Time) error
}

// Deps are the collaborators a Manager drives. Retriever and CallLog
// may be nil.
type Deps struct {
	Bus         *eventbus.Bus
	Gate        *backend.Gate
	Generator   backend.Generator
	Synthesizer backend.Synthesizer
	Recognizer  backend.Recognizer
	Retriever   retrieval.Retriever
	Notifier    Notifier
	CallLog     CallLogger
}

// Manager owns the table of live call sessions and supervises one
// pipeline per call. All open/close/get operations are linearizable
// under the table lock.
type Manager struct {
	cfg     *config.Settings
	deps    Deps
	history *history.Store
	engine  *transfer.Engine

	baseCtx context.Context

	mu       sync.Mutex
	sessions map[string]*Session

	sweepOnce sync.Once
}

func NewManager(ctx context.Context, cfg *config.Settings, deps Deps) *Manager {
	return &Manager{
		cfg:     cfg,
		deps:    deps,
		history: history.NewStore(cfg.Dialog.MaxHistoryTurns),
		engine: transfer.NewEngine(
			cfg.Dialog.TransferPhrases,
			cfg.Dialog.FailureThreshold,
			cfg.Dialog.MaxTurns,
		),
		baseCtx:  ctx,
		sessions: map[string]*Session{},
	}
}

// History exposes the context store, mainly for tests and the call log.
func (m *Manager) History() *history.Store { return m.history }

// Open registers a new call. At most one live session may exist per
// call id; a second open fails with ErrDuplicateSession.
func (m *Manager) Open(callID string) (*Session, error) {
	m.mu.Lock()
	if _, ok := m.sessions[callID]; ok {
		m.mu.Unlock()
		return nil, errors.Wrapf(ErrDuplicateSession, "call %s", callID)
	}
	ctx, cancel := context.WithCancel(m.baseCtx)
	sess := &Session{
		ID:        callID,
		RunID:     uuid.NewString(),
		CreatedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		state:     StateOpening,
		pipeline: audio.NewPipeline(audio.PipelineConfig{
			CallID:           callID,
			SampleRate:       m.cfg.Audio.SampleRate,
			TargetSampleRate: m.cfg.Audio.TargetSampleRate,
			SegmentDuration:  m.cfg.Audio.SegmentDuration,
			MaxBufferBytes:   m.cfg.Audio.MaxBufferBytes,
		}),
		agg:          transcript.NewAggregator(callID),
		lastActivity: time.Now(),
		wake:         make(chan struct{}, 1),
	}
	m.sessions[callID] = sess
	m.mu.Unlock()

	log.Info().
		Str("component", "session_manager").
		Str("call_id", callID).
		Str("run_id", sess.RunID).
		Msg("session opened")
	if m.deps.CallLog != nil {
		if err := m.deps.CallLog.CallOpened(callID, sess.CreatedAt); err != nil {
			log.Warn().Err(err).Str("call_id", callID).Msg("call log open failed")
		}
	}

	ch, err := m.deps.Bus.SubscribeTranscripts(sess.ctx, sess.ID)
	if err != nil {
		m.Close(callID, CloseSessionLost)
		return nil, errors.Wrap(err, "subscribe transcript stream")
	}
	go m.readTranscripts(sess, ch)
	go m.pumpSegments(sess)
	go m.runTurnWorker(sess)
	return sess, nil
}

// Get returns the live session handle for a call.
func (m *Manager) Get(callID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[callID]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "call %s", callID)
	}
	return sess, nil
}

// ConfirmMedia marks the call's audio stream as active, moving the
// session from Opening to Listening.
func (m *Manager) ConfirmMedia(callID string) error {
	sess, err := m.Get(callID)
	if err != nil {
		return err
	}
	if sess.transition(StateListening, StateOpening) {
		log.Info().Str("call_id", callID).Msg("media stream confirmed, listening")
	}
	return nil
}

// IngestAudio feeds one raw telephony chunk into the call's pipeline.
// It never blocks on downstream consumers.
func (m *Manager) IngestAudio(callID string, chunk []byte, sampleRate, channels int) error {
	sess, err := m.Get(callID)
	if err != nil {
		return err
	}
	sess.touch()
	if err := sess.pipeline.Write(chunk, sampleRate, channels); err != nil {
		log.Warn().Err(err).Str("call_id", callID).Msg("dropping malformed audio chunk")
		return err
	}
	return nil
}

// HandleTranscript feeds one recognition event onto the call's topic.
func (m *Manager) HandleTranscript(e transcript.Event) error {
	if _, err := m.Get(e.CallID); err != nil {
		return err
	}
	return m.deps.Bus.PublishTranscript(e)
}

// Close tears down a call session. In-flight downstream work for the
// call is cancelled first; closing an unknown or already-closed call is
// a no-op.
func (m *Manager) Close(callID string, reason CloseReason) {
	m.mu.Lock()
	sess, ok := m.sessions[callID]
	if ok {
		delete(m.sessions, callID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	sess.setState(StateClosing)
	sess.cancel()
	sess.pipeline.Close()
	m.history.Drop(callID)
	sess.setState(StateClosed)

	log.Info().
		Str("component", "session_manager").
		Str("call_id", callID).
		Str("reason", string(reason)).
		Msg("session closed")

	if m.deps.Notifier != nil {
		if err := m.deps.Notifier.CloseNotice(callID); err != nil {
			log.Warn().Err(err).Str("call_id", callID).Msg("close notice failed")
		}
	}
	if m.deps.CallLog != nil {
		if err := m.deps.CallLog.CallClosed(callID, string(reason), time.Now()); err != nil {
			log.Warn().Err(err).Str("call_id", callID).Msg("call log close failed")
		}
	}
}

// Hangup is the telephony-side teardown signal. It preempts any state.
func (m *Manager) Hangup(callID string) {
	m.Close(callID, CloseHangup)
}

// CloseAll ends every live session, used on process shutdown.
func (m *Manager) CloseAll(reason CloseReason) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Close(id, reason)
	}
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// StartSweep runs the idle sweep until ctx is done. Safe to call once;
// subsequent calls are ignored.
func (m *Manager) StartSweep(ctx context.Context) {
	m.sweepOnce.Do(func() {
		go m.runSweep(ctx)
	})
}

func (m *Manager) runSweep(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Session.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.sweepIdleOnce(now)
		}
	}
}

func (m *Manager) sweepIdleOnce(now time.Time) int {
	idle := m.cfg.Session.IdleTimeout
	m.mu.Lock()
	stale := make([]string, 0)
	for id, sess := range m.sessions {
		if now.Sub(sess.LastActivity()) >= idle {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		log.Info().Str("call_id", id).Msg("closing idle session")
		m.Close(id, CloseIdleTimeout)
	}
	return len(stale)
}
