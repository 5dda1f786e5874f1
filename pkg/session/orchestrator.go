package session

import (
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog/log"

	"github.com/zenvox/switchboard/pkg/backend"
	"github.com/zenvox/switchboard/pkg/history"
	"github.com/zenvox/switchboard/pkg/retrieval"
	"github.com/zenvox/switchboard/pkg/transcript"
	"github.com/zenvox/switchboard/pkg/transfer"
)

// pumpSegments moves normalized audio from the call's pipeline to the
// recognition boundary until the session context closes.
func (m *Manager) pumpSegments(sess *Session) {
	if m.deps.Recognizer == nil {
		return
	}
	for {
		select {
		case <-sess.ctx.Done():
			return
		case <-sess.pipeline.Ready():
		}
		for {
			seg, ok := sess.pipeline.Next()
			if !ok {
				break
			}
			if err := m.deps.Recognizer.Feed(sess.ctx, seg); err != nil {
				if sess.ctx.Err() != nil {
					return
				}
				// A dropped recognition stream counts against the call's
				// failure budget so repeated outages escalate the call.
				n := sess.recordFailure()
				log.Error().Err(err).
					Str("component", "orchestrator").
					Str("call_id", sess.ID).
					Int("failures", n).
					Msg("recognition unavailable")
			}
		}
	}
}

// readTranscripts consumes the call's transcript topic, runs events
// through the aggregator, and queues finalized utterances for the turn
// worker.
func (m *Manager) readTranscripts(sess *Session, ch <-chan *message.Message) {
	for msg := range ch {
		e, err := transcript.Unmarshal(msg.Payload)
		if err != nil {
			log.Warn().Err(err).Str("call_id", sess.ID).Msg("discarding undecodable transcript event")
			msg.Ack()
			continue
		}
		sess.touch()
		if u, ok := sess.agg.Observe(e); ok {
			sess.enqueue(u)
		}
		msg.Ack()
	}
}

// runTurnWorker processes finalized utterances strictly one at a time.
// An utterance arriving mid-turn waits in the queue until the session
// is back in Listening; cross-call turns run fully concurrently.
func (m *Manager) runTurnWorker(sess *Session) {
	for {
		select {
		case <-sess.ctx.Done():
			return
		case <-sess.wake:
		}
		for {
			u, ok := sess.dequeue()
			if !ok {
				break
			}
			if sess.ctx.Err() != nil {
				return
			}
			m.runTurn(sess, u)
		}
	}
}

// runTurn drives one full dialog turn: Thinking, Speaking, and back to
// Listening, or Transferring when escalation is required.
func (m *Manager) runTurn(sess *Session, u transcript.Utterance) {
	// Only a listening session takes a turn; before media is confirmed,
	// and once the call is transferring or closing, queued utterances
	// are ignored.
	if !sess.transition(StateThinking, StateListening) {
		return
	}
	log.Info().
		Str("component", "orchestrator").
		Str("call_id", sess.ID).
		Uint64("seq", u.Seq).
		Msg("processing utterance")

	turnNo := sess.takeTurn()
	m.history.Append(sess.ID, history.Turn{Role: history.RoleUser, Text: u.Text})
	m.recordTurn(sess.ID, history.RoleUser, u.Text)
	snapshot := m.history.Snapshot(sess.ID)
	// The latest utterance is already in the snapshot's tail; the
	// generation request carries it separately, so trim it here.
	if len(snapshot) > 0 {
		snapshot = snapshot[:len(snapshot)-1]
	}

	reply, err := m.generate(sess, u.Text, snapshot)
	if err != nil {
		m.handleTurnFailure(sess, err)
		return
	}
	// A response landing after teardown must not touch history or the
	// call log: cancellation wins over completion.
	if sess.ctx.Err() != nil || sess.closedOrClosing() {
		log.Debug().Str("call_id", sess.ID).Msg("discarding generation for closed session")
		return
	}

	m.history.Append(sess.ID, history.Turn{Role: history.RoleAssistant, Text: reply})
	m.recordTurn(sess.ID, history.RoleAssistant, reply)
	sess.resetFailures()

	// The turn budget counts every turn taken on the call, not the
	// bounded history window, so long calls eventually hit it.
	decision := m.engine.Evaluate(u.Text, turnNo, sess.failureCount())
	if decision.ShouldTransfer {
		m.escalate(sess, decision.Reason)
		return
	}

	if !sess.transition(StateSpeaking, StateThinking) {
		return
	}
	if err := m.speak(sess, reply); err != nil {
		m.handleTurnFailure(sess, err)
		return
	}
	sess.transition(StateListening, StateSpeaking)
}

func (m *Manager) generate(sess *Session, utterance string, context []history.Turn) (string, error) {
	release, err := m.deps.Gate.Acquire(sess.ctx)
	if err != nil {
		return "", err
	}
	defer release()

	retrieved := ""
	if m.deps.Retriever != nil {
		snippets, err := m.deps.Retriever.Query(sess.ctx, utterance, m.cfg.Retrieval.TopInitial, m.cfg.Retrieval.TopFinal)
		if err != nil {
			log.Warn().Err(err).Str("call_id", sess.ID).Msg("retrieval failed, continuing without context")
		} else {
			retrieved = retrieval.Join(snippets)
		}
	}

	return m.deps.Generator.Generate(sess.ctx, backend.GenerationRequest{
		SystemInstructions: m.cfg.Dialog.SystemPrompt,
		Context:            context,
		Utterance:          utterance,
		RetrievedContext:   retrieved,
	})
}

// speak synthesizes text and dispatches playback. The play command is
// suppressed when the session closed while synthesis was in flight:
// cancellation wins over completion.
func (m *Manager) speak(sess *Session, text string) error {
	release, err := m.deps.Gate.Acquire(sess.ctx)
	if err != nil {
		return err
	}
	audioBytes, err := m.deps.Synthesizer.Synthesize(sess.ctx, backend.SynthesisRequest{
		Text: text,
		Format: backend.AudioFormat{
			SampleRate: m.cfg.Audio.SampleRate,
			Channels:   1,
			Encoding:   "pcm16",
		},
	})
	release()
	if err != nil {
		return err
	}
	if sess.ctx.Err() != nil || sess.closedOrClosing() {
		log.Debug().Str("call_id", sess.ID).Msg("discarding synthesis for closed session")
		return nil
	}
	return m.deps.Notifier.PlayAudio(sess.ID, audioBytes, backend.AudioFormat{
		SampleRate: m.cfg.Audio.SampleRate,
		Channels:   1,
		Encoding:   "pcm16",
	})
}

// handleTurnFailure absorbs a per-turn backend failure: count it, speak
// the fallback, and either keep listening or escalate once the failure
// budget is spent. Failures never propagate out of the session.
func (m *Manager) handleTurnFailure(sess *Session, cause error) {
	if sess.ctx.Err() != nil || sess.closedOrClosing() {
		return
	}
	n := sess.recordFailure()
	log.Warn().Err(cause).
		Str("component", "orchestrator").
		Str("call_id", sess.ID).
		Int("failures", n).
		Msg("turn failed")

	if n >= m.cfg.Dialog.FailureThreshold {
		m.escalate(sess, transfer.ReasonRepeatedFailure)
		return
	}

	sess.setState(StateSpeaking)
	if err := m.speak(sess, m.cfg.Dialog.FallbackUtterance); err != nil {
		log.Error().Err(err).Str("call_id", sess.ID).Msg("fallback utterance failed")
	}
	sess.transition(StateListening, StateSpeaking)
}

// escalate hands the call to a human agent and stops turn processing.
func (m *Manager) escalate(sess *Session, reason transfer.Reason) {
	if sess.ctx.Err() != nil || sess.closedOrClosing() {
		return
	}
	sess.setState(StateTransferring)
	log.Info().
		Str("component", "orchestrator").
		Str("call_id", sess.ID).
		Str("reason", string(reason)).
		Msg("transferring call")
	if err := m.deps.Notifier.TransferCall(sess.ID, reason); err != nil {
		log.Error().Err(err).Str("call_id", sess.ID).Msg("transfer dispatch failed")
	}
	m.Close(sess.ID, CloseTransfer)
}

func (m *Manager) recordTurn(callID string, role history.Role, text string) {
	if m.deps.CallLog == nil {
		return
	}
	if err := m.deps.CallLog.TurnRecorded(callID, string(role), text, time.Now()); err != nil {
		log.Warn().Err(err).Str("call_id", callID).Msg("call log turn failed")
	}
}
