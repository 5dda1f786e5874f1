package transcript

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Utterance is one finalized stretch of caller speech.
type Utterance struct {
	CallID string
	Text   string
	Seq    uint64
}

// Aggregator collapses one call's stream of partial and final
// recognition events into finalized utterances. A final supersedes
// every partial at or below its sequence number; duplicate or stale
// finals are dropped so downstream sees each utterance exactly once,
// in strictly increasing sequence order.
type Aggregator struct {
	callID string

	mu           sync.Mutex
	partialText  string
	partialSeq   uint64
	havePartial  bool
	lastFinalSeq uint64
	haveFinal    bool
}

func NewAggregator(callID string) *Aggregator {
	return &Aggregator{callID: callID}
}

// Observe feeds one event in arrival order. It returns the finalized
// utterance and true when the event completes one.
func (a *Aggregator) Observe(e Event) (Utterance, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch e.Kind {
	case KindPartial:
		if a.haveFinal && e.Seq <= a.lastFinalSeq {
			return Utterance{}, false
		}
		if a.havePartial && e.Seq <= a.partialSeq {
			// Stale partial racing a newer one.
			return Utterance{}, false
		}
		a.partialText = e.Text
		a.partialSeq = e.Seq
		a.havePartial = true
		return Utterance{}, false

	case KindFinal:
		if a.haveFinal && e.Seq <= a.lastFinalSeq {
			log.Debug().
				Str("component", "transcript_aggregator").
				Str("call_id", a.callID).
				Uint64("seq", e.Seq).
				Msg("discarding duplicate final")
			return Utterance{}, false
		}
		a.lastFinalSeq = e.Seq
		a.haveFinal = true
		// The final supersedes any buffered partial at or below it.
		if a.havePartial && a.partialSeq <= e.Seq {
			a.partialText = ""
			a.havePartial = false
		}
		return Utterance{CallID: a.callID, Text: e.Text, Seq: e.Seq}, true
	}
	return Utterance{}, false
}

// Partial reports the latest in-progress text, if any.
func (a *Aggregator) Partial() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.partialText, a.havePartial
}
