package transcript

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Kind tags a recognition result as in-progress or finalized.
type Kind string

const (
	KindPartial Kind = "partial"
	KindFinal   Kind = "final"
)

// Event is one speech-recognition result for a call. Seq is assigned
// by the recognizer, increases per call, and is not necessarily
// contiguous; arrival order may disagree with Seq order.
type Event struct {
	CallID string `json:"call_id"`
	Kind   Kind   `json:"kind"`
	Text   string `json:"text"`
	Seq    uint64 `json:"seq"`
}

// Marshal encodes an event for the bus.
func (e Event) Marshal() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, "marshal transcript event")
	}
	return b, nil
}

// Unmarshal decodes a bus payload.
func Unmarshal(b []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		return Event{}, errors.Wrap(err, "unmarshal transcript event")
	}
	if e.Kind != KindPartial && e.Kind != KindFinal {
		return Event{}, errors.Errorf("unknown transcript event kind %q", e.Kind)
	}
	return e, nil
}
