package transcript

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregatorFinalSupersedesPartials(t *testing.T) {
	a := NewAggregator("c1")

	_, ok := a.Observe(Event{CallID: "c1", Kind: KindPartial, Text: "hel", Seq: 1})
	assert.False(t, ok)
	_, ok = a.Observe(Event{CallID: "c1", Kind: KindPartial, Text: "hello", Seq: 2})
	assert.False(t, ok)

	u, ok := a.Observe(Event{CallID: "c1", Kind: KindFinal, Text: "hello there", Seq: 2})
	require.True(t, ok)
	assert.Equal(t, "hello there", u.Text)
	assert.Equal(t, uint64(2), u.Seq)

	_, hasPartial := a.Partial()
	assert.False(t, hasPartial, "final must reset partial tracking")

	// Duplicate final produces no second emission.
	_, ok = a.Observe(Event{CallID: "c1", Kind: KindFinal, Text: "hello there", Seq: 2})
	assert.False(t, ok)
}

func TestAggregatorDiscardsStaleFinal(t *testing.T) {
	a := NewAggregator("c1")

	u, ok := a.Observe(Event{Kind: KindFinal, Text: "second", Seq: 5})
	require.True(t, ok)
	assert.Equal(t, uint64(5), u.Seq)

	_, ok = a.Observe(Event{Kind: KindFinal, Text: "late first", Seq: 3})
	assert.False(t, ok)
}

func TestAggregatorEmitsInStrictlyIncreasingOrder(t *testing.T) {
	a := NewAggregator("c1")

	var seqs []uint64
	events := []Event{
		{Kind: KindPartial, Text: "a", Seq: 1},
		{Kind: KindFinal, Text: "one", Seq: 2},
		{Kind: KindPartial, Text: "b", Seq: 3},
		{Kind: KindFinal, Text: "one again", Seq: 2}, // duplicate
		{Kind: KindFinal, Text: "two", Seq: 4},
		{Kind: KindFinal, Text: "stale", Seq: 1},
	}
	for _, e := range events {
		if u, ok := a.Observe(e); ok {
			seqs = append(seqs, u.Seq)
		}
	}
	assert.Equal(t, []uint64{2, 4}, seqs)
}

func TestAggregatorIgnoresStalePartials(t *testing.T) {
	a := NewAggregator("c1")

	a.Observe(Event{Kind: KindPartial, Text: "newer", Seq: 7})
	a.Observe(Event{Kind: KindPartial, Text: "older", Seq: 4})

	text, ok := a.Partial()
	require.True(t, ok)
	assert.Equal(t, "newer", text)
}

func TestAggregatorKeepsPartialAboveFinal(t *testing.T) {
	// A partial for the next utterance can race ahead of the final that
	// closes the current one; it must survive the final.
	a := NewAggregator("c1")

	a.Observe(Event{Kind: KindPartial, Text: "next utterance", Seq: 9})
	u, ok := a.Observe(Event{Kind: KindFinal, Text: "current", Seq: 5})
	require.True(t, ok)
	assert.Equal(t, uint64(5), u.Seq)

	text, hasPartial := a.Partial()
	require.True(t, hasPartial)
	assert.Equal(t, "next utterance", text)
}

func TestEventRoundtripAndValidation(t *testing.T) {
	e := Event{CallID: "c1", Kind: KindFinal, Text: "hi", Seq: 3}
	b, err := e.Marshal()
	require.NoError(t, err)
	got, err := Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, e, got)

	_, err = Unmarshal([]byte(`{"call_id":"c1","kind":"bogus"}`))
	require.Error(t, err)
}
