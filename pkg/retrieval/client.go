// Package retrieval queries a vector store for knowledge-base snippets
// relevant to the caller's latest utterance. Retrieval is an optional
// augmentation: failures and empty results degrade to a generation
// request without retrieved context.
package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Snippet is one retrieved chunk, most relevant first in result order.
type Snippet struct {
	Text     string  `json:"text"`
	Distance float64 `json:"distance"`
}

// Retriever fetches the most relevant snippets for a query. An empty
// slice means nothing sufficiently relevant exists.
type Retriever interface {
	Query(ctx context.Context, queryText string, topInitial, topFinal int) ([]Snippet, error)
}

// HTTPRetriever talks to a Chroma-style query endpoint.
type HTTPRetriever struct {
	url        string
	collection string
	// Snippets with a distance above this are considered irrelevant.
	maxDistance float64
	client      *http.Client
}

func NewHTTPRetriever(url, collection string) *HTTPRetriever {
	return &HTTPRetriever{
		url:         url,
		collection:  collection,
		maxDistance: 1.0,
		client:      &http.Client{Timeout: 10 * time.Second},
	}
}

type queryPayload struct {
	Collection string `json:"collection"`
	QueryText  string `json:"query_text"`
	NResults   int    `json:"n_results"`
}

type queryResponse struct {
	Documents []string  `json:"documents"`
	Distances []float64 `json:"distances"`
}

func (r *HTTPRetriever) Query(ctx context.Context, queryText string, topInitial, topFinal int) ([]Snippet, error) {
	if topInitial <= 0 {
		topInitial = 10
	}
	if topFinal <= 0 || topFinal > topInitial {
		topFinal = topInitial
	}
	body, err := json.Marshal(queryPayload{
		Collection: r.collection,
		QueryText:  queryText,
		NResults:   topInitial,
	})
	if err != nil {
		return nil, errors.Wrap(err, "marshal retrieval query")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build retrieval request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "retrieval request")
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("retrieval status %d", resp.StatusCode)
	}
	var parsed queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, errors.Wrap(err, "decode retrieval response")
	}

	out := make([]Snippet, 0, topFinal)
	for i, doc := range parsed.Documents {
		if len(out) >= topFinal {
			break
		}
		dist := 0.0
		if i < len(parsed.Distances) {
			dist = parsed.Distances[i]
		}
		if dist > r.maxDistance {
			continue
		}
		out = append(out, Snippet{Text: doc, Distance: dist})
	}
	log.Debug().
		Str("component", "retrieval").
		Int("returned", len(parsed.Documents)).
		Int("kept", len(out)).
		Msg("retrieval query complete")
	return out, nil
}

// Join renders snippets as a single context block for the generator.
func Join(snippets []Snippet) string {
	var b bytes.Buffer
	for i, s := range snippets {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("- ")
		b.WriteString(s.Text)
	}
	return b.String()
}
