package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zenvox/switchboard/pkg/history"
)

// ChatGenerator talks to an Ollama-compatible chat endpoint. The system
// instructions go first, then the bounded context turns, then the
// latest user utterance. Retrieved context, when present, is appended
// to the system message.
type ChatGenerator struct {
	url    string
	model  string
	client *http.Client
}

func NewChatGenerator(url, model string, timeout time.Duration) *ChatGenerator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ChatGenerator{
		url:    url,
		model:  model,
		client: &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatPayload struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
}

func (g *ChatGenerator) Generate(ctx context.Context, req GenerationRequest) (string, error) {
	system := req.SystemInstructions
	if req.RetrievedContext != "" {
		system += "\n\nRelevant knowledge base context:\n" + req.RetrievedContext
	}
	messages := make([]chatMessage, 0, len(req.Context)+2)
	messages = append(messages, chatMessage{Role: "system", Content: system})
	for _, t := range req.Context {
		messages = append(messages, chatMessage{Role: string(t.Role), Content: t.Text})
	}
	messages = append(messages, chatMessage{Role: string(history.RoleUser), Content: req.Utterance})

	body, err := json.Marshal(chatPayload{Model: g.model, Messages: messages, Stream: false})
	if err != nil {
		return "", errors.Wrap(err, "marshal generation payload")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "build generation request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", errors.Wrap(ctx.Err(), "generation cancelled")
		}
		return "", errors.Wrapf(ErrGenerationFailed, "request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		log.Warn().
			Str("component", "generator").
			Int("status", resp.StatusCode).
			Str("body", string(b)).
			Msg("generation backend returned non-200")
		return "", errors.Wrapf(ErrGenerationFailed, "status %d", resp.StatusCode)
	}
	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", errors.Wrapf(ErrGenerationFailed, "decode response: %v", err)
	}
	if parsed.Message.Content == "" {
		return "", errors.Wrap(ErrGenerationFailed, "empty assistant message")
	}
	return parsed.Message.Content, nil
}
