// Package completion streams chat completions from an OpenAI-compatible
// backend such as LM Studio.
package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/oremus-labs/ol-chat-relay/internal/logutil"
	"github.com/oremus-labs/ol-chat-relay/internal/metrics"
	"github.com/oremus-labs/ol-chat-relay/internal/transcript"
)

// ErrStatus wraps a non-success HTTP response from the backend.
var ErrStatus = errors.New("completion backend returned an error status")

// Fragment is one piece of streamed text. A fragment with Err set is the
// last one on its channel.
type Fragment struct {
	Text string
	Err  error
}

// Config configures the client.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	// Buffer bounds the number of fragments held between the network reader
	// and the consumer.
	Buffer int
	// ResponseHeaderTimeout bounds the wait for the backend to start
	// answering. The streamed body itself has no deadline; a long generation
	// runs until the backend ends it or ctx is cancelled.
	ResponseHeaderTimeout time.Duration
	HTTPClient            *http.Client
}

// Client streams completions.
type Client struct {
	api    openai.Client
	model  string
	buffer int
}

// New builds a client for cfg.
func New(cfg Config) *Client {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 32
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.ResponseHeaderTimeout = cfg.ResponseHeaderTimeout
		httpClient = &http.Client{Transport: transport}
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Client{
		api:    openai.NewClient(opts...),
		model:  cfg.Model,
		buffer: cfg.Buffer,
	}
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

// Stream sends the transcript and returns the reply as a fragment channel.
// Errors establishing the request are returned directly; errors while reading
// arrive as a final Fragment. The channel is closed when the reply ends.
func (c *Client) Stream(ctx context.Context, entries []transcript.Entry) (<-chan Fragment, error) {
	req := request{Model: c.model, Stream: true, Messages: make([]wireMessage, 0, len(entries))}
	for _, e := range entries {
		req.Messages = append(req.Messages, wireMessage{Role: string(e.Role), Content: e.Content})
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode completion request: %w", err)
	}

	var res *http.Response
	if err := c.api.Post(ctx, "chat/completions", json.RawMessage(body), &res); err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("%w: %d: %v", ErrStatus, apiErr.StatusCode, err)
		}
		return nil, fmt.Errorf("send completion request: %w", err)
	}
	if res == nil {
		return nil, errors.New("completion backend returned no response")
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		res.Body.Close()
		return nil, fmt.Errorf("%w: %d", ErrStatus, res.StatusCode)
	}

	out := make(chan Fragment, c.buffer)
	go c.pump(ctx, ssestream.NewDecoder(res), out)
	return out, nil
}

func (c *Client) pump(ctx context.Context, dec ssestream.Decoder, out chan<- Fragment) {
	defer close(out)
	defer dec.Close()

	for dec.Next() {
		data := dec.Event().Data
		if strings.TrimSpace(string(data)) == "[DONE]" {
			return
		}
		var chunk openai.ChatCompletionChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			logutil.Debug("skipping malformed completion chunk", map[string]interface{}{"error": err.Error()})
			continue
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		metrics.FragmentReceived()
		select {
		case out <- Fragment{Text: chunk.Choices[0].Delta.Content}:
		case <-ctx.Done():
			return
		}
	}
	if err := dec.Err(); err != nil {
		select {
		case out <- Fragment{Err: fmt.Errorf("read completion stream: %w", err)}:
		case <-ctx.Done():
		}
	}
}
