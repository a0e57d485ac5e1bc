package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oremus-labs/ol-chat-relay/internal/transcript"
)

func chunk(content string) string {
	return fmt.Sprintf(`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"content":%q}}]}`, content)
}

func sseServer(t *testing.T, lines []string, seen *map[string]interface{}) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if seen != nil {
			_ = json.NewDecoder(r.Body).Decode(seen)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, l := range lines {
			fmt.Fprintf(w, "data: %s\n\n", l)
			w.(http.Flusher).Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func collect(t *testing.T, ch <-chan Fragment) ([]string, error) {
	t.Helper()
	var (
		texts []string
		err   error
	)
	timeout := time.After(5 * time.Second)
	for {
		select {
		case f, ok := <-ch:
			if !ok {
				return texts, err
			}
			if f.Err != nil {
				err = f.Err
				continue
			}
			texts = append(texts, f.Text)
		case <-timeout:
			t.Fatalf("stream did not finish")
		}
	}
}

func TestStreamYieldsFragmentsInOrder(t *testing.T) {
	t.Parallel()
	var body map[string]interface{}
	srv := sseServer(t, []string{
		chunk("The answer"),
		`{"choices":[`,
		chunk(" is "),
		`{"choices":[]}`,
		chunk("5."),
		"[DONE]",
		chunk("ignored"),
	}, &body)

	c := New(Config{BaseURL: srv.URL + "/v1", APIKey: "not-needed", Model: "granite"})
	ch, err := c.Stream(context.Background(), []transcript.Entry{
		{Role: transcript.RoleSystem, Content: "sys"},
		{Role: transcript.RoleUser, Content: "what is 2+3?"},
		{Role: transcript.RoleTool, Content: "<tool_results>\nx\n</tool_results>"},
	})
	require.NoError(t, err)

	texts, err := collect(t, ch)
	require.NoError(t, err)
	assert.Equal(t, []string{"The answer", " is ", "5."}, texts)

	assert.Equal(t, "granite", body["model"])
	assert.Equal(t, true, body["stream"])
	msgs := body["messages"].([]interface{})
	require.Len(t, msgs, 3)
	assert.Equal(t, map[string]interface{}{"role": "tool", "content": "<tool_results>\nx\n</tool_results>"}, msgs[2])
}

func TestStreamEndsOnConnectionClose(t *testing.T) {
	t.Parallel()
	srv := sseServer(t, []string{chunk("partial")}, nil)
	c := New(Config{BaseURL: srv.URL + "/v1", Model: "m"})
	ch, err := c.Stream(context.Background(), nil)
	require.NoError(t, err)
	texts, err := collect(t, ch)
	require.NoError(t, err)
	assert.Equal(t, []string{"partial"}, texts)
}

func TestStreamReportsErrorStatus(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"model not loaded"}}`))
	}))
	t.Cleanup(srv.Close)

	c := New(Config{BaseURL: srv.URL + "/v1", Model: "m"})
	_, err := c.Stream(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStatus), err.Error())
}

func TestStreamReportsUnreachableBackend(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(Config{BaseURL: url + "/v1", Model: "m", ResponseHeaderTimeout: time.Second})
	_, err := c.Stream(context.Background(), nil)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrStatus))
}

func TestStreamOutlivesResponseHeaderTimeout(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		for _, word := range []string{"slow", " but", " steady"} {
			time.Sleep(100 * time.Millisecond)
			fmt.Fprintf(w, "data: %s\n\n", chunk(word))
			w.(http.Flusher).Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)

	c := New(Config{BaseURL: srv.URL + "/v1", Model: "m", ResponseHeaderTimeout: 150 * time.Millisecond})
	ch, err := c.Stream(context.Background(), nil)
	require.NoError(t, err)
	texts, err := collect(t, ch)
	require.NoError(t, err)
	assert.Equal(t, []string{"slow", " but", " steady"}, texts)
}

func TestStreamFailsWhenBackendNeverAnswers(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	c := New(Config{BaseURL: srv.URL + "/v1", Model: "m", ResponseHeaderTimeout: 50 * time.Millisecond})
	_, err := c.Stream(context.Background(), nil)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrStatus))
}
