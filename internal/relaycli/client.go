package relaycli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oremus-labs/ol-chat-relay/internal/events"
)

// Client wraps the relay HTTP API.
type Client struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

func (c *Client) url(path string) string {
	return strings.TrimRight(c.BaseURL, "/") + path
}

func (c *Client) authorize(req *http.Request) {
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
}

func (c *Client) do(req *http.Request, target interface{}) error {
	httpClient := &http.Client{Timeout: c.Timeout}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s failed: %s %s", req.Method, req.URL.Path, resp.Status, strings.TrimSpace(string(body)))
	}
	if target == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

func (c *Client) GetJSON(ctx context.Context, path string, target interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path), nil)
	if err != nil {
		return err
	}
	c.authorize(req)
	req.Header.Set("Accept", "application/json")
	return c.do(req, target)
}

func (c *Client) postRaw(ctx context.Context, path string, payload []byte, target interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	c.authorize(req)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, target)
}

// QueueResponse is returned by POST /messages.
type QueueResponse struct {
	Status  string `json:"status"`
	Pending int    `json:"pending"`
}

// Send queues a user message through the operator endpoint.
func (c *Client) Send(ctx context.Context, content string) (QueueResponse, error) {
	var out QueueResponse
	payload, err := events.EncodeInbound(content)
	if err != nil {
		return out, err
	}
	err = c.postRaw(ctx, "/messages", payload, &out)
	return out, err
}

// StreamEvents opens the SSE feed and invokes handler for each event.
// Returning false from handler stops the stream.
func (c *Client) StreamEvents(ctx context.Context, handler func(events.Event) bool) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/events"), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	c.authorize(req)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("GET /events failed: %s", resp.Status)
	}

	reader := bufio.NewReader(resp.Body)
	var dataLines []string
	dispatch := func() bool {
		if len(dataLines) == 0 {
			return true
		}
		raw := strings.Join(dataLines, "\n")
		dataLines = dataLines[:0]
		var evt events.Event
		if err := json.Unmarshal([]byte(raw), &evt); err != nil {
			return true
		}
		return handler(evt)
	}

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err == io.EOF {
				return nil
			}
			return err
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if !dispatch() {
				return nil
			}
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(line[len("data:"):]))
		}
	}
}

// websocketURL maps the configured http(s) server to its /ws endpoint.
func (c *Client) websocketURL() (string, error) {
	u, err := url.Parse(c.url("/ws"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server scheme %q", u.Scheme)
	}
	return u.String(), nil
}

// Viewer is a websocket session with the relay.
type Viewer struct {
	conn *websocket.Conn
}

// Dial joins the relay as a viewer.
func (c *Client) Dial(ctx context.Context) (*Viewer, error) {
	target, err := c.websocketURL()
	if err != nil {
		return nil, err
	}
	dialer := websocket.Dialer{HandshakeTimeout: c.Timeout}
	conn, resp, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s", target, resp.Status)
		}
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return &Viewer{conn: conn}, nil
}

// Send writes a send_message payload.
func (v *Viewer) Send(content string) error {
	payload, err := events.EncodeInbound(content)
	if err != nil {
		return err
	}
	return v.conn.WriteMessage(websocket.TextMessage, payload)
}

// Receive blocks for the next event.
func (v *Viewer) Receive() (events.Event, error) {
	var evt events.Event
	_, data, err := v.conn.ReadMessage()
	if err != nil {
		return evt, err
	}
	err = json.Unmarshal(data, &evt)
	return evt, err
}

// Close sends a close frame and releases the connection.
func (v *Viewer) Close() error {
	_ = v.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return v.conn.Close()
}
