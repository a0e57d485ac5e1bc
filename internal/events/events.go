// Package events defines the JSON messages exchanged with viewers.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Type discriminates outbound events.
type Type string

const (
	TypeConnected  Type = "connected"
	TypeStart      Type = "start"
	TypeChunk      Type = "chunk"
	TypeToolStart  Type = "tool_start"
	TypeToolResult Type = "tool_result"
	TypeEnd        Type = "end"
)

// Event is one outbound viewer event. Only the fields belonging to Type are
// serialised.
type Event struct {
	Type    Type
	Message string
	Role    string
	Content string
	Tools   []string
	Tool    string
	Result  interface{}
	Success bool
	Error   string
}

// Connected is the notice a viewer receives right after subscribing.
func Connected(message string) Event { return Event{Type: TypeConnected, Message: message} }

// Start announces a new assistant response.
func Start() Event { return Event{Type: TypeStart, Role: "assistant"} }

// Chunk carries visible model text.
func Chunk(content string) Event { return Event{Type: TypeChunk, Content: content} }

// ToolStart lists the tools about to run.
func ToolStart(names []string) Event { return Event{Type: TypeToolStart, Tools: names} }

// ToolResult reports one tool outcome.
func ToolResult(tool string, result interface{}, success bool, errMsg string) Event {
	return Event{Type: TypeToolResult, Tool: tool, Result: result, Success: success, Error: errMsg}
}

// End closes a turn.
func End() Event { return Event{Type: TypeEnd} }

// MarshalJSON renders the tagged wire form.
func (e Event) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{"type": e.Type}
	switch e.Type {
	case TypeConnected:
		out["message"] = e.Message
	case TypeStart:
		out["role"] = e.Role
	case TypeChunk:
		out["content"] = e.Content
	case TypeToolStart:
		names := e.Tools
		if names == nil {
			names = []string{}
		}
		out["tools"] = names
	case TypeToolResult:
		out["tool"] = e.Tool
		out["result"] = e.Result
		out["success"] = e.Success
		if e.Error != "" {
			out["error"] = e.Error
		}
	case TypeEnd:
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts the wire form produced by MarshalJSON.
func (e *Event) UnmarshalJSON(data []byte) error {
	var wire struct {
		Type    Type        `json:"type"`
		Message string      `json:"message"`
		Role    string      `json:"role"`
		Content string      `json:"content"`
		Tools   []string    `json:"tools"`
		Tool    string      `json:"tool"`
		Result  interface{} `json:"result"`
		Success bool        `json:"success"`
		Error   string      `json:"error"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*e = Event(wire)
	return nil
}

// InboundSendMessage is the only inbound message type.
const InboundSendMessage = "send_message"

// Inbound is a message submitted by a viewer.
type Inbound struct {
	Content string `json:"content"`
}

// ErrMalformed marks an inbound payload that is not a well-formed message.
var ErrMalformed = errors.New("malformed inbound message")

// ParseInbound decodes a viewer payload.
func ParseInbound(data []byte) (Inbound, error) {
	var wire struct {
		Type    string  `json:"type"`
		Content *string `json:"content"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if wire.Type != InboundSendMessage {
		return Inbound{}, fmt.Errorf("%w: unknown type %q", ErrMalformed, wire.Type)
	}
	if wire.Content == nil {
		return Inbound{}, fmt.Errorf("%w: content missing", ErrMalformed)
	}
	return Inbound{Content: *wire.Content}, nil
}

// EncodeInbound renders a send_message payload.
func EncodeInbound(content string) ([]byte, error) {
	return json.Marshal(map[string]string{"type": InboundSendMessage, "content": content})
}
