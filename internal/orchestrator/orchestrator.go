// Package orchestrator drives one user message at a time through model
// rounds and tool dispatch, broadcasting progress to viewers.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oremus-labs/ol-chat-relay/internal/completion"
	"github.com/oremus-labs/ol-chat-relay/internal/events"
	"github.com/oremus-labs/ol-chat-relay/internal/logutil"
	"github.com/oremus-labs/ol-chat-relay/internal/markup"
	"github.com/oremus-labs/ol-chat-relay/internal/metrics"
	"github.com/oremus-labs/ol-chat-relay/internal/tools"
	"github.com/oremus-labs/ol-chat-relay/internal/transcript"
)

// DefaultMaxRounds caps model calls per user message.
const DefaultMaxRounds = 5

// Streamer produces the model's reply to a transcript.
type Streamer interface {
	Stream(ctx context.Context, entries []transcript.Entry) (<-chan completion.Fragment, error)
}

// Executor runs tool invocations.
type Executor interface {
	Execute(ctx context.Context, inv tools.Invocation) tools.Outcome
}

// Broadcaster delivers events to viewers.
type Broadcaster interface {
	Broadcast(evt events.Event)
}

// Inbox yields queued viewer messages in arrival order.
type Inbox interface {
	Next(ctx context.Context) (events.Inbound, error)
}

// Orchestrator owns the turn state machine. HandleMessage must not be called
// concurrently; Run serialises turns.
type Orchestrator struct {
	transcript *transcript.Store
	model      Streamer
	tools      Executor
	out        Broadcaster
	maxRounds  int
}

// New creates an orchestrator. maxRounds <= 0 selects DefaultMaxRounds.
func New(store *transcript.Store, model Streamer, exec Executor, out Broadcaster, maxRounds int) *Orchestrator {
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	return &Orchestrator{
		transcript: store,
		model:      model,
		tools:      exec,
		out:        out,
		maxRounds:  maxRounds,
	}
}

// Run processes inbound messages until ctx is done. A failed turn is logged
// and the loop moves on to the next message.
func (o *Orchestrator) Run(ctx context.Context, inbox Inbox) error {
	for {
		msg, err := inbox.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := o.HandleMessage(ctx, msg.Content); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logutil.Error("turn failed", err, map[string]interface{}{"transcript_len": o.transcript.Len()})
		}
	}
}

// HandleMessage runs one turn. Only failures reaching the model backend are
// returned; tool failures are reported to viewers and folded into the
// transcript.
func (o *Orchestrator) HandleMessage(ctx context.Context, content string) error {
	started := time.Now()
	rounds := 0

	if err := o.transcript.Append(transcript.Entry{Role: transcript.RoleUser, Content: content}); err != nil {
		return err
	}
	o.out.Broadcast(events.Start())

	for round := 0; round < o.maxRounds; round++ {
		raw, err := o.stream(ctx)
		if err != nil {
			metrics.ObserveTurn("failed", rounds, time.Since(started))
			return fmt.Errorf("model round %d: %w", round+1, err)
		}

		invocations, ok := markup.Extract(raw)
		if err := o.transcript.Append(transcript.Entry{Role: transcript.RoleAssistant, Content: raw}); err != nil {
			return err
		}
		if !ok {
			break
		}

		rounds++
		if err := o.dispatch(ctx, invocations); err != nil {
			return err
		}
		if round < o.maxRounds-1 {
			o.out.Broadcast(events.Start())
		}
	}

	o.out.Broadcast(events.End())
	metrics.ObserveTurn("ok", rounds, time.Since(started))
	logutil.Info("turn complete", map[string]interface{}{
		"rounds":      rounds,
		"duration_ms": time.Since(started).Milliseconds(),
	})
	return nil
}

// stream runs one model call, broadcasting visible fragments, and returns the
// full raw reply.
func (o *Orchestrator) stream(ctx context.Context) (string, error) {
	fragments, err := o.model.Stream(ctx, o.transcript.Snapshot())
	if err != nil {
		return "", err
	}
	var filter markup.Filter
	for frag := range fragments {
		if frag.Err != nil {
			return "", frag.Err
		}
		if filter.Feed(frag.Text) {
			o.out.Broadcast(events.Chunk(frag.Text))
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return filter.Raw(), nil
}

// dispatch executes invocations in order and appends their combined results.
func (o *Orchestrator) dispatch(ctx context.Context, invocations []tools.Invocation) error {
	names := make([]string, 0, len(invocations))
	for _, inv := range invocations {
		names = append(names, inv.Name)
	}
	o.out.Broadcast(events.ToolStart(names))

	lines := make([]string, 0, len(invocations))
	for _, inv := range invocations {
		outcome := o.tools.Execute(ctx, inv)
		o.out.Broadcast(events.ToolResult(inv.Name, outcome.Result, outcome.Success, outcome.Error))
		lines = append(lines, outcome.Describe(inv.Name))
		if !outcome.Success {
			logutil.Warn("tool failed", map[string]interface{}{"tool": inv.Name, "error": outcome.Error})
		}
	}

	entry := transcript.Entry{
		Role:    transcript.RoleTool,
		Content: "<tool_results>\n" + strings.Join(lines, "\n") + "\n</tool_results>",
	}
	if err := o.transcript.Append(entry); err != nil {
		return fmt.Errorf("record tool results: %w", err)
	}
	return nil
}
