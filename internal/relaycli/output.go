package relaycli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/oremus-labs/ol-chat-relay/internal/events"
)

func printJSON(w io.Writer, data interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// renderer prints a live event feed. In JSON mode every event is one line.
type renderer struct {
	w        io.Writer
	json     bool
	midReply bool
}

// render writes evt and reports whether it closed a turn.
func (r *renderer) render(evt events.Event) bool {
	if r.json {
		data, err := json.Marshal(evt)
		if err == nil {
			fmt.Fprintln(r.w, string(data))
		}
		return evt.Type == events.TypeEnd
	}
	switch evt.Type {
	case events.TypeConnected:
		fmt.Fprintf(r.w, "* %s\n", evt.Message)
	case events.TypeStart:
		r.breakLine()
		fmt.Fprintf(r.w, "%s: ", evt.Role)
		r.midReply = true
	case events.TypeChunk:
		fmt.Fprint(r.w, evt.Content)
		r.midReply = true
	case events.TypeToolStart:
		r.breakLine()
		fmt.Fprintf(r.w, "> running tools: %s\n", strings.Join(evt.Tools, ", "))
	case events.TypeToolResult:
		if evt.Success {
			result, _ := json.Marshal(evt.Result)
			fmt.Fprintf(r.w, "> %s = %s\n", evt.Tool, result)
		} else {
			fmt.Fprintf(r.w, "> %s failed: %s\n", evt.Tool, evt.Error)
		}
	case events.TypeEnd:
		r.breakLine()
		return true
	}
	return false
}

func (r *renderer) breakLine() {
	if r.midReply {
		fmt.Fprintln(r.w)
		r.midReply = false
	}
}
