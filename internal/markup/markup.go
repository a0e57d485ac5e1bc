// Package markup recognises the in-band tool-request convention the model
// uses inside its streamed output.
//
// Tag detection in Filter is a substring test per fragment. A tag split
// across two fragments (for example "<tool_req" then "uest>") is not seen and
// the fragments leak into visible output; the raw accumulator still holds the
// full text, so extraction is unaffected.
package markup

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/oremus-labs/ol-chat-relay/internal/tools"
)

const (
	OpenTag  = "<tool_request>"
	CloseTag = "</tool_request>"
)

// Filter classifies streamed fragments as visible or suppressed. The zero
// value is ready to use; one Filter covers one model round.
type Filter struct {
	suppressing bool
	raw         strings.Builder
}

// Feed records fragment and reports whether it should be shown to viewers.
func (f *Filter) Feed(fragment string) bool {
	f.raw.WriteString(fragment)
	if strings.Contains(fragment, OpenTag) {
		f.suppressing = true
	}
	visible := !f.suppressing
	if strings.Contains(fragment, CloseTag) {
		f.suppressing = false
	}
	return visible
}

// Suppressing reports whether the filter is inside a tool-request block.
func (f *Filter) Suppressing() bool {
	return f.suppressing
}

// Raw returns every fragment fed so far, suppressed or not.
func (f *Filter) Raw() string {
	return f.raw.String()
}

var requestPattern = regexp.MustCompile(`(?s)` + regexp.QuoteMeta(OpenTag) + `\s*(\[.*?\])\s*` + regexp.QuoteMeta(CloseTag))

// Extract parses the first tool-request block in raw. It returns false when
// there is no block or the block is not a JSON array; entries without a
// string name or an object of arguments are skipped.
func Extract(raw string) ([]tools.Invocation, bool) {
	m := requestPattern.FindStringSubmatch(raw)
	if m == nil {
		return nil, false
	}
	var entries []json.RawMessage
	if err := json.Unmarshal([]byte(m[1]), &entries); err != nil {
		return nil, false
	}

	out := make([]tools.Invocation, 0, len(entries))
	for _, item := range entries {
		var e struct {
			Name      *string                `json:"name"`
			Arguments map[string]interface{} `json:"arguments"`
		}
		if err := json.Unmarshal(item, &e); err != nil || e.Name == nil || e.Arguments == nil {
			continue
		}
		out = append(out, tools.Invocation{Name: *e.Name, Arguments: e.Arguments})
	}
	return out, true
}
