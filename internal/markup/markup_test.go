package markup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oremus-labs/ol-chat-relay/internal/tools"
)

func feedAll(f *Filter, fragments []string) []bool {
	out := make([]bool, len(fragments))
	for i, frag := range fragments {
		out[i] = f.Feed(frag)
	}
	return out
}

func TestFilterSuppressesTaggedSpanInclusive(t *testing.T) {
	t.Parallel()
	fragments := []string{
		"Let me ",
		"work that out. <tool_request>",
		`[{"name":"add",`,
		`"arguments":{"a":2,"b":3}}]`,
		"</tool_request> and",
		" done",
	}
	var f Filter
	assert.Equal(t, []bool{true, false, false, false, false, true}, feedAll(&f, fragments))
	assert.Equal(t, "Let me work that out. <tool_request>"+`[{"name":"add","arguments":{"a":2,"b":3}}]`+"</tool_request> and done", f.Raw())
	assert.False(t, f.Suppressing())
}

func TestFilterSingleFragmentBlock(t *testing.T) {
	t.Parallel()
	var f Filter
	got := feedAll(&f, []string{"a", `<tool_request>[]</tool_request>`, "b"})
	assert.Equal(t, []bool{true, false, true}, got)
}

func TestFilterPlainTextAllVisible(t *testing.T) {
	t.Parallel()
	var f Filter
	assert.Equal(t, []bool{true, true, true}, feedAll(&f, []string{"The answer ", "is ", "5."}))
}

func TestFilterUnclosedBlockStaysSuppressed(t *testing.T) {
	t.Parallel()
	var f Filter
	assert.Equal(t, []bool{true, false, false}, feedAll(&f, []string{"x", "<tool_request>[", "more"}))
	assert.True(t, f.Suppressing())
}

// A tag split across fragments is not detected; the text leaks but Raw keeps it whole.
func TestFilterSplitTagLeaks(t *testing.T) {
	t.Parallel()
	var f Filter
	got := feedAll(&f, []string{"<tool_req", `uest>[{"name":"add","arguments":{"a":1,"b":1}}]</tool_request>`})
	assert.Equal(t, []bool{true, true}, got)

	invs, ok := Extract(f.Raw())
	require.True(t, ok)
	assert.Len(t, invs, 1)
}

func TestExtractNoTags(t *testing.T) {
	t.Parallel()
	invs, ok := Extract("9 divided by 0 is undefined, and 2 + 3 = 5.")
	assert.False(t, ok)
	assert.Nil(t, invs)
}

func TestExtractSingleInvocation(t *testing.T) {
	t.Parallel()
	invs, ok := Extract(`<tool_request>[{"name":"add","arguments":{"a":2,"b":3}}]</tool_request>`)
	require.True(t, ok)
	assert.Equal(t, []tools.Invocation{{Name: "add", Arguments: map[string]interface{}{"a": 2.0, "b": 3.0}}}, invs)
}

func TestExtractKeepsOrderAndSpansLines(t *testing.T) {
	t.Parallel()
	raw := "Sure.\n<tool_request>\n[\n  {\"name\": \"divide\", \"arguments\": {\"a\": 9, \"b\": 0}},\n  {\"name\": \"add\", \"arguments\": {\"a\": 2, \"b\": 3}}\n]\n</tool_request>"
	invs, ok := Extract(raw)
	require.True(t, ok)
	require.Len(t, invs, 2)
	assert.Equal(t, "divide", invs[0].Name)
	assert.Equal(t, "add", invs[1].Name)
}

func TestExtractFirstPairOnly(t *testing.T) {
	t.Parallel()
	raw := `<tool_request>[{"name":"add","arguments":{"a":1,"b":2}}]</tool_request> then ` +
		`<tool_request>[{"name":"sqrt","arguments":{"value":4}}]</tool_request>`
	invs, ok := Extract(raw)
	require.True(t, ok)
	require.Len(t, invs, 1)
	assert.Equal(t, "add", invs[0].Name)
}

func TestExtractDropsMalformedEntries(t *testing.T) {
	t.Parallel()
	raw := `<tool_request>[
		{"name":"add","arguments":{"a":1,"b":2}},
		{"name":7,"arguments":{}},
		{"name":"sqrt"},
		{"name":"power","arguments":[2,3]},
		"junk",
		{"name":"sqrt","arguments":{"value":9}}
	]</tool_request>`
	invs, ok := Extract(raw)
	require.True(t, ok)
	require.Len(t, invs, 2)
	assert.Equal(t, "add", invs[0].Name)
	assert.Equal(t, "sqrt", invs[1].Name)
}

func TestExtractUnparsableBlock(t *testing.T) {
	t.Parallel()
	_, ok := Extract(`<tool_request>[{"name":"add", "arguments": {a:1}}]</tool_request>`)
	assert.False(t, ok)

	_, ok = Extract(`<tool_request>{"name":"add"}</tool_request>`)
	assert.False(t, ok)
}

func TestExtractEmptyArray(t *testing.T) {
	t.Parallel()
	invs, ok := Extract(`<tool_request>[]</tool_request>`)
	assert.True(t, ok)
	assert.Empty(t, invs)
}
