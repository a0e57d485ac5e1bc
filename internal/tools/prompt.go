package tools

import (
	"fmt"
	"strings"
)

const systemPreamble = "You are a helpful AI assistant with access to mathematical tools."

const systemClosing = "\n\nWhen users ask mathematical questions that require calculations, you should use the appropriate tools. " +
	"After using tools and receiving results, provide a clear answer to the user."

// PromptInstructions renders the tool catalogue and the markup convention the
// model must use to request tools.
func (r *Registry) PromptInstructions(openTag, closeTag string) string {
	var b strings.Builder
	b.WriteString("\n\nYou have access to the following tools:\n\n")
	for _, spec := range r.ListTools() {
		fmt.Fprintf(&b, "Tool: %s\n", spec.Name)
		fmt.Fprintf(&b, "Description: %s\n", spec.Description)
		b.WriteString("Parameters:\n")
		for _, p := range spec.Parameters {
			fmt.Fprintf(&b, "  - %s (%s): %s\n", p.Name, p.Type, p.Description)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "To use a tool, respond with: %s[{\"name\": \"tool_name\", \"arguments\": {\"param\": value}}]%s\n", openTag, closeTag)
	b.WriteString("You can call multiple tools by including multiple objects in the array.\n")
	b.WriteString("After receiving tool results, provide your final answer to the user.\n")
	return b.String()
}

// SystemPrompt builds the system entry that seeds every transcript.
func (r *Registry) SystemPrompt(openTag, closeTag string) string {
	return systemPreamble + r.PromptInstructions(openTag, closeTag) + systemClosing
}
