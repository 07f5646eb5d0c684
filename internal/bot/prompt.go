package bot

import (
	"strings"

	"github.com/shoma-endo/lark-mcp-bot/internal/tools"
)

// DefaultSystemPrompt is used when no override is configured.
const DefaultSystemPrompt = `You are a helpful assistant living in a team chat. Answer concisely in the language the user writes in.
When a request needs data from or an action in the workspace, call one of the available tools instead of guessing.
If a tool returns an error, explain briefly what went wrong and what the user can do.`

// BuildSystemPrompt appends the tool list to the base prompt.
func BuildSystemPrompt(base string, catalog *tools.Catalog) string {
	base = strings.TrimSpace(base)
	if base == "" {
		base = DefaultSystemPrompt
	}
	if catalog.Len() == 0 {
		return base
	}
	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n\nAvailable tools:\n")
	b.WriteString(catalog.Summary())
	return b.String()
}
