// Package tools turns remote operation descriptors into LLM function definitions and
// dispatches the model's tool calls back to the remote operations.
package tools

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shoma-endo/lark-mcp-bot/internal/llm"
)

// Descriptor describes one remote operation as reported by its source. Schema is loosely
// typed: any of type/properties/required may be missing.
type Descriptor struct {
	Name        string
	Description string
	Schema      map[string]any
}

// Filter selects which descriptors are exposed. An empty EnabledPrefixes keeps everything;
// Disabled is applied afterwards by exact name.
type Filter struct {
	EnabledPrefixes []string
	Disabled        []string
}

func (f Filter) allows(name string) bool {
	if len(f.EnabledPrefixes) > 0 {
		ok := false
		for _, p := range f.EnabledPrefixes {
			if p != "" && strings.HasPrefix(name, p) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	for _, d := range f.Disabled {
		if d == name {
			return false
		}
	}
	return true
}

// Catalog is the immutable, filtered tool set. It is safe for concurrent reads.
type Catalog struct {
	descriptors []Descriptor
	definitions []llm.Tool
	byName      map[string]Descriptor
}

// NewCatalog filters and normalizes descriptors. Descriptors without a name are skipped; an
// empty result is a valid catalog.
func NewCatalog(descs []Descriptor, f Filter) *Catalog {
	c := &Catalog{byName: make(map[string]Descriptor)}
	for _, d := range descs {
		name := strings.TrimSpace(d.Name)
		if name == "" || !f.allows(name) {
			continue
		}
		if _, dup := c.byName[name]; dup {
			continue
		}
		d.Name = name
		d.Schema = normalizeSchema(d.Schema)
		c.byName[name] = d
		c.descriptors = append(c.descriptors, d)
		c.definitions = append(c.definitions, llm.Tool{
			Type: llm.ToolTypeFunction,
			Function: llm.Function{
				Name:        name,
				Description: d.Description,
				Parameters:  d.Schema,
			},
		})
	}
	return c
}

// Definitions returns the function definitions to attach to an LLM request.
func (c *Catalog) Definitions() []llm.Tool {
	if c == nil || len(c.definitions) == 0 {
		return nil
	}
	out := make([]llm.Tool, len(c.definitions))
	copy(out, c.definitions)
	return out
}

func (c *Catalog) Lookup(name string) (Descriptor, bool) {
	if c == nil {
		return Descriptor{}, false
	}
	d, ok := c.byName[name]
	return d, ok
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.descriptors)
}

// Descriptors returns the kept descriptors in source order.
func (c *Catalog) Descriptors() []Descriptor {
	if c == nil {
		return nil
	}
	out := make([]Descriptor, len(c.descriptors))
	copy(out, c.descriptors)
	return out
}

// Names returns the sorted tool names.
func (c *Catalog) Names() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.byName))
	for n := range c.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Summary renders "- name: description" lines for the system prompt.
func (c *Catalog) Summary() string {
	if c.Len() == 0 {
		return ""
	}
	var b strings.Builder
	for _, d := range c.descriptors {
		desc := strings.TrimSpace(d.Description)
		if desc == "" {
			fmt.Fprintf(&b, "- %s\n", d.Name)
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", d.Name, desc)
	}
	return strings.TrimRight(b.String(), "\n")
}

func normalizeSchema(in map[string]any) map[string]any {
	out := make(map[string]any, len(in)+3)
	for k, v := range in {
		out[k] = v
	}
	if t, ok := out["type"].(string); !ok || t == "" {
		out["type"] = "object"
	}
	if props, ok := out["properties"]; !ok || props == nil {
		out["properties"] = map[string]any{}
	}
	if req, ok := out["required"]; !ok || req == nil {
		out["required"] = []string{}
	}
	return out
}
