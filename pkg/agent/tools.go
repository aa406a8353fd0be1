// Package agent turns model output into governed effects: the tool parser
// extracts structured calls from raw text, and the turn executor drives
// one complete card activation through gate, tools, and transition.
package agent

import "sort"

// ToolSpec declares one callable tool: its name and the args the parser
// requires before the call is accepted.
type ToolSpec struct {
	Name     string
	Required []string
}

// ToolSet is the registry of known tools, keyed by name.
type ToolSet map[string]ToolSpec

// BuiltinTools returns the tools the executor can apply.
func BuiltinTools() ToolSet {
	return ToolSet{
		"write_file": {Name: "write_file", Required: []string{"path", "content"}},
		"read_card":  {Name: "read_card", Required: []string{"card_id"}},
		"record_note": {
			Name:     "record_note",
			Required: []string{"text"},
		},
	}
}

// Names returns the tool names in sorted order.
func (t ToolSet) Names() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
