package tools

import (
	"sort"

	lctools "github.com/tmc/langchaingo/tools"
)

// Registry resolves the tool names used in crew definitions.
type Registry map[string]lctools.Tool

// NewRegistry indexes tools by Name.
func NewRegistry(ts ...lctools.Tool) Registry {
	r := make(Registry, len(ts))
	for _, t := range ts {
		r[t.Name()] = t
	}
	return r
}

func (r Registry) Lookup(name string) (lctools.Tool, bool) {
	t, ok := r[name]
	return t, ok
}

// Names lists registered tools in sorted order.
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for n := range r {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
