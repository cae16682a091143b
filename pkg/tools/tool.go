// Package tools provides a concrete, ctx-aware ToolRegistry implementation
// for pkg/api.Tool/pkg/api.ToolRegistry, used to assemble the set of tools
// handed to internal/toolloop.Executor.
package tools

import "genesis/pkg/api"

// ToolRegistry is a simple map-backed implementation of api.ToolRegistry.
type ToolRegistry struct {
	tools map[string]api.Tool
}

// NewToolRegistry creates an empty tool registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]api.Tool)}
}

func (tr *ToolRegistry) Register(tool api.Tool) {
	tr.tools[tool.Name()] = tool
}

func (tr *ToolRegistry) Unregister(name string) {
	delete(tr.tools, name)
}

func (tr *ToolRegistry) Get(name string) (api.Tool, bool) {
	tool, ok := tr.tools[name]
	return tool, ok
}

func (tr *ToolRegistry) GetAll() []api.Tool {
	all := make([]api.Tool, 0, len(tr.tools))
	for _, tool := range tr.tools {
		all = append(all, tool)
	}
	return all
}
