// Package registry implements the plugin-agnostic tool/resource
// namespace described in spec.md §3-§4.2: a shared mutable structure
// with uniqueness enforcement across plugins, register/unregister
// lifecycle hooks, and dispatch to the owning plugin's handler.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Plugin is the capability interface external collaborators implement
// (spec.md §6, §9 "sum-of-capabilities, not inheritance"). Init and
// Cleanup are optional lifecycle hooks; a plugin that doesn't need
// them simply returns nil.
type Plugin interface {
	Name() string
	Init(ctx context.Context) error
	Cleanup(ctx context.Context) error
	Tools() []ToolDescriptor
	Resources() []ResourceDescriptor
	ExecuteTool(ctx context.Context, name string, args map[string]interface{}) (*ToolResult, error)
	ReadResource(ctx context.Context, uri string) (*ResourceResult, error)
}

// Schema is the JSON-Schema subset validated by internal/validate.
type Schema struct {
	Type        string             `json:"type,omitempty"`
	Properties  map[string]Schema  `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Enum        []interface{}      `json:"enum,omitempty"`
	Pattern     string             `json:"pattern,omitempty"`
	Minimum     *float64           `json:"minimum,omitempty"`
	Maximum     *float64           `json:"maximum,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Default     interface{}        `json:"default,omitempty"`
	Description string             `json:"description,omitempty"`
}

// ToolDescriptor is the stable, globally-unique-by-name tool record.
type ToolDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema Schema `json:"inputSchema"`
	Handler     func(ctx context.Context, args map[string]interface{}) (*ToolResult, error) `json:"-"`
}

// ResourceDescriptor is the stable, globally-unique-by-URI resource record.
type ResourceDescriptor struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	Handler     func(ctx context.Context) (*ResourceResult, error) `json:"-"`
}

// ContentType enumerates the MCP tool-result content kinds (spec.md §6).
type ContentType string

const (
	ContentText     ContentType = "text"
	ContentImage    ContentType = "image"
	ContentResource ContentType = "resource"
)

// Content is one element of a ToolResult's content list.
type Content struct {
	Type     ContentType `json:"type"`
	Text     string      `json:"text,omitempty"`
	Data     string      `json:"data,omitempty"`
	MimeType string      `json:"mimeType,omitempty"`
	URI      string      `json:"uri,omitempty"`
}

// ToolResult wraps a tools/call outcome.
type ToolResult struct {
	Content  []Content              `json:"content"`
	IsError  bool                   `json:"isError"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ResourceResult wraps a resources/read outcome.
type ResourceResult struct {
	Content Content `json:"content"`
}

// TextResult is a convenience constructor for a single text-content,
// non-error tool result.
func TextResult(text string) *ToolResult {
	return &ToolResult{Content: []Content{{Type: ContentText, Text: text}}}
}

// ErrorResult is a convenience constructor for a single text-content,
// error tool result.
func ErrorResult(text string) *ToolResult {
	return &ToolResult{Content: []Content{{Type: ContentText, Text: text}}, IsError: true}
}

type toolEntry struct {
	descriptor ToolDescriptor
	owner      string
}

type resourceEntry struct {
	descriptor ResourceDescriptor
	owner      string
}

// Registry is the shared mutable namespace. Register/Unregister take
// the write lock; list/dispatch operations take the read lock, giving
// the read-write discipline spec.md §5 calls for.
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]toolEntry
	resources map[string]resourceEntry
	plugins   map[string]Plugin
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		tools:     make(map[string]toolEntry),
		resources: make(map[string]resourceEntry),
		plugins:   make(map[string]Plugin),
	}
}

// ErrCollision is returned by Register when a plugin declares a tool
// name or resource URI already owned by another plugin.
type ErrCollision struct {
	Kind string // "tool" or "resource"
	Key  string
}

func (e *ErrCollision) Error() string {
	return fmt.Sprintf("%s %q is already registered by another plugin", e.Kind, e.Key)
}

// Register initializes the plugin (if Init is non-nil behavior),
// fetches its descriptors, and atomically verifies no name/URI
// collision before inserting. On any collision the whole registration
// is aborted: no descriptor from the colliding plugin is retained, and
// the registry is left exactly as it was before the attempt (spec.md
// §8 property 4).
func (r *Registry) Register(ctx context.Context, p Plugin) error {
	name := p.Name()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[name]; exists {
		return fmt.Errorf("plugin %q is already registered", name)
	}

	if err := p.Init(ctx); err != nil {
		return fmt.Errorf("plugin %q init failed: %w", name, err)
	}

	tools := p.Tools()
	resources := p.Resources()

	for _, t := range tools {
		if _, collide := r.tools[t.Name]; collide {
			return &ErrCollision{Kind: "tool", Key: t.Name}
		}
	}
	for _, res := range resources {
		if _, collide := r.resources[res.URI]; collide {
			return &ErrCollision{Kind: "resource", Key: res.URI}
		}
	}

	for _, t := range tools {
		r.tools[t.Name] = toolEntry{descriptor: t, owner: name}
	}
	for _, res := range resources {
		r.resources[res.URI] = resourceEntry{descriptor: res, owner: name}
	}
	r.plugins[name] = p

	return nil
}

// Unregister removes every tool/resource entry owned by the named
// plugin, invokes its cleanup hook, and removes the plugin entry.
// Callers are responsible for serializing concurrent unregisters of
// the same name (spec.md §4.2).
func (r *Registry) Unregister(ctx context.Context, name string) error {
	r.mu.Lock()
	p, exists := r.plugins[name]
	if !exists {
		r.mu.Unlock()
		return fmt.Errorf("plugin %q is not registered", name)
	}
	for toolName, entry := range r.tools {
		if entry.owner == name {
			delete(r.tools, toolName)
		}
	}
	for uri, entry := range r.resources {
		if entry.owner == name {
			delete(r.resources, uri)
		}
	}
	delete(r.plugins, name)
	r.mu.Unlock()

	return p.Cleanup(ctx)
}

// ListTools returns tool descriptors sorted by name, stable for
// tests and for clients diffing tools/list responses.
func (r *Registry) ListTools() []ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ToolDescriptor, 0, len(r.tools))
	for _, e := range r.tools {
		out = append(out, e.descriptor)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ListResources returns resource descriptors sorted by URI.
func (r *Registry) ListResources() []ResourceDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ResourceDescriptor, 0, len(r.resources))
	for _, e := range r.resources {
		out = append(out, e.descriptor)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out
}

// ListPlugins returns the names of all registered plugins, sorted.
func (r *Registry) ListPlugins() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// LookupTool returns the descriptor for name, or false if unknown.
func (r *Registry) LookupTool(name string) (ToolDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	return e.descriptor, ok
}

// LookupResource returns the descriptor for uri, or false if unknown.
func (r *Registry) LookupResource(uri string) (ResourceDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.resources[uri]
	return e.descriptor, ok
}

// ExecuteTool resolves name and invokes its handler directly,
// bypassing the kernel. Callers that need admission control and
// auditing (i.e. the protocol layer) go through kernel.Kernel instead
// and use this only as the innermost call.
func (r *Registry) ExecuteTool(ctx context.Context, name string, args map[string]interface{}) (*ToolResult, error) {
	desc, ok := r.LookupTool(name)
	if !ok {
		return nil, fmt.Errorf("tool not found: %s", name)
	}
	return desc.Handler(ctx, args)
}

// ReadResource resolves uri and invokes its handler.
func (r *Registry) ReadResource(ctx context.Context, uri string) (*ResourceResult, error) {
	desc, ok := r.LookupResource(uri)
	if !ok {
		return nil, fmt.Errorf("resource not found: %s", uri)
	}
	return desc.Handler(ctx)
}

// Cleanup unregisters every plugin, invoking each cleanup hook. Used
// during graceful shutdown.
func (r *Registry) Cleanup(ctx context.Context) {
	for _, name := range r.ListPlugins() {
		_ = r.Unregister(ctx, name)
	}
}
