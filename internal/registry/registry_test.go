package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePlugin struct {
	name      string
	tools     []ToolDescriptor
	resources []ResourceDescriptor
	cleaned   bool
}

func (f *fakePlugin) Name() string { return f.name }
func (f *fakePlugin) Init(ctx context.Context) error { return nil }
func (f *fakePlugin) Cleanup(ctx context.Context) error {
	f.cleaned = true
	return nil
}
func (f *fakePlugin) Tools() []ToolDescriptor         { return f.tools }
func (f *fakePlugin) Resources() []ResourceDescriptor { return f.resources }
func (f *fakePlugin) ExecuteTool(ctx context.Context, name string, args map[string]interface{}) (*ToolResult, error) {
	return TextResult("ok:" + name), nil
}
func (f *fakePlugin) ReadResource(ctx context.Context, uri string) (*ResourceResult, error) {
	return &ResourceResult{Content: Content{Type: ContentText, Text: "ok:" + uri}}, nil
}

func toolPlugin(name string, toolNames ...string) *fakePlugin {
	var tools []ToolDescriptor
	for _, t := range toolNames {
		tools = append(tools, ToolDescriptor{Name: t})
	}
	return &fakePlugin{name: name, tools: tools}
}

func TestRegisterAndListTools(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(context.Background(), toolPlugin("a", "a.tool1", "a.tool2")))

	tools := r.ListTools()
	require.Len(t, tools, 2)
	assert.Equal(t, "a.tool1", tools[0].Name)
	assert.Equal(t, "a.tool2", tools[1].Name)
}

func TestRegisterCollisionAbortsWhollyNotPartially(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(context.Background(), toolPlugin("a", "shared", "a.only")))

	err := r.Register(context.Background(), toolPlugin("b", "shared", "b.only"))
	require.Error(t, err)
	var collision *ErrCollision
	require.ErrorAs(t, err, &collision)
	assert.Equal(t, "tool", collision.Kind)

	// b's non-colliding descriptor must not have leaked in either.
	_, ok := r.LookupTool("b.only")
	assert.False(t, ok)
	_, ok = r.LookupTool("a.only")
	assert.True(t, ok)
	assert.NotContains(t, r.ListPlugins(), "b")
}

func TestUnregisterRemovesOnlyOwnedEntriesAndRunsCleanup(t *testing.T) {
	r := New()
	a := toolPlugin("a", "a.tool")
	b := toolPlugin("b", "b.tool")
	require.NoError(t, r.Register(context.Background(), a))
	require.NoError(t, r.Register(context.Background(), b))

	require.NoError(t, r.Unregister(context.Background(), "a"))

	assert.True(t, a.cleaned)
	_, ok := r.LookupTool("a.tool")
	assert.False(t, ok)
	_, ok = r.LookupTool("b.tool")
	assert.True(t, ok)
}

func TestExecuteToolAndReadResourceNotFound(t *testing.T) {
	r := New()
	_, err := r.ExecuteTool(context.Background(), "nope", nil)
	assert.Error(t, err)

	_, err = r.ReadResource(context.Background(), "nope://uri")
	assert.Error(t, err)
}

func TestDuplicatePluginNameRejected(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(context.Background(), toolPlugin("a")))
	err := r.Register(context.Background(), toolPlugin("a"))
	assert.Error(t, err)
}
