package dispatch

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthd/hearthd/internal/kernel"
	"github.com/hearthd/hearthd/internal/protocol"
	"github.com/hearthd/hearthd/internal/registry"
)

type echoPlugin struct{}

func (echoPlugin) Name() string                        { return "echo" }
func (echoPlugin) Init(ctx context.Context) error       { return nil }
func (echoPlugin) Cleanup(ctx context.Context) error    { return nil }
func (echoPlugin) Tools() []registry.ToolDescriptor {
	return []registry.ToolDescriptor{{
		Name:        "echo.say",
		Description: "echoes its input",
		InputSchema: registry.Schema{
			Type:       "object",
			Required:   []string{"text"},
			Properties: map[string]registry.Schema{"text": {Type: "string"}},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (*registry.ToolResult, error) {
			return registry.TextResult(args["text"].(string)), nil
		},
	}}
}
func (echoPlugin) Resources() []registry.ResourceDescriptor {
	return []registry.ResourceDescriptor{{
		URI:  "echo://static",
		Name: "static",
		Handler: func(ctx context.Context) (*registry.ResourceResult, error) {
			return &registry.ResourceResult{Content: registry.Content{Type: registry.ContentText, Text: "static-value"}}, nil
		},
	}}
}
func (echoPlugin) ExecuteTool(ctx context.Context, name string, args map[string]interface{}) (*registry.ToolResult, error) {
	return nil, nil
}
func (echoPlugin) ReadResource(ctx context.Context, uri string) (*registry.ResourceResult, error) {
	return nil, nil
}

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.Register(context.Background(), echoPlugin{}))
	k := kernel.New(kernel.Config{MaxConcurrentOperations: 4})
	return New(reg, k, ServerInfo{Name: "hearthd-test", Version: "0.0.0"})
}

func decode(t *testing.T, raw []byte) protocol.Response {
	t.Helper()
	var resp protocol.Response
	require.NoError(t, json.Unmarshal(raw, &resp))
	return resp
}

func TestHandshakeRequiredBeforeOtherMethods(t *testing.T) {
	d := newTestDispatcher(t)
	sess := protocol.NewSession()

	raw := d.Handle(context.Background(), sess, []byte(`{"jsonrpc":"2.0","method":"tools/list","id":1}`))
	resp := decode(t, raw)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeNotInitialized, resp.Error.Code)
}

func TestInitializeThenInitializedUnlocksDispatch(t *testing.T) {
	d := newTestDispatcher(t)
	sess := protocol.NewSession()

	raw := d.Handle(context.Background(), sess, []byte(`{"jsonrpc":"2.0","method":"initialize","id":1,"params":{"clientInfo":{"name":"x","version":"1"}}}`))
	resp := decode(t, raw)
	require.Nil(t, resp.Error)
	assert.False(t, sess.Initialized())

	raw = d.Handle(context.Background(), sess, []byte(`{"jsonrpc":"2.0","method":"initialized","id":2}`))
	resp = decode(t, raw)
	require.Nil(t, resp.Error)
	assert.True(t, sess.Initialized())
}

func TestInitializedNotificationWithoutIDHasNoResponse(t *testing.T) {
	d := newTestDispatcher(t)
	sess := protocol.NewSession()
	raw := d.Handle(context.Background(), sess, []byte(`{"jsonrpc":"2.0","method":"initialized"}`))
	assert.Nil(t, raw)
	assert.True(t, sess.Initialized())
}

func initSession(t *testing.T, d *Dispatcher) *protocol.Session {
	t.Helper()
	sess := protocol.NewSession()
	d.Handle(context.Background(), sess, []byte(`{"jsonrpc":"2.0","method":"initialize","id":1}`))
	d.Handle(context.Background(), sess, []byte(`{"jsonrpc":"2.0","method":"initialized","id":2}`))
	return sess
}

func TestToolsListAndCall(t *testing.T) {
	d := newTestDispatcher(t)
	sess := initSession(t, d)

	raw := d.Handle(context.Background(), sess, []byte(`{"jsonrpc":"2.0","method":"tools/list","id":3}`))
	resp := decode(t, raw)
	require.Nil(t, resp.Error)

	raw = d.Handle(context.Background(), sess, []byte(`{"jsonrpc":"2.0","method":"tools/call","id":4,"params":{"name":"echo.say","arguments":{"text":"hi"}}}`))
	resp = decode(t, raw)
	require.Nil(t, resp.Error)
	require.NotNil(t, resp.Result)
}

func TestToolsCallMissingNameIsInvalidParams(t *testing.T) {
	d := newTestDispatcher(t)
	sess := initSession(t, d)
	raw := d.Handle(context.Background(), sess, []byte(`{"jsonrpc":"2.0","method":"tools/call","id":5,"params":{}}`))
	resp := decode(t, raw)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeInvalidParams, resp.Error.Code)
}

func TestToolsCallSchemaViolationIsInvalidParams(t *testing.T) {
	d := newTestDispatcher(t)
	sess := initSession(t, d)
	raw := d.Handle(context.Background(), sess, []byte(`{"jsonrpc":"2.0","method":"tools/call","id":6,"params":{"name":"echo.say","arguments":{}}}`))
	resp := decode(t, raw)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeInvalidParams, resp.Error.Code)
}

func TestResourcesReadMissingURIIsInvalidParams(t *testing.T) {
	d := newTestDispatcher(t)
	sess := initSession(t, d)
	raw := d.Handle(context.Background(), sess, []byte(`{"jsonrpc":"2.0","method":"resources/read","id":7,"params":{}}`))
	resp := decode(t, raw)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeInvalidParams, resp.Error.Code)
}

func TestResourcesReadSuccess(t *testing.T) {
	d := newTestDispatcher(t)
	sess := initSession(t, d)
	raw := d.Handle(context.Background(), sess, []byte(`{"jsonrpc":"2.0","method":"resources/read","id":8,"params":{"uri":"echo://static"}}`))
	resp := decode(t, raw)
	require.Nil(t, resp.Error)
	require.NotNil(t, resp.Result)
}

func TestUnknownMethodReturnsMethodNotFound(t *testing.T) {
	d := newTestDispatcher(t)
	sess := initSession(t, d)
	raw := d.Handle(context.Background(), sess, []byte(`{"jsonrpc":"2.0","method":"bogus","id":9}`))
	resp := decode(t, raw)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeMethodNotFound, resp.Error.Code)
}

func TestMalformedEnvelopeReturnsInvalidRequest(t *testing.T) {
	d := newTestDispatcher(t)
	sess := protocol.NewSession()
	raw := d.Handle(context.Background(), sess, []byte(`{"method":"tools/list","id":10}`)) // missing jsonrpc tag
	resp := decode(t, raw)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeInvalidRequest, resp.Error.Code)
}

func TestUnparseableJSONReturnsParseError(t *testing.T) {
	d := newTestDispatcher(t)
	sess := protocol.NewSession()
	raw := d.Handle(context.Background(), sess, []byte(`not json`))
	resp := decode(t, raw)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeParseError, resp.Error.Code)
	assert.Nil(t, resp.ID)
}

func TestCompletionCompleteAlwaysAvailable(t *testing.T) {
	d := newTestDispatcher(t)
	sess := protocol.NewSession()
	raw := d.Handle(context.Background(), sess, []byte(`{"jsonrpc":"2.0","method":"completion/complete","id":11}`))
	resp := decode(t, raw)
	require.Nil(t, resp.Error)
}
