// Package dispatch wires the Protocol State Machine of spec.md §4.1 to
// the Plugin Registry, Validator, and Security/Audit Kernel. It is
// deliberately its own package (rather than living in internal/protocol)
// because the dispatch table needs the registry and kernel types, and
// keeping protocol.Envelope/Error free of that dependency lets every
// other layer (validate, audit, execkit) depend on protocol without a
// cycle — the teacher keeps an analogous split between its wire types
// (internal/agentexec/types.go) and its serving loop (server.go).
package dispatch

import (
	"context"
	"encoding/json"

	"github.com/hearthd/hearthd/internal/kernel"
	"github.com/hearthd/hearthd/internal/logging"
	"github.com/hearthd/hearthd/internal/protocol"
	"github.com/hearthd/hearthd/internal/registry"
	"github.com/hearthd/hearthd/internal/validate"
)

// ServerInfo identifies this daemon in the MCP handshake result.
type ServerInfo struct {
	Name    string
	Version string
}

// Dispatcher is the purely-functional-over-(session,registry,request)
// state machine spec.md §4.1 describes: Handle never touches global
// state beyond the Session it's given, and delegates every side effect
// to the Registry or Kernel.
type Dispatcher struct {
	registry *registry.Registry
	kernel   *kernel.Kernel
	info     ServerInfo
}

// New builds a Dispatcher over reg and k, identifying itself as info
// during the MCP handshake.
func New(reg *registry.Registry, k *kernel.Kernel, info ServerInfo) *Dispatcher {
	return &Dispatcher{registry: reg, kernel: k, info: info}
}

// Handle decodes raw as a single JSON-RPC envelope, dispatches it
// against sess, and returns the encoded response — or nil when the
// request was a notification requiring no reply (spec.md §4.1:
// "initialized" with no id).
func (d *Dispatcher) Handle(ctx context.Context, sess *protocol.Session, raw []byte) []byte {
	resp := d.handle(ctx, sess, raw)
	if resp == nil {
		return nil
	}
	encoded, err := json.Marshal(resp)
	if err != nil {
		// Marshaling our own response must not fail; if it somehow does,
		// fall back to a minimal internal-error envelope.
		encoded, _ = json.Marshal(errorResponse(nil, protocol.CodeInternalError, err.Error(), nil))
	}
	return encoded
}

func (d *Dispatcher) handle(ctx context.Context, sess *protocol.Session, raw []byte) *protocol.Response {
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		return errorResponse(nil, protocol.CodeParseError, "failed to parse request: "+err.Error(), nil)
	}

	id := extractID(generic)

	var req protocol.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return errorResponse(id, protocol.CodeInvalidRequest, "malformed request envelope", nil)
	}
	if req.JSONRPC != protocol.Version || req.Method == "" {
		return errorResponse(id, protocol.CodeInvalidRequest, `request must carry jsonrpc:"2.0" and a method`, nil)
	}

	hasID := req.HasID()

	switch req.Method {
	case "initialize":
		return d.handleInitialize(sess, req, hasID)
	case "initialized":
		sess.MarkInitialized()
		if !hasID {
			return nil
		}
		return okResponse(id, map[string]interface{}{})
	case "tools/list":
		if !sess.Initialized() {
			return errorResponse(id, protocol.CodeNotInitialized, "server not initialized", nil)
		}
		return okResponse(id, map[string]interface{}{"tools": d.registry.ListTools()})
	case "tools/call":
		if !sess.Initialized() {
			return errorResponse(id, protocol.CodeNotInitialized, "server not initialized", nil)
		}
		return d.handleToolsCall(ctx, id, req)
	case "resources/list":
		if !sess.Initialized() {
			return errorResponse(id, protocol.CodeNotInitialized, "server not initialized", nil)
		}
		return okResponse(id, map[string]interface{}{"resources": d.registry.ListResources()})
	case "resources/read":
		if !sess.Initialized() {
			return errorResponse(id, protocol.CodeNotInitialized, "server not initialized", nil)
		}
		return d.handleResourcesRead(ctx, id, req)
	case "completion/complete":
		return okResponse(id, map[string]interface{}{
			"completion": map[string]interface{}{"values": []string{}, "total": 0, "hasMore": false},
		})
	default:
		return errorResponse(id, protocol.CodeMethodNotFound, "method not found: "+req.Method, nil)
	}
}

func (d *Dispatcher) handleInitialize(sess *protocol.Session, req protocol.Request, hasID bool) *protocol.Response {
	var params struct {
		ClientInfo struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"clientInfo"`
	}
	_ = json.Unmarshal(req.Params, &params)
	sess.SetClientInfo(params.ClientInfo.Name, params.ClientInfo.Version)

	result := map[string]interface{}{
		"protocolVersion": protocol.MCPProtocolVersion,
		"capabilities": map[string]interface{}{
			"tools":     map[string]interface{}{"listChanged": true},
			"resources": map[string]interface{}{"subscribe": false, "listChanged": true},
			"prompts":   map[string]interface{}{"listChanged": true},
		},
		"serverInfo": map[string]interface{}{"name": d.info.Name, "version": d.info.Version},
	}

	if !hasID {
		return okResponse(nil, result)
	}
	return okResponse(req.ID, result)
}

func (d *Dispatcher) handleToolsCall(ctx context.Context, id interface{}, req protocol.Request) *protocol.Response {
	var params struct {
		Name      string                 `json:"name"`
		Arguments map[string]interface{} `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return errorResponse(id, protocol.CodeInvalidParams, "tools/call requires a tool name", nil)
	}

	desc, ok := d.registry.LookupTool(params.Name)
	if !ok {
		return errorResponse(id, protocol.CodeInvalidParams, "tool not found: "+params.Name, nil)
	}

	if err := validate.Args(desc.InputSchema, params.Arguments); err != nil {
		return errorResponse(id, protocol.CodeInvalidParams, err.Error(), nil)
	}

	opCtx := map[string]interface{}{"tool": params.Name, "arguments": params.Arguments}
	result, err := d.kernel.Execute(ctx, "tools/call:"+params.Name, opCtx, func(ctx context.Context) (interface{}, error) {
		return d.registry.ExecuteTool(ctx, params.Name, params.Arguments)
	})
	if err != nil {
		return errorFromOperation(id, err)
	}
	return okResponse(id, result)
}

func (d *Dispatcher) handleResourcesRead(ctx context.Context, id interface{}, req protocol.Request) *protocol.Response {
	var params struct {
		URI string `json:"uri"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil || params.URI == "" {
		return errorResponse(id, protocol.CodeInvalidParams, "resources/read requires a uri", nil)
	}

	if _, ok := d.registry.LookupResource(params.URI); !ok {
		return errorResponse(id, protocol.CodeInvalidParams, "resource not found: "+params.URI, nil)
	}

	opCtx := map[string]interface{}{"uri": params.URI}
	result, err := d.kernel.Execute(ctx, "resources/read:"+params.URI, opCtx, func(ctx context.Context) (interface{}, error) {
		return d.registry.ReadResource(ctx, params.URI)
	})
	if err != nil {
		return errorFromOperation(id, err)
	}
	return okResponse(id, result)
}

// errorFromOperation maps an error returned through the kernel back to
// a response envelope, preserving whatever code it already carries
// (spec.md §7: "no layer silently downgrades an error"). It is also
// the single point every kernel-mediated error passes through on its
// way to a client, so it doubles as the write site for spec.md §6's
// exceptions.log and rejections.log sinks.
func errorFromOperation(id interface{}, err error) *protocol.Response {
	code, message, data := protocol.CodeOf(err)
	switch code {
	case protocol.CodeInternalError:
		logging.Exceptions().Error().Interface("id", id).Str("message", message).Msg("internal error surfaced to client")
	case protocol.CodeInsufficientPrivilege, protocol.CodeResourceLocked:
		logging.Rejections().Warn().Interface("id", id).Int("code", code).Str("message", message).Msg("operation rejected")
	}
	return errorResponse(id, code, message, data)
}

func okResponse(id interface{}, result interface{}) *protocol.Response {
	return &protocol.Response{JSONRPC: protocol.Version, ID: id, Result: result}
}

func errorResponse(id interface{}, code int, message string, data interface{}) *protocol.Response {
	return &protocol.Response{JSONRPC: protocol.Version, ID: id, Error: &protocol.Error{Code: code, Message: message, Data: data}}
}

// extractID best-effort recovers the request id from a partially
// decoded envelope so error responses can echo it even when the rest
// of the request is malformed (spec.md §4.1: "id = echoed-or-null").
func extractID(generic map[string]json.RawMessage) interface{} {
	raw, ok := generic["id"]
	if !ok {
		return nil
	}
	var id interface{}
	if err := json.Unmarshal(raw, &id); err != nil {
		return nil
	}
	return id
}
