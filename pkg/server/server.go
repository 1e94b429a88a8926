// Package server implements the MCP JSON-RPC dispatcher: method routing,
// the initialize handshake, tools/list, tools/call, and ping.
package server

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/richard-senior/mcp/internal/logger"
	"github.com/richard-senior/mcp/pkg/protocol"
	"github.com/richard-senior/mcp/pkg/transport"
)

// ToolHandler executes one tool/call invocation. It returns a tool-level
// result (possibly IsError) on ordinary failures; it returns a non-nil
// error only for conditions the dispatcher should surface as a protocol
// error instead (rare; most tool failures should be encoded in the
// result).
type ToolHandler func(arguments map[string]any) (protocol.ToolsCallResult, error)

type toolEntry struct {
	tool    protocol.Tool
	handler ToolHandler
}

// Server is the MCP dispatcher: a method registry sitting on top of a
// Transport. It is not a singleton; cmd/mcp constructs exactly one, but
// tests construct as many as they like against in-memory transports.
type Server struct {
	transport transport.Transport
	info      protocol.ServerInfo

	mu          sync.Mutex
	tools       map[string]toolEntry
	toolOrder   []string
	initialized bool
	clientInfo  protocol.ClientInfo
}

// New creates a dispatcher bound to t, reporting name/version as its
// ServerInfo in the initialize response.
func New(t transport.Transport, name, version string) *Server {
	return &Server{
		transport: t,
		info:      protocol.ServerInfo{Name: name, Version: version},
		tools:     make(map[string]toolEntry),
	}
}

// RegisterTool adds a tool to the registry. Must be called before Run;
// the registry is not mutated once the dispatcher starts serving
// requests.
func (s *Server) RegisterTool(tool protocol.Tool, handler ToolHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tools[tool.Name]; !exists {
		s.toolOrder = append(s.toolOrder, tool.Name)
	}
	s.tools[tool.Name] = toolEntry{tool: tool, handler: handler}
	logger.Info("registered tool:", tool.Name)
}

// Run processes requests until the transport closes or returns a fatal
// read error. A clean EOF is reported as nil.
func (s *Server) Run() error {
	logger.Info("MCP dispatcher starting")
	for {
		data, err := s.transport.ReadMessage()
		if err != nil {
			if isCleanClose(err) {
				logger.Info("transport closed, stopping dispatcher")
				return nil
			}
			return fmt.Errorf("transport read failed: %w", err)
		}

		resp := s.handleMessage(data)
		if resp == nil {
			continue
		}
		out, err := json.Marshal(resp)
		if err != nil {
			logger.Error("failed to marshal response:", err)
			continue
		}
		if err := s.transport.WriteMessage(out); err != nil {
			return fmt.Errorf("transport write failed: %w", err)
		}
	}
}

func isCleanClose(err error) bool {
	return err.Error() == "EOF"
}

// handleMessage parses and dispatches one raw message, returning the
// response to write back, or nil for notifications. Input that cannot
// be classified or parsed gets a ParseError response with a null id.
func (s *Server) handleMessage(data []byte) *protocol.JsonRpcResponse {
	kind, classifyErr := protocol.Classify(data)
	if classifyErr != nil || kind == protocol.KindInvalid {
		logger.Warn("failed to classify incoming message:", classifyErr)
		return protocol.NewJsonRpcErrorResponse(protocol.ErrParse, "parse error", nil, nil)
	}

	req, err := protocol.ParseJsonRpcRequest(data)
	if err != nil {
		logger.Warn("failed to parse request:", err)
		return protocol.NewJsonRpcErrorResponse(protocol.ErrParse, err.Error(), nil, nil)
	}

	if kind == protocol.KindNotification {
		s.handleNotification(req)
		return nil
	}

	return s.handleRequest(req)
}

func (s *Server) handleNotification(req *protocol.JsonRpcRequest) {
	logger.Debug("received notification:", req.Method)
	// notifications/initialized is the only one we expect from clients;
	// it requires no action beyond logging.
}

func (s *Server) handleRequest(req *protocol.JsonRpcRequest) *protocol.JsonRpcResponse {
	logger.Info(">> ", req.Method)

	s.mu.Lock()
	initialized := s.initialized
	s.mu.Unlock()

	if !initialized && req.Method != protocol.MethodInitialize && req.Method != protocol.MethodPing {
		return protocol.NewJsonRpcErrorResponse(
			protocol.ErrInvalidRequest,
			fmt.Sprintf("server not initialized: %s must follow initialize", req.Method),
			nil, req.ID,
		)
	}

	switch req.Method {
	case protocol.MethodInitialize:
		return s.handleInitialize(req)
	case protocol.MethodPing:
		return respond(req.ID, struct{}{})
	case protocol.MethodToolsList:
		return s.handleToolsList(req)
	case protocol.MethodToolsCall:
		return s.handleToolsCall(req)
	default:
		return protocol.NewJsonRpcErrorResponse(protocol.ErrMethodNotFound, "method not found: "+req.Method, nil, req.ID)
	}
}

func (s *Server) handleInitialize(req *protocol.JsonRpcRequest) *protocol.JsonRpcResponse {
	var params protocol.InitializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return protocol.NewJsonRpcErrorResponse(protocol.ErrInvalidParams, "invalid initialize params: "+err.Error(), nil, req.ID)
		}
	}

	version := params.ProtocolVersion
	if version == "" {
		version = protocol.ProtocolVersion
	}

	s.mu.Lock()
	s.clientInfo = params.ClientInfo
	s.initialized = true
	toolCount := len(s.tools)
	s.mu.Unlock()

	logger.Info("initialize from client:", params.ClientInfo.Name, "tools registered:", toolCount)

	result := protocol.InitializeResult{
		ProtocolVersion: version,
		Capabilities: protocol.Capabilities{
			Tools:   &protocol.ToolsCapability{ListChanged: false},
			Logging: &protocol.LoggingCapability{},
		},
		ServerInfo: s.info,
	}
	return respond(req.ID, result)
}

func (s *Server) handleToolsList(req *protocol.JsonRpcRequest) *protocol.JsonRpcResponse {
	s.mu.Lock()
	tools := make([]protocol.Tool, 0, len(s.toolOrder))
	for _, name := range s.toolOrder {
		tools = append(tools, s.tools[name].tool)
	}
	s.mu.Unlock()

	return respond(req.ID, protocol.ToolsListResult{Tools: tools})
}

func (s *Server) handleToolsCall(req *protocol.JsonRpcRequest) *protocol.JsonRpcResponse {
	var params protocol.ToolsCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return protocol.NewJsonRpcErrorResponse(protocol.ErrInvalidParams, "invalid tools/call params: "+err.Error(), nil, req.ID)
	}

	s.mu.Lock()
	entry, ok := s.tools[params.Name]
	s.mu.Unlock()
	if !ok {
		return protocol.NewJsonRpcErrorResponse(protocol.ErrMethodNotFound, "unknown tool: "+params.Name, nil, req.ID)
	}

	if err := validateArguments(entry.tool.InputSchema, params.Arguments); err != nil {
		return protocol.NewJsonRpcErrorResponse(protocol.ErrInvalidParams, err.Error(), nil, req.ID)
	}

	result, err := entry.handler(params.Arguments)
	if err != nil {
		// A handler returning an error (rather than IsError:true) signals
		// a condition severe enough to be a protocol-level fault.
		return protocol.NewJsonRpcErrorResponse(protocol.ErrInternal, err.Error(), nil, req.ID)
	}

	return respond(req.ID, result)
}

// validateArguments checks required-parameter presence and JSON type
// against a tool's schema.
func validateArguments(schema protocol.InputSchema, args map[string]any) error {
	for _, name := range schema.Required {
		if _, ok := args[name]; !ok {
			return fmt.Errorf("missing required argument: %s", name)
		}
	}
	for name, value := range args {
		prop, known := schema.Properties[name]
		if !known {
			continue
		}
		if err := checkType(name, prop.Type, value); err != nil {
			return err
		}
	}
	return nil
}

func checkType(name, schemaType string, value any) error {
	if schemaType == "" || value == nil {
		return nil
	}
	ok := true
	switch schemaType {
	case "string":
		_, ok = value.(string)
	case "number", "integer":
		_, ok = value.(float64)
	case "boolean":
		_, ok = value.(bool)
	case "object":
		_, ok = value.(map[string]any)
	case "array":
		_, ok = value.([]any)
	}
	if !ok {
		return fmt.Errorf("argument %q must be of type %s", name, schemaType)
	}
	return nil
}

func respond(id any, result any) *protocol.JsonRpcResponse {
	resp, err := protocol.NewJsonRpcResponse(result, id)
	if err != nil {
		return protocol.NewJsonRpcErrorResponse(protocol.ErrInternal, "failed to marshal result: "+err.Error(), nil, id)
	}
	return resp
}

// NewProgressToken generates an opaque token for a notifications/progress
// sequence. Wired with google/uuid rather than a counter so tokens stay
// unique across dispatcher restarts and concurrent tool calls.
func NewProgressToken() string {
	return uuid.NewString()
}

// Notify writes an unsolicited notification (no id, no response expected)
// to the client, e.g. notifications/progress from a long-running tool
// handler. It shares WriteMessage with Run's response loop; transports
// must tolerate concurrent writers, which StdioTransport does.
func (s *Server) Notify(method string, params any) error {
	req, err := protocol.NewJsonRpcNotification(method, params)
	if err != nil {
		return fmt.Errorf("failed to build notification: %w", err)
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	return s.transport.WriteMessage(data)
}
