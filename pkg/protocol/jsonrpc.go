// Package protocol implements the JSON-RPC 2.0 wire format shared by the
// MCP side (stdio) and the debug-service side (WebSocket) of the bridge,
// plus the MCP-specific message and tool shapes layered on top of it.
package protocol

import (
	"encoding/json"
	"fmt"
)

// JsonRpcVersion is the only JSON-RPC protocol version this codec accepts.
const JsonRpcVersion = "2.0"

// JsonRpcRequest represents a JSON-RPC 2.0 request or notification object.
// A nil or absent ID marks it as a notification.
type JsonRpcRequest struct {
	JsonRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      any             `json:"id,omitempty"`
}

// JsonRpcResponse represents a JSON-RPC 2.0 response object. Result and
// Error are mutually exclusive.
type JsonRpcResponse struct {
	JsonRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JsonRpcError   `json:"error,omitempty"`
	ID      any             `json:"id"`
}

// JsonRpcError represents a JSON-RPC 2.0 error object.
type JsonRpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *JsonRpcError) Error() string {
	return fmt.Sprintf("jsonrpc error: code=%d message=%s", e.Code, e.Message)
}

// Standard JSON-RPC 2.0 error codes.
const (
	ErrParse          = -32700
	ErrInvalidRequest = -32600
	ErrMethodNotFound = -32601
	ErrInvalidParams  = -32602
	ErrInternal       = -32603
	// ErrServer is the low end of the implementation-defined server-error
	// range (-32000 to -32099).
	ErrServer = -32000
)

// MessageKind classifies a decoded JSON-RPC payload.
type MessageKind int

const (
	KindRequest MessageKind = iota
	KindNotification
	KindResponse
	KindInvalid
)

// rawMessage is used to sniff which of {method, id, result, error} are
// present before committing to a concrete type.
type rawMessage struct {
	JsonRPC string          `json:"jsonrpc"`
	Method  *string         `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   json.RawMessage `json:"error"`
}

// Classify parses a raw JSON-RPC payload and determines whether it is a
// request, a notification, or a response. An id present and non-null
// together with a method makes a Request; a method with no id (or an
// explicit null id) makes a Notification; a method absent with exactly
// one of result/error present makes a Response.
func Classify(data []byte) (MessageKind, error) {
	var raw rawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return KindInvalid, err
	}
	if raw.Method != nil {
		if len(raw.ID) == 0 || string(raw.ID) == "null" {
			return KindNotification, nil
		}
		return KindRequest, nil
	}
	hasResult := len(raw.Result) > 0
	hasError := len(raw.Error) > 0
	if hasResult != hasError {
		return KindResponse, nil
	}
	return KindInvalid, fmt.Errorf("message has neither method nor exactly one of result/error")
}

// ParseJsonRpcRequest parses and validates a JSON-RPC 2.0 request or
// notification from raw JSON.
func ParseJsonRpcRequest(data []byte) (*JsonRpcRequest, error) {
	var req JsonRpcRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	if err := validateRequest(&req); err != nil {
		return nil, err
	}
	return &req, nil
}

func validateRequest(req *JsonRpcRequest) error {
	if req.JsonRPC != JsonRpcVersion {
		return fmt.Errorf("invalid JSON-RPC version: %q", req.JsonRPC)
	}
	if req.Method == "" {
		return fmt.Errorf("missing method")
	}
	if len(req.Params) > 0 {
		var first byte
		for _, b := range req.Params {
			if b == ' ' || b == '\t' || b == '\n' || b == '\r' {
				continue
			}
			first = b
			break
		}
		if first != '{' && first != '[' {
			return fmt.Errorf("params must be an object or array")
		}
	}
	return nil
}

// ParseJsonRpcResponse parses a JSON-RPC 2.0 response from raw JSON.
func ParseJsonRpcResponse(data []byte) (*JsonRpcResponse, error) {
	var resp JsonRpcResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	if resp.JsonRPC != JsonRpcVersion {
		return nil, fmt.Errorf("invalid JSON-RPC version: %q", resp.JsonRPC)
	}
	return &resp, nil
}

// NewJsonRpcRequest creates a new JSON-RPC 2.0 request.
func NewJsonRpcRequest(method string, params any, id any) (*JsonRpcRequest, error) {
	var paramsJSON json.RawMessage
	var err error
	if params != nil {
		paramsJSON, err = json.Marshal(params)
		if err != nil {
			return nil, err
		}
	}
	return &JsonRpcRequest{JsonRPC: JsonRpcVersion, Method: method, Params: paramsJSON, ID: id}, nil
}

// NewJsonRpcNotification creates a JSON-RPC 2.0 notification (a request
// carrying no id).
func NewJsonRpcNotification(method string, params any) (*JsonRpcRequest, error) {
	var paramsJSON json.RawMessage
	var err error
	if params != nil {
		paramsJSON, err = json.Marshal(params)
		if err != nil {
			return nil, err
		}
	}
	return &JsonRpcRequest{JsonRPC: JsonRpcVersion, Method: method, Params: paramsJSON}, nil
}

// NewJsonRpcResponse creates a new JSON-RPC 2.0 success response.
func NewJsonRpcResponse(result any, id any) (*JsonRpcResponse, error) {
	var resultJSON json.RawMessage
	var err error
	if result != nil {
		resultJSON, err = json.Marshal(result)
		if err != nil {
			return nil, err
		}
	}
	return &JsonRpcResponse{JsonRPC: JsonRpcVersion, Result: resultJSON, ID: id}, nil
}

// NewJsonRpcErrorResponse creates a new JSON-RPC 2.0 error response.
func NewJsonRpcErrorResponse(code int, message string, data any, id any) *JsonRpcResponse {
	return &JsonRpcResponse{
		JsonRPC: JsonRpcVersion,
		Error:   &JsonRpcError{Code: code, Message: message, Data: data},
		ID:      id,
	}
}

func (r *JsonRpcRequest) String() string {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf("<unmarshalable request: %v>", err)
	}
	return string(b)
}

func (r *JsonRpcResponse) String() string {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf("<unmarshalable response: %v>", err)
	}
	return string(b)
}
