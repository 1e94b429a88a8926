// Package debugclient implements the bidirectional JSON-RPC 2.0 client
// that talks to a running target's debug/VM service over WebSocket:
// connection lifecycle, concurrent request/response correlation, event
// stream subscriptions, and isolate bookkeeping.
package debugclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/richard-senior/mcp/internal/logger"
	"github.com/richard-senior/mcp/pkg/protocol"
)

// State is a position in the client's connection state machine.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// DefaultTimeout is how long a single callServiceMethod waits before
// failing with a timeout error.
const DefaultTimeout = 30 * time.Second

// ServiceError wraps an error object returned by the debug service
// itself, preserving its code and message per the upstream-error
// category of the error taxonomy.
type ServiceError struct {
	Code    int
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("debug service error %d: %s", e.Code, e.Message)
}

// DisconnectError is returned to every pending call when the connection
// drops or disconnect() is invoked explicitly.
type DisconnectError struct{ Reason string }

func (e *DisconnectError) Error() string {
	if e.Reason == "" {
		return "debug client disconnected"
	}
	return "debug client disconnected: " + e.Reason
}

// EventCallback receives a streamNotify event's stream id and raw
// params payload.
type EventCallback func(streamID string, params json.RawMessage)

type pendingRequest struct {
	done   chan struct{}
	result json.RawMessage
	err    error
}

// Client owns exactly one WebSocket connection to a target's debug
// service. A Client is safe for concurrent use: any number of callers
// may invoke CallServiceMethod concurrently.
type Client struct {
	conn *websocket.Conn

	stateMu sync.Mutex
	state   State

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[int64]*pendingRequest
	nextID    int64

	isolateMu     sync.Mutex
	isolateIDs    []string
	mainIsolateID string

	subsMu    sync.Mutex
	subscribed map[string]bool

	eventMu  sync.Mutex
	onEvent  EventCallback

	timeout time.Duration
	done    chan struct{}
	wg      sync.WaitGroup
}

// New creates an unconnected Client. timeout, if zero, defaults to
// DefaultTimeout.
func New(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		state:      Disconnected,
		pending:    make(map[int64]*pendingRequest),
		subscribed: make(map[string]bool),
		timeout:    timeout,
	}
}

// SetEventCallback registers the function invoked for every streamNotify
// event received after connect. Safe to call at any time.
func (c *Client) SetEventCallback(cb EventCallback) {
	c.eventMu.Lock()
	defer c.eventMu.Unlock()
	c.onEvent = cb
}

// State reports the client's current connection state.
func (c *Client) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

// Connect performs the WebSocket handshake against uri (with authToken,
// if non-empty, appended as a path suffix), starts the receive loop, and
// fetches main_isolate_id via getVM. On any failure the client returns
// to Disconnected and the error is returned; it never panics or retries.
func (c *Client) Connect(ctx context.Context, uri, authToken string) error {
	if c.State() != Disconnected {
		return fmt.Errorf("connect called from state %s, must be disconnected", c.State())
	}
	c.setState(Connecting)

	target := uri
	if authToken != "" {
		target = strings.TrimRight(uri, "/") + "/" + authToken
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		c.setState(Disconnected)
		return fmt.Errorf("websocket dial failed: %w", err)
	}

	c.conn = conn
	c.done = make(chan struct{})
	c.setState(Connected)

	c.wg.Add(1)
	go c.receiveLoop()

	isolates, err := c.GetIsolateIds(ctx)
	if err != nil {
		logger.Warn("connect: getVM isolate fetch failed:", err)
		_ = c.Disconnect()
		return fmt.Errorf("failed to fetch isolates after connect: %w", err)
	}
	if len(isolates) > 0 {
		c.isolateMu.Lock()
		c.mainIsolateID = isolates[0]
		c.isolateMu.Unlock()
	}

	logger.Info("debug client connected:", target)
	return nil
}

// Disconnect closes the connection, fails every pending call with a
// disconnect error, and joins the receive loop. Safe to call more than
// once; a call from Disconnected is a no-op.
func (c *Client) Disconnect() error {
	if c.State() == Disconnected {
		return nil
	}
	c.setState(Disconnecting)

	if c.conn != nil {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = c.conn.Close()
	}
	if c.done != nil {
		close(c.done)
	}
	c.wg.Wait()

	c.failAllPending(&DisconnectError{Reason: "disconnect requested"})
	c.setState(Disconnected)
	logger.Info("debug client disconnected")
	return nil
}

func (c *Client) failAllPending(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, pr := range c.pending {
		pr.err = err
		close(pr.done)
		delete(c.pending, id)
	}
}

// receiveLoop owns the socket read side for the lifetime of the
// connection and exits on the first read error. If c.done is already
// closed (Disconnect is under way) it just returns and Disconnect fails
// the pending requests; otherwise it fails every remaining pending
// request itself and marks the client Disconnected.
func (c *Client) receiveLoop() {
	defer c.wg.Done()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			logger.Warn("debug client read failed, treating as disconnect:", err)
			c.failAllPending(&DisconnectError{Reason: err.Error()})
			c.setState(Disconnected)
			return
		}
		c.handleMessage(data)
	}
}

func (c *Client) handleMessage(data []byte) {
	kind, err := protocol.Classify(data)
	if err != nil {
		logger.Warn("debug client received unclassifiable message:", err)
		return
	}
	switch kind {
	case protocol.KindResponse:
		c.handleResponse(data)
	case protocol.KindRequest, protocol.KindNotification:
		c.handleServiceNotification(data)
	default:
		logger.Warn("debug client received malformed message")
	}
}

func (c *Client) handleResponse(data []byte) {
	resp, err := protocol.ParseJsonRpcResponse(data)
	if err != nil {
		logger.Warn("debug client failed to parse response:", err)
		return
	}
	id, ok := numericID(resp.ID)
	if !ok {
		logger.Warn("debug client response carries non-numeric id, discarding")
		return
	}

	c.pendingMu.Lock()
	pr, found := c.pending[id]
	if found {
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	if !found {
		logger.Debug("debug client discarding response for unknown id:", id)
		return
	}
	if resp.Error != nil {
		pr.err = &ServiceError{Code: resp.Error.Code, Message: resp.Error.Message}
	} else {
		pr.result = resp.Result
	}
	close(pr.done)
}

func (c *Client) handleServiceNotification(data []byte) {
	req, err := protocol.ParseJsonRpcRequest(data)
	if err != nil {
		logger.Warn("debug client failed to parse service notification:", err)
		return
	}
	if req.Method != "streamNotify" {
		logger.Debug("debug client ignoring unhandled service method:", req.Method)
		return
	}
	var payload struct {
		StreamID string          `json:"streamId"`
		Event    json.RawMessage `json:"event"`
	}
	if err := json.Unmarshal(req.Params, &payload); err != nil {
		logger.Warn("debug client failed to parse streamNotify params:", err)
		return
	}

	c.eventMu.Lock()
	cb := c.onEvent
	c.eventMu.Unlock()
	if cb != nil {
		cb(payload.StreamID, payload.Event)
	}
}

// CallServiceMethod sends a JSON-RPC request and blocks until a matching
// response arrives, ctx is cancelled, or the client's timeout elapses.
func (c *Client) CallServiceMethod(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if c.State() != Connected {
		return nil, fmt.Errorf("not connected")
	}

	id := atomic.AddInt64(&c.nextID, 1)
	pr := &pendingRequest{done: make(chan struct{})}

	c.pendingMu.Lock()
	c.pending[id] = pr
	c.pendingMu.Unlock()

	req, err := protocol.NewJsonRpcRequest(method, params, id)
	if err != nil {
		c.removePending(id)
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	payload, err := json.Marshal(req)
	if err != nil {
		c.removePending(id)
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	c.writeMu.Lock()
	writeErr := c.conn.WriteMessage(websocket.TextMessage, payload)
	c.writeMu.Unlock()
	if writeErr != nil {
		c.removePending(id)
		return nil, fmt.Errorf("failed to write request: %w", writeErr)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case <-pr.done:
		return pr.result, pr.err
	case <-timer.C:
		c.removePending(id)
		return nil, fmt.Errorf("call to %s timed out after %s", method, c.timeout)
	case <-ctx.Done():
		c.removePending(id)
		return nil, ctx.Err()
	}
}

func (c *Client) removePending(id int64) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

func numericID(id any) (int64, bool) {
	switch v := id.(type) {
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}

// GetIsolateIds calls getVM and returns the ids of every isolate listed.
func (c *Client) GetIsolateIds(ctx context.Context) ([]string, error) {
	raw, err := c.CallServiceMethod(ctx, "getVM", map[string]any{})
	if err != nil {
		return nil, err
	}
	var vm struct {
		Isolates []struct {
			ID string `json:"id"`
		} `json:"isolates"`
	}
	if err := json.Unmarshal(raw, &vm); err != nil {
		return nil, fmt.Errorf("failed to parse getVM result: %w", err)
	}
	ids := make([]string, 0, len(vm.Isolates))
	for _, iso := range vm.Isolates {
		ids = append(ids, iso.ID)
	}
	c.isolateMu.Lock()
	c.isolateIDs = ids
	c.isolateMu.Unlock()
	return ids, nil
}

// GetMainIsolateID returns the cached main isolate id captured at
// connect time (isolates[0]; multi-isolate targets are not otherwise
// distinguished).
func (c *Client) GetMainIsolateID() string {
	c.isolateMu.Lock()
	defer c.isolateMu.Unlock()
	return c.mainIsolateID
}

// GetIsolateInfo fetches full isolate detail for the given isolate id.
func (c *Client) GetIsolateInfo(ctx context.Context, isolateID string) (json.RawMessage, error) {
	return c.CallServiceMethod(ctx, "getIsolate", map[string]any{"isolateId": isolateID})
}

// StreamListen subscribes to a debug-service event stream. It is
// idempotent from the caller's point of view: the service itself
// returns an error when a stream is already subscribed, and that
// specific error is swallowed here rather than surfaced (Open
// Question (a)).
func (c *Client) StreamListen(ctx context.Context, stream string) error {
	c.subsMu.Lock()
	already := c.subscribed[stream]
	c.subsMu.Unlock()
	if already {
		return nil
	}

	_, err := c.CallServiceMethod(ctx, "streamListen", map[string]any{"streamId": stream})
	var svcErr *ServiceError
	if err != nil {
		if ok := asServiceError(err, &svcErr); ok && isAlreadySubscribed(svcErr) {
			err = nil
		}
	}
	if err != nil {
		return err
	}

	c.subsMu.Lock()
	c.subscribed[stream] = true
	c.subsMu.Unlock()
	return nil
}

func asServiceError(err error, target **ServiceError) bool {
	se, ok := err.(*ServiceError)
	if ok {
		*target = se
	}
	return ok
}

func isAlreadySubscribed(err *ServiceError) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Message), "already subscribed") ||
		strings.Contains(strings.ToLower(err.Message), "already listening")
}

// CallExtension is a convenience wrapper over CallServiceMethod for the
// ext.flutter.* driver/inspector extension methods, which all take the
// main isolate id implicitly unless the caller overrides it.
func (c *Client) CallExtension(ctx context.Context, method string, args map[string]any) (json.RawMessage, error) {
	params := map[string]any{"isolateId": c.GetMainIsolateID()}
	for k, v := range args {
		params[k] = v
	}
	return c.CallServiceMethod(ctx, method, params)
}
