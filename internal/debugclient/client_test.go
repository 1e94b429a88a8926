package debugclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeService is a minimal JSON-RPC-over-WebSocket debug service for
// testing the client's request correlation, isolate bookkeeping, and
// disconnect handling against something that behaves like the real
// wire protocol without depending on a real target.
type fakeService struct {
	upgrader websocket.Upgrader
	onCall   func(method string, params json.RawMessage) (any, *ServiceError)
}

func newFakeService(onCall func(method string, params json.RawMessage) (any, *ServiceError)) *httptest.Server {
	svc := &fakeService{onCall: onCall}
	return httptest.NewServer(http.HandlerFunc(svc.handle))
}

func (s *fakeService) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req struct {
			JsonRPC string          `json:"jsonrpc"`
			ID      int64           `json:"id"`
			Method  string          `json:"method"`
			Params  json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}
		result, svcErr := s.onCall(req.Method, req.Params)
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if svcErr != nil {
			resp["error"] = map[string]any{"code": svcErr.Code, "message": svcErr.Message}
		} else {
			resp["result"] = result
		}
		payload, _ := json.Marshal(resp)
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestConnectFetchesMainIsolate(t *testing.T) {
	server := newFakeService(func(method string, params json.RawMessage) (any, *ServiceError) {
		if method == "getVM" {
			return map[string]any{"isolates": []map[string]any{{"id": "isolate-1"}, {"id": "isolate-2"}}}, nil
		}
		return map[string]any{}, nil
	})
	defer server.Close()

	client := New(2 * time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, client.Connect(ctx, wsURL(server), ""))
	defer client.Disconnect()

	assert.Equal(t, Connected, client.State())
	assert.Equal(t, "isolate-1", client.GetMainIsolateID())
}

func TestConnectAppendsAuthTokenToPath(t *testing.T) {
	var seenPath string
	svc := &fakeService{onCall: func(method string, params json.RawMessage) (any, *ServiceError) {
		if method == "getVM" {
			return map[string]any{"isolates": []map[string]any{{"id": "main"}}}, nil
		}
		return map[string]any{}, nil
	}}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		seenPath = r.URL.Path
		svc.handle(w, r)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := New(2 * time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx, wsURL(server), "secret-token"))
	defer client.Disconnect()

	assert.True(t, strings.HasSuffix(seenPath, "/secret-token"))
}

func TestCallServiceMethodReturnsUpstreamError(t *testing.T) {
	server := newFakeService(func(method string, params json.RawMessage) (any, *ServiceError) {
		if method == "getVM" {
			return map[string]any{"isolates": []map[string]any{{"id": "main"}}}, nil
		}
		return nil, &ServiceError{Code: -32000, Message: "widget not found"}
	})
	defer server.Close()

	client := New(2 * time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx, wsURL(server), ""))
	defer client.Disconnect()

	_, err := client.CallServiceMethod(ctx, "ext.flutter.inspector.getRootWidgetId", nil)
	require.Error(t, err)
	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, -32000, svcErr.Code)
}

func TestConcurrentCallsDoNotCrossTalk(t *testing.T) {
	server := newFakeService(func(method string, params json.RawMessage) (any, *ServiceError) {
		if method == "getVM" {
			return map[string]any{"isolates": []map[string]any{{"id": "main"}}}, nil
		}
		return map[string]any{"echo": method}, nil
	})
	defer server.Close()

	client := New(2 * time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx, wsURL(server), ""))
	defer client.Disconnect()

	type outcome struct {
		method string
		err    error
	}
	results := make(chan outcome, 20)
	methods := []string{"methodA", "methodB", "methodC", "methodD"}
	for i := 0; i < 20; i++ {
		method := methods[i%len(methods)]
		go func(m string) {
			raw, err := client.CallServiceMethod(ctx, m, nil)
			if err != nil {
				results <- outcome{m, err}
				return
			}
			var body struct {
				Echo string `json:"echo"`
			}
			if uerr := json.Unmarshal(raw, &body); uerr != nil || body.Echo != m {
				results <- outcome{m, assert.AnError}
				return
			}
			results <- outcome{m, nil}
		}(method)
	}
	for i := 0; i < 20; i++ {
		o := <-results
		assert.NoError(t, o.err)
	}
}

func TestDisconnectFailsPendingRequests(t *testing.T) {
	block := make(chan struct{})
	server := newFakeService(func(method string, params json.RawMessage) (any, *ServiceError) {
		if method == "getVM" {
			return map[string]any{"isolates": []map[string]any{{"id": "main"}}}, nil
		}
		<-block
		return map[string]any{}, nil
	})
	defer server.Close()
	defer close(block)

	client := New(5 * time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx, wsURL(server), ""))

	errCh := make(chan error, 1)
	go func() {
		_, err := client.CallServiceMethod(ctx, "ext.flutter.inspector.getRootWidgetId", nil)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, client.Disconnect())

	select {
	case err := <-errCh:
		require.Error(t, err)
		var discErr *DisconnectError
		assert.ErrorAs(t, err, &discErr)
	case <-time.After(2 * time.Second):
		t.Fatal("pending call was not failed by disconnect")
	}
}

func TestStreamListenRepeatedStreamIsCachedNoOp(t *testing.T) {
	calls := 0
	server := newFakeService(func(method string, params json.RawMessage) (any, *ServiceError) {
		if method == "getVM" {
			return map[string]any{"isolates": []map[string]any{{"id": "main"}}}, nil
		}
		if method == "streamListen" {
			calls++
			if calls > 1 {
				return nil, &ServiceError{Code: -32000, Message: "Stream already subscribed"}
			}
			return map[string]any{}, nil
		}
		return map[string]any{}, nil
	})
	defer server.Close()

	client := New(2 * time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx, wsURL(server), ""))
	defer client.Disconnect()

	require.NoError(t, client.StreamListen(ctx, "Extension"))
	// Second call hits the cached "already subscribed" short-circuit and
	// never reaches the service, so this also succeeds.
	require.NoError(t, client.StreamListen(ctx, "Extension"))
}
