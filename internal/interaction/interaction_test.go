package interaction

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/richard-senior/mcp/internal/debugclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTarget behaves like a minimal debug service whose requestData
// extension understands the pointer-injection command protocol.
type fakeTarget struct {
	upgrader   websocket.Upgrader
	lastCmd    map[string]any
	idleCalls  int
}

func (f *fakeTarget) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
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
			ID     int64           `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		_ = json.Unmarshal(data, &req)

		var result any
		switch req.Method {
		case "getVM":
			result = map[string]any{"isolates": []map[string]any{{"id": "main"}}}
		case "ext.flutter.driver":
			var params struct {
				Command string `json:"command"`
			}
			_ = json.Unmarshal(req.Params, &params)
			var cmd map[string]any
			_ = json.Unmarshal([]byte(params.Command), &cmd)
			f.lastCmd = cmd
			if cmd["command"] == "fail-me" {
				reply, _ := json.Marshal(map[string]any{"success": false, "error": "boom"})
				result = string(reply)
			} else {
				reply, _ := json.Marshal(map[string]any{"success": true, "command": cmd["command"]})
				result = string(reply)
			}
		case "ext.flutter.driver.enterText":
			result = map[string]any{"success": true}
		case "ext.flutter.scheduler.status":
			f.idleCalls++
			result = map[string]any{"idle": f.idleCalls > 1}
		default:
			result = map[string]any{}
		}

		resp, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
		if err := conn.WriteMessage(websocket.TextMessage, resp); err != nil {
			return
		}
	}
}

func newConnectedDriver(t *testing.T, target *fakeTarget) (*Driver, func()) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(target.handle))
	client := debugclient.New(2 * time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	require.NoError(t, client.Connect(ctx, wsURL, ""))

	return New(client), func() {
		client.Disconnect()
		server.Close()
	}
}

func TestTapAtSendsTapCommand(t *testing.T) {
	target := &fakeTarget{}
	driver, cleanup := newConnectedDriver(t, target)
	defer cleanup()

	require.NoError(t, driver.TapAt(context.Background(), 12, 34))
	require.NotNil(t, target.lastCmd)
	assert.Equal(t, "tapAt", target.lastCmd["command"])
	assert.Equal(t, 12.0, target.lastCmd["x"])
	assert.Equal(t, 34.0, target.lastCmd["y"])
}

func TestScrollBySendsScrollCommandWithDuration(t *testing.T) {
	target := &fakeTarget{}
	driver, cleanup := newConnectedDriver(t, target)
	defer cleanup()

	require.NoError(t, driver.ScrollBy(context.Background(), 1, 2, 10, -20, 300*time.Millisecond))
	assert.Equal(t, "scrollAt", target.lastCmd["command"])
	assert.Equal(t, -20.0, target.lastCmd["dy"])
	assert.Equal(t, 300.0, target.lastCmd["duration"])
}

func TestLongPressAtSendsLongPressCommand(t *testing.T) {
	target := &fakeTarget{}
	driver, cleanup := newConnectedDriver(t, target)
	defer cleanup()

	require.NoError(t, driver.LongPressAt(context.Background(), 5, 5, 500*time.Millisecond))
	assert.Equal(t, "longPressAt", target.lastCmd["command"])
	assert.Equal(t, 500.0, target.lastCmd["duration"])
}

func TestSendCommandPropagatesTargetFailure(t *testing.T) {
	target := &fakeTarget{}
	driver, cleanup := newConnectedDriver(t, target)
	defer cleanup()

	err := driver.sendCommand(context.Background(), injectedCommand{Command: "fail-me", X: 1, Y: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestTypeTextCallsEnterText(t *testing.T) {
	target := &fakeTarget{}
	driver, cleanup := newConnectedDriver(t, target)
	defer cleanup()

	require.NoError(t, driver.TypeText(context.Background(), "hello"))
}

func TestWaitForReturnsTrueOncePredicateHolds(t *testing.T) {
	driver := &Driver{}
	calls := 0
	ok := driver.WaitFor(context.Background(), time.Second, func(ctx context.Context) bool {
		calls++
		return calls >= 2
	})
	assert.True(t, ok)
	assert.GreaterOrEqual(t, calls, 2)
}

func TestWaitForTimesOut(t *testing.T) {
	driver := &Driver{}
	ok := driver.WaitFor(context.Background(), 150*time.Millisecond, func(ctx context.Context) bool {
		return false
	})
	assert.False(t, ok)
}

func TestWaitUntilIdlePollsSchedulerStatus(t *testing.T) {
	target := &fakeTarget{}
	driver, cleanup := newConnectedDriver(t, target)
	defer cleanup()

	ok := driver.WaitUntilIdle(context.Background(), 2*time.Second)
	assert.True(t, ok)
}
