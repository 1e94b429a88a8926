// Package discovery probes a range of local ports for running targets
// exposing a debug service, without owning process launch.
package discovery

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/richard-senior/mcp/internal/logger"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
)

// FlutterInstance describes one detected target.
type FlutterInstance struct {
	URI          string    `json:"uri"`
	Port         int       `json:"port"`
	ProjectName  string    `json:"project_name"`
	Device       string    `json:"device,omitempty"`
	VMVersion    string    `json:"vm_version,omitempty"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// DefaultTimeout is the per-port probe timeout used when the caller
// doesn't specify one.
const DefaultTimeout = 500 * time.Millisecond

// Discover probes every port in [start, end] concurrently and returns
// the instances found, in ascending port order. Probe failures and
// timeouts are silent; Discover never errors on "nothing found".
func Discover(ctx context.Context, start, end int, timeout time.Duration) ([]FlutterInstance, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if end < start {
		return nil, fmt.Errorf("invalid port range [%d, %d]", start, end)
	}

	results := make([]*FlutterInstance, end-start+1)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(32)

	for port := start; port <= end; port++ {
		port := port
		g.Go(func() error {
			inst := probePort(gctx, port, timeout)
			if inst != nil {
				results[port-start] = inst
			}
			return nil
		})
	}
	// errgroup's Wait only returns non-nil if a Go func returned an
	// error; probePort never does, so this is always nil.
	_ = g.Wait()

	instances := make([]FlutterInstance, 0)
	for _, inst := range results {
		if inst != nil {
			instances = append(instances, *inst)
		}
	}
	return instances, nil
}

func probePort(ctx context.Context, port int, timeout time.Duration) *FlutterInstance {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	host := "127.0.0.1"
	httpURL := fmt.Sprintf("http://%s:%d/", host, port)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, httpURL, nil)
	if err != nil {
		return nil
	}
	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil
	}
	resp.Body.Close()
	if !looksLikeDebugEndpoint(resp) {
		return nil
	}

	wsURL := fmt.Sprintf("ws://%s:%d/ws", host, port)
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil
	}
	defer conn.Close()

	version, vmRaw, err := probeVersion(conn)
	if err != nil || version == "" {
		return nil
	}

	inst := &FlutterInstance{
		URI:          wsURL,
		Port:         port,
		VMVersion:    version,
		ProjectName:  extractProjectName(vmRaw, port),
		Device:       extractDevice(vmRaw),
		DiscoveredAt: timeNow(),
	}
	return inst
}

func looksLikeDebugEndpoint(resp *http.Response) bool {
	ct := resp.Header.Get("Content-Type")
	return resp.StatusCode == http.StatusOK || ct != ""
}

func probeVersion(conn *websocket.Conn) (string, []byte, error) {
	req := map[string]any{"jsonrpc": "2.0", "id": 1, "method": "getVersion"}
	if err := conn.WriteJSON(req); err != nil {
		return "", nil, err
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		return "", nil, err
	}
	version := gjson.GetBytes(data, "result.version").String()
	return version, data, nil
}

// extractProjectName best-effort derives a project name: tries a
// process-title-shaped field on the VM info, then the final path
// segment of a "uri"/"rootUri" field, then the literal "Unknown".
func extractProjectName(vmRaw []byte, port int) string {
	if name := gjson.GetBytes(vmRaw, "result.name").String(); name != "" {
		return name
	}
	for _, field := range []string{"result.rootUri", "result.uri"} {
		if uri := gjson.GetBytes(vmRaw, field).String(); uri != "" {
			return lastPathSegment(uri)
		}
	}
	logger.Debug("discovery: no project name derivable for port", strconv.Itoa(port))
	return "Unknown"
}

func extractDevice(vmRaw []byte) string {
	return gjson.GetBytes(vmRaw, "result.hostCPU").String()
}

func lastPathSegment(uri string) string {
	for i := len(uri) - 1; i >= 0; i-- {
		if uri[i] == '/' {
			seg := uri[i+1:]
			if seg != "" {
				return seg
			}
			uri = uri[:i]
		}
	}
	return uri
}

// timeNow returns the current wall-clock time, recorded as an
// instance's DiscoveredAt.
func timeNow() time.Time {
	return time.Now()
}

