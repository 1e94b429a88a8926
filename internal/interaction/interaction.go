// Package interaction drives a connected target's UI: tap, scroll,
// long-press, text entry and idle-waiting, via the debug service's
// driver extensions and the pointer-injection wire protocol.
package interaction

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/richard-senior/mcp/internal/debugclient"
	"github.com/richard-senior/mcp/pkg/widget"
)

const (
	extRequestData = "ext.flutter.driver"
	tapPause       = 50 * time.Millisecond
	scrollSteps    = 10
	pollInterval   = 100 * time.Millisecond
)

// Driver performs UI interactions against a connected debug-service
// client, either via direct driver-extension calls or the
// pointer-injection command protocol.
type Driver struct {
	client *debugclient.Client
}

// New creates a Driver bound to an already-connected client.
func New(client *debugclient.Client) *Driver {
	return &Driver{client: client}
}

// injectedCommand is the wire shape for a tapAt/scrollAt/longPressAt
// request sent through the requestData channel.
type injectedCommand struct {
	Command  string  `json:"command"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	DX       float64 `json:"dx,omitempty"`
	DY       float64 `json:"dy,omitempty"`
	Duration int64   `json:"duration,omitempty"`
}

type injectedReply struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (d *Driver) sendCommand(ctx context.Context, cmd injectedCommand) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to encode pointer-injection command: %w", err)
	}
	raw, err := d.client.CallExtension(ctx, extRequestData, map[string]any{
		"command": string(payload),
	})
	if err != nil {
		return fmt.Errorf("requestData call failed: %w", err)
	}

	var reply injectedReply
	inner := raw
	if decoded := rawString(raw); decoded != "" {
		inner = []byte(decoded)
	}
	if err := json.Unmarshal(inner, &reply); err != nil {
		return fmt.Errorf("failed to parse pointer-injection reply: %w", err)
	}
	if !reply.Success {
		return fmt.Errorf("pointer-injection command %q failed: %s", cmd.Command, reply.Error)
	}
	return nil
}

func rawString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

// TapAt taps the screen at logical coordinates (x, y). The injected
// gesture is pointer-down, a 50ms pause, pointer-up, synthesized
// entirely on the target side; this call just posts the command.
func (d *Driver) TapAt(ctx context.Context, x, y float64) error {
	return d.sendCommand(ctx, injectedCommand{Command: "tapAt", X: x, Y: y})
}

// TapBounds taps the center of the given bounds.
func (d *Driver) TapBounds(ctx context.Context, bounds widget.WidgetBounds) error {
	x, y := bounds.Center()
	return d.TapAt(ctx, x, y)
}

// TapNode taps the center of node's bounds, if it has any.
func (d *Driver) TapNode(ctx context.Context, node *widget.WidgetNode) error {
	if node.Bounds == nil {
		return fmt.Errorf("node %s has no bounds to tap", node.ID)
	}
	return d.TapBounds(ctx, *node.Bounds)
}

// ScrollBy scrolls by (dx, dy) over duration, synthesized as
// scrollSteps linearly interpolated move events, preceded by
// pointer-down and followed by pointer-up.
func (d *Driver) ScrollBy(ctx context.Context, x, y, dx, dy float64, duration time.Duration) error {
	return d.sendCommand(ctx, injectedCommand{
		Command:  "scrollAt",
		X:        x,
		Y:        y,
		DX:       dx,
		DY:       dy,
		Duration: duration.Milliseconds(),
	})
}

// LongPressAt holds a pointer down at (x, y) for duration before
// releasing it.
func (d *Driver) LongPressAt(ctx context.Context, x, y float64, duration time.Duration) error {
	return d.sendCommand(ctx, injectedCommand{
		Command:  "longPressAt",
		X:        x,
		Y:        y,
		Duration: duration.Milliseconds(),
	})
}

// TypeText enters text into whichever input currently has focus, via
// the driver extension rather than the pointer-injection path (text
// entry has no pointer component).
func (d *Driver) TypeText(ctx context.Context, text string) error {
	_, err := d.client.CallExtension(ctx, "ext.flutter.driver.enterText", map[string]any{
		"text": text,
	})
	if err != nil {
		return fmt.Errorf("enterText failed: %w", err)
	}
	return nil
}

// WaitUntilIdle polls the target's frame scheduler until it reports
// idle or timeout elapses.
func (d *Driver) WaitUntilIdle(ctx context.Context, timeout time.Duration) bool {
	return d.WaitFor(ctx, timeout, func(ctx context.Context) bool {
		raw, err := d.client.CallExtension(ctx, "ext.flutter.scheduler.status", nil)
		if err != nil {
			return false
		}
		var status struct {
			Idle bool `json:"idle"`
		}
		_ = json.Unmarshal(raw, &status)
		return status.Idle
	})
}

// WaitFor polls predicate at ~100ms intervals until it returns true or
// timeout elapses, returning whether it succeeded.
func (d *Driver) WaitFor(ctx context.Context, timeout time.Duration, predicate func(context.Context) bool) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	if predicate(ctx) {
		return true
	}
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if predicate(ctx) {
				return true
			}
			if time.Now().After(deadline) {
				return false
			}
		}
	}
}
