package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/richard-senior/mcp/pkg/protocol"
	"github.com/richard-senior/mcp/pkg/selector"
	"github.com/richard-senior/mcp/pkg/widget"
)

// FlutterTapTool returns the flutter_tap tool definition.
func FlutterTapTool() protocol.Tool {
	return protocol.Tool{
		Name:        "flutter_tap",
		Description: "Taps a widget, identified by selector, widget_id, or raw coordinates (exactly one)",
		InputSchema: protocol.InputSchema{
			Type: "object",
			Properties: map[string]protocol.ToolProperty{
				"selector":  {Type: "string", Description: "Selector identifying the widget to tap"},
				"widget_id": {Type: "string", Description: "Id of the widget to tap"},
				"x":         {Type: "number", Description: "X coordinate to tap, paired with y"},
				"y":         {Type: "number", Description: "Y coordinate to tap, paired with x"},
			},
		},
	}
}

// HandleFlutterTapTool returns a handler bound to session.
func HandleFlutterTapTool(session *Session) func(map[string]any) (protocol.ToolsCallResult, error) {
	return func(arguments map[string]any) (protocol.ToolsCallResult, error) {
		_, insp, driver, err := session.require()
		if err != nil {
			return protocol.ErrorResult(err.Error()), nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), defaultCallTimeout)
		defer cancel()

		switch target, kind := resolveTarget(arguments); kind {
		case targetCoords:
			if err := driver.TapAt(ctx, target.x, target.y); err != nil {
				return protocol.ErrorResult("tap failed: " + err.Error()), nil
			}
		case targetWidget:
			node, err := lookupNode(insp, target.widgetID)
			if err != nil {
				return protocol.ErrorResult(err.Error()), nil
			}
			if err := driver.TapNode(ctx, node); err != nil {
				return protocol.ErrorResult("tap failed: " + err.Error()), nil
			}
		case targetSelector:
			node, err := resolveSelector(insp, ctx, target.selector)
			if err != nil {
				return protocol.ErrorResult(err.Error()), nil
			}
			if err := driver.TapNode(ctx, node); err != nil {
				return protocol.ErrorResult("tap failed: " + err.Error()), nil
			}
		default:
			return protocol.ErrorResult("exactly one of selector, widget_id, or x/y must be provided"), nil
		}

		waitIdleBestEffort(ctx, driver)
		body, _ := json.Marshal(map[string]any{"success": true})
		return protocol.TextResult(string(body)), nil
	}
}

// FlutterTypeTool returns the flutter_type tool definition.
func FlutterTypeTool() protocol.Tool {
	return protocol.Tool{
		Name:        "flutter_type",
		Description: "Enters text into the currently focused input on the target",
		InputSchema: protocol.InputSchema{
			Type: "object",
			Properties: map[string]protocol.ToolProperty{
				"text": {Type: "string", Description: "Text to enter"},
			},
			Required: []string{"text"},
		},
	}
}

// HandleFlutterTypeTool returns a handler bound to session.
func HandleFlutterTypeTool(session *Session) func(map[string]any) (protocol.ToolsCallResult, error) {
	return func(arguments map[string]any) (protocol.ToolsCallResult, error) {
		_, _, driver, err := session.require()
		if err != nil {
			return protocol.ErrorResult(err.Error()), nil
		}
		text, ok := arguments["text"].(string)
		if !ok {
			return protocol.ErrorResult("text is required"), nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), defaultCallTimeout)
		defer cancel()

		if err := driver.TypeText(ctx, text); err != nil {
			return protocol.ErrorResult("type failed: " + err.Error()), nil
		}
		body, _ := json.Marshal(map[string]any{"success": true})
		return protocol.TextResult(string(body)), nil
	}
}

// FlutterScrollTool returns the flutter_scroll tool definition.
func FlutterScrollTool() protocol.Tool {
	return protocol.Tool{
		Name:        "flutter_scroll",
		Description: "Scrolls by an offset, optionally anchored at a widget or bounds",
		InputSchema: protocol.InputSchema{
			Type: "object",
			Properties: map[string]protocol.ToolProperty{
				"dx":          {Type: "number", Description: "Horizontal offset in logical pixels"},
				"dy":          {Type: "number", Description: "Vertical offset in logical pixels"},
				"duration_ms": {Type: "number", Description: "Gesture duration in milliseconds (default 300)"},
				"widget_id":   {Type: "string", Description: "Anchor the scroll start at this widget's center"},
				"selector":    {Type: "string", Description: "Anchor the scroll start at the first widget matching this selector"},
			},
			Required: []string{"dx", "dy"},
		},
	}
}

// HandleFlutterScrollTool returns a handler bound to session.
func HandleFlutterScrollTool(session *Session) func(map[string]any) (protocol.ToolsCallResult, error) {
	return func(arguments map[string]any) (protocol.ToolsCallResult, error) {
		_, insp, driver, err := session.require()
		if err != nil {
			return protocol.ErrorResult(err.Error()), nil
		}

		dxv, dxOK := arguments["dx"].(float64)
		dyv, dyOK := arguments["dy"].(float64)
		if !dxOK || !dyOK {
			return protocol.ErrorResult("dx and dy are required"), nil
		}
		durationMs := intArg(arguments, "duration_ms", 300)

		ctx, cancel := context.WithTimeout(context.Background(), defaultCallTimeout)
		defer cancel()

		x, y := 0.0, 0.0
		if widgetID, ok := arguments["widget_id"].(string); ok && widgetID != "" {
			node, err := lookupNode(insp, widgetID)
			if err != nil {
				return protocol.ErrorResult(err.Error()), nil
			}
			if node.Bounds != nil {
				x, y = node.Bounds.Center()
			}
		} else if selText, ok := arguments["selector"].(string); ok && selText != "" {
			node, err := resolveSelector(insp, ctx, selText)
			if err != nil {
				return protocol.ErrorResult(err.Error()), nil
			}
			if node.Bounds != nil {
				x, y = node.Bounds.Center()
			}
		}

		if err := driver.ScrollBy(ctx, x, y, dxv, dyv, time.Duration(durationMs)*time.Millisecond); err != nil {
			return protocol.ErrorResult("scroll failed: " + err.Error()), nil
		}

		waitIdleBestEffort(ctx, driver)
		body, _ := json.Marshal(map[string]any{"success": true})
		return protocol.TextResult(string(body)), nil
	}
}

type targetKind int

const (
	targetNone targetKind = iota
	targetCoords
	targetWidget
	targetSelector
)

type resolvedTarget struct {
	x, y     float64
	widgetID string
	selector string
}

// resolveTarget picks the target form from arguments, requiring exactly
// one of selector, widget_id, or x/y; supplying more than one is just as
// invalid as supplying none, since there's no documented precedence
// between them.
func resolveTarget(arguments map[string]any) (resolvedTarget, targetKind) {
	sel, hasSelector := arguments["selector"].(string)
	hasSelector = hasSelector && sel != ""
	id, hasWidgetID := arguments["widget_id"].(string)
	hasWidgetID = hasWidgetID && id != ""
	x, xOK := arguments["x"].(float64)
	y, yOK := arguments["y"].(float64)
	hasCoords := xOK && yOK

	count := 0
	for _, present := range []bool{hasSelector, hasWidgetID, hasCoords} {
		if present {
			count++
		}
	}
	if count != 1 {
		return resolvedTarget{}, targetNone
	}

	switch {
	case hasSelector:
		return resolvedTarget{selector: sel}, targetSelector
	case hasWidgetID:
		return resolvedTarget{widgetID: id}, targetWidget
	default:
		return resolvedTarget{x: x, y: y}, targetCoords
	}
}

func lookupNode(insp interface {
	LastTree() *widget.WidgetTree
}, widgetID string) (*widget.WidgetNode, error) {
	tree := insp.LastTree()
	if tree == nil {
		return nil, fmt.Errorf("no snapshot available; call flutter_get_tree first")
	}
	node, ok := tree.Nodes[widgetID]
	if !ok {
		return nil, fmt.Errorf("widget %q not found in current snapshot", widgetID)
	}
	return node, nil
}

func resolveSelector(insp interface {
	LastTree() *widget.WidgetTree
}, ctx context.Context, selectorText string) (*widget.WidgetNode, error) {
	sel, err := selector.Parse(selectorText)
	if err != nil {
		return nil, fmt.Errorf("failed to parse selector: %w", err)
	}
	tree := insp.LastTree()
	if tree == nil {
		return nil, fmt.Errorf("no snapshot available; call flutter_get_tree first")
	}
	node := sel.MatchFirst(tree)
	if node == nil {
		return nil, fmt.Errorf("no widget matched selector %q", selectorText)
	}
	return node, nil
}
