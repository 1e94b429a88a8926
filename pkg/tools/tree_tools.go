package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/richard-senior/mcp/pkg/protocol"
	"github.com/richard-senior/mcp/pkg/selector"
)

// FlutterGetTreeTool returns the flutter_get_tree tool definition.
func FlutterGetTreeTool() protocol.Tool {
	return protocol.Tool{
		Name:        "flutter_get_tree",
		Description: "Fetches a fresh snapshot of the connected target's widget tree",
		InputSchema: protocol.InputSchema{
			Type: "object",
			Properties: map[string]protocol.ToolProperty{
				"max_depth": {Type: "number", Description: "Maximum depth to descend; 0 means unbounded"},
				"format":    {Type: "string", Description: "\"json\" (default) for full fidelity, or \"text\" for an indented summary"},
			},
		},
	}
}

// HandleFlutterGetTreeTool returns a handler bound to session.
func HandleFlutterGetTreeTool(session *Session) func(map[string]any) (protocol.ToolsCallResult, error) {
	return func(arguments map[string]any) (protocol.ToolsCallResult, error) {
		_, insp, _, err := session.require()
		if err != nil {
			return protocol.ErrorResult(err.Error()), nil
		}

		maxDepth := intArg(arguments, "max_depth", 0)
		ctx, cancel := context.WithTimeout(context.Background(), defaultCallTimeout)
		defer cancel()

		tree, err := insp.GetWidgetTree(ctx, maxDepth)
		if err != nil {
			return protocol.ErrorResult("failed to fetch widget tree: " + err.Error()), nil
		}

		if format, _ := arguments["format"].(string); format == "text" {
			return protocol.TextResult(tree.ToText(maxDepth)), nil
		}

		body, err := tree.JSON()
		if err != nil {
			return protocol.ErrorResult("failed to encode widget tree: " + err.Error()), nil
		}
		return protocol.TextResult(string(body)), nil
	}
}

// FlutterGetPropertiesTool returns the flutter_get_properties tool
// definition.
func FlutterGetPropertiesTool() protocol.Tool {
	return protocol.Tool{
		Name:        "flutter_get_properties",
		Description: "Returns one widget's full details from the most recent snapshot",
		InputSchema: protocol.InputSchema{
			Type: "object",
			Properties: map[string]protocol.ToolProperty{
				"widget_id": {Type: "string", Description: "Id of the widget to inspect"},
			},
			Required: []string{"widget_id"},
		},
	}
}

// HandleFlutterGetPropertiesTool returns a handler bound to session.
func HandleFlutterGetPropertiesTool(session *Session) func(map[string]any) (protocol.ToolsCallResult, error) {
	return func(arguments map[string]any) (protocol.ToolsCallResult, error) {
		_, insp, _, err := session.require()
		if err != nil {
			return protocol.ErrorResult(err.Error()), nil
		}

		widgetID, ok := arguments["widget_id"].(string)
		if !ok || widgetID == "" {
			return protocol.ErrorResult("widget_id is required"), nil
		}

		tree := insp.LastTree()
		if tree == nil {
			ctx, cancel := context.WithTimeout(context.Background(), defaultCallTimeout)
			defer cancel()
			tree, err = insp.GetWidgetTree(ctx, 0)
			if err != nil {
				return protocol.ErrorResult("failed to fetch widget tree: " + err.Error()), nil
			}
		}

		node, ok := tree.Nodes[widgetID]
		if !ok {
			return protocol.ErrorResult(fmt.Sprintf("widget %q not found in current snapshot", widgetID)), nil
		}
		body, err := json.MarshalIndent(node, "", "  ")
		if err != nil {
			return protocol.ErrorResult("failed to encode widget: " + err.Error()), nil
		}
		return protocol.TextResult(string(body)), nil
	}
}

// FlutterFindTool returns the flutter_find tool definition.
func FlutterFindTool() protocol.Tool {
	return protocol.Tool{
		Name:        "flutter_find",
		Description: "Finds widgets in the most recent snapshot matching a CSS-like selector",
		InputSchema: protocol.InputSchema{
			Type: "object",
			Properties: map[string]protocol.ToolProperty{
				"selector": {Type: "string", Description: "Selector, e.g. Button[text=\"OK\"] or Column > Text"},
			},
			Required: []string{"selector"},
		},
	}
}

// HandleFlutterFindTool returns a handler bound to session.
func HandleFlutterFindTool(session *Session) func(map[string]any) (protocol.ToolsCallResult, error) {
	return func(arguments map[string]any) (protocol.ToolsCallResult, error) {
		_, insp, _, err := session.require()
		if err != nil {
			return protocol.ErrorResult(err.Error()), nil
		}

		selectorText, ok := arguments["selector"].(string)
		if !ok || selectorText == "" {
			return protocol.ErrorResult("selector is required"), nil
		}

		sel, err := selector.Parse(selectorText)
		if err != nil {
			return protocol.ErrorResult("failed to parse selector: " + err.Error()), nil
		}

		tree := insp.LastTree()
		if tree == nil {
			ctx, cancel := context.WithTimeout(context.Background(), defaultCallTimeout)
			defer cancel()
			tree, err = insp.GetWidgetTree(ctx, 0)
			if err != nil {
				return protocol.ErrorResult("failed to fetch widget tree: " + err.Error()), nil
			}
		}

		matches := sel.Match(tree)
		body, err := json.MarshalIndent(map[string]any{"matches": matches, "count": len(matches)}, "", "  ")
		if err != nil {
			return protocol.ErrorResult("failed to encode matches: " + err.Error()), nil
		}
		return protocol.TextResult(string(body)), nil
	}
}
