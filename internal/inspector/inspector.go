// Package inspector fetches a target's widget tree through its debug
// service and materializes it into a pkg/widget.WidgetTree snapshot.
package inspector

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"github.com/richard-senior/mcp/internal/debugclient"
	"github.com/richard-senior/mcp/internal/logger"
	"github.com/richard-senior/mcp/pkg/widget"
	"github.com/tidwall/gjson"
)

// DefaultMaxDepth is a convenience bound for callers that want a
// concrete depth rather than GetWidgetTree's unbounded (maxDepth <= 0)
// behavior.
const DefaultMaxDepth = 10

const (
	extRootID      = "ext.flutter.inspector.getRootWidgetId"
	extSubtreeByID = "ext.flutter.inspector.getDetailsSubtreeById"
)

// Inspector fetches and caches widget tree snapshots over a connected
// debugclient.Client.
type Inspector struct {
	client *debugclient.Client

	mu       sync.Mutex
	lastTree *widget.WidgetTree
}

// New creates an Inspector bound to an already-connected client.
func New(client *debugclient.Client) *Inspector {
	return &Inspector{client: client}
}

// GetWidgetTree fetches a fresh snapshot of the target's widget tree.
// maxDepth of 0 means unbounded: subtreeDepth is omitted from the
// extension call entirely, and materialize recurses as deep as the
// returned JSON goes rather than being cut off at DefaultMaxDepth.
func (i *Inspector) GetWidgetTree(ctx context.Context, maxDepth int) (*widget.WidgetTree, error) {
	depth := maxDepth
	unbounded := maxDepth <= 0
	if unbounded {
		depth = math.MaxInt32
	}

	rootRaw, err := i.client.CallExtension(ctx, extRootID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch root widget id: %w", err)
	}
	rootID := gjson.GetBytes(rootRaw, "result").String()
	if rootID == "" {
		rootID = gjson.GetBytes(rootRaw, "id").String()
	}
	if rootID == "" {
		return nil, fmt.Errorf("debug service returned no root widget id")
	}

	subtreeParams := map[string]any{
		"objectGroup": "mcp-bridge",
		"arg":         rootID,
	}
	if !unbounded {
		subtreeParams["subtreeDepth"] = depth
	}
	subtreeRaw, err := i.client.CallExtension(ctx, extSubtreeByID, subtreeParams)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch subtree for %s: %w", rootID, err)
	}

	tree := widget.NewWidgetTree()
	root := gjson.GetBytes(subtreeRaw, "result")
	if !root.Exists() {
		root = gjson.ParseBytes(subtreeRaw)
	}
	tree.RootID = materialize(tree, root, "", 0, depth)

	if err := tree.Validate(); err != nil {
		logger.Warn("inspector produced an invalid tree:", err)
		return nil, fmt.Errorf("materialized tree failed validation: %w", err)
	}

	i.mu.Lock()
	i.lastTree = tree
	i.mu.Unlock()

	return tree, nil
}

// LastTree returns the most recently fetched snapshot without hitting
// the wire again, or nil if none has been fetched yet.
func (i *Inspector) LastTree() *widget.WidgetTree {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.lastTree
}

// materialize recursively builds WidgetNodes from one diagnostics-node
// JSON value, linking parent/child as it descends, and returns the id
// assigned to the node it was called on.
func materialize(tree *widget.WidgetTree, node gjson.Result, parentID string, depth, maxDepth int) string {
	id := firstNonEmpty(node.Get("valueId").String(), node.Get("objectId").String(), node.Get("description").String())
	if id == "" {
		id = fmt.Sprintf("node-%d-%d", depth, len(tree.Nodes))
	}

	wn := &widget.WidgetNode{
		ID:          id,
		Type:        firstNonEmpty(node.Get("widgetRuntimeType").String(), node.Get("type").String(), "Unknown"),
		Description: node.Get("description").String(),
		ParentID:    parentID,
		Enabled:     boolOrDefault(node, "enabled", true),
		Visible:     boolOrDefault(node, "visible", true),
		Properties:  extractProperties(node),
	}
	if text := extractText(node); text != "" {
		wn.Text = text
	}
	if bounds := extractBounds(node); bounds != nil {
		wn.Bounds = bounds
	}

	tree.AddNode(wn)

	if maxDepth >= 0 && depth >= maxDepth {
		return id
	}
	children := node.Get("children")
	if children.IsArray() {
		children.ForEach(func(_, child gjson.Result) bool {
			materialize(tree, child, id, depth+1, maxDepth)
			return true
		})
	}
	return id
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func boolOrDefault(node gjson.Result, field string, def bool) bool {
	v := node.Get(field)
	if !v.Exists() {
		return def
	}
	return v.Bool()
}

// extractText returns a top-level "text" field if present; otherwise it
// pulls a text-like entry ("data" or "text") out of the diagnostics
// node's "properties" array, stripping the quotes the debug service
// puts around string descriptions.
func extractText(node gjson.Result) string {
	if direct := node.Get("text").String(); direct != "" {
		return direct
	}
	var found string
	node.Get("properties").ForEach(func(_, prop gjson.Result) bool {
		name := prop.Get("name").String()
		if name == "data" || name == "text" {
			found = prop.Get("description").String()
			var unquoted string
			if err := json.Unmarshal([]byte(found), &unquoted); err == nil {
				found = unquoted
			}
			return false
		}
		return true
	})
	return found
}

func extractBounds(node gjson.Result) *widget.WidgetBounds {
	rd := node.Get("renderObject.constraints")
	geom := node.Get("geometry")
	src := geom
	if !src.Exists() {
		src = rd
	}
	if !src.Exists() {
		return nil
	}
	width := src.Get("width").Float()
	height := src.Get("height").Float()
	if width <= 0 || height <= 0 {
		return nil
	}
	return &widget.WidgetBounds{
		X:      src.Get("x").Float(),
		Y:      src.Get("y").Float(),
		Width:  width,
		Height: height,
	}
}

var skipPropertyNames = map[string]bool{
	"description": true, "widgetRuntimeType": true, "children": true,
	"valueId": true, "objectId": true, "enabled": true, "visible": true,
	"text": true, "geometry": true, "renderObject": true,
}

func extractProperties(node gjson.Result) map[string]any {
	props := make(map[string]any)
	node.Get("properties").ForEach(func(_, prop gjson.Result) bool {
		name := prop.Get("name").String()
		if name == "" || skipPropertyNames[name] {
			return true
		}
		var v any
		if err := json.Unmarshal([]byte(prop.Get("description").String()), &v); err == nil && v != nil {
			props[name] = v
		} else {
			props[name] = prop.Get("description").String()
		}
		return true
	})
	if len(props) == 0 {
		return nil
	}
	return props
}
