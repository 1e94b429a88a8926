package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleFlutterTapToolByCoordinates(t *testing.T) {
	session, cleanup := newConnectedSession(t)
	defer cleanup()

	result, err := HandleFlutterTapTool(session)(map[string]any{"x": 5.0, "y": 5.0})
	require.NoError(t, err)
	assert.False(t, result.IsError)
}

func TestHandleFlutterTapToolByWidgetID(t *testing.T) {
	session, cleanup := newConnectedSession(t)
	defer cleanup()

	_, err := HandleFlutterGetTreeTool(session)(map[string]any{})
	require.NoError(t, err)

	result, err := HandleFlutterTapTool(session)(map[string]any{"widget_id": "btn"})
	require.NoError(t, err)
	assert.False(t, result.IsError)
}

func TestHandleFlutterTapToolBySelector(t *testing.T) {
	session, cleanup := newConnectedSession(t)
	defer cleanup()

	_, err := HandleFlutterGetTreeTool(session)(map[string]any{})
	require.NoError(t, err)

	result, err := HandleFlutterTapTool(session)(map[string]any{"selector": "Button"})
	require.NoError(t, err)
	assert.False(t, result.IsError)
}

func TestHandleFlutterTapToolRequiresExactlyOneTarget(t *testing.T) {
	session, cleanup := newConnectedSession(t)
	defer cleanup()

	result, err := HandleFlutterTapTool(session)(map[string]any{})
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleFlutterTapToolRejectsMoreThanOneTarget(t *testing.T) {
	session, cleanup := newConnectedSession(t)
	defer cleanup()

	_, err := HandleFlutterGetTreeTool(session)(map[string]any{})
	require.NoError(t, err)

	result, err := HandleFlutterTapTool(session)(map[string]any{"widget_id": "btn", "x": 5.0, "y": 5.0})
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleFlutterTapToolUnknownWidgetIDErrors(t *testing.T) {
	session, cleanup := newConnectedSession(t)
	defer cleanup()

	result, err := HandleFlutterTapTool(session)(map[string]any{"widget_id": "nope"})
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleFlutterTypeToolRequiresText(t *testing.T) {
	session, cleanup := newConnectedSession(t)
	defer cleanup()

	result, err := HandleFlutterTypeTool(session)(map[string]any{})
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleFlutterTypeToolSendsText(t *testing.T) {
	session, cleanup := newConnectedSession(t)
	defer cleanup()

	result, err := HandleFlutterTypeTool(session)(map[string]any{"text": "hello"})
	require.NoError(t, err)
	assert.False(t, result.IsError)
}

func TestHandleFlutterScrollToolRequiresDxDy(t *testing.T) {
	session, cleanup := newConnectedSession(t)
	defer cleanup()

	result, err := HandleFlutterScrollTool(session)(map[string]any{"dx": 0.0})
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleFlutterScrollToolPlainOffset(t *testing.T) {
	session, cleanup := newConnectedSession(t)
	defer cleanup()

	result, err := HandleFlutterScrollTool(session)(map[string]any{"dx": 0.0, "dy": -200.0})
	require.NoError(t, err)
	assert.False(t, result.IsError)
}

func TestHandleFlutterScrollToolAnchoredAtWidget(t *testing.T) {
	session, cleanup := newConnectedSession(t)
	defer cleanup()

	_, err := HandleFlutterGetTreeTool(session)(map[string]any{})
	require.NoError(t, err)

	result, err := HandleFlutterScrollTool(session)(map[string]any{
		"dx": 0.0, "dy": -50.0, "widget_id": "btn",
	})
	require.NoError(t, err)
	assert.False(t, result.IsError)
}

func TestAllHandlersRequireConnectionWhenDisconnected(t *testing.T) {
	session := NewSession()

	result, err := HandleFlutterTapTool(session)(map[string]any{"x": 1.0, "y": 1.0})
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = HandleFlutterTypeTool(session)(map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = HandleFlutterScrollTool(session)(map[string]any{"dx": 1.0, "dy": 1.0})
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
