package tools

import (
	"github.com/richard-senior/mcp/pkg/protocol"
	"github.com/richard-senior/mcp/pkg/server"
)

// RegisterAll registers every MCP tool this server exposes against srv,
// binding the stateful tools (connect/disconnect/get_tree/find/tap/
// type/scroll) to the given session.
func RegisterAll(srv *server.Server, session *Session) {
	register := func(tool protocol.Tool, handler func(map[string]any) (protocol.ToolsCallResult, error)) {
		srv.RegisterTool(tool, handler)
	}

	register(FlutterListInstancesTool(), HandleFlutterListInstancesTool)
	register(FlutterLaunchTool(), HandleFlutterLaunchTool(srv))
	register(FlutterConnectTool(), HandleFlutterConnectTool(session))
	register(FlutterDisconnectTool(), HandleFlutterDisconnectTool(session))
	register(FlutterGetTreeTool(), HandleFlutterGetTreeTool(session))
	register(FlutterGetPropertiesTool(), HandleFlutterGetPropertiesTool(session))
	register(FlutterFindTool(), HandleFlutterFindTool(session))
	register(FlutterTapTool(), HandleFlutterTapTool(session))
	register(FlutterTypeTool(), HandleFlutterTypeTool(session))
	register(FlutterScrollTool(), HandleFlutterScrollTool(session))
}
