package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/richard-senior/mcp/internal/discovery"
	"github.com/richard-senior/mcp/internal/logger"
	"github.com/richard-senior/mcp/pkg/protocol"
	"github.com/richard-senior/mcp/pkg/server"
)

const defaultCallTimeout = 30 * time.Second

// FlutterListInstancesTool returns the flutter_list_instances tool
// definition.
func FlutterListInstancesTool() protocol.Tool {
	return protocol.Tool{
		Name:        "flutter_list_instances",
		Description: "Probes a range of local ports for running Flutter debug-service instances",
		InputSchema: protocol.InputSchema{
			Type: "object",
			Properties: map[string]protocol.ToolProperty{
				"start":      {Type: "number", Description: "First port to probe (default 8100)"},
				"end":        {Type: "number", Description: "Last port to probe (default 8200)"},
				"timeout_ms": {Type: "number", Description: "Per-port probe timeout in milliseconds (default 500)"},
			},
		},
	}
}

// HandleFlutterListInstancesTool handles flutter_list_instances.
func HandleFlutterListInstancesTool(arguments map[string]any) (protocol.ToolsCallResult, error) {
	logger.Info("handling flutter_list_instances")

	start := intArg(arguments, "start", 8100)
	end := intArg(arguments, "end", 8200)
	timeoutMs := intArg(arguments, "timeout_ms", 500)

	ctx, cancel := context.WithTimeout(context.Background(), defaultCallTimeout)
	defer cancel()

	instances, err := discovery.Discover(ctx, start, end, time.Duration(timeoutMs)*time.Millisecond)
	if err != nil {
		return protocol.ErrorResult(err.Error()), nil
	}

	body, err := json.MarshalIndent(map[string]any{"instances": instances}, "", "  ")
	if err != nil {
		return protocol.ErrorResult("failed to encode instances: " + err.Error()), nil
	}
	return protocol.TextResult(string(body)), nil
}

// FlutterLaunchTool returns the flutter_launch tool definition. Process
// launch itself is an external concern (the target's own `flutter run`
// or equivalent); this tool is a thin wrapper that shells out and
// reports back what it can observe, not a build system.
func FlutterLaunchTool() protocol.Tool {
	return protocol.Tool{
		Name:        "flutter_launch",
		Description: "Launches a Flutter project in debug mode and returns its debug-service endpoint",
		InputSchema: protocol.InputSchema{
			Type: "object",
			Properties: map[string]protocol.ToolProperty{
				"project_path": {Type: "string", Description: "Path to the Flutter project root"},
				"device":       {Type: "string", Description: "Target device id, if omitted the default device is used"},
				"port":         {Type: "number", Description: "Debug-service port to request"},
			},
			Required: []string{"project_path"},
		},
	}
}

// HandleFlutterLaunchTool returns a handler bound to srv, used to report
// launch progress via notifications/progress.
func HandleFlutterLaunchTool(srv *server.Server) func(map[string]any) (protocol.ToolsCallResult, error) {
	return func(arguments map[string]any) (protocol.ToolsCallResult, error) {
		logger.Info("handling flutter_launch")

		projectPath, ok := arguments["project_path"].(string)
		if !ok || projectPath == "" {
			return protocol.ErrorResult("project_path is required"), nil
		}
		port := intArg(arguments, "port", 0)

		args := []string{"run", "--machine"}
		if device, ok := arguments["device"].(string); ok && device != "" {
			args = append(args, "-d", device)
		}
		if port != 0 {
			args = append(args, "--observatory-port", fmt.Sprintf("%d", port))
		}

		token := server.NewProgressToken()
		_ = srv.Notify(protocol.NotificationProgress, protocol.ProgressNotificationParams{
			ProgressToken: token, Progress: 0, Total: 1,
		})

		cmd := exec.Command("flutter", args...)
		cmd.Dir = projectPath
		if err := cmd.Start(); err != nil {
			return protocol.ErrorResult("failed to launch flutter: " + err.Error()), nil
		}

		_ = srv.Notify(protocol.NotificationProgress, protocol.ProgressNotificationParams{
			ProgressToken: token, Progress: 1, Total: 1,
		})

		uri := ""
		if port != 0 {
			uri = fmt.Sprintf("ws://127.0.0.1:%d/ws", port)
		}

		result := map[string]any{
			"pid":          cmd.Process.Pid,
			"project_name": lastPathComponent(projectPath),
			"port":         port,
			"uri":          uri,
		}
		body, _ := json.MarshalIndent(result, "", "  ")
		return protocol.TextResult(string(body)), nil
	}
}

func lastPathComponent(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}

// FlutterConnectTool returns the flutter_connect tool definition.
func FlutterConnectTool() protocol.Tool {
	return protocol.Tool{
		Name:        "flutter_connect",
		Description: "Establishes a debug-service session against a running Flutter instance",
		InputSchema: protocol.InputSchema{
			Type: "object",
			Properties: map[string]protocol.ToolProperty{
				"uri":        {Type: "string", Description: "ws:// URI of the target's debug service"},
				"auth_token": {Type: "string", Description: "Auth token, appended to the URI path if supplied"},
			},
			Required: []string{"uri"},
		},
	}
}

// HandleFlutterConnectTool returns a handler bound to session.
func HandleFlutterConnectTool(session *Session) func(map[string]any) (protocol.ToolsCallResult, error) {
	return func(arguments map[string]any) (protocol.ToolsCallResult, error) {
		uri, ok := arguments["uri"].(string)
		if !ok || uri == "" {
			return protocol.ErrorResult("uri is required"), nil
		}
		authToken, _ := arguments["auth_token"].(string)

		ctx, cancel := context.WithTimeout(context.Background(), defaultCallTimeout)
		defer cancel()

		if err := session.Connect(ctx, uri, authToken); err != nil {
			return protocol.ErrorResult("connect failed: " + err.Error()), nil
		}
		body, _ := json.Marshal(map[string]any{"success": true, "uri": uri})
		return protocol.TextResult(string(body)), nil
	}
}

// FlutterDisconnectTool returns the flutter_disconnect tool definition.
func FlutterDisconnectTool() protocol.Tool {
	return protocol.Tool{
		Name:        "flutter_disconnect",
		Description: "Closes the current debug-service session",
		InputSchema: protocol.InputSchema{Type: "object"},
	}
}

// HandleFlutterDisconnectTool returns a handler bound to session.
func HandleFlutterDisconnectTool(session *Session) func(map[string]any) (protocol.ToolsCallResult, error) {
	return func(arguments map[string]any) (protocol.ToolsCallResult, error) {
		if err := session.Disconnect(); err != nil {
			return protocol.ErrorResult("disconnect failed: " + err.Error()), nil
		}
		body, _ := json.Marshal(map[string]any{"success": true})
		return protocol.TextResult(string(body)), nil
	}
}

func intArg(args map[string]any, name string, def int) int {
	v, ok := args[name]
	if !ok {
		return def
	}
	f, ok := v.(float64)
	if !ok {
		return def
	}
	return int(f)
}
