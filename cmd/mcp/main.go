// Command mcp runs the Flutter debug-service bridge: an MCP server
// that speaks newline-delimited JSON-RPC on stdio and translates tool
// calls into debug-service operations against a connected target.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/richard-senior/mcp/internal/logger"
	"github.com/richard-senior/mcp/pkg/server"
	"github.com/richard-senior/mcp/pkg/tools"
	"github.com/richard-senior/mcp/pkg/transport"
)

const (
	serverName    = "flutter-bridge-mcp"
	serverVersion = "0.1.0"
)

func main() {
	logLevel := flag.String("log-level", "info", "Logging level: debug, info, warn, or error")
	logOutput := flag.String("log-output", "c", "Log destination: 'c' for stderr, 'f' for a log file")
	flag.Parse()

	logger.SetShowDateTime(true)
	logger.SetLevel(logger.ParseLevel(*logLevel))
	if len(*logOutput) > 0 {
		logger.SetLogOutput(rune((*logOutput)[0]))
	}

	logger.Info("starting", serverName, serverVersion)

	tr := transport.NewStdioTransport(os.Stdin, os.Stdout, nil)
	srv := server.New(tr, serverName, serverVersion)

	session := tools.NewSession()
	tools.RegisterAll(srv, session)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-stop
		logger.Info("received signal, shutting down:", sig.String())
		_ = session.Disconnect()
		_ = tr.Close()
		// os.Stdin can't be closed portably, so srv.Run()'s scanner stays
		// parked in Scan() forever; exit directly rather than waiting for
		// it to notice the transport is closed.
		os.Exit(0)
	}()

	if err := srv.Run(); err != nil {
		logger.Error("server exited with error:", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger.Info(serverName, "stopped cleanly")
	os.Exit(0)
}
