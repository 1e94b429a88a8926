// Package tools defines the MCP tools surfaced by tools/list and wires
// their handlers to the debug client, inspector, and interaction driver.
package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/richard-senior/mcp/internal/debugclient"
	"github.com/richard-senior/mcp/internal/inspector"
	"github.com/richard-senior/mcp/internal/interaction"
)

// Session holds the single debug-service connection a tool call acts
// against. Exactly one Session is constructed in cmd/mcp and its
// methods are closed over by every tool handler.
type Session struct {
	mu         sync.Mutex
	client     *debugclient.Client
	inspector  *inspector.Inspector
	driver     *interaction.Driver
	connectURI string
}

// NewSession creates an empty, disconnected session.
func NewSession() *Session {
	return &Session{}
}

// Connect establishes the debug-service connection. Reconnecting while
// already connected disconnects the old session first.
func (s *Session) Connect(ctx context.Context, uri, authToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		_ = s.client.Disconnect()
	}

	client := debugclient.New(debugclient.DefaultTimeout)
	if err := client.Connect(ctx, uri, authToken); err != nil {
		return err
	}
	if err := client.StreamListen(ctx, "Extension"); err != nil {
		return fmt.Errorf("failed to subscribe to Extension stream: %w", err)
	}

	s.client = client
	s.inspector = inspector.New(client)
	s.driver = interaction.New(client)
	s.connectURI = uri
	return nil
}

// Disconnect tears down the current connection, if any.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return nil
	}
	err := s.client.Disconnect()
	s.client = nil
	s.inspector = nil
	s.driver = nil
	s.connectURI = ""
	return err
}

// require returns the active client/inspector/driver triple, or an
// error if no session is connected.
func (s *Session) require() (*debugclient.Client, *inspector.Inspector, *interaction.Driver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil, nil, nil, fmt.Errorf("not connected")
	}
	return s.client, s.inspector, s.driver, nil
}

// waitIdleBestEffort gives the target a brief window to settle after an
// interaction. A timeout here is not an error: idleness is a courtesy
// wait, not a precondition for the next call.
func waitIdleBestEffort(ctx context.Context, driver *interaction.Driver) {
	const idleTimeout = 2 * time.Second
	driver.WaitUntilIdle(ctx, idleTimeout)
}
