// Package mcpclient sources the tool catalog from an MCP server and invokes tools on it.
package mcpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/shoma-endo/lark-mcp-bot/internal/tools"
)

// ErrNotConfigured is returned when no server command was given.
var ErrNotConfigured = errors.New("mcp server is not configured")

const (
	stdioPrefix = "stdio://"
	ssePrefix   = "sse://"
)

// Client is a lazily connected MCP session. A failed connection attempt is not cached:
// the next call dials again.
type Client struct {
	impl   *mcp.Client
	dial   func(ctx context.Context) (mcp.Transport, error)
	logger *slog.Logger

	mu      sync.Mutex
	session *mcp.ClientSession
}

// New builds a client for spec: "stdio://cmd args", a bare command line, an http(s) URL
// (streamable HTTP) or "sse://host/path".
func New(spec string, env []string, logger *slog.Logger) *Client {
	spec = strings.TrimSpace(spec)
	return newClient(func(context.Context) (mcp.Transport, error) {
		return buildTransport(spec, env)
	}, logger)
}

// NewWithTransport uses a ready transport, e.g. an in-memory one.
func NewWithTransport(t mcp.Transport, logger *slog.Logger) *Client {
	return newClient(func(context.Context) (mcp.Transport, error) { return t, nil }, logger)
}

func newClient(dial func(ctx context.Context) (mcp.Transport, error), logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		impl: mcp.NewClient(&mcp.Implementation{
			Name:    "lark-mcp-bot",
			Version: "1.0.0",
		}, nil),
		dial:   dial,
		logger: logger.With("component", "mcp_client"),
	}
}

func (c *Client) ensureSession(ctx context.Context) (*mcp.ClientSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return c.session, nil
	}
	transport, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	session, err := c.impl.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mcp server: %w", err)
	}
	c.logger.Info("connected to mcp server")
	c.session = session
	return session, nil
}

func (c *Client) dropSession(s *mcp.ClientSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == s {
		_ = s.Close()
		c.session = nil
	}
}

// Descriptors lists every tool the server exposes.
func (c *Client) Descriptors(ctx context.Context) ([]tools.Descriptor, error) {
	session, err := c.ensureSession(ctx)
	if err != nil {
		return nil, err
	}
	var out []tools.Descriptor
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			c.dropSession(session)
			return nil, fmt.Errorf("list tools: %w", err)
		}
		out = append(out, tools.Descriptor{
			Name:        tool.Name,
			Description: tool.Description,
			Schema:      schemaMap(tool.InputSchema),
		})
	}
	c.logger.Info("loaded tools from mcp server", "count", len(out))
	return out, nil
}

// Invoke calls the tool and joins its text content.
func (c *Client) Invoke(ctx context.Context, desc tools.Descriptor, args map[string]any) (tools.Result, error) {
	session, err := c.ensureSession(ctx)
	if err != nil {
		return tools.Result{}, err
	}
	result, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      desc.Name,
		Arguments: args,
	})
	if err != nil {
		if ctx.Err() == nil {
			c.dropSession(session)
		}
		return tools.Result{}, fmt.Errorf("call tool %s: %w", desc.Name, err)
	}

	var b strings.Builder
	for _, content := range result.Content {
		if text, ok := content.(*mcp.TextContent); ok {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(text.Text)
		}
	}
	return tools.Result{Content: b.String(), IsError: result.IsError}, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	return err
}

// schemaMap converts whatever schema representation the SDK hands back into a loose map.
func schemaMap(schema any) map[string]any {
	if schema == nil {
		return nil
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

func buildTransport(spec string, env []string) (mcp.Transport, error) {
	if spec == "" {
		return nil, ErrNotConfigured
	}
	lowered := strings.ToLower(spec)
	switch {
	case strings.HasPrefix(lowered, stdioPrefix):
		return commandTransport(spec[len(stdioPrefix):], env)
	case strings.HasPrefix(lowered, ssePrefix):
		endpoint, err := httpEndpoint("https://" + spec[len(ssePrefix):])
		if err != nil {
			return nil, err
		}
		return &mcp.SSEClientTransport{Endpoint: endpoint}, nil
	case strings.HasPrefix(lowered, "http://"), strings.HasPrefix(lowered, "https://"):
		endpoint, err := httpEndpoint(spec)
		if err != nil {
			return nil, err
		}
		return &mcp.StreamableClientTransport{Endpoint: endpoint}, nil
	}
	return commandTransport(spec, env)
}

func commandTransport(cmdline string, env []string) (mcp.Transport, error) {
	parts := strings.Fields(cmdline)
	if len(parts) == 0 {
		return nil, fmt.Errorf("mcp stdio command is empty")
	}
	// The server outlives any single request, so it is not tied to a request context.
	cmd := exec.Command(parts[0], parts[1:]...)
	cmd.Env = append(os.Environ(), env...)
	return &mcp.CommandTransport{Command: cmd}, nil
}

func httpEndpoint(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid mcp endpoint: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid mcp endpoint %q: missing host", raw)
	}
	return u.String(), nil
}
