package mcpclient

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoma-endo/lark-mcp-bot/internal/tools"
)

func startServer(t *testing.T) *Client {
	t.Helper()
	server := mcp.NewServer(&mcp.Implementation{Name: "lark-test", Version: "test"}, nil)

	server.AddTool(&mcp.Tool{
		Name:        "im_v1_chat_list",
		Description: "List chats the bot is in",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"page_size": map[string]any{"type": "integer"},
			},
		},
	}, func(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args map[string]any
		if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
			return nil, err
		}
		out, _ := json.Marshal(args)
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: "chats:" + string(out)}}}, nil
	})
	server.AddTool(&mcp.Tool{
		Name:        "im_v1_message_create",
		Description: "Send a message",
		InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
	}, func(context.Context, *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{&mcp.TextContent{Text: "no permission"}},
		}, nil
	})

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	ctx, cancel := context.WithCancel(context.Background())
	ss, err := server.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)

	c := NewWithTransport(clientTransport, nil)
	t.Cleanup(func() {
		_ = c.Close()
		_ = ss.Close()
		cancel()
	})
	return c
}

func TestClient_DescriptorsAndInvoke(t *testing.T) {
	c := startServer(t)
	ctx := context.Background()

	descs, err := c.Descriptors(ctx)
	require.NoError(t, err)
	require.Len(t, descs, 2)

	byName := map[string]tools.Descriptor{}
	for _, d := range descs {
		byName[d.Name] = d
	}
	list := byName["im_v1_chat_list"]
	assert.Equal(t, "List chats the bot is in", list.Description)
	assert.Equal(t, "object", list.Schema["type"])
	assert.Contains(t, list.Schema["properties"], "page_size")

	res, err := c.Invoke(ctx, list, map[string]any{"page_size": 5})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, `chats:{"page_size":5}`, res.Content)

	res, err = c.Invoke(ctx, byName["im_v1_message_create"], nil)
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "no permission", res.Content)
}

func TestClient_WorksWithExecutor(t *testing.T) {
	c := startServer(t)
	descs, err := c.Descriptors(context.Background())
	require.NoError(t, err)

	catalog := tools.NewCatalog(descs, tools.Filter{EnabledPrefixes: []string{"im_v1_chat"}})
	exec := tools.NewExecutor(catalog, c, nil)

	res := exec.Execute(context.Background(), "im_v1_chat_list", map[string]any{"page_size": 1})
	assert.False(t, res.IsError)

	res = exec.Execute(context.Background(), "im_v1_message_create", nil)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, "not found")
}

func TestBuildTransport(t *testing.T) {
	_, err := buildTransport("", nil)
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = buildTransport("stdio://   ", nil)
	assert.Error(t, err)

	tr, err := buildTransport("stdio://npx -y @larksuiteoapi/lark-mcp mcp", nil)
	require.NoError(t, err)
	cmd, ok := tr.(*mcp.CommandTransport)
	require.True(t, ok)
	assert.Equal(t, []string{"npx", "-y", "@larksuiteoapi/lark-mcp", "mcp"}, cmd.Command.Args)

	tr, err = buildTransport("https://mcp.example.com/mcp", nil)
	require.NoError(t, err)
	assert.IsType(t, &mcp.StreamableClientTransport{}, tr)

	tr, err = buildTransport("sse://mcp.example.com/sse", nil)
	require.NoError(t, err)
	sse, ok := tr.(*mcp.SSEClientTransport)
	require.True(t, ok)
	assert.Equal(t, "https://mcp.example.com/sse", sse.Endpoint)

	_, err = buildTransport("http://", nil)
	assert.Error(t, err)
}

func TestSchemaMap(t *testing.T) {
	assert.Nil(t, schemaMap(nil))
	assert.Equal(t, map[string]any{"type": "object"}, schemaMap(json.RawMessage(`{"type":"object"}`)))
}
