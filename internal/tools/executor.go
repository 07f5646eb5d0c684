package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shoma-endo/lark-mcp-bot/internal/llm"
)

// ErrorPrefix marks tool results that describe a failure rather than content.
const ErrorPrefix = "Error: "

// Result is what a remote operation reported.
type Result struct {
	Content string
	IsError bool
}

// Invoker runs a remote operation. Implementations are opaque platform clients.
type Invoker interface {
	Invoke(ctx context.Context, desc Descriptor, args map[string]any) (Result, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, desc Descriptor, args map[string]any) (Result, error)

func (f InvokerFunc) Invoke(ctx context.Context, desc Descriptor, args map[string]any) (Result, error) {
	return f(ctx, desc, args)
}

// Executor dispatches tool calls by name. Failures never escape: they come back as text
// the model can read.
type Executor struct {
	catalog *Catalog
	invoker Invoker
	logger  *slog.Logger
}

func NewExecutor(catalog *Catalog, invoker Invoker, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{catalog: catalog, invoker: invoker, logger: logger.With("component", "tool_executor")}
}

// ExecuteCall normalizes the call's arguments and executes it. Malformed arguments only
// fail this call.
func (e *Executor) ExecuteCall(ctx context.Context, call llm.ToolCall) Result {
	args, err := llm.ParseArguments(call.Function.Arguments)
	if err != nil {
		e.logger.Warn("invalid tool arguments", "tool", call.Function.Name, "call_id", call.ID, "error", err)
		return errorResult("invalid arguments for tool %q: %v", call.Function.Name, err)
	}
	return e.Execute(ctx, call.Function.Name, args)
}

func (e *Executor) Execute(ctx context.Context, name string, args map[string]any) (res Result) {
	name = strings.TrimSpace(name)
	if name == "" {
		return errorResult("tool name is required")
	}
	desc, ok := e.catalog.Lookup(name)
	if !ok {
		e.logger.Warn("tool not found", "tool", name)
		return errorResult("tool %q not found", name)
	}
	if e.invoker == nil {
		return errorResult("tool %q cannot be executed: no tool backend configured", name)
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("tool handler panicked", "tool", name, "panic", r)
			res = errorResult("tool %q failed unexpectedly", name)
		}
	}()

	out, err := e.invoker.Invoke(ctx, desc, args)
	if err != nil {
		e.logger.Error("tool execution failed", "tool", name, "duration", time.Since(start), "error", err)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return errorResult("tool %q timed out", name)
		}
		return errorResult("tool %q failed unexpectedly", name)
	}
	if out.IsError {
		e.logger.Info("tool reported error", "tool", name, "duration", time.Since(start))
		msg := strings.TrimSpace(out.Content)
		if msg == "" {
			msg = fmt.Sprintf("tool %q reported an error", name)
		}
		return Result{Content: ErrorPrefix + msg, IsError: true}
	}
	e.logger.Debug("tool executed", "tool", name, "duration", time.Since(start))
	return Result{Content: out.Content}
}

func errorResult(format string, a ...any) Result {
	return Result{Content: ErrorPrefix + fmt.Sprintf(format, a...), IsError: true}
}
