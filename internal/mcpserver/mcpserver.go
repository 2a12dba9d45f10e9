// Package mcpserver exposes the sandbox API as MCP tools so LLM agents can
// drive sessions, execute commands, and touch the workspace over the same
// authenticated transport as the HTTP API.
package mcpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/wardenhq/warden/internal/auth"
	"github.com/wardenhq/warden/internal/executor"
	"github.com/wardenhq/warden/internal/registry"
	"github.com/wardenhq/warden/internal/workspace"
)

type contextKey string

const userIDKey contextKey = "user_id"

// Deps collects the core components the MCP tools delegate to. It is the
// same set the HTTP handlers use, so a tool call and an HTTP request
// resolve to identical semantics.
type Deps struct {
	Registry       *registry.Registry
	Executor       *executor.Executor
	Gateway        *workspace.Gateway
	Auth           *auth.Resolver
	DefaultImage   string
	MaxExecTimeout time.Duration
}

// New builds an MCP server exposing session, execute, and workspace tools,
// and wraps it in a StreamableHTTPServer ready to be mounted as an
// http.Handler. Every tool call is authenticated the same way an HTTP
// request is: via deps.Auth against the incoming request's headers.
func New(deps Deps) http.Handler {
	s := server.NewMCPServer("warden-sandbox", "1.0.0")

	registerSessionTools(s, deps)
	registerExecuteTool(s, deps)
	registerWorkspaceTools(s, deps)

	httpServer := server.NewStreamableHTTPServer(s,
		server.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			user, err := deps.Auth.Authenticate(r)
			if err != nil {
				return ctx
			}
			return context.WithValue(ctx, userIDKey, user)
		}),
	)
	return httpServer
}

func userFromContext(ctx context.Context) (string, error) {
	user, _ := ctx.Value(userIDKey).(string)
	if user == "" {
		return "", auth.ErrUnauthenticated
	}
	return user, nil
}

func errResult(err error) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(err.Error()), nil
}

func registerSessionTools(s *server.MCPServer, deps Deps) {
	createTool := mcp.NewTool("create_session",
		mcp.WithDescription("Create or reuse a sandbox session (container). Idempotent for the same session_id."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Opaque session identifier")),
		mcp.WithString("image", mcp.Description("Container image override; defaults to the server's configured image")),
	)
	s.AddTool(createTool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		user, err := userFromContext(ctx)
		if err != nil {
			return errResult(err)
		}
		sid, err := req.RequireString("session_id")
		if err != nil {
			return errResult(err)
		}
		image := req.GetString("image", deps.DefaultImage)

		containerID, err := deps.Registry.ResolveOrCreate(ctx, user, sid, image)
		if err != nil {
			return errResult(err)
		}
		return mcp.NewToolResultText(fmt.Sprintf(`{"session_id":%q,"container_id":%q}`, sid, shortID(containerID))), nil
	})

	deleteTool := mcp.NewTool("delete_session",
		mcp.WithDescription("Tear down a session: stop its container and remove its binding."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Opaque session identifier")),
	)
	s.AddTool(deleteTool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		user, err := userFromContext(ctx)
		if err != nil {
			return errResult(err)
		}
		sid, err := req.RequireString("session_id")
		if err != nil {
			return errResult(err)
		}
		if err := deps.Registry.Destroy(ctx, user, sid); err != nil {
			return errResult(err)
		}
		// As on the HTTP surface, a persistent volume is removed on explicit
		// session delete; a failure here does not fail the delete.
		_ = deps.Registry.DestroyVolume(ctx, user, sid)
		return mcp.NewToolResultText(fmt.Sprintf(`{"status":"deleted","session_id":%q}`, sid)), nil
	})
}

func registerExecuteTool(s *server.MCPServer, deps Deps) {
	tool := mcp.NewTool("execute",
		mcp.WithDescription("Run a whitelisted command in the session's container and return its output."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Opaque session identifier")),
		mcp.WithString("command", mcp.Required(), mcp.Description("Command line; argv[0] must be on the allowed-commands list")),
		mcp.WithNumber("timeout", mcp.Description("Wall-clock timeout in seconds")),
		mcp.WithString("working_dir", mcp.Description("Absolute working directory inside the container; must start with /workspace or /tmp (default /workspace)")),
	)
	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		user, err := userFromContext(ctx)
		if err != nil {
			return errResult(err)
		}
		sid, err := req.RequireString("session_id")
		if err != nil {
			return errResult(err)
		}
		cmdLine, err := req.RequireString("command")
		if err != nil {
			return errResult(err)
		}
		workingDir := req.GetString("working_dir", "/workspace")
		timeoutSecs := req.GetFloat("timeout", 30)
		timeout := time.Duration(timeoutSecs) * time.Second
		if timeout <= 0 || timeout > deps.MaxExecTimeout {
			timeout = deps.MaxExecTimeout
		}

		res, err := deps.Executor.Execute(ctx, user, sid, cmdLine, workingDir, timeout)
		if err != nil {
			return errResult(err)
		}
		return mcp.NewToolResultText(fmt.Sprintf(
			`{"exit_code":%d,"stdout":%q,"stderr":%q,"duration_ms":%d,"timed_out":%t,"truncated":%t}`,
			res.ExitCode, res.Stdout, res.Stderr, res.DurationMs, res.TimedOut, res.Truncated,
		)), nil
	})
}

func registerWorkspaceTools(s *server.MCPServer, deps Deps) {
	listTool := mcp.NewTool("workspace_list",
		mcp.WithDescription("List directory entries at path, relative to /workspace. Use an empty path for the workspace root."),
		mcp.WithString("session_id", mcp.Required()),
		mcp.WithString("path", mcp.Description("Relative directory path; empty for the workspace root")),
	)
	s.AddTool(listTool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		user, err := userFromContext(ctx)
		if err != nil {
			return errResult(err)
		}
		sid, err := req.RequireString("session_id")
		if err != nil {
			return errResult(err)
		}
		path := req.GetString("path", "")

		entries, err := deps.Gateway.List(ctx, user, sid, path)
		if err != nil {
			return errResult(err)
		}
		return mcp.NewToolResultText(formatEntries(entries)), nil
	})

	readTool := mcp.NewTool("workspace_read",
		mcp.WithDescription("Read a file at path, relative to /workspace. Returns content and encoding (utf8 or base64)."),
		mcp.WithString("session_id", mcp.Required()),
		mcp.WithString("path", mcp.Required()),
	)
	s.AddTool(readTool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		user, err := userFromContext(ctx)
		if err != nil {
			return errResult(err)
		}
		sid, err := req.RequireString("session_id")
		if err != nil {
			return errResult(err)
		}
		path, err := req.RequireString("path")
		if err != nil {
			return errResult(err)
		}

		result, err := deps.Gateway.Read(ctx, user, sid, path)
		if err != nil {
			return errResult(err)
		}
		return mcp.NewToolResultText(fmt.Sprintf(`{"content":%q,"encoding":%q}`, result.Content, result.Encoding)), nil
	})

	writeTool := mcp.NewTool("workspace_write",
		mcp.WithDescription("Write content to a file at path, relative to /workspace. Creates parent directories as needed."),
		mcp.WithString("session_id", mcp.Required()),
		mcp.WithString("path", mcp.Required()),
		mcp.WithString("content", mcp.Required()),
	)
	s.AddTool(writeTool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		user, err := userFromContext(ctx)
		if err != nil {
			return errResult(err)
		}
		sid, err := req.RequireString("session_id")
		if err != nil {
			return errResult(err)
		}
		path, err := req.RequireString("path")
		if err != nil {
			return errResult(err)
		}
		content, err := req.RequireString("content")
		if err != nil {
			return errResult(err)
		}

		if err := deps.Gateway.Write(ctx, user, sid, path, []byte(content)); err != nil {
			return errResult(err)
		}
		return mcp.NewToolResultText(fmt.Sprintf(`{"status":"written","path":%q}`, path)), nil
	})

	deleteTool := mcp.NewTool("workspace_delete",
		mcp.WithDescription("Delete a file or directory at path, relative to /workspace."),
		mcp.WithString("session_id", mcp.Required()),
		mcp.WithString("path", mcp.Required()),
	)
	s.AddTool(deleteTool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		user, err := userFromContext(ctx)
		if err != nil {
			return errResult(err)
		}
		sid, err := req.RequireString("session_id")
		if err != nil {
			return errResult(err)
		}
		path, err := req.RequireString("path")
		if err != nil {
			return errResult(err)
		}

		if err := deps.Gateway.Delete(ctx, user, sid, path); err != nil {
			return errResult(err)
		}
		return mcp.NewToolResultText(fmt.Sprintf(`{"status":"deleted","path":%q}`, path)), nil
	})
}

func formatEntries(entries []workspace.Entry) string {
	out := `{"entries":[`
	for i, e := range entries {
		if i > 0 {
			out += ","
		}
		typ := "file"
		if e.IsDir {
			typ = "dir"
		}
		out += fmt.Sprintf(`{"name":%q,"type":%q}`, e.Name, typ)
	}
	return out + "]}"
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
