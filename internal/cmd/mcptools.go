package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/spindle-run/spindle/internal/tools"
)

// registerTools binds every operation in internal/tools onto mcpServer
// as an MCP tool, one mcp.NewTool/AddTool pair per operation, since
// internal/tools deliberately exposes no MCP-shaped API of its own.
func registerTools(mcpServer *server.MCPServer, surface *tools.Surface) {
	mcpServer.AddTool(mcp.NewTool("spin",
		mcp.WithDescription("Admit and launch a new delegated coding-agent run, returning its spool id immediately."),
		mcp.WithString("prompt", mcp.Required(), mcp.Description("The task prompt given to the child agent.")),
		mcp.WithString("harness", mcp.Description("Which harness to run: claude, codex, or generic. Defaults to the configured default.")),
		mcp.WithString("permission", mcp.Description("Permission profile: readonly, careful, full, shard, or careful+shard. Defaults to the configured default.")),
		mcp.WithString("shard", mcp.Description("Repository path to fork an isolated git worktree shard from. Omit to run in working_dir directly.")),
		mcp.WithString("shard_preset", mcp.Description("Named seed template applied to a freshly created shard.")),
		mcp.WithString("system_prompt", mcp.Description("Appended to the harness's system prompt.")),
		mcp.WithString("working_dir", mcp.Description("Directory the child process runs in. Required by harnesses that need a working tree if shard is not set.")),
		mcp.WithString("allowed_tools", mcp.Description("Comma-separated tool allowlist passed to the harness.")),
		mcp.WithString("tags", mcp.Description("Comma-separated free-form tags stored on the spool record.")),
		mcp.WithString("model", mcp.Description("Model override passed to the harness.")),
		mcp.WithNumber("timeout_secs", mcp.Description("Kill the child if it runs longer than this many seconds.")),
	), handleSpin(surface))

	mcpServer.AddTool(mcp.NewTool("unspool",
		mcp.WithDescription("Fetch a single spool record by id."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Spool id.")),
	), handleUnspool(surface))

	mcpServer.AddTool(mcp.NewTool("spools",
		mcp.WithDescription("List every spool record, most recently created first."),
	), handleSpools(surface))

	mcpServer.AddTool(mcp.NewTool("spin_wait",
		mcp.WithDescription("Block until every named spool reaches a terminal status, or stream them as they finish."),
		mcp.WithArray("ids", mcp.Required(), mcp.Description("Spool ids to wait on.")),
		mcp.WithString("mode", mcp.Description("gather (default, wait for all) or stream (yield as each finishes).")),
		mcp.WithNumber("timeout_secs", mcp.Description("Give up after this many seconds (0 = no timeout).")),
	), handleSpinWait(surface))

	mcpServer.AddTool(mcp.NewTool("respin",
		mcp.WithDescription("Continue the most recent spool with the given harness session id using a new prompt, resuming its conversation."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Harness-native session id to resume.")),
		mcp.WithString("prompt", mcp.Required(), mcp.Description("Follow-up prompt.")),
	), handleRespin(surface))

	mcpServer.AddTool(mcp.NewTool("spin_drop",
		mcp.WithDescription("Kill a running spool's child process and mark it killed."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Spool id.")),
	), handleSpinDrop(surface))

	mcpServer.AddTool(mcp.NewTool("spool_peek",
		mcp.WithDescription("Read up to the last N lines of a spool's live stdout sink without disturbing it."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Spool id.")),
		mcp.WithNumber("lines", mcp.Description("Number of trailing lines to return (0 = whole sink).")),
	), handleSpoolPeek(surface))

	mcpServer.AddTool(mcp.NewTool("spool_retry",
		mcp.WithDescription("Re-launch a terminal spool's original prompt as a new spool, without session continuation."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Spool id to retry.")),
	), handleSpoolRetry(surface))

	mcpServer.AddTool(mcp.NewTool("shard_status",
		mcp.WithDescription("Report a spool's shard branch, worktree presence, cleanliness, and divergence from its fork point."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Spool id.")),
	), handleShardStatus(surface))

	mcpServer.AddTool(mcp.NewTool("shard_merge",
		mcp.WithDescription("Merge a spool's shard branch back into the repository it was forked from."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Spool id.")),
		mcp.WithString("message", mcp.Description("Merge commit message.")),
		mcp.WithBoolean("keep_branch", mcp.Description("Keep the shard's worktree and branch after a clean merge instead of tearing it down.")),
	), handleShardMerge(surface))

	mcpServer.AddTool(mcp.NewTool("shard_abandon",
		mcp.WithDescription("Tear down a spool's shard worktree, optionally keeping its branch."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Spool id.")),
		mcp.WithBoolean("keep_branch", mcp.Description("Keep the shard's git branch after removing its worktree.")),
	), handleShardAbandon(surface))
}

func handleSpin(s *tools.Surface) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		in := tools.SpinInput{
			Prompt:       stringArg(args, "prompt", ""),
			Harness:      stringArg(args, "harness", ""),
			Permission:   stringArg(args, "permission", ""),
			Shard:        stringArg(args, "shard", ""),
			ShardPreset:  stringArg(args, "shard_preset", ""),
			SystemPrompt: stringArg(args, "system_prompt", ""),
			WorkingDir:   stringArg(args, "working_dir", ""),
			AllowedTools: stringArg(args, "allowed_tools", ""),
			Tags:         stringArg(args, "tags", ""),
			Model:        stringArg(args, "model", ""),
			TimeoutSecs:  intArg(args, "timeout_secs", 0),
		}
		id, err := s.Spin(ctx, in)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(id), nil
	}
}

func handleUnspool(s *tools.Surface) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := stringArg(req.GetArguments(), "id", "")
		sp, err := s.Unspool(id)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(sp)
	}
}

func handleSpools(s *tools.Surface) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		all, err := s.Spools()
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(all)
	}
}

func handleSpinWait(s *tools.Surface) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		ids := stringSliceArg(args, "ids")
		mode := tools.SpinWaitMode(stringArg(args, "mode", string(tools.ModeGather)))
		timeout := time.Duration(intArg(args, "timeout_secs", 0)) * time.Second

		results, err := s.SpinWait(ctx, ids, mode, timeout)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(results)
	}
}

func handleRespin(s *tools.Surface) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		id, err := s.Respin(ctx, stringArg(args, "session_id", ""), stringArg(args, "prompt", ""))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(id), nil
	}
}

func handleSpinDrop(s *tools.Surface) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := stringArg(req.GetArguments(), "id", "")
		if err := s.SpinDrop(id); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText("dropped"), nil
	}
}

func handleSpoolPeek(s *tools.Surface) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		text, err := s.SpoolPeek(stringArg(args, "id", ""), intArg(args, "lines", 0))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(text), nil
	}
}

func handleSpoolRetry(s *tools.Surface) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := s.SpoolRetry(ctx, stringArg(req.GetArguments(), "id", ""))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(id), nil
	}
}

func handleShardStatus(s *tools.Surface) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, err := s.ShardStatus(stringArg(req.GetArguments(), "id", ""))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(result)
	}
}

func handleShardMerge(s *tools.Surface) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		result, err := s.ShardMerge(stringArg(args, "id", ""), stringArg(args, "message", ""), boolArg(args, "keep_branch", false))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(result)
	}
}

func handleShardAbandon(s *tools.Surface) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		if err := s.ShardAbandon(stringArg(args, "id", ""), boolArg(args, "keep_branch", false)); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText("abandoned"), nil
	}
}

// jsonResult marshals v as the tool's text result, the JSON-over-text
// shape every result in this file other than bare ids uses.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func stringArg(args map[string]any, key, def string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return def
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func boolArg(args map[string]any, key string, def bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return def
}

func stringSliceArg(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
