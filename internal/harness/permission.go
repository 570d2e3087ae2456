package harness

// claudeAllowedToolsByPermission maps a permission profile to the
// comma-separated --allowedTools value Claude Code expects, used when
// the spool didn't supply allowed_tools explicitly. The table is
// intentionally small and fixed; there is no dynamic policy engine.
var claudeAllowedToolsByPermission = map[string]string{
	"readonly":      "Read,Grep,Glob",
	"careful":       "Read,Grep,Glob,Edit,Write",
	"full":          "",
	"shard":         "",
	"careful+shard": "Read,Grep,Glob,Edit,Write",
}

// ResolveClaudeAllowedTools returns explicit if non-empty, otherwise the
// table entry for permission ("" for full/shard, meaning "no restriction").
func ResolveClaudeAllowedTools(permission, explicit string) string {
	if explicit != "" {
		return explicit
	}
	return claudeAllowedToolsByPermission[permission]
}

// CodexSandboxFlag maps a permission profile to the codex --sandbox
// value.
func CodexSandboxFlag(permission string) string {
	switch permission {
	case "readonly":
		return "read-only"
	case "careful":
		return "workspace-write"
	case "full", "shard", "careful+shard":
		return "danger-full-access"
	default:
		return "read-only"
	}
}
