//go:build linux

package codex

import "golang.org/x/sys/unix"

// landlockCreateRuleset and landlockCreateRulesetVersion are the raw
// syscall number and flag for probing Landlock ABI support. They are
// not yet exposed as named constants in every golang.org/x/sys/unix
// build this module targets, so the probe uses the raw values directly
// (arch-independent: Landlock syscall numbers match across amd64/arm64).
const (
	landlockCreateRuleset        = 444
	landlockCreateRulesetVersion = 1 << 0
)

// landlockABI probes the running kernel's Landlock ABI version via the
// landlock_create_ruleset syscall with no attributes, the standard way
// to query support without creating a ruleset. Codex's own sandboxing
// relies on Landlock/seccomp on Linux; Spindle only needs to know
// whether the host kernel can support it at all before trusting a
// non-readonly sandbox flag to actually confine the child.
func landlockABI() int {
	abi, _, errno := unix.Syscall(landlockCreateRuleset, 0, 0, landlockCreateRulesetVersion)
	if errno != 0 {
		return 0
	}
	return int(abi)
}

// SupportsLandlock reports whether the host kernel exposes a usable
// Landlock ABI, used by the supervisor to decide whether Codex's
// sandbox flags can be trusted to actually confine a child process or
// whether ResolveSandbox substitutes danger-full-access instead.
func SupportsLandlock() bool {
	return landlockABI() > 0
}
