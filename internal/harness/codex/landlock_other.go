//go:build !linux

package codex

// SupportsLandlock is always false on non-Linux hosts: Landlock is a
// Linux kernel feature, so Codex's sandbox flags can never be trusted
// to confine a child on any other platform.
func SupportsLandlock() bool {
	return false
}
