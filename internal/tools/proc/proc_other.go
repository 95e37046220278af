//go:build !unix

package proc

import "os/exec"

// SetGroupKill is a no-op on platforms without process groups; the default
// CommandContext kill applies to the direct child only.
func SetGroupKill(cmd *exec.Cmd) {}
