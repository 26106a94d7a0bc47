//go:build !linux

package sysprops

import "os"

// setFileContext is a no-op off Linux: SELinux labels have no meaning
// there, so areas are simply left untagged.
func setFileContext(*os.File, string) error { return nil }
