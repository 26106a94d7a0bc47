//go:build linux

package sysprops

import (
	"os"

	"golang.org/x/sys/unix"
)

// setFileContext writes an SELinux label through the security.selinux
// xattr. Kernels without SELinux (or filesystems without the hook) refuse
// the write; callers treat that as non-fatal and proceed untagged.
func setFileContext(f *os.File, context string) error {
	if context == "" {
		return nil
	}
	if err := unix.Fsetxattr(int(f.Fd()), "security.selinux", []byte(context), 0); err != nil {
		return IOf(err, "fsetxattr %s", f.Name())
	}
	return nil
}
