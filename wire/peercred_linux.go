//go:build linux

package wire

import (
	"net"

	"golang.org/x/sys/unix"
)

// peerCredentials reads the connecting process's identity off the socket
// via SO_PEERCRED, which the kernel fills in at connect time and the peer
// cannot forge. Zero credentials are returned when the lookup fails; the
// permission callback decides what to make of that.
func peerCredentials(conn net.Conn) Credentials {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return Credentials{}
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return Credentials{}
	}
	var cred Credentials
	raw.Control(func(fd uintptr) {
		ucred, gerr := unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
		if gerr != nil {
			return
		}
		cred = Credentials{PID: uint32(ucred.Pid), UID: ucred.Uid, GID: ucred.Gid}
	})
	return cred
}
