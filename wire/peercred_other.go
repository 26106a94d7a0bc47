//go:build !linux

package wire

import "net"

// peerCredentials has no portable equivalent of SO_PEERCRED off Linux;
// the permission callback receives zero credentials there.
func peerCredentials(net.Conn) Credentials { return Credentials{} }
