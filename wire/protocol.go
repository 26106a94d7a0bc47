// Package wire implements the property write protocol: a legacy
// fixed-frame V1 and a variable-length V2 request format sharing one
// Unix-domain socket endpoint, with the client and server halves of both.
package wire

import (
	"fmt"
	"regexp"
	"sync"
)

const (
	PropServiceSocketName          = "property_service"
	PropServiceForSystemSocketName = "property_service_for_system"

	// CmdSetPropV1 and CmdSetPropV2 are the wire command discriminators.
	// The values are fixed: frames must stay byte-compatible with every
	// other implementation speaking this socket.
	CmdSetPropV1 uint32 = 1
	CmdSetPropV2 uint32 = 0x00020001

	// V1 fixed frame field widths.
	v1NameMax  = 32
	v1ValueMax = 92

	// V2 server-side bounds.
	MaxNameLen  = 256
	MaxValueLen = 8192

	StatusSuccess int32 = 0
	StatusError   int32 = -1
)

var validNameChars = regexp.MustCompile(`^[A-Za-z0-9._-]{1,256}$`)

// ValidateName enforces the server-side name character and length rule.
func ValidateName(name string) error {
	if !validNameChars.MatchString(name) {
		return fmt.Errorf("wire: invalid property name %q", name)
	}
	return nil
}

// framePool recycles the small fixed-size buffers used to marshal a V1
// frame, so repeated setprop calls don't allocate one per request.
var framePool = sync.Pool{
	New: func() any {
		buf := make([]byte, v1FrameSize)
		return &buf
	},
}

const v1FrameSize = 4 + v1NameMax + v1ValueMax

func getV1Frame() *[]byte {
	buf := framePool.Get().(*[]byte)
	for i := range *buf {
		(*buf)[i] = 0
	}
	return buf
}

func putV1Frame(buf *[]byte) { framePool.Put(buf) }
