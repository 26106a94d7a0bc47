package wire

import (
	"encoding/binary"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	sysprops "github.com/sirgallo/sysprops"
)

// waitForCloseCap bounds the V1 "wait for the server to close the socket"
// implicit ack. The contract is fragile by design: the historical server
// never sends a status byte under V1, so the client just gives it up to
// this long to hang up and treats timeout as success.
const waitForCloseCap = 250 * time.Millisecond

// Set writes name=value to the property service over a Unix-domain
// socket, using whichever protocol version sysprops.Protocol() resolves
// for this process.
func Set(name, value string) error {
	switch sysprops.Protocol() {
	case sysprops.ProtocolV1:
		return setV1(name, value)
	default:
		return setV2(name, value)
	}
}

// endpointFor routes sys.powerctl to property_service_for_system when it
// is present and writable, falling back to property_service for every
// other name (and when the system socket is absent).
func endpointFor(name string) string {
	dir := sysprops.SocketDir()
	propertyPath := filepath.Join(dir, PropServiceSocketName)
	if name != "sys.powerctl" {
		return propertyPath
	}
	systemPath := filepath.Join(dir, PropServiceForSystemSocketName)
	if info, err := os.Stat(systemPath); err == nil && info.Mode()&0o200 != 0 {
		return systemPath
	}
	return propertyPath
}

func dial(name string) (net.Conn, error) {
	conn, err := net.Dial("unix", endpointFor(name))
	if err != nil {
		return nil, sysprops.IOf(err, "connect to property service for %q", name)
	}
	return conn, nil
}

func setV1(name, value string) error {
	if len(name) >= v1NameMax {
		return sysprops.Validationf("property name %q too long for V1 protocol", name)
	}
	if len(value) >= v1ValueMax {
		return sysprops.Validationf("property value too long for V1 protocol")
	}

	conn, err := dial(name)
	if err != nil {
		return err
	}
	defer conn.Close()

	bufPtr := getV1Frame()
	defer putV1Frame(bufPtr)
	buf := *bufPtr
	binary.LittleEndian.PutUint32(buf[0:4], CmdSetPropV1)
	copy(buf[4:4+v1NameMax], name)
	copy(buf[4+v1NameMax:4+v1NameMax+v1ValueMax], value)

	if _, err := conn.Write(buf); err != nil {
		return sysprops.IOf(err, "write V1 frame")
	}

	waitForSocketClose(conn)
	return nil
}

// waitForSocketClose polls for EOF with a hard cap, treating a timeout as
// success — the V1 de-facto contract, not a bug: the legacy server never
// signals failure over this socket.
func waitForSocketClose(conn net.Conn) {
	deadline := time.Now().Add(waitForCloseCap)
	conn.SetReadDeadline(deadline)
	one := make([]byte, 1)
	for time.Now().Before(deadline) {
		_, err := conn.Read(one)
		if err == io.EOF {
			return
		}
		if err != nil {
			return
		}
	}
}

func setV2(name, value string) error {
	if len(value) >= sysprops.PropValueMax && !strings.HasPrefix(name, "ro.") {
		return sysprops.Validationf("property value too long and %q is not a ro. property", name)
	}

	conn, err := dial(name)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := writeV2Request(conn, name, value); err != nil {
		return err
	}

	var statusBuf [4]byte
	if _, err := io.ReadFull(conn, statusBuf[:]); err != nil {
		return sysprops.IOf(err, "read V2 status")
	}
	status := int32(binary.LittleEndian.Uint32(statusBuf[:]))
	if status != StatusSuccess {
		return sysprops.IOf(nil, "property service returned status %d for %q", status, name)
	}
	return nil
}

func writeV2Request(w io.Writer, name, value string) error {
	header := make([]byte, 4+4+len(name)+4)
	binary.LittleEndian.PutUint32(header[0:4], CmdSetPropV2)
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(name)))
	copy(header[8:8+len(name)], name)
	binary.LittleEndian.PutUint32(header[8+len(name):], uint32(len(value)))
	if _, err := w.Write(header); err != nil {
		return sysprops.IOf(err, "write V2 header")
	}
	if _, err := io.WriteString(w, value); err != nil {
		return sysprops.IOf(err, "write V2 value")
	}
	return nil
}
