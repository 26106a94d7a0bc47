package wire

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	sysprops "github.com/sirgallo/sysprops"
)

// PropertyMessage is forwarded on the observer channel whenever a write
// completes, so a process embedding the Server can react to changes such
// as sys.powerctl.
type PropertyMessage struct {
	Key   string
	Value string
}

// Credentials identifies the process behind a write request, read off the
// socket via SO_PEERCRED where the platform supports it.
type Credentials struct {
	PID uint32
	UID uint32
	GID uint32
}

// PermissionCheck is the external policy hook: the service invokes it
// with the property's resolved security context and the caller's socket
// credentials before applying a change. The decision itself is the
// embedder's business — a production deployment plugs in a real SELinux
// check.
type PermissionCheck func(name, value, context string, cred Credentials) error

// Server accepts connections on both write-protocol endpoints and applies
// validated requests to an underlying write-capable System.
type Server struct {
	sys     *sysprops.System
	checker PermissionCheck

	propertyListener net.Listener
	systemListener   net.Listener

	observers chan PropertyMessage
}

// NewServer binds both Unix-domain socket endpoints under
// sysprops.SocketDir(), removing stale socket files left by a previous
// run.
func NewServer(sys *sysprops.System, checker PermissionCheck) (*Server, error) {
	dir := sysprops.SocketDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, sysprops.IOf(err, "create socket dir %s", dir)
	}

	propertyPath := filepath.Join(dir, PropServiceSocketName)
	systemPath := filepath.Join(dir, PropServiceForSystemSocketName)
	os.Remove(propertyPath)
	os.Remove(systemPath)

	pl, err := net.Listen("unix", propertyPath)
	if err != nil {
		return nil, sysprops.IOf(err, "bind %s", propertyPath)
	}
	sl, err := net.Listen("unix", systemPath)
	if err != nil {
		pl.Close()
		return nil, sysprops.IOf(err, "bind %s", systemPath)
	}

	return &Server{
		sys:              sys,
		checker:          checker,
		propertyListener: pl,
		systemListener:   sl,
		observers:        make(chan PropertyMessage, 64),
	}, nil
}

// Observers yields every successfully applied (name, value) write.
func (s *Server) Observers() <-chan PropertyMessage { return s.observers }

// Run serves both listeners until ctx is cancelled or either accept loop
// fails, dispatching each accepted connection to its own goroutine.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.acceptLoop(ctx, s.propertyListener) })
	g.Go(func() error { return s.acceptLoop(ctx, s.systemListener) })
	return g.Wait()
}

// Close unbinds both listeners and removes their socket files.
func (s *Server) Close() error {
	err1 := s.propertyListener.Close()
	err2 := s.systemListener.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *Server) acceptLoop(ctx context.Context, l net.Listener) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			l.Close()
		case <-done:
		}
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			sysprops.Log().Errorw("accept failed", "addr", l.Addr(), "error", err)
			return sysprops.IOf(err, "accept on %s", l.Addr())
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	cred := peerCredentials(conn)
	var cmdBuf [4]byte
	if _, err := io.ReadFull(conn, cmdBuf[:]); err != nil {
		return
	}
	switch binary.LittleEndian.Uint32(cmdBuf[:]) {
	case CmdSetPropV1:
		s.handleV1(conn, cred)
	case CmdSetPropV2:
		s.handleV2(conn, cred)
	}
}

// handleV1 never writes a status byte — the historical V1 server does not
// signal failure over the socket; it simply applies the request (if
// well-formed and permitted) and closes, which the client observes as an
// implicit ack.
func (s *Server) handleV1(conn net.Conn, cred Credentials) {
	buf := make([]byte, v1NameMax+v1ValueMax)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return
	}
	name := cstr(buf[:v1NameMax])
	value := cstr(buf[v1NameMax:])
	if err := ValidateName(name); err != nil {
		return
	}
	_ = s.apply(name, value, cred)
}

func (s *Server) handleV2(conn net.Conn, cred Credentials) {
	status := s.processV2(conn, cred)
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(status))
	conn.Write(buf[:])
}

func (s *Server) processV2(conn net.Conn, cred Credentials) int32 {
	name, err := readV2String(conn, MaxNameLen)
	if err != nil {
		return StatusError
	}
	if err := ValidateName(name); err != nil {
		return StatusError
	}
	value, err := readV2String(conn, MaxValueLen)
	if err != nil {
		return StatusError
	}
	// Long values are only storable for ro. names.
	if len(value) >= sysprops.PropValueMax && !strings.HasPrefix(name, "ro.") {
		return StatusError
	}
	if err := s.apply(name, value, cred); err != nil {
		return StatusError
	}
	return StatusSuccess
}

// apply runs the policy hook, then finds an existing property and updates
// it, or adds a new one.
func (s *Server) apply(name, value string, cred Credentials) error {
	if s.checker != nil {
		context := s.sys.ContextForName(name)
		if err := s.checker(name, value, context, cred); err != nil {
			sysprops.Log().Warnw("permission check denied write", "name", name, "uid", cred.UID, "error", err)
			return err
		}
	}
	idx, err := s.sys.Find(name)
	if err != nil {
		if sysprops.KindOf(err) != sysprops.KindNotFound {
			return err
		}
		if err := s.sys.Add(name, value); err != nil {
			return err
		}
	} else {
		if _, err := s.sys.Update(idx, value); err != nil {
			return err
		}
	}
	sysprops.Log().Debugw("applied property write", "name", name)

	select {
	case s.observers <- PropertyMessage{Key: name, Value: value}:
	default:
		sysprops.Log().Warnw("observer channel full, dropping message", "name", name)
	}
	return nil
}

func readV2String(r io.Reader, max int) (string, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if int(n) > max {
		return "", fmt.Errorf("wire: length %d exceeds limit %d", n, max)
	}
	buf := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
	}
	return string(buf), nil
}

func cstr(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
