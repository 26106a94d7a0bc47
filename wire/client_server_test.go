package wire

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	sysprops "github.com/sirgallo/sysprops"
	"github.com/sirgallo/sysprops/builder"
)

// TestMain pins the process-wide socket directory to a private temp dir
// before any test touches sysprops.SocketDir()'s lazily-initialized Config,
// so every test in this package shares one socket directory without racing
// Init's one-shot semantics.
func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "wire-test-sockets")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(dir)
	os.Setenv("PROPERTY_SERVICE_SOCKET_DIR", dir)
	os.Exit(m.Run())
}

func newTestSystem(t *testing.T) *sysprops.System {
	t.Helper()
	dir := t.TempDir()
	rules := []builder.Rule{
		{Name: "ro.", Context: "u:object_r:build_prop:s0", Type: "string"},
	}
	data, err := builder.Build(rules, "u:object_r:default_prop:s0", "string")
	if err != nil {
		t.Fatalf("builder.Build: %v", err)
	}
	if err := builder.WriteInfoFile(filepath.Join(dir, sysprops.InfoAreaFileName), data); err != nil {
		t.Fatalf("WriteInfoFile: %v", err)
	}
	sys, err := sysprops.OpenForService(dir)
	if err != nil {
		t.Fatalf("OpenForService: %v", err)
	}
	t.Cleanup(func() { sys.Close() })
	return sys
}

func newTestServer(t *testing.T, checker PermissionCheck) *Server {
	t.Helper()
	sys := newTestSystem(t)
	srv, err := NewServer(sys, checker)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		srv.Close()
		<-done
	})
	return srv
}

func TestV1SetRoundTrip(t *testing.T) {
	os.Setenv("PROPERTY_SERVICE_VERSION", "1")
	defer os.Unsetenv("PROPERTY_SERVICE_VERSION")

	srv := newTestServer(t, nil)
	if err := Set("persist.sys.usb.config", "adb"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	select {
	case msg := <-srv.Observers():
		if msg.Key != "persist.sys.usb.config" || msg.Value != "adb" {
			t.Errorf("got %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("observer did not receive applied write")
	}
}

func TestV2SetRoundTrip(t *testing.T) {
	os.Setenv("PROPERTY_SERVICE_VERSION", "2")
	defer os.Unsetenv("PROPERTY_SERVICE_VERSION")

	srv := newTestServer(t, nil)
	if err := Set("persist.sys.locale", "en-US"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	select {
	case msg := <-srv.Observers():
		if msg.Key != "persist.sys.locale" || msg.Value != "en-US" {
			t.Errorf("got %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("observer did not receive applied write")
	}
}

func TestV2SetRejectedByPermissionCheck(t *testing.T) {
	os.Setenv("PROPERTY_SERVICE_VERSION", "2")
	defer os.Unsetenv("PROPERTY_SERVICE_VERSION")

	denyAll := func(name, value, context string, cred Credentials) error {
		return sysprops.Permissionf("denied: %s", name)
	}
	newTestServer(t, denyAll)

	if err := Set("persist.sys.denied", "x"); err == nil {
		t.Fatal("expected error for permission-denied write")
	}
}

func TestPermissionCheckReceivesContextAndCredentials(t *testing.T) {
	os.Setenv("PROPERTY_SERVICE_VERSION", "2")
	defer os.Unsetenv("PROPERTY_SERVICE_VERSION")

	type observed struct {
		context string
		cred    Credentials
	}
	got := make(chan observed, 1)
	checker := func(name, value, context string, cred Credentials) error {
		got <- observed{context: context, cred: cred}
		return nil
	}
	newTestServer(t, checker)

	if err := Set("ro.build.type", "user"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	select {
	case o := <-got:
		if o.context != "u:object_r:build_prop:s0" {
			t.Errorf("checker context = %q, want %q", o.context, "u:object_r:build_prop:s0")
		}
		if runtime.GOOS == "linux" && o.cred.UID != uint32(os.Getuid()) {
			t.Errorf("checker uid = %d, want %d", o.cred.UID, os.Getuid())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("checker was not invoked")
	}
}

func TestV2SetRejectsLongValueOnNonRoName(t *testing.T) {
	os.Setenv("PROPERTY_SERVICE_VERSION", "2")
	defer os.Unsetenv("PROPERTY_SERVICE_VERSION")

	newTestServer(t, nil)

	long := make([]byte, 200)
	for i := range long {
		long[i] = 'x'
	}
	if err := Set("persist.sys.toolong", string(long)); err == nil {
		t.Fatal("expected client-side rejection of over-length value on non-ro. name")
	}
}

func TestEndpointForRoutesPowerctlToSystemSocketWhenWritable(t *testing.T) {
	dir := sysprops.SocketDir()
	systemPath := filepath.Join(dir, PropServiceForSystemSocketName)
	l, err := net.Listen("unix", systemPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	defer os.Remove(systemPath)

	if got := endpointFor("sys.powerctl"); got != systemPath {
		t.Errorf("endpointFor(sys.powerctl) = %q, want %q", got, systemPath)
	}
	if got := endpointFor("persist.sys.other"); got == systemPath {
		t.Errorf("endpointFor(persist.sys.other) unexpectedly routed to system socket")
	}
}
