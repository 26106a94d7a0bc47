package sysprops

import (
	"os"
	"sync"
)

const (
	defaultPropertiesDir = "/dev/__properties__"
	defaultSocketDir     = "/dev/socket"

	envSocketDir      = "PROPERTY_SERVICE_SOCKET_DIR"
	envProtocolVer    = "PROPERTY_SERVICE_VERSION"
	InfoAreaFileName  = "property_info"
	SerialAreaFile    = "properties_serial"
	SerialAreaContext = "u:object_r:properties_serial:s0"
)

// ProtocolVersion selects the wire format spoken over the write socket.
type ProtocolVersion int

const (
	ProtocolV1 ProtocolVersion = 1
	ProtocolV2 ProtocolVersion = 2
)

// Config is the process-wide directory configuration, set once via Init
// and immutable after first use.
type Config struct {
	PropertiesDir string
	SocketDir     string
	Debug         bool
}

// Option mutates a Config before it is committed by Init.
type Option func(*Config)

func WithPropertiesDir(dir string) Option { return func(c *Config) { c.PropertiesDir = dir } }
func WithSocketDir(dir string) Option     { return func(c *Config) { c.SocketDir = dir } }
func WithDebug(debug bool) Option         { return func(c *Config) { c.Debug = debug } }

var (
	configMu    sync.RWMutex
	configSet   bool
	configValue Config
)

// Init commits the process-wide Config exactly once. Subsequent calls are
// ignored and report ErrAlreadyInitialized rather than panicking.
func Init(opts ...Option) error {
	configMu.Lock()
	defer configMu.Unlock()
	if configSet {
		return ErrAlreadyInitialized
	}
	cfg := Config{
		PropertiesDir: defaultPropertiesDir,
		SocketDir:     socketDirFromEnv(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	configValue = cfg
	configSet = true
	return nil
}

// current returns the committed Config, initializing it with all defaults
// on first touch if no caller has called Init.
func current() Config {
	configMu.RLock()
	if configSet {
		defer configMu.RUnlock()
		return configValue
	}
	configMu.RUnlock()

	configMu.Lock()
	defer configMu.Unlock()
	if !configSet {
		configValue = Config{
			PropertiesDir: defaultPropertiesDir,
			SocketDir:     socketDirFromEnv(),
		}
		configSet = true
	}
	return configValue
}

// SocketDir returns the process-wide socket directory: whatever Init
// committed, or the env/default fallback if Init was never called.
func SocketDir() string { return current().SocketDir }

// PropertiesDir returns the process-wide properties directory.
func PropertiesDir() string { return current().PropertiesDir }

func socketDirFromEnv() string {
	if dir := os.Getenv(envSocketDir); dir != "" {
		return dir
	}
	return defaultSocketDir
}

// Protocol resolves the wire format from PROPERTY_SERVICE_VERSION;
// 2 is the default.
func Protocol() ProtocolVersion {
	switch os.Getenv(envProtocolVer) {
	case "1":
		return ProtocolV1
	default:
		return ProtocolV2
	}
}
