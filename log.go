package sysprops

import (
	"sync"

	"go.uber.org/zap"
)

var (
	logMu  sync.RWMutex
	logger *zap.SugaredLogger
)

func init() {
	base, err := zap.NewProduction()
	if err != nil {
		base = zap.NewNop()
	}
	logger = base.Sugar()
}

// SetLogger overrides the package-wide logger. Embedding processes that
// already run their own zap logger should call this once at startup
// instead of letting sysprops construct its own production logger.
func SetLogger(l *zap.SugaredLogger) {
	logMu.Lock()
	defer logMu.Unlock()
	if l == nil {
		return
	}
	logger = l
}

func log() *zap.SugaredLogger {
	logMu.RLock()
	defer logMu.RUnlock()
	return logger
}

// Log exposes the package-wide logger to other packages in this module
// (e.g. builder) that want to log through the same sink without importing
// zap themselves.
func Log() *zap.SugaredLogger { return log() }
