package ext4

import "go.uber.org/zap"

// logger is the package-wide structured logger. It defaults to a no-op so
// importing this package never forces log output; callers that want
// diagnostics call SetLogger with a real *zap.Logger.
var logger = zap.NewNop().Sugar()

// SetLogger installs l as the logger used for construction diagnostics,
// extent-tree traversal tracing, and directory-iteration warnings. Passing
// nil restores the no-op logger.
func SetLogger(l *zap.Logger) {
	if l == nil {
		logger = zap.NewNop().Sugar()
		return
	}
	logger = l.Sugar()
}
