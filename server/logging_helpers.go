package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/svdleer/PyPNMGui/common/logger"
)

var serverLogger *logger.Logger

// logWithLevel routes to the shared logger once it exists and to stderr
// while the server is still bootstrapping.
func logWithLevel(level logger.LogLevel, msg string, kv ...interface{}) {
	if serverLogger != nil {
		switch level {
		case logger.ERROR:
			serverLogger.Error(msg, kv...)
		case logger.WARN:
			serverLogger.Warn(msg, kv...)
		case logger.DEBUG:
			serverLogger.Debug(msg, kv...)
		case logger.TRACE:
			serverLogger.Trace(msg, kv...)
		default:
			serverLogger.Info(msg, kv...)
		}
		return
	}
	fmt.Fprintf(os.Stderr, "%s [%s] %s%s\n", time.Now().Format(time.RFC3339), logger.LevelToString(level), msg, formatKeyValues(kv...))
}

func formatKeyValues(kv ...interface{}) string {
	var b strings.Builder
	for i := 0; i < len(kv); i += 2 {
		key := fmt.Sprint(kv[i])
		var val interface{} = "<missing>"
		if i+1 < len(kv) {
			val = kv[i+1]
		}
		fmt.Fprintf(&b, " %s=%v", key, val)
	}
	return b.String()
}

func logInfo(msg string, kv ...interface{})  { logWithLevel(logger.INFO, msg, kv...) }
func logWarn(msg string, kv ...interface{})  { logWithLevel(logger.WARN, msg, kv...) }
func logError(msg string, kv ...interface{}) { logWithLevel(logger.ERROR, msg, kv...) }
func logDebug(msg string, kv ...interface{}) { logWithLevel(logger.DEBUG, msg, kv...) }

func logFatal(msg string, kv ...interface{}) {
	logError(msg, kv...)
	if serverLogger != nil {
		serverLogger.Close()
	}
	os.Exit(1)
}

// serverLog adapts the helpers to the Logger interfaces the packages take,
// so packages log through the same sink even before the logger exists.
type serverLog struct{}

func (serverLog) Debug(msg string, kv ...interface{}) { logDebug(msg, kv...) }
func (serverLog) Info(msg string, kv ...interface{})  { logInfo(msg, kv...) }
func (serverLog) Warn(msg string, kv ...interface{})  { logWarn(msg, kv...) }
func (serverLog) Error(msg string, kv ...interface{}) { logError(msg, kv...) }

// logBridgeWriter routes http.Server's ErrorLog through the shared logger.
type logBridgeWriter struct {
	level logger.LogLevel
}

func (w logBridgeWriter) Write(p []byte) (int, error) {
	if msg := strings.TrimSpace(string(p)); msg != "" {
		logWithLevel(w.level, msg)
	}
	return len(p), nil
}
