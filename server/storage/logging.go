package storage

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/svdleer/PyPNMGui/common/logger"
)

// Log is set by the server at startup. Messages go to stderr until then.
var Log *logger.Logger

func SetLogger(l *logger.Logger) {
	Log = l
}

func logWithLevel(level logger.LogLevel, msg string, kv ...interface{}) {
	if Log != nil {
		switch level {
		case logger.ERROR:
			Log.Error(msg, kv...)
		case logger.WARN:
			Log.Warn(msg, kv...)
		default:
			Log.Info(msg, kv...)
		}
		return
	}
	fmt.Fprintf(os.Stderr, "%s [storage][%s] %s%s\n",
		time.Now().Format(time.RFC3339), logger.LevelToString(level), msg, formatKeyValues(kv...))
}

func formatKeyValues(kv ...interface{}) string {
	var b strings.Builder
	for i := 0; i+1 < len(kv); i += 2 {
		fmt.Fprintf(&b, " %v=%v", kv[i], kv[i+1])
	}
	if len(kv)%2 == 1 {
		fmt.Fprintf(&b, " %v=<missing>", kv[len(kv)-1])
	}
	return b.String()
}

func logInfo(msg string, kv ...interface{}) {
	logWithLevel(logger.INFO, msg, kv...)
}

func logWarn(msg string, kv ...interface{}) {
	logWithLevel(logger.WARN, msg, kv...)
}
