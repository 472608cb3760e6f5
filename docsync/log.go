package docsync

import (
	"fmt"
	"log"
	"os"
)

// Logging convention in the `docsync` package:
// Info:
//     essential events for abnormal behavior. This level should be silent on normal operation.
//     this includes:
//     - reconnects and connection replacement
//     - dropped messages and skipped records
//     - payload loss, corrupt storage records, script failures
// V(1):
//     session lifecycle
// V(2):
//     per message tracing with bracketed tags,
//     [c] channel, [cs] channel send, [cr] channel receive, [t] transport, [p] patch, [s] storage, [u] uri, [a] async calls
//
// `LogFn` is for command line output that is not diagnostic.

const LogLevelUrgent = 0
const LogLevelInfo = 50
const LogLevelDebug = 100

var GlobalLogLevel = LogLevelInfo

var logger = log.New(os.Stderr, "", log.Ldate|log.Ltime)

func Logger() *log.Logger {
	return logger
}

func SetLogger(l *log.Logger) {
	logger = l
}

type LogFunction func(string, ...any)

func LogFn(level int, tag string) LogFunction {
	return func(format string, a ...any) {
		if level <= GlobalLogLevel {
			m := fmt.Sprintf(format, a...)
			Logger().Printf("%s: %s\n", tag, m)
		}
	}
}

func SubLogFn(level int, log LogFunction, tag string) LogFunction {
	return func(format string, a ...any) {
		if level <= GlobalLogLevel {
			m := fmt.Sprintf(format, a...)
			log("%s: %s", tag, m)
		}
	}
}
