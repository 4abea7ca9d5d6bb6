package monitoring

import "log"

// Verbosity controls whether Debugf emits anything. 0 silences debug
// output, 1 enables it. Higher values are reserved for trace logging.
var Verbosity = 0

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// Debugf logs only when Verbosity >= 1. It shares the sink installed by
// SetLogger so redirected output stays together.
func Debugf(format string, v ...interface{}) {
	if Verbosity >= 1 {
		Logf(format, v...)
	}
}

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
