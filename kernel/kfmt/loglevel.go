package kfmt

// LogLevel controls which calls to Logf (and the Infof/Warnf/Errorf helpers)
// actually produce output. Lower values are more verbose.
type LogLevel int

const (
	// LevelVerbose logs everything, including informational messages.
	LevelVerbose LogLevel = iota
	// LevelWarn suppresses informational messages.
	LevelWarn
	// LevelError only logs errors.
	LevelError
	// LevelSilent suppresses all leveled output.
	LevelSilent
)

// logLevel is the currently active threshold. Messages logged below this
// level are suppressed. Defaults to LevelWarn.
var logLevel = LevelWarn

// SetLogLevel updates the active log level threshold.
func SetLogLevel(l LogLevel) {
	logLevel = l
}

// GetLogLevel returns the active log level threshold.
func GetLogLevel() LogLevel {
	return logLevel
}

// Logf behaves like Printf but the message is suppressed unless level is
// greater than or equal to the active log level threshold.
func Logf(level LogLevel, format string, args ...interface{}) {
	if level < logLevel {
		return
	}

	Printf(format, args...)
}

// Infof logs an informational message, suppressed when the log level is
// higher than LevelVerbose.
func Infof(format string, args ...interface{}) {
	Logf(LevelVerbose, format, args...)
}

// Warnf logs a warning message, suppressed when the log level is higher
// than LevelWarn.
func Warnf(format string, args ...interface{}) {
	Logf(LevelWarn, format, args...)
}

// Errorf logs an error message, suppressed only when the log level is
// LevelSilent.
func Errorf(format string, args ...interface{}) {
	Logf(LevelError, format, args...)
}
