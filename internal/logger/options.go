package logger

import "io"

type options struct {
	debug   bool
	format  string
	writer  io.Writer
	quiet   bool
	logFile string
}

func defaultOptions() *options {
	return &options{format: "text"}
}

// Option configures a Logger built by NewLogger.
type Option func(*options)

// WithDebug enables debug-level logging and source-location attribution.
func WithDebug() Option {
	return func(o *options) { o.debug = true }
}

// WithFormat selects "text" (default) or "json" record encoding.
func WithFormat(format string) Option {
	return func(o *options) { o.format = format }
}

// WithWriter adds an explicit destination, typically used in tests.
func WithWriter(w io.Writer) Option {
	return func(o *options) { o.writer = w }
}

// WithQuiet suppresses the default stdout mirror, leaving only the
// explicitly configured writer/log file destinations.
func WithQuiet() Option {
	return func(o *options) { o.quiet = true }
}

// WithLogFile adds a destination file, created if it does not exist.
func WithLogFile(path string) Option {
	return func(o *options) { o.logFile = path }
}
