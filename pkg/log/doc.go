// Package log wraps zerolog for structured, JSON or console logging
// across the maintenance core. Init configures the global logger once
// at startup; WithHost/WithComponent derive scoped child loggers for
// the rest of the process lifetime.
package log
