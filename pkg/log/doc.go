// Package log provides structured logging for mygramdb using zerolog.
//
// A single global Logger is configured once via Init and then narrowed
// per subsystem with WithComponent, e.g. log.WithComponent("binlog").
package log
