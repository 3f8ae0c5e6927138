// Package atklog provides the small structured-enough logger shared by every
// package in this module. The toolkit only ever needs call-site prefixes and
// level tags, so it wraps the standard log.Logger rather than pulling in a
// structured logging library.
package atklog

import (
	"log"
	"os"
)

// Logger is a tagged wrapper around *log.Logger.
type Logger struct {
	tag    string
	target *log.Logger
}

// New creates a Logger that prefixes every line with tag, writing to stderr.
func New(tag string) *Logger {
	return &Logger{
		tag:    tag,
		target: log.New(os.Stderr, "", log.LstdFlags),
	}
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.target.Printf("[%s] "+format, prepend(l.tag, args)...)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.target.Printf("[%s] WARN "+format, prepend(l.tag, args)...)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.target.Printf("[%s] ERROR "+format, prepend(l.tag, args)...)
}

func prepend(tag string, args []interface{}) []interface{} {
	out := make([]interface{}, 0, len(args)+1)
	out = append(out, tag)
	out = append(out, args...)
	return out
}
