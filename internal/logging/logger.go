// Package logging defines the leveled logger used by background
// components.  Request handlers keep using echo's c.Logger().
package logging

import (
	"os"

	"github.com/labstack/gommon/log"
)

// Logger is the subset of echo's logger the services need.
// *log.Logger from labstack/gommon and echo.Logger both satisfy it.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// New returns a gommon logger writing to stdout with the given prefix.
// Debug output is enabled outside production.
func New(prefix, env string) *log.Logger {
	l := log.New(prefix)
	l.SetOutput(os.Stdout)
	l.SetHeader(`${time_rfc3339} ${level} ${prefix} ${short_file}:${line}`)
	if env == "prod" {
		l.SetLevel(log.INFO)
	} else {
		l.SetLevel(log.DEBUG)
	}
	return l
}

// Nop discards everything.  Useful in tests.
type Nop struct{}

func (Nop) Debugf(string, ...interface{}) {}
func (Nop) Infof(string, ...interface{})  {}
func (Nop) Warnf(string, ...interface{})  {}
func (Nop) Errorf(string, ...interface{}) {}
