// Copyright 2024 The Kestrel Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package klog is the core's structured-logging facade, a thin wrapper
// over logrus in the same spirit as the teacher's own pkg/log: callers
// never import logrus directly, so the backend can be swapped without
// touching call sites.
package klog

import (
	"os"

	"github.com/sirupsen/logrus"
)

var std = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetLevel adjusts the minimum level that reaches output. Accepted values
// mirror logrus's own names ("debug", "info", "warn", "error").
func SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	std.SetLevel(lvl)
	return nil
}

// Fields is a set of structured key/value pairs attached to a log entry,
// e.g. the hart id, IRQ number, or TID relevant to the event.
type Fields = logrus.Fields

// WithFields returns an entry carrying the given structured fields.
func WithFields(fields Fields) *logrus.Entry {
	return std.WithFields(fields)
}

func Debugf(format string, args ...any) { std.Debugf(format, args...) }
func Infof(format string, args ...any)  { std.Infof(format, args...) }
func Warningf(format string, args ...any) { std.Warnf(format, args...) }
func Errorf(format string, args ...any) { std.Errorf(format, args...) }

// Fatalf logs at Error level and does not exit the process: a kernel crash
// unwinds through pkg/kassert's Panic (and its CrashHook seam), not
// os.Exit, so this does not call logrus's Fatalf (which would call
// os.Exit(1) and make crash handling untestable).
func Fatalf(format string, args ...any) { std.Errorf(format, args...) }
