// Copyright 2020 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package log provides the small contextual logger the snapshot database
// manager uses. It mirrors the ergonomics of github.com/ethereum/go-ethereum/log
// (a pre-seeded logger returned by New, structured key/value call sites)
// without depending on it, since that package lives in the sibling module
// this repository was forked away from.
package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Level is a logging severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "EROR"
	default:
		return "????"
	}
}

var (
	root   = &Logger{out: os.Stderr}
	rootMu sync.Mutex
)

// SetOutput redirects the output of the package-level functions and of every
// Logger created by New afterwards; Loggers created earlier keep the writer
// they were created with. Intended for tests.
func SetOutput(w io.Writer) {
	rootMu.Lock()
	defer rootMu.Unlock()
	root.out = w
}

// Logger is a logger pre-seeded with a fixed set of key/value context pairs,
// the way log.New("database", path, "table", name) seeds a sub-logger in
// the teacher's freezer table.
type Logger struct {
	ctx []interface{}
	out io.Writer
}

// New returns a Logger seeded with the given alternating key/value pairs.
func New(ctx ...interface{}) *Logger {
	return &Logger{ctx: ctx, out: root.out}
}

// New returns a child logger with additional context appended.
func (l *Logger) New(ctx ...interface{}) *Logger {
	merged := make([]interface{}, 0, len(l.ctx)+len(ctx))
	merged = append(merged, l.ctx...)
	merged = append(merged, ctx...)
	return &Logger{ctx: merged, out: l.out}
}

func (l *Logger) write(lvl Level, msg string, ctx []interface{}) {
	out := l.out
	if out == nil {
		out = os.Stderr
	}
	line := fmt.Sprintf("%s[%s] %s", time.Now().UTC().Format("15:04:05.000"), lvl, msg)
	all := make([]interface{}, 0, len(l.ctx)+len(ctx))
	all = append(all, l.ctx...)
	all = append(all, ctx...)
	for i := 0; i+1 < len(all); i += 2 {
		line += fmt.Sprintf(" %v=%v", all[i], all[i+1])
	}
	fmt.Fprintln(out, line)
}

func (l *Logger) Debug(msg string, ctx ...interface{}) { l.write(LevelDebug, msg, ctx) }
func (l *Logger) Info(msg string, ctx ...interface{})  { l.write(LevelInfo, msg, ctx) }
func (l *Logger) Warn(msg string, ctx ...interface{})  { l.write(LevelWarn, msg, ctx) }
func (l *Logger) Error(msg string, ctx ...interface{}) { l.write(LevelError, msg, ctx) }

// Package-level convenience loggers operating on an unseeded context,
// for call sites that don't own a long-lived component logger.
func Debug(msg string, ctx ...interface{}) { root.write(LevelDebug, msg, ctx) }
func Info(msg string, ctx ...interface{})  { root.write(LevelInfo, msg, ctx) }
func Warn(msg string, ctx ...interface{})  { root.write(LevelWarn, msg, ctx) }
func Error(msg string, ctx ...interface{}) { root.write(LevelError, msg, ctx) }
