package logging

import (
	"fmt"
	"io"
	"os"
)

// EarlyLog prints to stderr before the configured logger exists. Error only
// reports; callers return the error and let cobra exit.
type EarlyLog struct {
	out io.Writer
}

func NewEarlyLog() *EarlyLog {
	return &EarlyLog{out: os.Stderr}
}

// NewEarlyLogTo is NewEarlyLog writing to w.
func NewEarlyLogTo(w io.Writer) *EarlyLog {
	return &EarlyLog{out: w}
}

func (l *EarlyLog) Error(msg string, args ...interface{}) {
	l.printf("ERROR", msg, args...)
}

func (l *EarlyLog) Fatal(msg string, args ...interface{}) {
	l.printf("FATAL", msg, args...)
	os.Exit(1)
}

func (l *EarlyLog) Warn(msg string, args ...interface{}) {
	l.printf("WARN", msg, args...)
}

func (l *EarlyLog) printf(level, msg string, args ...interface{}) {
	fmt.Fprintf(l.out, level+": "+msg+"\n", args...)
}
