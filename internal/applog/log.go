// Package applog centralizes the logging sink used across DatabaseV2.
//
// The logger itself is an external collaborator (see spec §1): a single
// fire-and-forget sink accepting (message, level). This package exists only
// so the rest of the tree calls one small surface instead of importing
// gospel/logger directly in every file, the way the teacher repo's cmd/
// entrypoints centralize their own log call sites around gospel/logger.
package applog

import (
	"fmt"
	"os"
	"sync"

	"github.com/bfix/gospel/logger"
)

// Level mirrors gospel/logger's severity levels (DBG, INFO, WARN, ERROR).
type Level = int

const (
	Debug   Level = logger.DBG
	Info    Level = logger.INFO
	Warning Level = logger.WARN
	Error   Level = logger.ERROR
)

var (
	mtx  sync.Mutex
	file *os.File
)

// SetLevel configures the minimum level that reaches the sink.
func SetLevel(lvl Level) {
	logger.SetLogLevel(lvl)
}

// SetLogFile redirects log output to a file path. gospel/logger exposes no
// public output-redirection hook (only SetLogLevel/Printf/Println/Flush are
// used anywhere in the teacher repo), so a configured --loglocation is
// served by a small file sink layered alongside gospel rather than by
// reaching into gospel internals; an empty path keeps the default sink.
func SetLogFile(path string) error {
	mtx.Lock()
	defer mtx.Unlock()
	if path == "" {
		file = nil
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	file = f
	return nil
}

// Close releases the log file, if one is open.
func Close() {
	mtx.Lock()
	defer mtx.Unlock()
	if file != nil {
		_ = file.Close()
		file = nil
	}
}

// Logf writes a formatted message at the given level.
func Logf(lvl Level, format string, args ...interface{}) {
	mtx.Lock()
	f := file
	mtx.Unlock()
	if f != nil {
		fmt.Fprintf(f, format+"\n", args...)
		return
	}
	logger.Printf(lvl, format, args...)
}

// Log writes a message at the given level.
func Log(lvl Level, msg string) {
	mtx.Lock()
	f := file
	mtx.Unlock()
	if f != nil {
		fmt.Fprintln(f, msg)
		return
	}
	logger.Println(lvl, msg)
}

// Flush flushes any buffered log output.
func Flush() {
	mtx.Lock()
	f := file
	mtx.Unlock()
	if f != nil {
		_ = f.Sync()
		return
	}
	logger.Flush()
}
