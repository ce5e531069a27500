// Package logging writes one JSON object per line, the format every component of the
// service uses for operational events.
package logging

import (
	"encoding/json"
	"io"
	"log"
	"os"
	"sync"
	"time"
)

// Logger stamps entries with a timestamp in a fixed location.
type Logger struct {
	mu  sync.Mutex
	out io.Writer
	loc *time.Location
}

var std = New(os.Stdout, time.UTC)

// New returns a Logger writing to w. A nil loc means UTC.
func New(w io.Writer, loc *time.Location) *Logger {
	if loc == nil {
		loc = time.UTC
	}
	return &Logger{out: w, loc: loc}
}

// SetDefault replaces the package-level logger used by Log.
func SetDefault(l *Logger) {
	std = l
}

// Default returns the package-level logger.
func Default() *Logger {
	return std
}

// Log writes data through the package-level logger.
func Log(data map[string]any) {
	std.Log(data)
}

// Log adds "ts" and, when missing, "level" (error when status is "error") and writes data.
func (l *Logger) Log(data map[string]any) {
	data["ts"] = time.Now().In(l.loc).Format(time.RFC3339Nano)
	if _, ok := data["level"]; !ok {
		if data["status"] == "error" {
			data["level"] = "error"
		} else {
			data["level"] = "info"
		}
	}

	b, err := json.Marshal(data)
	if err != nil {
		log.Printf("failed to marshal log entry: %v", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.out.Write(append(b, '\n'))
}

// Location is the timezone used for timestamps.
func (l *Logger) Location() *time.Location {
	return l.loc
}
