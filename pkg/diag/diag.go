// Package diag provides the diagnostic channel handed to programs.
//
// Programs receive an explicit Sink capability instead of resolving a
// global helper table; the host decides where diagnostics go. The channel
// is opaque: nothing in the data contract depends on it.
package diag

import (
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"
)

// Sink receives program diagnostics.
type Sink interface {
	// Log emits a free-form message.
	Log(msg string)

	// LogWords emits the fixed five-word diagnostic record.
	LogWords(w1, w2, w3, w4, w5 uint64)
}

type discard struct{}

func (discard) Log(string)                    {}
func (discard) LogWords(_, _, _, _, _ uint64) {}

// Discard is a Sink that drops everything.
var Discard Sink = discard{}

// Logger is a zerolog-backed Sink.
type Logger struct {
	log zerolog.Logger
}

// NewLogger creates a Sink writing structured records to w.
func NewLogger(w io.Writer) *Logger {
	return &Logger{log: zerolog.New(w).With().Timestamp().Logger()}
}

// Log implements Sink.
func (l *Logger) Log(msg string) {
	l.log.Info().Str("src", "program").Msg(msg)
}

// LogWords implements Sink.
func (l *Logger) LogWords(w1, w2, w3, w4, w5 uint64) {
	l.log.Info().
		Str("src", "program").
		Uint64("w1", w1).
		Uint64("w2", w2).
		Uint64("w3", w3).
		Uint64("w4", w4).
		Uint64("w5", w5).
		Msg("log words")
}

// Recorder is a Sink that captures diagnostics for tests.
type Recorder struct {
	mu      sync.Mutex
	entries []string
}

// Log implements Sink.
func (r *Recorder) Log(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, msg)
}

// LogWords implements Sink.
func (r *Recorder) LogWords(w1, w2, w3, w4, w5 uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, fmt.Sprintf("0x%x 0x%x 0x%x 0x%x 0x%x", w1, w2, w3, w4, w5))
}

// Entries returns a copy of everything recorded so far.
func (r *Recorder) Entries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.entries))
	copy(out, r.entries)
	return out
}
