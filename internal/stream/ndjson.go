// Package stream writes newline-delimited JSON progress events to an HTTP
// response during a single request.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/seqthink/seqthink/internal/artifact"
)

// Writer emits NDJSON lines over an http.ResponseWriter. Writes are
// best-effort: a failed write is logged and the request continues so side
// effects stay consistent. Exactly one Result or Error call terminates the
// stream.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
	ctx     context.Context
	closed  bool
}

// New prepares NDJSON headers and returns a Writer. Returns nil when the
// response does not support streaming.
func New(w http.ResponseWriter, r *http.Request) *Writer {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return nil
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")

	return &Writer{w: w, flusher: flusher, ctx: r.Context()}
}

type statusLine struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
}

type resultLine struct {
	Type string                `json:"type"`
	Data *artifact.StoreFormat `json:"data"`
}

type errorLine struct {
	Type    string `json:"type"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Status writes one status event. Returns false when the client has
// disconnected.
func (s *Writer) Status(message string) bool {
	return s.write(statusLine{
		Type:      "status",
		Message:   message,
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// Statusf formats and writes one status event.
func (s *Writer) Statusf(format string, args ...any) bool {
	return s.Status(fmt.Sprintf(format, args...))
}

// Result writes the single terminating result line.
func (s *Writer) Result(store *artifact.StoreFormat) bool {
	defer func() { s.closed = true }()
	return s.write(resultLine{Type: "result", Data: store})
}

// Error writes the single terminating error line.
func (s *Writer) Error(kind, message string) bool {
	defer func() { s.closed = true }()
	return s.write(errorLine{Type: "error", Kind: kind, Message: message})
}

// Closed reports whether a terminal line was already written.
func (s *Writer) Closed() bool { return s.closed }

func (s *Writer) write(v any) bool {
	if s.closed {
		return false
	}
	select {
	case <-s.ctx.Done():
		return false
	default:
	}
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[Stream] JSON marshal error: %v", err)
		return false
	}
	if _, err := s.w.Write(append(data, '\n')); err != nil {
		log.Printf("[Stream] Write error (client disconnected?): %v", err)
		return false
	}
	s.flusher.Flush()
	return true
}
