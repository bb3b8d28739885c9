package sse

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Writer emits server-sent events with JSON-encoded data lines.
type Writer struct {
	w http.ResponseWriter
}

// Start writes the event-stream headers and returns a Writer bound to the response.
func Start(c *gin.Context) *Writer {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache, no-store")
	c.Header("Pragma", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	w := &Writer{w: c.Writer}
	w.flush()
	return w
}

// Send writes one named event.
func (s *Writer) Send(event string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	s.flush()
	return nil
}

// Ping writes a comment line to keep intermediaries from timing out.
func (s *Writer) Ping() error {
	if _, err := fmt.Fprint(s.w, ": ping\n\n"); err != nil {
		return err
	}
	s.flush()
	return nil
}

// Close tells the client no more events follow.
func (s *Writer) Close() error {
	if _, err := fmt.Fprint(s.w, "event: close\ndata:\n\n"); err != nil {
		return err
	}
	s.flush()
	return nil
}

func (s *Writer) flush() {
	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
}
