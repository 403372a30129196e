package stream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultKeepAlive the default SSE keep-alive interval
const DefaultKeepAlive = 15 * time.Second

// WriteSSE frames one message. Multi-line payloads become several data lines.
func WriteSSE(w io.Writer, msg Message) error {
	if _, err := fmt.Fprintf(w, "id: %d\n", msg.ID); err != nil {
		return err
	}
	if msg.Event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", msg.Event); err != nil {
			return err
		}
	}
	for _, line := range bytes.Split(msg.Data, []byte("\n")) {
		if _, err := fmt.Fprintf(w, "data: %s\n", line); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// SetHeaders the server sent events response headers
func SetHeaders(header http.Header) {
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
}

// Serve writes the connection's messages until the client goes away or the
// connection is closed. The connection is always closed on return.
func Serve(ctx context.Context, w http.ResponseWriter, conn *Connection, keepAlive time.Duration) error {
	defer conn.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("streaming unsupported")
	}
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}

	SetHeaders(w.Header())
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case msg, ok := <-conn.Messages():
			if !ok {
				return nil
			}
			if err := WriteSSE(w, msg); err != nil {
				return err
			}
			flusher.Flush()

		case <-ticker.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return err
			}
			flusher.Flush()
		}
	}
}
