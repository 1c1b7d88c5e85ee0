package webmonitor

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cardwatch/cardwatch/internal/logger"
)

func writeSSEData(w http.ResponseWriter, data []byte) error {
	_, err := fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

// streamCardEventsFromChannel streams pre-serialized card events to an SSE client.
// initial is written first so a new client sees the current set immediately.
func streamCardEventsFromChannel(
	ctx context.Context,
	w http.ResponseWriter,
	initial *SerializedEvent,
	eventCh <-chan *SerializedEvent,
	useProtobuf bool,
	keepalive time.Duration,
) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Add custom header to indicate format
	if useProtobuf {
		w.Header().Set("X-Content-Format", "application/protobuf")
	} else {
		w.Header().Set("X-Content-Format", "application/json")
	}

	pick := func(ev *SerializedEvent) []byte {
		if useProtobuf {
			return ev.ProtobufData
		}
		return ev.JSONData
	}

	if initial != nil {
		if err := writeSSEData(w, pick(initial)); err != nil {
			logger.Debug("SSE", "Client disconnected during initial write: %v", err)
			return
		}
	}
	flusher.Flush()

	ticker := time.NewTicker(keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-eventCh:
			if !ok {
				// Channel closed, client should disconnect
				return
			}
			if err := writeSSEData(w, pick(event)); err != nil {
				logger.Debug("SSE", "Client disconnected during event write: %v", err)
				return
			}
			flusher.Flush()

		case <-ticker.C:
			// Send keepalive comment to prevent timeout
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				logger.Debug("SSE", "Client disconnected during keepalive: %v", err)
				return
			}
			flusher.Flush()
		}
	}
}
