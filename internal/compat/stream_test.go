package compat

import (
	"strings"
	"testing"
	"time"
)

func TestCompatCardsStream(t *testing.T) {
	client := newLiveClient(t)
	event, headers, err := readSSEEvent(client.baseURL+"/cards/stream", 3*time.Second)
	if err != nil {
		t.Fatalf("cards stream error: %v", err)
	}
	if !strings.Contains(headers.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("cards stream content-type = %q", headers.Get("Content-Type"))
	}
	if headers.Get("X-Content-Format") != "application/json" {
		t.Fatalf("cards stream format = %q", headers.Get("X-Content-Format"))
	}
	assertCardEvent(t, parseSSEData(t, event))
}
