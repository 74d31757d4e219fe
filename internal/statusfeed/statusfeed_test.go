package statusfeed

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/serenorg/pgreplicator/internal/orchestrator"
)

func TestServeHTTPSendsCachedSnapshotOnConnect(t *testing.T) {
	hub := New(zerolog.Nop())
	hub.Publish(Snapshot{
		Phase:       "status",
		Databases:   []orchestrator.DatabaseStatus{{Database: "app", Status: 2}},
		AllCaughtUp: true,
	})

	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), `"phase":"status"`) {
		t.Fatalf("expected cached snapshot, got %s", data)
	}
}

func TestPublishBroadcastsToConnectedClients(t *testing.T) {
	hub := New(zerolog.Nop())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Give the server a moment to register the client before publishing.
	time.Sleep(50 * time.Millisecond)
	hub.Publish(Snapshot{Phase: "sync"})

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), `"phase":"sync"`) {
		t.Fatalf("expected broadcast snapshot, got %s", data)
	}
}
