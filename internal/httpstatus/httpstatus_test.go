package httpstatus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/CaptainCow95/DatabaseV2/internal/wire"
)

func freePort(t *testing.T) int {
	t.Helper()
	// Port 0 would be ideal but Start needs a concrete port to match spec
	// §6's "node port + 1" contract; pick a high, unlikely-to-collide port
	// per test instead.
	return 18000 + int(time.Now().UnixNano()%1000)
}

func TestConnectionsJSONEndpoint(t *testing.T) {
	nodes := []wire.NodeID{wire.NewNodeID("peer1.example", 5001), wire.NewNodeID("peer2.example", 5002)}
	s := New(func() []wire.NodeID { return nodes })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	port := freePort(t)
	if err := s.Start(ctx, port); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/connections?json=true", port))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var body connectionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Connections) != 2 {
		t.Fatalf("got %v, want 2 connections", body.Connections)
	}
}

func TestIndexPageListsPeers(t *testing.T) {
	nodes := []wire.NodeID{wire.NewNodeID("peer1.example", 5001)}
	s := New(func() []wire.NodeID { return nodes })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	port := freePort(t)
	if err := s.Start(ctx, port); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/", port))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d", resp.StatusCode)
	}
}
