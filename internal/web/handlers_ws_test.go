package web

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tahoma-go-home/internal/coordinator"
	"tahoma-go-home/internal/gateway"

	"nhooyr.io/websocket"
)

func clientCount(hub *WSHub) int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.clients)
}

func waitClients(t *testing.T, hub *WSHub, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for clientCount(hub) != want {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", clientCount(hub), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func startHub(t *testing.T) *WSHub {
	t.Helper()
	hub := NewWSHub(testLogger())
	go hub.Run()
	t.Cleanup(hub.Stop)
	return hub
}

func TestWSHubRegisterUnregister(t *testing.T) {
	hub := startHub(t)

	client := &wsClient{send: make(chan []byte, 4)}
	hub.register <- client
	waitClients(t, hub, 1)

	hub.unregister <- client
	waitClients(t, hub, 0)
	if _, ok := <-client.send; ok {
		t.Error("send channel still open after unregister")
	}

	// A second unregister of the same client is a no-op.
	hub.unregister <- client
	waitClients(t, hub, 0)
}

func TestWSHubBroadcastEvent(t *testing.T) {
	hub := startHub(t)

	c1 := &wsClient{send: make(chan []byte, 4)}
	c2 := &wsClient{send: make(chan []byte, 4)}
	hub.register <- c1
	hub.register <- c2
	waitClients(t, hub, 2)

	hub.Broadcast(coordinator.Event{Type: coordinator.EventCoverUpdate, Data: map[string]interface{}{"id": "abc", "current": 40}})

	for i, c := range []*wsClient{c1, c2} {
		select {
		case msg := <-c.send:
			var ev coordinator.Event
			if err := json.Unmarshal(msg, &ev); err != nil {
				t.Fatal(err)
			}
			if ev.Type != coordinator.EventCoverUpdate {
				t.Errorf("client %d: type = %q", i, ev.Type)
			}
		case <-time.After(time.Second):
			t.Fatalf("client %d: no broadcast received", i)
		}
	}
}

func TestWSHubEvictsSlowClient(t *testing.T) {
	hub := startHub(t)

	slow := &wsClient{send: make(chan []byte, 1)}
	fast := &wsClient{send: make(chan []byte, 8)}
	hub.register <- slow
	hub.register <- fast
	waitClients(t, hub, 2)

	hub.Broadcast("first")
	hub.Broadcast("second")
	waitClients(t, hub, 1)

	hub.mu.RLock()
	_, fastPresent := hub.clients[fast]
	hub.mu.RUnlock()
	if !fastPresent {
		t.Error("fast client was evicted")
	}
}

func TestWSHubBroadcastNeverBlocks(t *testing.T) {
	// Not running: nothing drains the queue.
	hub := NewWSHub(testLogger())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 300; i++ {
			hub.Broadcast(i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked on a full queue")
	}
}

func TestWSHubStop(t *testing.T) {
	hub := NewWSHub(testLogger())
	stopped := make(chan struct{})
	go func() {
		hub.Run()
		close(stopped)
	}()

	client := &wsClient{send: make(chan []byte, 4)}
	hub.register <- client
	waitClients(t, hub, 1)

	hub.Stop()
	hub.Stop()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
	if _, ok := <-client.send; ok {
		t.Error("send channel still open after Stop")
	}
}

func TestWSHubReplyOnlyToRegistered(t *testing.T) {
	hub := startHub(t)

	stranger := &wsClient{send: make(chan []byte, 1)}
	hub.reply(stranger, wsMessage{Type: "ack"})
	if len(stranger.send) != 0 {
		t.Error("reply delivered to an unregistered client")
	}

	client := &wsClient{send: make(chan []byte, 1)}
	hub.register <- client
	waitClients(t, hub, 1)
	hub.reply(client, wsMessage{Type: "ack"})
	// Full buffer: dropped, not blocked.
	hub.reply(client, wsMessage{Type: "ack"})

	var msg wsMessage
	if err := json.Unmarshal(<-client.send, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != "ack" {
		t.Errorf("type = %q, want ack", msg.Type)
	}
}

func TestHandleWSCommand(t *testing.T) {
	srv, _, gw := setupTestServer(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"not json", `{`, "error"},
		{"unknown action", `{"action":"stop","id":"Volet Salon"}`, "error"},
		{"missing position", `{"action":"set_position","id":"Volet Salon"}`, "error"},
		{"missing id", `{"action":"set_position","position":10}`, "error"},
		{"unknown accessory", `{"action":"set_position","id":"Garage","position":10}`, coordinator.EventCommandFailed},
		{"out of range", `{"action":"set_position","id":"Volet Salon","position":101}`, coordinator.EventCommandFailed},
		{"ok", `{"action":"set_position","id":"Volet Salon","position":35}`, "ack"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := srv.handleWSCommand(ctx, []byte(tt.in)); got.Type != tt.want {
				t.Errorf("reply type = %q, want %q (data %v)", got.Type, tt.want, got.Data)
			}
		})
	}

	calls := gw.execCalls()
	if len(calls) != 1 || calls[0].deviceURL != "io://1/1" || calls[0].value != 65 {
		t.Errorf("exec calls = %+v, want one setClosure 65 on io://1/1", calls)
	}
}

func TestHandleWSCommandGatewayFailure(t *testing.T) {
	srv, _, gw := setupTestServer(t)
	gw.execErr = &gateway.StatusError{Op: "exec", Code: 500, Body: "boom"}

	got := srv.handleWSCommand(context.Background(), []byte(`{"action":"set_position","id":"Volet Salon","position":10}`))
	if got.Type != coordinator.EventCommandFailed {
		t.Fatalf("reply type = %q", got.Type)
	}
	data, _ := got.Data.(map[string]interface{})
	if errMsg, _ := data["error"].(string); !strings.Contains(errMsg, "HTTP 500") {
		t.Errorf("error = %v", data["error"])
	}
}

func readWS(t *testing.T, ctx context.Context, conn *websocket.Conn) wsMessage {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return msg
}

func TestWSSnapshotAndCommand(t *testing.T) {
	srv, _, gw := setupTestServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	snap := readWS(t, ctx, conn)
	if snap.Type != "snapshot" {
		t.Fatalf("first message = %q, want snapshot", snap.Type)
	}
	if list, _ := snap.Data.([]interface{}); len(list) != 2 {
		t.Errorf("snapshot accessories = %v", snap.Data)
	}

	cmd := `{"action":"set_position","id":"Volet Cuisine","position":50}`
	if err := conn.Write(ctx, websocket.MessageText, []byte(cmd)); err != nil {
		t.Fatal(err)
	}

	// Events from the command are broadcast too; wait for both.
	var gotAck, gotEvent bool
	for !gotAck || !gotEvent {
		msg := readWS(t, ctx, conn)
		switch msg.Type {
		case "ack":
			gotAck = true
		case coordinator.EventCommandSent:
			gotEvent = true
		}
	}
	if calls := gw.execCalls(); len(calls) != 1 || calls[0].deviceURL != "io://1/2" {
		t.Errorf("exec calls = %+v", calls)
	}
}
