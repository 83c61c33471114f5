package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func wsURL(baseURL, sessionID string) string {
	u := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws/chat"
	if sessionID != "" {
		u += "?session_id=" + sessionID
	}
	return u
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read ws event: %v", err)
	}
	return msg
}

func TestChatWSStreamsTurnEvents(t *testing.T) {
	ts, _ := newTestServer(t, "test_httpapi_ws_")
	sessionID := startChat(t, ts.URL, "intake-legal")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, sessionID), nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"type": "user_message", "text": "name: Jo Harper"}); err != nil {
		t.Fatalf("write user_message: %v", err)
	}

	started := readEvent(t, conn)
	if started["type"] != "turn_started" {
		t.Fatalf("first event = %+v, want turn_started", started)
	}
	turnID, _ := started["turn_id"].(string)
	if turnID == "" {
		t.Fatalf("turn_started missing turn_id: %+v", started)
	}

	reply := readEvent(t, conn)
	if reply["type"] != "agent_reply" || reply["turn_id"] != turnID {
		t.Fatalf("second event = %+v, want agent_reply for same turn", reply)
	}
	if text, _ := reply["text"].(string); text == "" {
		t.Fatalf("agent_reply has empty text: %+v", reply)
	}

	updated := readEvent(t, conn)
	if updated["type"] != "record_updated" || updated["turn_id"] != turnID {
		t.Fatalf("third event = %+v, want record_updated for same turn", updated)
	}
	rec, _ := updated["record"].(map[string]any)
	if rec["name"] != "Jo Harper" {
		t.Fatalf(`record name = %v, want "Jo Harper"`, rec["name"])
	}

	complete := readEvent(t, conn)
	if complete["type"] != "turn_complete" || complete["turn_id"] != turnID {
		t.Fatalf("fourth event = %+v, want turn_complete for same turn", complete)
	}
	completion, _ := complete["completion"].(map[string]any)
	if done, _ := completion["complete"].(bool); done {
		t.Fatalf("completion = %+v, want incomplete with phone missing", completion)
	}
	if complete["stage_ms"] == nil {
		t.Fatalf("turn_complete missing stage_ms: %+v", complete)
	}
}

func TestChatWSRejectsBadFrames(t *testing.T) {
	ts, _ := newTestServer(t, "test_httpapi_wsbad_")
	sessionID := startChat(t, ts.URL, "intake-legal")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, sessionID), nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"type": "telepathy"}); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	ev := readEvent(t, conn)
	if ev["type"] != "error" || ev["code"] != "bad_message" {
		t.Fatalf("event = %+v, want bad_message error", ev)
	}

	if err := conn.WriteJSON(map[string]string{"type": "user_message", "text": ""}); err != nil {
		t.Fatalf("write empty message: %v", err)
	}
	ev = readEvent(t, conn)
	if ev["type"] != "error" || ev["code"] != "bad_message" {
		t.Fatalf("event = %+v, want bad_message error for empty text", ev)
	}

	if err := conn.WriteJSON(map[string]string{"type": "user_message", "text": "name: Jo Harper"}); err != nil {
		t.Fatalf("write valid message: %v", err)
	}
	if ev := readEvent(t, conn); ev["type"] != "turn_started" {
		t.Fatalf("connection did not recover after bad frames: %+v", ev)
	}
}

func TestChatWSHandshakeErrors(t *testing.T) {
	ts, _ := newTestServer(t, "test_httpapi_wshs_")

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, ""), nil)
	if !errors.Is(err, websocket.ErrBadHandshake) {
		t.Fatalf("dial without session = %v, want handshake rejection", err)
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("handshake status = %+v, want 400", resp)
	}

	_, resp, err = websocket.DefaultDialer.Dial(wsURL(ts.URL, "ghost"), nil)
	if !errors.Is(err, websocket.ErrBadHandshake) {
		t.Fatalf("dial unknown session = %v, want handshake rejection", err)
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("handshake status = %+v, want 404", resp)
	}
}
