package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"charge-telemetry-alerts/internal/rules"
)

func testNote() Notification {
	return Notification{
		At:     time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		ConnID: 7,
		Reason: rules.CodePowerSpike,
		Anomalies: []rules.Anomaly{
			{Code: rules.CodePowerSpike, Severity: rules.SeverityHigh, Message: "power above limit"},
		},
		Peer: "192.0.2.10:51234",
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("path should contain sendMessage, got %s", r.URL.Path)
		}
		if !strings.Contains(r.URL.Path, "bottoken") {
			t.Fatalf("path should carry the bot token, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), testNote()); err != nil {
		t.Fatalf("Notify should succeed: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("wrong chat_id: %#v", received)
	}
	text := received["text"]
	if !strings.Contains(text, "STOP_CHARGE") {
		t.Fatalf("text should mention the command: %q", text)
	}
	if !strings.Contains(text, "POWER_SPIKE") || !strings.Contains(text, "#7") {
		t.Fatalf("text should carry reason and connection: %q", text)
	}
}

func TestTelegramNotifierRejectedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), testNote()); err == nil {
		t.Fatal("ok=false should be an error")
	}
}

func TestTelegramNotifierHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), testNote()); err == nil {
		t.Fatal("non-2xx status should be an error")
	}
}

func TestTelegramNotifierContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := notifier.Notify(ctx, testNote()); err == nil {
		t.Fatal("cancelled context should fail the request")
	}
}

func TestRenderMessageListsAnomalies(t *testing.T) {
	note := testNote()
	note.Anomalies = append(note.Anomalies, rules.Anomaly{
		Code: rules.CodeWeakEncryption, Severity: rules.SeverityLow, Message: "telemetry sent without encryption",
	})

	text := renderMessage(note)
	if !strings.Contains(text, "2026-08-01T12:00:00Z") {
		t.Fatalf("timestamp missing: %q", text)
	}
	if !strings.Contains(text, "192.0.2.10:51234") {
		t.Fatalf("peer missing: %q", text)
	}
	if !strings.Contains(text, "WEAK_ENCRYPTION") || !strings.Contains(text, "[LOW]") {
		t.Fatalf("anomaly list incomplete: %q", text)
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
