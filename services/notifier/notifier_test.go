package notifier

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"bundle-cache-go/services/events"
)

type recordingNotifier struct {
	mu       sync.Mutex
	subjects []string
	err      error
}

func (r *recordingNotifier) Send(subject, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subjects = append(r.subjects, subject)
	return r.err
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subjects)
}

func TestNtfyNotifier_Send(t *testing.T) {
	var gotPath, gotTitle, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotTitle = r.Header.Get("Title")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
	}))
	defer server.Close()

	n := &NtfyNotifier{Topic: "bundle-alerts", Server: server.URL + "/"}
	if err := n.Send("Subject", "Body text"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if gotPath != "/bundle-alerts" || gotTitle != "Subject" || gotBody != "Body text" {
		t.Errorf("Unexpected request: path=%s title=%s body=%s", gotPath, gotTitle, gotBody)
	}
}

func TestNtfyNotifier_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	n := &NtfyNotifier{Topic: "t", Server: server.URL}
	if err := n.Send("s", "m"); err == nil || !strings.Contains(err.Error(), "403") {
		t.Errorf("Expected status error, got %v", err)
	}
}

func TestFormatAlert(t *testing.T) {
	tests := []struct {
		name    string
		event   *events.SystemEvent
		subject string
		message string
	}{
		{
			name: "breaker open",
			event: events.NewSystemEvent(events.EventCircuitBreakerOpen, events.SeverityCritical, "").
				WithData("name", "beatsaver").WithData("failures", 5).WithData("cooldown", "1m0s"),
			subject: "🚨 Circuit Breaker OPEN",
			message: "beatsaver circuit breaker has tripped after 5",
		},
		{
			name: "cache cleared",
			event: events.NewSystemEvent(events.EventCacheCleared, events.SeverityInfo, "").
				WithData("bucket", "lyrics").WithData("backup_path", "/tmp/b.db"),
			subject: "ℹ️ Cache Cleared",
			message: "Bucket lyrics has been cleared",
		},
		{
			name:  "unknown type",
			event: events.NewSystemEvent("something_else", events.SeverityInfo, ""),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subject, message := formatAlert(tt.event)
			if subject != tt.subject {
				t.Errorf("subject = %q, want %q", subject, tt.subject)
			}
			if !strings.Contains(message, tt.message) {
				t.Errorf("message %q does not contain %q", message, tt.message)
			}
		})
	}
}

func TestAlertHandler_Cooldown(t *testing.T) {
	rec := &recordingNotifier{}
	h := NewAlertHandler(AlertConfig{Notifiers: []Notifier{rec}, CooldownDuration: time.Hour})

	ev := events.NewSystemEvent(events.EventCircuitBreakerRecovered, events.SeverityInfo, "").WithData("name", "lyrics")
	h.HandleEvent(ev)
	h.HandleEvent(ev)
	if rec.count() != 1 {
		t.Errorf("Expected one alert during cooldown, got %d", rec.count())
	}

	h.ResetCooldown(events.EventCircuitBreakerRecovered)
	h.HandleEvent(ev)
	if rec.count() != 2 {
		t.Errorf("Expected alert after reset, got %d", rec.count())
	}
}

func TestAlertHandler_NotifierFailureDoesNotStopOthers(t *testing.T) {
	failing := &recordingNotifier{err: errors.New("down")}
	ok := &recordingNotifier{}
	h := NewAlertHandler(AlertConfig{Notifiers: []Notifier{failing, ok}})

	h.HandleEvent(events.NewSystemEvent(events.EventServerStarted, events.SeverityInfo, "").WithData("port", "8080"))
	if failing.count() != 1 || ok.count() != 1 {
		t.Errorf("Expected both notifiers called, got %d and %d", failing.count(), ok.count())
	}
}

func TestAlertHandler_RunForwardsBusEvents(t *testing.T) {
	bus := events.New(8)
	rec := &recordingNotifier{}
	h := NewAlertHandler(AlertConfig{Notifiers: []Notifier{rec}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx, bus)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for bus.SubscriberCount(events.TopicSystem) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	bus.PublishCircuitBreakerOpen("beatsaver", 5, time.Minute)
	for rec.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	<-done

	if rec.count() != 1 {
		t.Errorf("Expected one forwarded alert, got %d", rec.count())
	}
	if bus.SubscriberCount(events.TopicSystem) != 0 {
		t.Error("Expected subscription to be closed after Run returns")
	}
}

func TestAlertHandler_StartHandlesEventsPublishedBeforeStop(t *testing.T) {
	bus := events.New(8)
	rec := &recordingNotifier{}
	h := NewAlertHandler(AlertConfig{Notifiers: []Notifier{rec}})

	ctx, cancel := context.WithCancel(context.Background())
	done := h.Start(ctx, bus)

	bus.PublishServerStartupFailed("cache", errors.New("disk full"))
	cancel()
	<-done

	if rec.count() != 1 {
		t.Errorf("Expected the startup failure alert to be sent, got %d", rec.count())
	}
}
