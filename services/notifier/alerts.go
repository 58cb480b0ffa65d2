package notifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bundle-cache-go/logcolors"
	"bundle-cache-go/services/events"

	log "github.com/sirupsen/logrus"
)

// DefaultAlertCooldown is the minimum gap between alerts of the same type
const DefaultAlertCooldown = 15 * time.Minute

// AlertHandler turns system events into notifications
type AlertHandler struct {
	notifiers        []Notifier
	cooldowns        map[events.SystemEventType]time.Time
	cooldownDuration time.Duration
	mu               sync.Mutex
}

type AlertConfig struct {
	Notifiers        []Notifier
	CooldownDuration time.Duration
}

func NewAlertHandler(config AlertConfig) *AlertHandler {
	cooldown := config.CooldownDuration
	if cooldown == 0 {
		cooldown = DefaultAlertCooldown
	}

	return &AlertHandler{
		notifiers:        config.Notifiers,
		cooldowns:        make(map[events.SystemEventType]time.Time),
		cooldownDuration: cooldown,
	}
}

// Run forwards system events from bus until ctx is cancelled. Events already
// buffered when ctx ends are still handled.
func (h *AlertHandler) Run(ctx context.Context, bus *events.Bus) {
	<-h.Start(ctx, bus)
}

// Start subscribes before returning, so no event published afterwards is
// missed, and forwards events in the background. The returned channel is
// closed once the handler has stopped.
func (h *AlertHandler) Start(ctx context.Context, bus *events.Bus) <-chan struct{} {
	sub := bus.Subscribe(events.TopicSystem, 0)
	done := make(chan struct{})

	log.Infof("%s Alert handler started (cooldown: %v, notifiers: %d)",
		logcolors.LogNotifier, h.cooldownDuration, len(h.notifiers))

	go func() {
		defer close(done)
		defer sub.Close()
		h.loop(ctx, sub)
	}()
	return done
}

func (h *AlertHandler) loop(ctx context.Context, sub *events.Subscription) {
	for {
		select {
		case <-ctx.Done():
			h.drain(sub)
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			h.handle(ev)
		}
	}
}

func (h *AlertHandler) drain(sub *events.Subscription) {
	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			h.handle(ev)
		default:
			return
		}
	}
}

func (h *AlertHandler) handle(ev events.Event) {
	if se, ok := ev.Payload.(*events.SystemEvent); ok {
		h.HandleEvent(se)
	}
}

// HandleEvent sends one alert unless its type is cooling down
func (h *AlertHandler) HandleEvent(event *events.SystemEvent) {
	subject, message := formatAlert(event)
	if subject == "" {
		return
	}

	if !h.shouldAlert(event.Type) {
		log.Debugf("%s Skipping alert for %s (cooldown active)", logcolors.LogNotifier, event.Type)
		return
	}

	h.sendAlert(subject, message)
}

func (h *AlertHandler) shouldAlert(eventType events.SystemEventType) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	lastAlert, exists := h.cooldowns[eventType]
	if !exists || time.Since(lastAlert) >= h.cooldownDuration {
		h.cooldowns[eventType] = time.Now()
		return true
	}
	return false
}

// ResetCooldown forgets the last alert time for an event type
func (h *AlertHandler) ResetCooldown(eventType events.SystemEventType) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.cooldowns, eventType)
}

func formatAlert(event *events.SystemEvent) (subject, message string) {
	data := event.Data

	switch event.Type {
	case events.EventCircuitBreakerOpen:
		subject = "Circuit Breaker OPEN"
		message = fmt.Sprintf(
			"The %v circuit breaker has tripped after %v consecutive failures.\n\n"+
				"Upstream requests are blocked for %v.\n\n"+
				"Action: Check the upstream service status.",
			data["name"], data["failures"], data["cooldown"])

	case events.EventServerStartupFailed:
		subject = "Server Startup FAILED"
		message = fmt.Sprintf("The server failed to start.\n\nComponent: %v\nError: %v", data["component"], data["error"])

	case events.EventHighFailureRate:
		subject = "High Failure Rate Warning"
		message = fmt.Sprintf(
			"The %v circuit breaker has recorded %v/%v failures.\n\n"+
				"If failures continue, the circuit will open.",
			data["name"], data["failures"], data["threshold"])

	case events.EventCacheBackupFailed:
		subject = "Cache Backup Failed"
		message = fmt.Sprintf("Failed to create cache backup.\n\nError: %v\n\nAction: Check disk space and permissions.", data["error"])

	case events.EventCircuitBreakerRecovered:
		subject = "Circuit Breaker Recovered"
		message = fmt.Sprintf("The %v circuit breaker has recovered and is now operational.", data["name"])

	case events.EventServerStarted:
		subject = "Server Started"
		message = fmt.Sprintf("Server started successfully on port %v.", data["port"])

	case events.EventCacheCleared:
		subject = "Cache Cleared"
		message = fmt.Sprintf("Bucket %v has been cleared.\n\nBackup saved to: %v", data["bucket"], data["backup_path"])

	default:
		return "", ""
	}

	switch event.Severity {
	case events.SeverityCritical:
		subject = "🚨 " + subject
	case events.SeverityWarning:
		subject = "⚠️ " + subject
	case events.SeverityInfo:
		subject = "ℹ️ " + subject
	}

	return subject, message
}

func (h *AlertHandler) sendAlert(subject, message string) {
	if len(h.notifiers) == 0 {
		log.Warnf("%s No notifiers configured, skipping alert: %s", logcolors.LogNotifier, subject)
		return
	}

	log.Infof("%s Sending alert: %s", logcolors.LogNotifier, subject)

	successCount := 0
	for _, n := range h.notifiers {
		if err := n.Send(subject, message); err != nil {
			log.Errorf("%s Failed to send alert via notifier: %v", logcolors.LogNotifier, err)
		} else {
			successCount++
		}
	}

	if successCount > 0 {
		log.Infof("%s Alert sent via %d/%d notifiers", logcolors.LogNotifier, successCount, len(h.notifiers))
	}
}
