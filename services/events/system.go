package events

import "time"

// SystemEventType identifies an operational event on TopicSystem
type SystemEventType string

const (
	// Critical events
	EventCircuitBreakerOpen  SystemEventType = "circuit_breaker_open"
	EventServerStartupFailed SystemEventType = "server_startup_failed"

	// Warning events
	EventHighFailureRate   SystemEventType = "high_failure_rate"
	EventCacheBackupFailed SystemEventType = "cache_backup_failed"

	// Info events
	EventCircuitBreakerRecovered SystemEventType = "circuit_breaker_recovered"
	EventServerStarted           SystemEventType = "server_started"
	EventCacheCleared            SystemEventType = "cache_cleared"
)

// Severity represents the severity level of an event
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// SystemEvent is the payload published on TopicSystem
type SystemEvent struct {
	Type      SystemEventType        `json:"type"`
	Severity  Severity               `json:"severity"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewSystemEvent creates a new event with the current timestamp
func NewSystemEvent(eventType SystemEventType, severity Severity, message string) *SystemEvent {
	return &SystemEvent{
		Type:      eventType,
		Severity:  severity,
		Message:   message,
		Data:      make(map[string]interface{}),
		Timestamp: time.Now(),
	}
}

// WithData adds data to the event (chainable)
func (e *SystemEvent) WithData(key string, value interface{}) *SystemEvent {
	e.Data[key] = value
	return e
}

// PublishSystem sends a system event
func (b *Bus) PublishSystem(event *SystemEvent) {
	b.Publish(TopicSystem, event)
}

// PublishCircuitBreakerOpen publishes a circuit breaker open event
func (b *Bus) PublishCircuitBreakerOpen(name string, failures int, cooldown time.Duration) {
	b.PublishSystem(NewSystemEvent(EventCircuitBreakerOpen, SeverityCritical,
		"Circuit breaker has opened due to consecutive failures").
		WithData("name", name).
		WithData("failures", failures).
		WithData("cooldown", cooldown.String()))
}

// PublishCircuitBreakerRecovered publishes a circuit breaker recovery event
func (b *Bus) PublishCircuitBreakerRecovered(name string) {
	b.PublishSystem(NewSystemEvent(EventCircuitBreakerRecovered, SeverityInfo,
		"Circuit breaker has recovered and is operational").
		WithData("name", name))
}

// PublishHighFailureRate publishes a high failure rate warning
func (b *Bus) PublishHighFailureRate(name string, failures, threshold int) {
	b.PublishSystem(NewSystemEvent(EventHighFailureRate, SeverityWarning,
		"High failure rate detected, circuit breaker may trip soon").
		WithData("name", name).
		WithData("failures", failures).
		WithData("threshold", threshold))
}

// PublishCacheBackupFailed publishes when cache backup fails
func (b *Bus) PublishCacheBackupFailed(err error) {
	b.PublishSystem(NewSystemEvent(EventCacheBackupFailed, SeverityWarning,
		"Cache backup operation failed").
		WithData("error", err.Error()))
}

// PublishCacheCleared publishes when a cache bucket is cleared
func (b *Bus) PublishCacheCleared(bucket, backupPath string) {
	b.PublishSystem(NewSystemEvent(EventCacheCleared, SeverityInfo,
		"Cache has been cleared").
		WithData("bucket", bucket).
		WithData("backup_path", backupPath))
}

// PublishServerStarted publishes when server starts successfully
func (b *Bus) PublishServerStarted(port string) {
	b.PublishSystem(NewSystemEvent(EventServerStarted, SeverityInfo,
		"Server started successfully").
		WithData("port", port))
}

// PublishServerStartupFailed publishes when server fails to start
func (b *Bus) PublishServerStartupFailed(component string, err error) {
	b.PublishSystem(NewSystemEvent(EventServerStartupFailed, SeverityCritical,
		"Server failed to start").
		WithData("component", component).
		WithData("error", err.Error()))
}
