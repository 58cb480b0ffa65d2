package notifier

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"time"

	"bundle-cache-go/logcolors"

	log "github.com/sirupsen/logrus"
)

const DefaultNtfyServer = "https://ntfy.sh"

// Notifier delivers one alert
type Notifier interface {
	Send(subject, message string) error
}

// NtfyNotifier pushes alerts to an ntfy topic
type NtfyNotifier struct {
	Topic      string
	Server     string       // Default: https://ntfy.sh
	Priority   string       // Default: high
	HTTPClient *http.Client // Default: 10s timeout
}

func (n *NtfyNotifier) Send(subject, message string) error {
	server := n.Server
	if server == "" {
		server = DefaultNtfyServer
	}
	priority := n.Priority
	if priority == "" {
		priority = "high"
	}
	client := n.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	url := fmt.Sprintf("%s/%s", strings.TrimRight(server, "/"), n.Topic)

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBufferString(message))
	if err != nil {
		return fmt.Errorf("failed to create ntfy request: %w", err)
	}
	req.Header.Set("Title", subject)
	req.Header.Set("Priority", priority)
	req.Header.Set("Tags", "warning")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ntfy returned status %d", resp.StatusCode)
	}

	log.Infof("%s Ntfy notification sent to topic %s", logcolors.LogNotifier, n.Topic)
	return nil
}
