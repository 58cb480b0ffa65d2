package main

import (
	"encoding/json"
	"net/http"

	"bundle-cache-go/logcolors"
	"bundle-cache-go/services/upstream"

	log "github.com/sirupsen/logrus"
)

// APIResponse sets the standard headers and writes JSON bodies
type APIResponse struct {
	w           http.ResponseWriter
	cacheStatus string
	service     string
}

// Respond creates a response helper for w
func Respond(w http.ResponseWriter) *APIResponse {
	return &APIResponse{w: w}
}

// SetCacheStatus sets the X-Cache-Status header value (HIT or MISS)
func (a *APIResponse) SetCacheStatus(status string) *APIResponse {
	a.cacheStatus = status
	return a
}

// SetService sets the X-Upstream-Service header value
func (a *APIResponse) SetService(service string) *APIResponse {
	a.service = service
	return a
}

func (a *APIResponse) writeHeaders() {
	a.w.Header().Set("Content-Type", "application/json")
	if a.cacheStatus != "" {
		a.w.Header().Set("X-Cache-Status", a.cacheStatus)
	}
	if a.service != "" {
		a.w.Header().Set("X-Upstream-Service", a.service)
	}
}

// JSON writes data with 200 OK
func (a *APIResponse) JSON(data interface{}) error {
	return a.Status(http.StatusOK, data)
}

// Status writes data with the given status code
func (a *APIResponse) Status(statusCode int, data interface{}) error {
	a.writeHeaders()
	a.w.WriteHeader(statusCode)
	return json.NewEncoder(a.w).Encode(data)
}

// Error writes {"error": msg} with the given status code
func (a *APIResponse) Error(statusCode int, msg string) error {
	return a.Status(statusCode, errorResponse{Error: msg})
}

// Fail maps err to a status code and writes it
func (a *APIResponse) Fail(err error) error {
	code := statusForError(err)
	if code >= http.StatusInternalServerError {
		log.Errorf("%s %v", logcolors.LogServer, err)
	}
	return a.Status(code, errorResponse{Error: err.Error(), UpstreamStatus: upstream.StatusOf(err)})
}
