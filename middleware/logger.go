package middleware

import (
	"net/http"
	"time"

	"bundle-cache-go/stats"

	log "github.com/sirupsen/logrus"
)

// ResponseRecorder captures the status code and body size written by a handler
type ResponseRecorder struct {
	http.ResponseWriter
	StatusCode int
	BodySize   int
}

func NewResponseRecorder(w http.ResponseWriter) *ResponseRecorder {
	return &ResponseRecorder{ResponseWriter: w, StatusCode: http.StatusOK}
}

func (r *ResponseRecorder) WriteHeader(statusCode int) {
	r.StatusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *ResponseRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.BodySize += n
	return n, err
}

// Flush lets streaming handlers push data through the recorder
func (r *ResponseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func getStatusColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "\033[32m"
	case statusCode >= 300 && statusCode < 400:
		return "\033[36m"
	case statusCode >= 400 && statusCode < 500:
		return "\033[33m"
	case statusCode >= 500:
		return "\033[31m"
	default:
		return "\033[0m"
	}
}

// LoggingMiddleware logs one line per request and feeds request stats
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		stats.Get().RecordRequest(r.URL.Path)

		rec := NewResponseRecorder(w)
		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		stats.Get().RecordResponse(rec.StatusCode, duration)

		log.Infof("%s%d\033[0m %s %s (%d bytes, %v) from %s",
			getStatusColor(rec.StatusCode), rec.StatusCode, r.Method, r.URL.RequestURI(), rec.BodySize, duration, r.RemoteAddr)
	})
}
