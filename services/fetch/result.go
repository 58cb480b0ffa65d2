package fetch

import "errors"

// Status is the terminal state of one fetch request
type Status string

const (
	StatusSuccess       Status = "success"
	StatusAlreadyCached Status = "already_cached"
	StatusNotFound      Status = "not_found"
	StatusError         Status = "error"
)

// Result is published for every processed request, correlated by CacheKey.
type Result struct {
	CacheKey string      `json:"cacheKey"`
	Status   Status      `json:"status"`
	Data     interface{} `json:"data,omitempty"`
	Error    string      `json:"error,omitempty"`
}

func Success(key string, data interface{}) Result {
	return Result{CacheKey: key, Status: StatusSuccess, Data: data}
}

func AlreadyCached(key string) Result {
	return Result{CacheKey: key, Status: StatusAlreadyCached}
}

func NotFound(key string) Result {
	return Result{CacheKey: key, Status: StatusNotFound}
}

func Failed(key string, err error) Result {
	return Result{CacheKey: key, Status: StatusError, Error: err.Error()}
}

// ErrInvalidRequest marks a request rejected before it reaches a queue or upstream.
var ErrInvalidRequest = errors.New("invalid request")
