// Package httpclient builds the retrying HTTP clients used for discovery requests and WebSocket dials.
package httpclient

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

const (
	defaultRetryMax = 10
	defaultBackoff  = 10 * time.Millisecond
)

type logAdapter struct {
	*zap.SugaredLogger
}

func (a *logAdapter) Printf(msg string, args ...interface{}) { a.Debugf(msg, args...) }

// NewRetryable returns a client that retries connection errors and 5xx responses with a short fixed backoff.
// customize, if non-nil, is applied last.
func NewRetryable(log *zap.SugaredLogger, customize func(*retryablehttp.Client)) *retryablehttp.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = &http.Client{
		Transport: &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			MaxConnsPerHost: 0,
		},
	}
	retryClient.Backoff = func(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
		return defaultBackoff
	}
	retryClient.RetryMax = defaultRetryMax
	retryClient.Logger = &logAdapter{SugaredLogger: log}

	if customize != nil {
		customize(retryClient)
	}
	return retryClient
}

// New is NewRetryable wrapped as a standard *http.Client.
func New(log *zap.SugaredLogger, customize func(*retryablehttp.Client)) *http.Client {
	return NewRetryable(log, customize).StandardClient()
}
