package strava

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrRateLimited is returned when Strava throttles the caller, either with a
// 429 or with an empty activity body.
var ErrRateLimited = errors.New("strava rate limit exceeded")

// APIError is a non-2xx response from the Strava API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("strava api: status %d: %s", e.StatusCode, e.Body)
}

// Is lets errors.Is(err, ErrRateLimited) match throttling responses.
func (e *APIError) Is(target error) bool {
	return target == ErrRateLimited && e.StatusCode == http.StatusTooManyRequests
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsRateLimited reports whether err signals throttling.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// IsRetryable reports whether the request may succeed later.
func IsRetryable(err error) bool {
	if IsRateLimited(err) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode >= http.StatusInternalServerError
}
