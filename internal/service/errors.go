package service

import (
	"fmt"
	"time"
)

// RateLimitError возвращается внешним сервисом, когда он просит повторить запрос позже
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}

// NewRateLimitError создает новую ошибку rate limit
func NewRateLimitError(retryAfter time.Duration) *RateLimitError {
	return &RateLimitError{RetryAfter: retryAfter}
}

// StatusError описывает неожиданный HTTP ответ внешнего сервиса
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status code: %d", e.Service, e.StatusCode)
	}
	return fmt.Sprintf("%s: unexpected status code: %d: %s", e.Service, e.StatusCode, e.Body)
}
