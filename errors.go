package rest2redis

import "errors"

var (
	// ErrUnauthorized is returned when the presented API key is not on the allow-list.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrUnknownCommand is returned for command tokens other than publish and set.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrEmptyTopic is returned when the request path carries no topic.
	ErrEmptyTopic = errors.New("empty topic")
	// ErrThrottled is returned when the ingress throttle rejects a request.
	ErrThrottled = errors.New("throttled")
	// ErrBackendUnavailable wraps any failure of the backing store.
	ErrBackendUnavailable = errors.New("backend unavailable")
)
