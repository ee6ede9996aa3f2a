package rest2redis_test

import (
	"context"
	"sync"
)

type storeCall struct {
	op      string
	topic   string
	payload string
}

// fakeStore records every call and fails them all when err is set.
type fakeStore struct {
	mu    sync.Mutex
	calls []storeCall
	err   error
}

func (s *fakeStore) record(op, topic string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, storeCall{op: op, topic: topic, payload: string(payload)})
	return s.err
}

func (s *fakeStore) Publish(_ context.Context, topic string, payload []byte) error {
	return s.record("publish", topic, payload)
}

func (s *fakeStore) Set(_ context.Context, topic string, payload []byte) error {
	return s.record("set", topic, payload)
}

func (s *fakeStore) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) Calls() []storeCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storeCall(nil), s.calls...)
}
