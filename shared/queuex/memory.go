package queuex

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. Items do not survive a restart.
type MemoryStore struct {
	mu     sync.Mutex
	lists  map[string][]string
	notify chan struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lists:  make(map[string][]string),
		notify: make(chan struct{}),
	}
}

func (s *MemoryStore) Push(_ context.Context, queue string, item string) error {
	s.mu.Lock()
	s.lists[queue] = append(s.lists[queue], item)
	s.wakeLocked()
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) PushFront(_ context.Context, queue string, item string) error {
	s.mu.Lock()
	s.lists[queue] = append([]string{item}, s.lists[queue]...)
	s.wakeLocked()
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Pop(ctx context.Context, queue string, timeout time.Duration) (string, bool, error) {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	for {
		s.mu.Lock()
		if list := s.lists[queue]; len(list) > 0 {
			item := list[0]
			s.lists[queue] = list[1:]
			s.mu.Unlock()
			return item, true, nil
		}
		wait := s.notify
		s.mu.Unlock()

		if timer == nil {
			return "", false, nil
		}
		select {
		case <-wait:
		case <-timer:
			return "", false, nil
		case <-ctx.Done():
			return "", false, ctx.Err()
		}
	}
}

func (s *MemoryStore) Scan(_ context.Context, queue string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.lists[queue]))
	copy(out, s.lists[queue])
	return out, nil
}

func (s *MemoryStore) Remove(_ context.Context, queue string, item string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(queue, item), nil
}

func (s *MemoryStore) Move(_ context.Context, src string, dst string, item string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.removeLocked(src, item) {
		return false, nil
	}
	s.lists[dst] = append(s.lists[dst], item)
	s.wakeLocked()
	return true, nil
}

func (s *MemoryStore) Len(_ context.Context, queue string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.lists[queue])), nil
}

func (s *MemoryStore) removeLocked(queue string, item string) bool {
	list := s.lists[queue]
	for i, v := range list {
		if v == item {
			s.lists[queue] = append(list[:i:i], list[i+1:]...)
			return true
		}
	}
	return false
}

// wakeLocked releases every Pop currently waiting so it can re-check its list.
func (s *MemoryStore) wakeLocked() {
	close(s.notify)
	s.notify = make(chan struct{})
}
