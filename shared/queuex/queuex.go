// Package queuex is the durable list-queue contract the pipeline runs on, with a Redis
// implementation for production and an in-process one for tests and local runs.
package queuex

import (
	"context"
	"time"
)

// Queue names are part of the operational contract: external tooling inspects them by name.
const (
	EventsQueue  = "events:queue"
	JobsQueue    = "jobs:queue"
	DelayedQueue = "jobs:delayed"
	FailedQueue  = "jobs:failed"
)

// All returns the four pipeline queues in lifecycle order.
func All() []string {
	return []string{EventsQueue, JobsQueue, DelayedQueue, FailedQueue}
}

// Store is a set of named FIFO lists. Pop is atomic per item: two consumers never receive the
// same element. Items are compared byte-for-byte by Remove and Move.
//
// The head is the left end of the Redis list: Push is RPUSH, PushFront is LPUSH and Pop is BLPOP.
// Producers outside this module must append with RPUSH; an LPUSH producer jumps ahead of
// everything already queued and turns the events queue into a stack.
type Store interface {
	// Push appends item to the tail of queue (RPUSH).
	Push(ctx context.Context, queue string, item string) error
	// PushFront inserts item at the head of queue so it is popped next (LPUSH).
	PushFront(ctx context.Context, queue string, item string) error
	// Pop removes and returns the head of queue (BLPOP), waiting up to timeout. ok is false on timeout.
	Pop(ctx context.Context, queue string, timeout time.Duration) (item string, ok bool, err error)
	// Scan returns every item currently in queue, head first, without removing them.
	Scan(ctx context.Context, queue string) ([]string, error)
	// Remove deletes at most one occurrence of item and reports whether it was found.
	Remove(ctx context.Context, queue string, item string) (bool, error)
	// Move atomically removes one occurrence of item from src and appends it to dst.
	Move(ctx context.Context, src string, dst string, item string) (bool, error)
	// Len returns the number of items in queue.
	Len(ctx context.Context, queue string) (int64, error)
}

// Depths returns the length of every pipeline queue. It stops at the first store error.
func Depths(ctx context.Context, s Store) (map[string]int64, error) {
	out := make(map[string]int64, 4)
	for _, q := range All() {
		n, err := s.Len(ctx, q)
		if err != nil {
			return nil, err
		}
		out[q] = n
	}
	return out, nil
}
