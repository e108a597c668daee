// Package jobs holds the job model written to jobs:queue, jobs:delayed and jobs:failed.
package jobs

import (
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

type Type string

const (
	GraphSync             Type = "graph.sync"
	AnalyticsSync         Type = "analytics.sync"
	VectorSync            Type = "vector.sync"
	RecommendationRefresh Type = "recommendation.refresh"
	ProfileUpdate         Type = "profile.update"
)

func (t Type) Known() bool {
	switch t {
	case GraphSync, AnalyticsSync, VectorSync, RecommendationRefresh, ProfileUpdate:
		return true
	}
	return false
}

func AllTypes() []Type {
	return []Type{GraphSync, AnalyticsSync, VectorSync, RecommendationRefresh, ProfileUpdate}
}

type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
)

const DefaultMaxAttempts = 3

var ErrMalformed = errors.New("malformed job")

// Job is persisted verbatim as JSON. Timestamps are unix milliseconds.
type Job struct {
	ID           string          `json:"id"`
	Type         Type            `json:"type"`
	Data         json.RawMessage `json:"data"`
	Attempts     int             `json:"attempts"`
	MaxAttempts  int             `json:"maxAttempts"`
	CreatedAt    int64           `json:"createdAt"`
	ScheduledFor *int64          `json:"scheduledFor,omitempty"`
	// LastError is the most recent adapter failure, kept for operators reading jobs:failed.
	LastError string `json:"lastError,omitempty"`
}

// Millis converts a payload timestamp; zero means the payload carried none and now is used.
func Millis(ms int64) time.Time {
	if ms == 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(ms).UTC()
}

// Spec is what the translator asks for; the processor turns it into a Job.
type Spec struct {
	Type     Type
	Data     any
	Priority Priority
	Delay    time.Duration
}

func NewJob(spec Spec, maxAttempts int, now time.Time) (Job, error) {
	data, err := json.Marshal(spec.Data)
	if err != nil {
		return Job{}, fmt.Errorf("marshal %s data: %w", spec.Type, err)
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	job := Job{
		ID:          uuid.NewString(),
		Type:        spec.Type,
		Data:        data,
		MaxAttempts: maxAttempts,
		CreatedAt:   now.UnixMilli(),
	}
	if spec.Delay > 0 {
		job.ScheduleAt(now.Add(spec.Delay))
	}
	return job, nil
}

func (j *Job) ScheduleAt(at time.Time) {
	ms := at.UnixMilli()
	j.ScheduledFor = &ms
}

// Due reports whether a delayed job may be promoted. An unset schedule is always due.
func (j Job) Due(now time.Time) bool {
	return j.ScheduledFor == nil || *j.ScheduledFor <= now.UnixMilli()
}

// Bind decodes the payload into dst.
func (j Job) Bind(dst any) error {
	if len(j.Data) == 0 {
		return fmt.Errorf("%w: %s has no data", ErrMalformed, j.ID)
	}
	if err := json.Unmarshal(j.Data, dst); err != nil {
		return fmt.Errorf("%w: %s data: %v", ErrMalformed, j.ID, err)
	}
	return nil
}

func Encode(j Job) (string, error) {
	b, err := json.Marshal(j)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func Decode(raw string) (Job, error) {
	var j Job
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		return Job{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if j.ID == "" || j.Type == "" {
		return Job{}, fmt.Errorf("%w: missing id or type", ErrMalformed)
	}
	if j.MaxAttempts <= 0 {
		j.MaxAttempts = DefaultMaxAttempts
	}
	return j, nil
}
