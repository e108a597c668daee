package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"storefront-pipeline/pipeline/internal/jobs"
	"storefront-pipeline/shared/config"
	"storefront-pipeline/shared/events"
	"storefront-pipeline/shared/logx"
	"storefront-pipeline/shared/mqx"
	"storefront-pipeline/shared/queuex"
)

type capturePublisher struct {
	topics []string
}

func (p *capturePublisher) Publish(_ context.Context, topic string, _ []byte, _ []byte, _ map[string]string) error {
	p.topics = append(p.topics, topic)
	return nil
}

func newDeps(store queuex.Store, in string) (*Deps, *bytes.Buffer) {
	out := &bytes.Buffer{}
	return &Deps{
		Config: config.Config{KafkaEventsTopic: "storefront.events", RedisPassword: "secret"},
		Logger: logx.Nop(),
		In:     strings.NewReader(in),
		Out:    out,
		Store:  func(context.Context) (queuex.Store, error) { return store, nil },
		Now:    func() time.Time { return time.UnixMilli(1_700_000_000_000) },
	}, out
}

func run(d *Deps, args ...string) error {
	root := NewRootCmd(d)
	root.SetArgs(args)
	return root.ExecuteContext(context.Background())
}

func TestEmitFromStdinFillsEnvelope(t *testing.T) {
	store := queuex.NewMemoryStore()
	d, out := newDeps(store, `{"type":"PAGE_VIEWED","sessionId":"s1","path":"/"}`)
	if err := run(d, "emit"); err != nil {
		t.Fatalf("emit: %v", err)
	}
	items, _ := store.Scan(context.Background(), queuex.EventsQueue)
	if len(items) != 1 {
		t.Fatalf("expected 1 queued event, got %d", len(items))
	}
	e, err := events.Decode(items[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if e.ID == "" || e.Timestamp != 1_700_000_000_000 {
		t.Fatalf("envelope not filled: %+v", e)
	}
	if !strings.Contains(out.String(), "queued PAGE_VIEWED") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestEmitMirror(t *testing.T) {
	store := queuex.NewMemoryStore()
	pub := &capturePublisher{}
	d, _ := newDeps(store, "")
	d.Publisher = func(context.Context) (mqx.Publisher, error) { return pub, nil }
	if err := run(d, "emit", "--mirror", "--data", `{"id":"e1","type":"SEARCH_PERFORMED","timestamp":5,"sessionId":"s1","query":"mug"}`); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if len(pub.topics) != 1 || pub.topics[0] != "storefront.events" {
		t.Fatalf("expected one mirrored publish, got %v", pub.topics)
	}
}

func TestEmitRejectsBadJSON(t *testing.T) {
	d, _ := newDeps(queuex.NewMemoryStore(), "")
	if err := run(d, "emit", "--data", "{"); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestDlqReplayAndStats(t *testing.T) {
	ctx := context.Background()
	store := queuex.NewMemoryStore()
	job, _ := jobs.NewJob(jobs.Spec{Type: jobs.ProfileUpdate, Data: map[string]string{}}, 3, time.UnixMilli(1))
	job.Attempts = 3
	raw, _ := jobs.Encode(job)
	_ = store.Push(ctx, queuex.FailedQueue, raw)

	d, out := newDeps(store, "")
	if err := run(d, "stats"); err != nil {
		t.Fatalf("stats: %v", err)
	}
	if !strings.Contains(out.String(), "profile.update") {
		t.Fatalf("stats missing failed type: %q", out.String())
	}

	if err := run(d, "dlq", "replay"); err == nil {
		t.Fatalf("replay without selector must fail")
	}
	if err := run(d, "dlq", "replay", "--all", job.ID); err == nil {
		t.Fatalf("replay with both selectors must fail")
	}
	if err := run(d, "dlq", "replay", job.ID); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if n, _ := store.Len(ctx, queuex.JobsQueue); n != 1 {
		t.Fatalf("expected job requeued, got %d", n)
	}
	if n, _ := store.Len(ctx, queuex.FailedQueue); n != 0 {
		t.Fatalf("expected failed queue drained, got %d", n)
	}
}

func TestConfigRedactsSecrets(t *testing.T) {
	d, out := newDeps(queuex.NewMemoryStore(), "")
	if err := run(d, "config"); err != nil {
		t.Fatalf("config: %v", err)
	}
	if strings.Contains(out.String(), "secret") {
		t.Fatalf("secret leaked: %s", out.String())
	}
}
