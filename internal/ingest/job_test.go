package ingest

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"error-tracker/internal/cache"
	"error-tracker/internal/config"
	"error-tracker/internal/jobs"
	"error-tracker/internal/models"
	"error-tracker/internal/queue"
	"error-tracker/internal/store"
)

type memPosts struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newMemPosts() *memPosts {
	return &memPosts{files: map[string][]byte{}}
}

func (m *memPosts) Get(_ context.Context, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	body, ok := m.files[path]
	if !ok {
		return nil, errors.New("post not found: " + path)
	}
	return body, nil
}

func (m *memPosts) Put(_ context.Context, path string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = body
	return nil
}

func (m *memPosts) Remove(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, path)
	return nil
}

func (m *memPosts) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.files)
}

func (m *memPosts) has(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[path]
	return ok
}

type fakeProjects struct {
	project *models.Project
	org     *models.Organization
}

func (f *fakeProjects) GetProject(_ context.Context, id string) (*models.Project, error) {
	if f.project == nil || f.project.ID != id {
		return nil, store.ErrNotFound
	}
	return f.project, nil
}

func (f *fakeProjects) GetOrganization(_ context.Context, id string) (*models.Organization, error) {
	if f.org == nil || f.org.ID != id {
		return nil, store.ErrNotFound
	}
	return f.org, nil
}

type fakePipeline struct {
	runs [][]*models.Event
	fn   func(events []*models.Event) []EventResult
}

func (f *fakePipeline) Run(_ context.Context, events []*models.Event) []EventResult {
	f.runs = append(f.runs, events)
	if f.fn != nil {
		return f.fn(events)
	}
	results := make([]EventResult, len(events))
	for i, ev := range events {
		results[i] = EventResult{Event: ev}
	}
	return results
}

type testEnv struct {
	job      *Job
	posts    *memPosts
	queue    *queue.Queue[models.EventPost]
	pipeline *fakePipeline
	quota    *Quota
	projects *fakeProjects
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	posts := newMemPosts()
	q := queue.New[models.EventPost](client, "event-posts", 30*time.Second)
	projects := &fakeProjects{
		project: &models.Project{ID: "p1", OrganizationID: "o1"},
		org:     &models.Organization{ID: "o1"},
	}
	pipe := &fakePipeline{}
	quota := NewQuota(cache.New(client, ""))

	job := NewJob(posts, q, projects, pipe, quota, config.Config{PostMaxBytes: 1 << 20}, zerolog.Nop())
	return &testEnv{job: job, posts: posts, queue: q, pipeline: pipe, quota: quota, projects: projects}
}

func (env *testEnv) seedPost(t *testing.T, path string, events []*models.Event) *queue.Entry[models.EventPost] {
	t.Helper()
	body, err := json.Marshal(events)
	if err != nil {
		t.Fatalf("marshal events: %v", err)
	}
	if err := env.posts.Put(context.Background(), path, body); err != nil {
		t.Fatalf("seed post: %v", err)
	}
	return &queue.Entry[models.EventPost]{
		ID:         "entry-1",
		Deliveries: 1,
		Payload:    models.EventPost{FilePath: path, ProjectID: "p1"},
	}
}

func logEvents(n int) []*models.Event {
	events := make([]*models.Event, n)
	for i := range events {
		events[i] = &models.Event{Type: models.TypeLog, Message: "msg", ReferenceID: string(rune('a' + i))}
	}
	return events
}

func TestPartialFailureRequeuesOnlyFailedEvents(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.pipeline.fn = func(events []*models.Event) []EventResult {
		results := make([]EventResult, len(events))
		for i, ev := range events {
			results[i] = EventResult{Event: ev}
			if i == 2 || i == 6 {
				results[i].Err = errors.New("db down")
			}
		}
		return results
	}

	entry := env.seedPost(t, "posts/batch.json", logEvents(10))
	if err := env.job.Process(ctx, entry); err != nil {
		t.Fatalf("process: %v", err)
	}

	depth, _ := env.queue.Depth(ctx)
	if depth != 2 {
		t.Fatalf("expected exactly the 2 failed events re-enqueued, got %d", depth)
	}
	if env.posts.has("posts/batch.json") {
		t.Fatal("original post must be removed once the unit completes")
	}
	if env.posts.count() != 2 {
		t.Fatalf("expected 2 retry blobs, got %d", env.posts.count())
	}

	// Requeued units are single events carrying the original post context.
	requeued, err := env.queue.Dequeue(ctx)
	if err != nil || requeued == nil {
		t.Fatalf("dequeue requeued: entry=%v err=%v", requeued, err)
	}
	if requeued.Payload.ProjectID != "p1" {
		t.Fatalf("requeued post lost project, got %q", requeued.Payload.ProjectID)
	}
	if !strings.HasPrefix(requeued.Payload.FilePath, "retry/") {
		t.Fatalf("requeued post path %q", requeued.Payload.FilePath)
	}
}

func TestSingleEventFailureRetriesWholeUnit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.pipeline.fn = func(events []*models.Event) []EventResult {
		return []EventResult{{Event: events[0], Err: errors.New("db down")}}
	}

	entry := env.seedPost(t, "posts/single.json", logEvents(1))
	err := env.job.Process(ctx, entry)
	if err == nil {
		t.Fatal("expected an error so the entry is abandoned")
	}
	if jobs.IsValidation(err) {
		t.Fatalf("a transient failure must not be terminal: %v", err)
	}
	if !env.posts.has("posts/single.json") {
		t.Fatal("post blob must survive for the redelivery")
	}
	if depth, _ := env.queue.Depth(ctx); depth != 0 {
		t.Fatalf("single-event units redeliver via the lease, not requeue; depth %d", depth)
	}
}

func TestValidationResultDiscardsEvent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.pipeline.fn = func(events []*models.Event) []EventResult {
		return []EventResult{{Event: events[0], Err: jobs.Validationf("orphaned event")}}
	}

	entry := env.seedPost(t, "posts/invalid.json", logEvents(1))
	if err := env.job.Process(ctx, entry); err != nil {
		t.Fatalf("discarded events complete the unit, got %v", err)
	}
	if env.posts.has("posts/invalid.json") {
		t.Fatal("post blob must be removed")
	}
}

func TestUnparsablePostDropped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.posts.Put(ctx, "posts/garbage.json", []byte("not json")); err != nil {
		t.Fatalf("seed: %v", err)
	}
	entry := &queue.Entry[models.EventPost]{
		ID:      "entry-1",
		Payload: models.EventPost{FilePath: "posts/garbage.json", ProjectID: "p1"},
	}

	err := env.job.Process(ctx, entry)
	if !jobs.IsValidation(err) {
		t.Fatalf("expected a terminal validation error, got %v", err)
	}
	if env.posts.has("posts/garbage.json") {
		t.Fatal("unparsable post must be removed")
	}
}

func TestUnknownProjectDropped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	entry := env.seedPost(t, "posts/unknown.json", logEvents(2))
	entry.Payload.ProjectID = "missing"

	err := env.job.Process(ctx, entry)
	if !jobs.IsValidation(err) {
		t.Fatalf("expected a terminal validation error, got %v", err)
	}
	if env.posts.has("posts/unknown.json") {
		t.Fatal("post for a missing project must be removed")
	}
}

func TestQuotaTruncatesOversizedPost(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.projects.org.MaxEventsPerMonth = 5

	if err := env.quota.AddUsage(ctx, "o1", 2, time.Now()); err != nil {
		t.Fatalf("seed usage: %v", err)
	}

	entry := env.seedPost(t, "posts/burst.json", logEvents(10))
	if err := env.job.Process(ctx, entry); err != nil {
		t.Fatalf("process: %v", err)
	}

	if len(env.pipeline.runs) != 1 {
		t.Fatalf("expected one pipeline run, got %d", len(env.pipeline.runs))
	}
	if got := len(env.pipeline.runs[0]); got != 3 {
		t.Fatalf("expected the post truncated to the remaining quota of 3, got %d", got)
	}

	remaining, err := env.quota.Remaining(ctx, env.projects.org, time.Now())
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected quota exhausted, %d remaining", remaining)
	}
}

func TestEventsAreStamped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	events := logEvents(1)
	events[0].ID = "client-chosen"
	events[0].StackID = "client-chosen-stack"

	entry := env.seedPost(t, "posts/stamp.json", events)
	if err := env.job.Process(ctx, entry); err != nil {
		t.Fatalf("process: %v", err)
	}

	got := env.pipeline.runs[0][0]
	if got.ID == "client-chosen" || got.ID == "" {
		t.Fatalf("ids are server-assigned, got %q", got.ID)
	}
	if got.StackID != "" {
		t.Fatalf("client stack ids must be discarded, got %q", got.StackID)
	}
	if got.ProjectID != "p1" || got.OrganizationID != "o1" {
		t.Fatalf("tenancy not stamped: project=%q org=%q", got.ProjectID, got.OrganizationID)
	}
}

func TestGzipPostDecoded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	body, err := json.Marshal(logEvents(2))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(body); err != nil {
		t.Fatalf("compress: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	if err := env.posts.Put(ctx, "posts/gz.json", buf.Bytes()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	entry := &queue.Entry[models.EventPost]{
		ID:      "entry-1",
		Payload: models.EventPost{FilePath: "posts/gz.json", ProjectID: "p1", ContentEncoding: "gzip"},
	}
	if err := env.job.Process(ctx, entry); err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := len(env.pipeline.runs[0]); got != 2 {
		t.Fatalf("expected 2 decoded events, got %d", got)
	}
}
