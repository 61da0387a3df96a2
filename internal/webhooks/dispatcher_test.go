package webhooks

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
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

type fakeHookStore struct {
	hook        *models.WebHook
	project     *models.Project
	disabled    []string
	clearedChat []string
}

func (f *fakeHookStore) GetWebHook(_ context.Context, id string) (*models.WebHook, error) {
	if f.hook == nil || f.hook.ID != id {
		return nil, store.ErrNotFound
	}
	return f.hook, nil
}

func (f *fakeHookStore) DisableWebHook(_ context.Context, id string) error {
	f.disabled = append(f.disabled, id)
	return nil
}

func (f *fakeHookStore) GetProject(_ context.Context, id string) (*models.Project, error) {
	if f.project == nil || f.project.ID != id {
		return nil, store.ErrNotFound
	}
	return f.project, nil
}

func (f *fakeHookStore) ClearChatWebhook(_ context.Context, projectID string) error {
	f.clearedChat = append(f.clearedChat, projectID)
	return nil
}

func newTestDispatcher(t *testing.T, st *fakeHookStore, now time.Time) *Dispatcher {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	d := NewDispatcher(st, cache.New(client, ""), config.Config{}, zerolog.Nop())
	d.now = func() time.Time { return now }
	return d
}

// respondingServer returns a server answering with status and a counter of
// requests received.
func respondingServer(t *testing.T, status int) (*httptest.Server, *int64) {
	t.Helper()
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func notification(url string) models.WebHookNotification {
	return models.WebHookNotification{
		URL:       url,
		Data:      map[string]any{"title": "NullReferenceException"},
		ProjectID: "p1",
		Type:      models.WebHookTypeGeneral,
		WebHookID: "wh1",
	}
}

func entryFor(n models.WebHookNotification) *queue.Entry[models.WebHookNotification] {
	return &queue.Entry[models.WebHookNotification]{ID: "entry-1", Deliveries: 1, Payload: n}
}

func TestSuccessfulDeliveryClearsCounters(t *testing.T) {
	srv, calls := respondingServer(t, http.StatusOK)
	st := &fakeHookStore{hook: &models.WebHook{ID: "wh1", URL: srv.URL, IsEnabled: true}}
	now := time.Now()
	d := newTestDispatcher(t, st, now)
	ctx := context.Background()

	// Prior failures on the books.
	if err := d.cache.Set(ctx, errorsKey("wh1"), "3", 0); err != nil {
		t.Fatalf("seed errors: %v", err)
	}
	if err := d.cache.SetTime(ctx, firstKey("wh1"), now.Add(-time.Hour), 0); err != nil {
		t.Fatalf("seed first: %v", err)
	}

	if err := d.Process(ctx, entryFor(notification(srv.URL))); err != nil {
		t.Fatalf("process: %v", err)
	}
	if atomic.LoadInt64(calls) != 1 {
		t.Fatalf("expected 1 delivery, got %d", *calls)
	}
	if len(st.disabled) != 0 {
		t.Fatal("successful delivery must not disable the hook")
	}
	if _, ok, _ := d.cache.GetInt(ctx, errorsKey("wh1")); ok {
		t.Fatal("success must clear the failure counters")
	}
}

func TestDefinitiveRejectionDisablesImmediately(t *testing.T) {
	srv, calls := respondingServer(t, http.StatusGone)
	st := &fakeHookStore{hook: &models.WebHook{ID: "wh1", URL: srv.URL, IsEnabled: true}}
	d := newTestDispatcher(t, st, time.Now())

	if err := d.Process(context.Background(), entryFor(notification(srv.URL))); err != nil {
		t.Fatalf("process: %v", err)
	}
	if atomic.LoadInt64(calls) != 1 {
		t.Fatalf("a definitive rejection gets no retries, saw %d calls", *calls)
	}
	if len(st.disabled) != 1 || st.disabled[0] != "wh1" {
		t.Fatalf("expected wh1 disabled, got %v", st.disabled)
	}
}

func TestChatRejectionClearsProjectWebhook(t *testing.T) {
	srv, _ := respondingServer(t, http.StatusForbidden)
	st := &fakeHookStore{project: &models.Project{ID: "p1", ChatWebhookURL: srv.URL}}
	d := newTestDispatcher(t, st, time.Now())

	n := models.WebHookNotification{
		URL:       srv.URL,
		Data:      map[string]any{"title": "boom"},
		ProjectID: "p1",
		Type:      models.WebHookTypeChat,
	}
	if err := d.Process(context.Background(), entryFor(n)); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(st.clearedChat) != 1 || st.clearedChat[0] != "p1" {
		t.Fatalf("expected chat webhook cleared for p1, got %v", st.clearedChat)
	}
}

func TestPersistentFailuresDisable(t *testing.T) {
	srv, _ := respondingServer(t, http.StatusInternalServerError)
	st := &fakeHookStore{hook: &models.WebHook{ID: "wh1", URL: srv.URL, IsEnabled: true}}
	now := time.Now()
	d := newTestDispatcher(t, st, now)
	ctx := context.Background()

	// Nine failures over the last three days; this one is the tenth.
	if err := d.cache.Set(ctx, errorsKey("wh1"), "9", 0); err != nil {
		t.Fatalf("seed errors: %v", err)
	}
	if err := d.cache.SetTime(ctx, firstKey("wh1"), now.Add(-72*time.Hour), 0); err != nil {
		t.Fatalf("seed first: %v", err)
	}

	if err := d.Process(ctx, entryFor(notification(srv.URL))); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(st.disabled) != 1 {
		t.Fatalf("expected the hook disabled after sustained failures, got %v", st.disabled)
	}
}

func TestRecentFailureStreakNotDisabled(t *testing.T) {
	srv, _ := respondingServer(t, http.StatusInternalServerError)
	st := &fakeHookStore{hook: &models.WebHook{ID: "wh1", URL: srv.URL, IsEnabled: true}}
	now := time.Now()
	d := newTestDispatcher(t, st, now)
	ctx := context.Background()

	// Same count, but the streak started an hour ago.
	if err := d.cache.Set(ctx, errorsKey("wh1"), "9", 0); err != nil {
		t.Fatalf("seed errors: %v", err)
	}
	if err := d.cache.SetTime(ctx, firstKey("wh1"), now.Add(-time.Hour), 0); err != nil {
		t.Fatalf("seed first: %v", err)
	}

	if err := d.Process(ctx, entryFor(notification(srv.URL))); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(st.disabled) != 0 {
		t.Fatal("a short streak must not disable the hook")
	}
	count, _, err := d.cache.GetInt(ctx, errorsKey("wh1"))
	if err != nil {
		t.Fatalf("get count: %v", err)
	}
	if count != 10 {
		t.Fatalf("expected the failure counted, got %d", count)
	}
}

func TestCooldownSkipsDelivery(t *testing.T) {
	srv, calls := respondingServer(t, http.StatusOK)
	st := &fakeHookStore{hook: &models.WebHook{ID: "wh1", URL: srv.URL, IsEnabled: true}}
	now := time.Now()
	d := newTestDispatcher(t, st, now)
	ctx := context.Background()

	if err := d.cache.Set(ctx, errorsKey("wh1"), "11", 0); err != nil {
		t.Fatalf("seed errors: %v", err)
	}
	if err := d.cache.SetTime(ctx, lastKey("wh1"), now.Add(-time.Minute), 0); err != nil {
		t.Fatalf("seed last: %v", err)
	}

	if err := d.Process(ctx, entryFor(notification(srv.URL))); err != nil {
		t.Fatalf("process: %v", err)
	}
	if atomic.LoadInt64(calls) != 0 {
		t.Fatalf("cooldown must skip delivery entirely, saw %d calls", *calls)
	}
}

func TestDisabledHookDropped(t *testing.T) {
	srv, calls := respondingServer(t, http.StatusOK)
	st := &fakeHookStore{hook: &models.WebHook{ID: "wh1", URL: srv.URL, IsEnabled: false}}
	d := newTestDispatcher(t, st, time.Now())

	if err := d.Process(context.Background(), entryFor(notification(srv.URL))); err != nil {
		t.Fatalf("process: %v", err)
	}
	if atomic.LoadInt64(calls) != 0 {
		t.Fatalf("disabled hooks get no deliveries, saw %d calls", *calls)
	}
}

func TestUnknownHookIsTerminal(t *testing.T) {
	st := &fakeHookStore{}
	d := newTestDispatcher(t, st, time.Now())

	err := d.Process(context.Background(), entryFor(notification("http://localhost/unused")))
	if !jobs.IsValidation(err) {
		t.Fatalf("expected a terminal validation error, got %v", err)
	}
}
