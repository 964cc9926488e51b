package manager

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/ludari/ludari"
	cachemem "github.com/ludari/ludari/cache/memory"
	"github.com/ludari/ludari/lens"
	"github.com/ludari/ludari/storage"
	storemem "github.com/ludari/ludari/storage/memory"
)

const testSecret = "Aa1!Aa1!Aa1!Aa1!Aa1!Aa1!Aa1!Aa1!"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type testEnv struct {
	m       *Manager
	storage *storemem.Store
	cache   *cachemem.Cache
}

// newTestManager builds an initialized manager on fresh in-memory
// back ends.
func newTestManager(t *testing.T, mutate func(cfg *Config)) *testEnv {
	t.Helper()

	st := storemem.New()
	ca := cachemem.New()
	cfg := Config{
		ReplicaID: "test-replica-1",
		Storage:   st,
		Cache:     ca,
		Logger:    testLogger(),
		Enabled:   true,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	if s, ok := cfg.Storage.(*storemem.Store); ok {
		st = s
	}
	if c, ok := cfg.Cache.(*cachemem.Cache); ok {
		ca = c
	}

	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() {
		_ = m.Destroy(context.Background()) //nolint:errcheck // teardown
	})
	return &testEnv{m: m, storage: st, cache: ca}
}

func TestNew_Validation(t *testing.T) {
	logger := testLogger()

	if _, err := New(Config{Logger: logger}); !errors.Is(err, ludari.ErrNoStorage) {
		t.Errorf("missing storage: err = %v, want ErrNoStorage", err)
	}
	if _, err := New(Config{Storage: storemem.New()}); !errors.Is(err, ludari.ErrNoLogger) {
		t.Errorf("missing logger: err = %v, want ErrNoLogger", err)
	}
	if _, err := New(Config{Storage: storemem.New(), Logger: logger, QuerySecret: "weak"}); err == nil {
		t.Error("weak query secret: expected rejection")
	}
	if _, err := New(Config{Storage: storemem.New(), Logger: logger, ReplicaID: "nope"}); err == nil {
		t.Error("short replica id: expected rejection")
	}

	// UUIDs and long identifiers are both accepted.
	for _, rid := range []string{"3b2674b2-7d53-4a2f-9c0f-9f2a3f1c0b77", "replica_prod-42"} {
		if _, err := New(Config{Storage: storemem.New(), Logger: logger, ReplicaID: rid}); err != nil {
			t.Errorf("replica id %q: unexpected error %v", rid, err)
		}
	}
}

func TestNew_ClampsWatchInterval(t *testing.T) {
	for _, tc := range []struct{ in, want int }{
		{0, 5}, {1, 1}, {3, 3}, {7, 5}, {-2, 1},
	} {
		m, err := New(Config{Storage: storemem.New(), Logger: testLogger(), WatchInterval: tc.in})
		if err != nil {
			t.Fatalf("New(watch=%d): %v", tc.in, err)
		}
		if m.watchSeconds != tc.want {
			t.Errorf("watchSeconds(%d) = %d, want %d", tc.in, m.watchSeconds, tc.want)
		}
	}
}

func TestInitialize_Idempotent(t *testing.T) {
	env := newTestManager(t, nil)
	ctx := context.Background()

	if err := env.m.Initialize(ctx); err != nil {
		t.Fatalf("second Initialize: %v", err)
	}

	c, err := env.storage.GetControl(ctx)
	if err != nil || c == nil {
		t.Fatalf("GetControl = (%v, %v), want a created control", c, err)
	}
	if !c.Enabled || len(c.Replicas) != 1 || c.Replicas[0] != "test-replica-1" {
		t.Errorf("control = %+v, want enabled with this replica registered", c)
	}

	watch, err := env.storage.FindJobByName(ctx, storage.WatchJobName)
	if err != nil || watch == nil {
		t.Fatalf("watch job = (%v, %v), want created", watch, err)
	}
	if watch.Type != storage.TypeQuery || !watch.Enabled || watch.Persist {
		t.Errorf("watch job = %+v, want enabled query job without persistence", watch)
	}
}

func TestEnsureReadyGate(t *testing.T) {
	m, err := New(Config{Storage: storemem.New(), Logger: testLogger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	if _, err := m.ListJobs(ctx, storage.JobFilter{}); !errors.Is(err, ludari.ErrNotInitialized) {
		t.Errorf("before Initialize: err = %v, want ErrNotInitialized", err)
	}

	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := m.Destroy(ctx); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if err := m.Destroy(ctx); err != nil {
		t.Fatalf("second Destroy: %v", err)
	}

	if _, err := m.ListJobs(ctx, storage.JobFilter{}); !errors.Is(err, ludari.ErrDestroyed) {
		t.Errorf("after Destroy: err = %v, want ErrDestroyed", err)
	}
	if err := m.Initialize(ctx); !errors.Is(err, ludari.ErrDestroyed) {
		t.Errorf("Initialize after Destroy: err = %v, want ErrDestroyed", err)
	}
}

func TestListJobs_HidesWatchJob(t *testing.T) {
	env := newTestManager(t, nil)
	ctx := context.Background()

	page, err := env.m.ListJobs(ctx, storage.JobFilter{})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(page.Data) != 0 {
		t.Errorf("ListJobs on fresh storage = %d rows, want 0", len(page.Data))
	}

	watch, err := env.storage.FindJobByName(ctx, storage.WatchJobName)
	if err != nil || watch == nil {
		t.Fatalf("watch job lookup: (%v, %v)", watch, err)
	}
	got, err := env.m.GetJob(ctx, watch.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got != nil {
		t.Error("GetJob(watch id) must return nil")
	}
}

func TestCreateJob_Validation(t *testing.T) {
	env := newTestManager(t, nil)
	ctx := context.Background()

	cases := []struct {
		name string
		job  *storage.Job
	}{
		{"missing name", &storage.Job{Type: storage.TypeInline}},
		{"missing type", &storage.Job{Name: "x-job"}},
		{"bad characters", &storage.Job{Name: "bad name!", Type: storage.TypeInline}},
		{"reserved dunder", &storage.Job{Name: "__mine", Type: storage.TypeInline}},
		{"reserved system", &storage.Job{Name: "system:cleanup", Type: storage.TypeInline}},
		{"reserved internal", &storage.Job{Name: "internal:tick", Type: storage.TypeInline}},
		{"watch name", &storage.Job{Name: storage.WatchJobName, Type: storage.TypeQuery}},
		{"bad cron", &storage.Job{Name: "cronless", Type: storage.TypeInline, Cron: "not a cron"}},
		{"scheduled query without query", &storage.Job{Name: "q-job", Type: storage.TypeQuery, Enabled: true, Cron: "0 * * * *"}},
		{"scheduled method without handler", &storage.Job{Name: "m-job", Type: storage.TypeMethod, Enabled: true, Cron: "0 * * * *"}},
	}

	for _, tc := range cases {
		if _, err := env.m.CreateJob(ctx, tc.job); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestJobLifecycle_ToggleAndDelete(t *testing.T) {
	env := newTestManager(t, nil)
	ctx := context.Background()

	j, err := env.m.CreateJob(ctx, &storage.Job{
		Name:    "lifecycle",
		Type:    storage.TypeInline,
		Enabled: true,
		Cron:    "@every 1h",
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	env.m.mu.Lock()
	_, scheduled := env.m.cronJobs["lifecycle"]
	env.m.mu.Unlock()
	if !scheduled {
		t.Error("expected a timer after CreateJob")
	}

	disabled, err := env.m.DisableJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("DisableJob: %v", err)
	}
	if disabled.Enabled {
		t.Error("DisableJob left the job enabled")
	}
	env.m.mu.Lock()
	_, scheduled = env.m.cronJobs["lifecycle"]
	env.m.mu.Unlock()
	if scheduled {
		t.Error("disable must stop the timer")
	}

	// Short-circuit: disabling again returns without error.
	if _, err = env.m.DisableJob(ctx, j.ID); err != nil {
		t.Fatalf("second DisableJob: %v", err)
	}

	toggled, err := env.m.ToggleJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("ToggleJob: %v", err)
	}
	if !toggled.Enabled {
		t.Error("ToggleJob must re-enable")
	}

	if err = env.m.DeleteJob(ctx, j.ID); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	env.m.mu.Lock()
	_, scheduled = env.m.cronJobs["lifecycle"]
	env.m.mu.Unlock()
	if scheduled {
		t.Error("delete must stop the timer")
	}
	if got, _ := env.m.GetJob(ctx, j.ID); got != nil {
		t.Error("deleted job must not resolve")
	}
}

func TestUpdateJob_ReplacesTimer(t *testing.T) {
	env := newTestManager(t, nil)
	ctx := context.Background()

	j, err := env.m.CreateJob(ctx, &storage.Job{
		Name:    "rescheduled",
		Type:    storage.TypeInline,
		Enabled: true,
		Cron:    "@every 1h",
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	env.m.mu.Lock()
	before := env.m.cronJobs["rescheduled"]
	env.m.mu.Unlock()

	newCron := "@every 2h"
	if _, err = env.m.UpdateJob(ctx, j.ID, storage.JobPatch{Cron: &newCron}); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	env.m.mu.Lock()
	after, ok := env.m.cronJobs["rescheduled"]
	env.m.mu.Unlock()
	if !ok {
		t.Fatal("expected a timer after the update")
	}
	if after == before {
		t.Error("update must replace the timer, not reuse it")
	}
}

func TestUpdateJob_SystemNameProtection(t *testing.T) {
	env := newTestManager(t, nil)
	ctx := context.Background()

	watch, err := env.storage.FindJobByName(ctx, storage.WatchJobName)
	if err != nil || watch == nil {
		t.Fatalf("watch lookup: (%v, %v)", watch, err)
	}

	enabled := false
	if _, err = env.m.UpdateJob(ctx, watch.ID, storage.JobPatch{Enabled: &enabled}); err == nil {
		t.Error("modifying the watch job must be refused")
	}
	if _, err = env.m.ToggleJob(ctx, watch.ID); err == nil {
		t.Error("toggling the watch job must be refused")
	}
	if err = env.m.DeleteJob(ctx, watch.ID); err == nil {
		t.Error("deleting the watch job must be refused")
	}

	j, err := env.m.CreateJob(ctx, &storage.Job{Name: "renameable", Type: storage.TypeInline})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	reserved := "__sneaky"
	if _, err = env.m.UpdateJob(ctx, j.ID, storage.JobPatch{Name: &reserved}); err == nil {
		t.Error("renaming to a reserved name must be refused")
	}
}

func TestUpdateJob_PushesContextToCache(t *testing.T) {
	env := newTestManager(t, nil)
	ctx := context.Background()

	j, err := env.m.CreateJob(ctx, &storage.Job{Name: "ctx-job", Type: storage.TypeInline})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	if _, err = env.m.UpdateJob(ctx, j.ID, storage.JobPatch{
		Context: map[string]any{"distributed": true, "region": "eu"},
	}); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	got := env.cache.GetJobContext(ctx, "ctx-job")
	if got == nil || got["region"] != "eu" {
		t.Errorf("cached context = %v, want the pushed map", got)
	}
}

func TestToggleControl(t *testing.T) {
	env := newTestManager(t, nil)
	ctx := context.Background()

	c, err := env.m.ToggleControl(ctx)
	if err != nil {
		t.Fatalf("ToggleControl: %v", err)
	}
	if c.Enabled {
		t.Error("first toggle must disable")
	}

	c, err = env.m.ToggleControl(ctx)
	if err != nil {
		t.Fatalf("ToggleControl: %v", err)
	}
	if !c.Enabled {
		t.Error("second toggle must re-enable")
	}
}

func TestRegisterInlineHandler_Validation(t *testing.T) {
	env := newTestManager(t, nil)

	noop := func(_ context.Context, _ map[string]any, _ *lens.Lens) (any, error) { return nil, nil }
	if err := env.m.RegisterInlineHandler("__reserved", noop); err == nil {
		t.Error("reserved inline name must be refused")
	}
	if err := env.m.RegisterInlineHandler("fine-job", nil); err == nil {
		t.Error("nil inline handler must be refused")
	}
	if err := env.m.RegisterInlineHandler("fine-job", noop); err != nil {
		t.Errorf("RegisterInlineHandler: %v", err)
	}
	env.m.UnregisterInlineHandler("fine-job")
}
