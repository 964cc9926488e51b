package manager

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/ludari/ludari"
	"github.com/ludari/ludari/backoff"
	cachemem "github.com/ludari/ludari/cache/memory"
	"github.com/ludari/ludari/handler"
	"github.com/ludari/ludari/id"
	"github.com/ludari/ludari/lens"
	"github.com/ludari/ludari/storage"
	storemem "github.com/ludari/ludari/storage/memory"
)

// flakyControlStore injects optimistic-concurrency conflicts into the
// first N UpdateControl calls.
type flakyControlStore struct {
	storage.Storage
	mu       sync.Mutex
	failures int
	calls    int
}

func (s *flakyControlStore) UpdateControl(ctx context.Context, controlID id.ControlID, patch storage.ControlPatch) (*storage.Control, error) {
	s.mu.Lock()
	s.calls++
	fail := s.calls <= s.failures
	s.mu.Unlock()

	if fail {
		return nil, ludari.NewConflict("control version mismatch")
	}
	return s.Storage.UpdateControl(ctx, controlID, patch)
}

func (s *flakyControlStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func seedControl(t *testing.T, st storage.Storage, replicas, stale []string) *storage.Control {
	t.Helper()

	c, err := st.CreateControl(context.Background(), &storage.Control{
		Entity:   ludari.NewEntity(),
		ID:       id.NewControlID(),
		Enabled:  true,
		LogLevel: storage.LogLevelInfo,
		Replicas: replicas,
		Stale:    stale,
		Version:  "seed",
	})
	if err != nil {
		t.Fatalf("CreateControl: %v", err)
	}
	return c
}

func TestPrepare_PrunesUnresponsiveReplicas(t *testing.T) {
	st := storemem.New()
	ca := cachemem.New()
	seedControl(t, st, []string{"ghost-replica", "test-replica-1"}, []string{"ghost-replica"})

	env := newTestManager(t, func(cfg *Config) {
		cfg.Storage = st
		cfg.Cache = ca
	})
	_ = env

	c, err := st.GetControl(context.Background())
	if err != nil {
		t.Fatalf("GetControl: %v", err)
	}
	if !slices.Equal(c.Replicas, []string{"test-replica-1"}) {
		t.Errorf("Replicas = %v, want the ghost pruned", c.Replicas)
	}
	if len(c.Stale) != 0 {
		t.Errorf("Stale = %v, want pruned alongside the roster", c.Stale)
	}
}

func TestPrepare_KeepsHealthyReplicas(t *testing.T) {
	st := storemem.New()
	ca := cachemem.New()
	ca.RegisterReplica(context.Background(), "peer-replica", 30*time.Second)
	seedControl(t, st, []string{"peer-replica"}, nil)

	newTestManager(t, func(cfg *Config) {
		cfg.Storage = st
		cfg.Cache = ca
	})

	c, err := st.GetControl(context.Background())
	if err != nil {
		t.Fatalf("GetControl: %v", err)
	}
	if !slices.Contains(c.Replicas, "peer-replica") || !slices.Contains(c.Replicas, "test-replica-1") {
		t.Errorf("Replicas = %v, want both the healthy peer and self", c.Replicas)
	}
}

func TestPrepare_ClearsOwnStaleFlag(t *testing.T) {
	st := storemem.New()
	ca := cachemem.New()
	seedControl(t, st, []string{"test-replica-1"}, []string{"test-replica-1"})

	newTestManager(t, func(cfg *Config) {
		cfg.Storage = st
		cfg.Cache = ca
	})

	c, err := st.GetControl(context.Background())
	if err != nil {
		t.Fatalf("GetControl: %v", err)
	}
	if slices.Contains(c.Stale, "test-replica-1") {
		t.Error("startup must clear this replica's stale flag")
	}
}

func TestUpdateControlWithRetry_RetriesConflicts(t *testing.T) {
	flaky := &flakyControlStore{Storage: storemem.New(), failures: 2}
	c := seedControl(t, flaky.Storage, []string{"r"}, nil)

	m, err := New(Config{Storage: flaky, Logger: testLogger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.retry = &backoff.Constant{Interval: time.Millisecond}

	enabled := false
	updated, err := m.updateControlWithRetry(context.Background(), c.ID, func(_ *storage.Control) (storage.ControlPatch, bool) {
		return storage.ControlPatch{Enabled: &enabled}, true
	})
	if err != nil {
		t.Fatalf("updateControlWithRetry: %v", err)
	}
	if updated.Enabled {
		t.Error("patch not applied after retries")
	}
	if got := flaky.callCount(); got != 3 {
		t.Errorf("UpdateControl calls = %d, want 3 (two conflicts, one success)", got)
	}
}

func TestUpdateControlWithRetry_Exhausts(t *testing.T) {
	flaky := &flakyControlStore{Storage: storemem.New(), failures: 100}
	c := seedControl(t, flaky.Storage, []string{"r"}, nil)

	m, err := New(Config{Storage: flaky, Logger: testLogger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.retry = &backoff.Constant{Interval: time.Millisecond}

	enabled := false
	if _, err = m.updateControlWithRetry(context.Background(), c.ID, func(_ *storage.Control) (storage.ControlPatch, bool) {
		return storage.ControlPatch{Enabled: &enabled}, true
	}); err == nil {
		t.Fatal("expected exhaustion error")
	}
	if got := flaky.callCount(); got != maxControlRetries {
		t.Errorf("UpdateControl calls = %d, want %d", got, maxControlRetries)
	}
}

func TestUpdateControlWithRetry_NoChangeNeeded(t *testing.T) {
	st := storemem.New()
	c := seedControl(t, st, []string{"r"}, nil)

	m, err := New(Config{Storage: st, Logger: testLogger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := m.updateControlWithRetry(context.Background(), c.ID, func(_ *storage.Control) (storage.ControlPatch, bool) {
		return storage.ControlPatch{}, false
	})
	if err != nil {
		t.Fatalf("updateControlWithRetry: %v", err)
	}
	if got.Version != "seed" {
		t.Errorf("Version = %q, want untouched seed", got.Version)
	}
}

func TestTriggerReset_MarksEveryReplicaStale(t *testing.T) {
	env := newTestManager(t, nil)
	ctx := context.Background()

	before, err := env.storage.GetControl(ctx)
	if err != nil {
		t.Fatalf("GetControl: %v", err)
	}

	env.m.triggerReset(ctx)

	after, err := env.storage.GetControl(ctx)
	if err != nil {
		t.Fatalf("GetControl: %v", err)
	}
	if !sameMembers(after.Stale, after.Replicas) {
		t.Errorf("Stale = %v, want every replica in %v", after.Stale, after.Replicas)
	}
	if after.Version == before.Version {
		t.Error("triggerReset must rotate the version token")
	}
}

func TestResetPropagation_TwoReplicas(t *testing.T) {
	st := storemem.New()
	ca := cachemem.New()
	ctx := context.Background()

	methods := handler.NewMethodSet()
	if err := methods.Register("j", func(_ context.Context, _ map[string]any, _ *lens.Lens) (any, error) {
		return nil, nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	newReplica := func(replicaID string) *Manager {
		t.Helper()
		m, err := New(Config{
			ReplicaID: replicaID,
			Storage:   st,
			Cache:     ca,
			Logger:    testLogger(),
			Handler:   methods,
			Enabled:   true,
		})
		if err != nil {
			t.Fatalf("New(%s): %v", replicaID, err)
		}
		if err := m.Initialize(ctx); err != nil {
			t.Fatalf("Initialize(%s): %v", replicaID, err)
		}
		t.Cleanup(func() {
			_ = m.Destroy(ctx) //nolint:errcheck // teardown
		})
		return m
	}

	m1 := newReplica("replica-aaaa")
	m2 := newReplica("replica-bbbb")

	if _, err := m1.CreateJob(ctx, &storage.Job{
		Name:    "j",
		Type:    storage.TypeMethod,
		Enabled: true,
		Cron:    "*/5 * * * * *",
	}); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	c, err := st.GetControl(ctx)
	if err != nil {
		t.Fatalf("GetControl: %v", err)
	}
	for _, rid := range []string{"replica-aaaa", "replica-bbbb"} {
		if !slices.Contains(c.Stale, rid) {
			t.Errorf("Stale = %v, want %s marked", c.Stale, rid)
		}
	}

	// One watch tick on the second replica rebuilds its scheduler and
	// clears its own flag.
	watch, err := st.FindJobByName(ctx, storage.WatchJobName)
	if err != nil || watch == nil {
		t.Fatalf("watch lookup: (%v, %v)", watch, err)
	}
	m2.executeJob(watch)

	c, err = st.GetControl(ctx)
	if err != nil {
		t.Fatalf("GetControl: %v", err)
	}
	if slices.Contains(c.Stale, "replica-bbbb") {
		t.Error("replica-bbbb must clear its own stale flag after the tick")
	}

	m2.mu.Lock()
	_, scheduled := m2.cronJobs["j"]
	m2.mu.Unlock()
	if !scheduled {
		t.Error("replica-bbbb must schedule the new job after its rebuild")
	}
}

func TestPurgeControl(t *testing.T) {
	st := storemem.New()
	ca := cachemem.New()
	seedControl(t, st, []string{"long-gone-replica", "test-replica-1"}, nil)
	// Make the dead peer look alive so prepare keeps it around.
	ca.RegisterReplica(context.Background(), "long-gone-replica", 30*time.Second)

	env := newTestManager(t, func(cfg *Config) {
		cfg.Storage = st
		cfg.Cache = ca
	})
	ctx := context.Background()

	if err := env.m.PurgeControl(ctx); err != nil {
		t.Fatalf("PurgeControl: %v", err)
	}

	c, err := st.GetControl(ctx)
	if err != nil {
		t.Fatalf("GetControl: %v", err)
	}
	if !slices.Equal(c.Replicas, []string{"test-replica-1"}) {
		t.Errorf("Replicas = %v, want only self after purge + re-register", c.Replicas)
	}
	if len(c.Stale) != 0 {
		t.Errorf("Stale = %v, want empty", c.Stale)
	}
}
