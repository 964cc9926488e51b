// Package ludari provides a multi-replica cron job orchestration engine.
// Operators define named jobs with cron schedules and one of three
// execution bindings: an inline function registered by name, a method
// dispatched by name on a host-provided handler, or a persisted SQL
// string executed through a storage back end.
//
// Ludari is designed as a library, not a service. Import it, configure a
// storage and cache back end, and create a manager.Manager per replica.
// Replicas coordinate through the shared Storage (job definitions and
// execution history) and the shared Cache (distributed locks, dynamic
// per-job context, batch counters) so that at most one replica executes
// a given firing when the job opts into distributed locking.
//
// # Quick Start
//
//	m, err := manager.New(manager.Config{
//	    Storage: memory.New(),
//	    Logger:  slog.Default(),
//	    Enabled: true,
//	})
//	if err != nil { ... }
//	if err := m.Initialize(ctx); err != nil { ... }
//
// # Architecture
//
// Each subsystem defines its own contract: storage.Storage persists
// Control, Job, and JobRun records; cache.Cache provides locks, job
// context, batch counters, and replica liveness. A singleton Control
// record synchronizes the fleet: any mutation that must propagate marks
// every replica stale, and each replica observes its own stale flag on
// its next watch-job firing and rebuilds its scheduler.
//
// All entity IDs are TypeID based: type-prefixed, K-sortable, URL-safe.
package ludari
