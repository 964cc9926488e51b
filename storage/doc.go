// Package storage defines the persistence contract for the orchestration
// core: typed CRUD over the Control singleton, Job definitions, and JobRun
// execution records, with filtered paginated reads, optimistic versioning
// on Control, and soft deletion of jobs.
//
// Every read returns a deep copy of persisted state so that no caller can
// mutate stored records through a reference obtained via a read.
//
// A back end implements Storage; back ends that can execute raw query
// strings additionally implement QueryExecutor, discovered by type
// assertion. Its absence signals that query-type jobs are not supported.
package storage
