// Package limits provides centralized sizing constants and validation functions
// for the chunked transformation engine. It keeps worker counts, concurrency
// bounds and process-scaling thresholds consistent across the planner, the
// worker pools and the command-line front end.
//
// # Worker Count Hierarchy
//
//   - DefaultWorkers (4): the number of chunks a job is split into when the
//     caller does not ask for a specific count.
//
//   - DefaultMaxConcurrent (4): the number of thread-mode workers allowed to
//     hold a concurrency slot at the same time, regardless of how many
//     workers were created.
//
//   - MaxWorkers (256): the absolute maximum number of chunks per job. This
//     bounds goroutine and child-process fan-out.
//
// # Process Scaling
//
// Files larger than LargeFileThreshold (10 MiB) are processed with one child
// process per BytesPerProcess (2 MiB), clamped to
// [MinScaledProcesses, MaxScaledProcesses]:
//
//	n := limits.ScaledProcessCount(fileSize, requested)
//
// # Validation Functions
//
//	if err := limits.ValidateWorkerCount(n); err != nil {
//	    // ErrWorkerCountInvalid or ErrWorkerCountTooLarge
//	}
//
// # Error Types
//
//   - ErrWorkerCountInvalid: returned for zero or negative counts
//   - ErrWorkerCountTooLarge: returned when a count exceeds MaxWorkers
//   - ErrConcurrencyInvalid: returned for a non-positive concurrency bound
//   - ErrPollIntervalInvalid: returned for a poll interval outside its bounds
package limits
