// Package engine runs chunked, parallel in-place transformations of a single
// file.
//
// A job splits the file into contiguous chunks with chunk.Plan and hands each
// chunk to one worker. Two execution modes are available:
//
//   - Thread mode runs every worker as a goroutine. Workers share one file
//     handle; a pool-wide lock serialises seek+read and seek+write while the
//     transform runs in parallel. A limiter.Limiter bounds how many workers
//     are active at once.
//   - Process mode re-executes the current binary once per chunk. Each child
//     opens the file itself, transforms its chunk with XOR and reports one
//     line over an inherited pipe. The parent polls the pipe and the children
//     until every report has arrived and every child has exited, or until the
//     pipe closes.
//
// Programs that use process mode must dispatch children early in main:
//
//	if engine.IsChild() {
//	    os.Exit(engine.RunChild())
//	}
//
// TaskManager is the facade most callers want. Its accessors are safe to call
// from other goroutines while a job runs:
//
//	tm := engine.NewTaskManager(engine.WithMaxConcurrent(4))
//	go func() {
//	    for !tm.IsComplete() && tm.Running() {
//	        fmt.Println(tm.Snapshot().Overall)
//	        time.Sleep(100 * time.Millisecond)
//	    }
//	}()
//	if err := tm.RunWithThreads("data.bin", technique.Encrypt, 8); err != nil {
//	    log.Fatal(err)
//	}
//
// Worker failures never stop sibling workers. A run returns ErrJobFailed when
// any worker failed; the status message then holds the most recent failure
// and Failures holds all of them.
package engine
