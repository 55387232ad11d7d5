// Package chunk partitions a file into contiguous byte ranges, one per worker.
//
// # Planning
//
//	specs, err := chunk.Plan(fileSize, workers)
//	if err != nil {
//	    return err
//	}
//	for _, s := range specs {
//	    // s.Offset, s.Length
//	}
//
// The chunk length is ceil(fileSize/workers). The final chunk is clamped to
// the bytes that remain, so the plan always covers [0, fileSize) exactly.
// When workers exceeds fileSize the trailing chunks have zero length; they
// are still emitted so that every worker index owns exactly one Spec, and
// workers treat them as an immediate success.
//
// # Process Scaling
//
// ProcessCount applies the size-based scaling rule from the limits package
// before planning a process-mode job:
//
//	n := chunk.ProcessCount(fileSize, requested)
//	specs, err := chunk.Plan(fileSize, n)
package chunk
