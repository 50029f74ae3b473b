// Package orchestrator drives article extraction across bounded sub-batches.
// Articles inside a sub-batch run concurrently and are awaited together;
// sub-batches run strictly sequentially so the engine pool bounds peak
// resource usage regardless of batch size. Failures, duplicates, and
// cancellations are folded into per-article outcomes rather than aborting
// the run.
package orchestrator
