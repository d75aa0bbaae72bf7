// Package bulk drains a list of tracking numbers through a shipping.Provider
// in fixed-size concurrent batches separated by a fixed delay.
//
// A Processor owns one run at a time. Within a batch every lookup runs
// concurrently and the batch is joined before the next one is considered;
// between batches the processor pauses for the configured delay, which is
// skipped after the final batch. Each lookup settles into exactly one Result,
// transport failures included, so one item never aborts the run.
//
// Abort is cooperative: it is observed at batch boundaries and during the
// inter-batch delay, and items that were never dispatched stay pending.
//
// Basic usage:
//
//	p := bulk.NewProcessor(provider, bulk.Callbacks{
//		OnProgress: func(current, total int) { ... },
//		OnResult:   func(r bulk.Result) { ... },
//		OnComplete: func(s bulk.Summary) { ... },
//	})
//	if err := p.Submit(ids); err != nil {
//		return err
//	}
//	p.Start(ctx)
package bulk
