// Package async provides a bounded worker pool for background work that
// must not block request handling, such as fanning audit events out to
// slower sinks.
//
//	pool := async.NewWorkerPool(ctx, 4, "audit fan-out", 5*time.Second, logger)
//	defer pool.Shutdown(10 * time.Second)
//
//	pool.Submit(func(ctx context.Context) error {
//		return sink.Log(ctx, event)
//	})
//
// Tasks run detached from the submitter's cancellation with a per-task
// timeout. Panics are recovered, logged and reported on Errors alongside
// ordinary task failures.
package async
