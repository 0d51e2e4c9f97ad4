// Package coordinator executes price sync runs in the background, one at a time.
//
// The coordinator owns a single worker goroutine and a capacity-one request
// channel. TryEnqueue acquires the run guard with a compare-and-swap and
// hands the request to the worker; while the guard is held every further
// request fails immediately with ErrRunInProgress and is never queued. The
// worker releases the guard after the run returns, including when the run
// panics or is cancelled.
//
// # Usage Example
//
//	manager := sync.NewManager(reader, fetcher, writer, pricer, sync.WithSink(sink))
//	coord := coordinator.New(manager, coordinator.WithLogger(logger))
//
//	go coord.Start(ctx)
//
//	// startup run
//	if _, err := coord.TryEnqueue(sync.NewFullRequest(status.TriggerStartup)); err != nil {
//	    logger.Warn("startup run not accepted", zap.Error(err))
//	}
//
//	// ... serve triggers ...
//
//	coord.Stop()
//
// Stop cancels the worker context, waits for the in-flight run to return and
// rejects later requests with ErrCoordinatorStopped.
package coordinator
