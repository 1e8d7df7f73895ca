/*
Package queue runs remote writes in the background.

A Queue owns a fixed set of workers that take items off a FIFO list and run
each action through a retry executor, so a transient failure is retried
before the item is marked failed:

	q := queue.New(queue.DefaultConfig(),
		queue.WithName("finance"),
		queue.WithExecutor(executor),
		queue.WithLogger(logger))
	defer q.Shutdown(0)

	h, err := q.Submit("reports/q1.xlsx", data, func(ctx context.Context) error {
		return store.Upload(ctx, site, "reports/q1.xlsx", data)
	}, nil, func(path string, err error) {
		logger.Error("upload failed", map[string]interface{}{"path": path, "error": err.Error()})
	})
	if err != nil {
		return err
	}
	err = h.Wait(ctx)

# Item Lifecycle

	queued -> running -> completed
	                  -> failed

Settled items stay queryable through GetStatus for the retention window and
then report StatusNotFound. Callbacks run on the worker goroutine; a
panicking callback is logged and does not stop the worker.

# Shutdown

Shutdown stops intake, fails every still-queued item with
QUEUE_ITEM_ABANDONED and waits for running items. When the timeout expires
the context passed to running actions is canceled and QUEUE_TIMEOUT is
returned.
*/
package queue
