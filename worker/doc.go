// Package worker provides a client to implement external task workers.
/*
A worker subscribes to topics, fetches and locks external tasks of these topics in poll cycles and dispatches each task to
the handler of its subscription.

Create a Worker

A worker requires an engine - either an embedded engine (pg, or mem for testing) or a remote engine, reached via HTTP.

	w, err := worker.Connect("http://localhost:8080/engine-rest", func(o *worker.Options) {
		o.AsyncResponseTimeout = 10 * time.Second
		o.Interceptors = []client.Interceptor{client.BasicAuth("demo", "demo")}
		o.Use = []func(*worker.Worker){logger.New(slog.Default())}
	})
	if err != nil {
		log.Fatalf("failed to create worker: %v", err)
	}

When AutoPoll is enabled (default), the worker starts polling immediately.

Subscribe to a Topic

	subscription, err := w.Subscribe("creditScoreChecker", func(tc worker.TaskContext) error {
		var customerId string
		if err := tc.Variables().Decode("customerId", &customerId); err != nil {
			return tc.Service.HandleFailure(tc.Context(), worker.FailureOptions{ErrorMessage: err.Error()})
		}

		variables := worker.Variables{}
		variables.Put("creditScore", 42)

		return tc.Service.Complete(tc.Context(), variables, nil)
	}, func(o *worker.SubscriptionOptions) {
		o.LockDuration = time.Minute
	})

Subscriptions can be added and removed, while the worker is polling. If a topic has multiple subscriptions, its tasks are
dispatched to the latest registered one.

Stop a Worker

	w.Stop()
	w.Wait()

Stop prevents further poll cycles. Wait blocks until the poll loop has exited and running handlers have returned.

Events

A worker emits an [Event] for subscriptions, poll cycles, task operations and handler errors. Listeners are added via
[Worker.AddListener] - typically by a middleware, provided via the Use option (see packages logger and metrics).
*/
package worker
