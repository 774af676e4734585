// Package mem implements an in-memory external task engine, used for testing purposes.
/*
mem provides a full implementation of the [engine.Engine] interface.

Create an Engine

	e, err := mem.New(func(o *mem.Options) {
		o.Common.EngineId = "my-mem-engine"
	})
	if err != nil {
		log.Fatalf("failed to create mem engine: %v", err)
	}

	defer e.Shutdown()

Long Polling

A fetch and lock command with an async response timeout waits until an external task is created, unlocked or failed.
Since a lock can also expire, the available external tasks are rechecked every [engine.Options].LongPollingInterval.
*/
package mem
