package internal

import (
	"context"
	"fmt"
	"time"

	"github.com/gclaussn/go-external-task/engine"
)

// FetchFunc fetches and locks external tasks once. The returned channel is optional. If not nil, it is closed when
// external tasks may have become available.
type FetchFunc func() ([]engine.ExternalTask, <-chan struct{}, error)

// AsyncResponseTimeout returns the time to wait for external tasks, limited by the engine's max async response time.
func AsyncResponseTimeout(options engine.Options, cmd engine.FetchAndLockCmd) time.Duration {
	timeout := millis(cmd.AsyncResponseTimeout)
	if options.MaxAsyncResponseTime > 0 && timeout > options.MaxAsyncResponseTime {
		return options.MaxAsyncResponseTime
	}
	return timeout
}

// LongPoll calls fetch until external tasks are locked, the timeout elapsed or ctx is done.
// Between two calls, it waits for the interval or a notification, whatever comes first.
func LongPoll(ctx context.Context, timeout time.Duration, interval time.Duration, fetch FetchFunc) ([]engine.ExternalTask, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		externalTasks, notify, err := fetch()
		if err != nil || len(externalTasks) != 0 {
			return externalTasks, err
		}

		recheck := time.NewTimer(interval)

		select {
		case <-ctx.Done():
			recheck.Stop()
			return nil, fmt.Errorf("failed to wait for external tasks: %w", ctx.Err())
		case <-deadline.C:
			recheck.Stop()
			return nil, nil
		case <-notify:
			recheck.Stop()
		case <-recheck.C:
		}
	}
}
