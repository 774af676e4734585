package worker

import (
	"context"
	"sync"
	"time"
)

// poller drives the fetch and lock cycle. Cycles never overlap: the next cycle is scheduled an interval after the
// previous cycle has dispatched its tasks.
type poller struct {
	w *Worker

	mutex   sync.Mutex
	polling bool
	stopC   chan struct{} // closed, when polling is stopped

	cycleMutex sync.Mutex     // held while a cycle is in flight
	done       sync.WaitGroup // done, when the poll loop has exited
}

func (p *poller) isPolling() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.polling
}

func (p *poller) start() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.polling {
		return
	}

	p.polling = true
	p.stopC = make(chan struct{})

	p.done.Add(1)
	go func(stopC <-chan struct{}) {
		defer p.done.Done()
		p.run(stopC)
	}(p.stopC)
}

func (p *poller) stop() {
	p.mutex.Lock()
	if !p.polling {
		p.mutex.Unlock()
		return
	}

	p.polling = false
	close(p.stopC)
	p.mutex.Unlock()

	p.w.emit(Event{Type: EventPollStop})
}

func (p *poller) run(stopC <-chan struct{}) {
	for {
		select {
		case <-stopC:
			return
		default:
		}

		p.cycle()

		timer := time.NewTimer(p.w.options.Interval)
		select {
		case <-stopC:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// cycle fetches and locks tasks for a snapshot of the subscriptions and dispatches them.
// An in-flight cycle is not interrupted, when polling is stopped.
func (p *poller) cycle() {
	p.cycleMutex.Lock()
	defer p.cycleMutex.Unlock()

	w := p.w

	subscriptions := w.Subscriptions()
	if len(subscriptions) == 0 {
		return
	}

	maxTasks := w.options.MaxTasks
	if w.options.MaxParallelExecutions > 0 {
		free := w.options.MaxParallelExecutions - int(w.executions.Load())
		if free <= 0 {
			return
		}
		maxTasks = min(maxTasks, free)
	}

	cmd := newFetchAndLockCmd(subscriptions, w.options, maxTasks)

	w.emit(Event{Type: EventPollStart})

	start := time.Now()
	tasks, err := w.e.FetchAndLock(context.Background(), cmd)
	if err != nil {
		w.emit(Event{Type: EventPollError, Duration: time.Since(start), Err: err})
		return
	}

	w.emit(Event{Type: EventPollSuccess, Tasks: tasks, Duration: time.Since(start)})

	latest := latestByTopic(subscriptions)
	for i := range tasks {
		subscription, ok := latest[tasks[i].TopicName]
		if !ok {
			continue // left to expire at the engine
		}

		w.dispatch(subscription, tasks[i])
	}
}
