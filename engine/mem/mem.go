package mem

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gclaussn/go-external-task/engine"
	"github.com/gclaussn/go-external-task/engine/internal"
)

func New(customizers ...func(*Options)) (engine.Engine, error) {
	options := NewOptions()
	for _, customizer := range customizers {
		customizer(&options)
	}

	if err := options.Validate(); err != nil {
		return nil, err
	}

	memEngine := memEngine{
		options:       options,
		externalTasks: &externalTaskRepository{},
		changed:       make(chan struct{}),
	}

	return &memEngine, nil
}

func NewOptions() Options {
	return Options{
		Common: engine.Options{
			DefaultQueryLimit:    1000,
			EngineId:             engine.DefaultEngineId,
			LongPollingInterval:  100 * time.Millisecond,
			MaxAsyncResponseTime: 30 * time.Minute,
		},
	}
}

type Options struct {
	Common engine.Options // Common options
}

func (o Options) Validate() error {
	return o.Common.Validate()
}

type memEngine struct {
	mutex   sync.RWMutex
	options Options

	externalTasks *externalTaskRepository

	changed chan struct{} // closed and replaced, when external tasks may have become available
	offset  time.Duration
}

func (e *memEngine) Complete(_ context.Context, cmd engine.CompleteCmd) error {
	defer e.mutex.Unlock()
	return internal.Complete(e.wlock(), cmd)
}

func (e *memEngine) CreateExternalTask(_ context.Context, cmd engine.CreateExternalTaskCmd) (engine.ExternalTask, error) {
	defer e.mutex.Unlock()

	externalTask, err := internal.CreateExternalTask(e.wlock(), cmd)
	if err == nil {
		e.notify()
	}
	return externalTask, err
}

func (e *memEngine) ExtendLock(_ context.Context, cmd engine.ExtendLockCmd) error {
	defer e.mutex.Unlock()
	return internal.ExtendLock(e.wlock(), cmd)
}

func (e *memEngine) FetchAndLock(ctx context.Context, cmd engine.FetchAndLockCmd) ([]engine.ExternalTask, error) {
	fetch := func() ([]engine.ExternalTask, <-chan struct{}, error) {
		defer e.mutex.Unlock()

		externalTasks, err := internal.FetchAndLock(e.wlock(), cmd)
		return externalTasks, e.changed, err
	}

	timeout := internal.AsyncResponseTimeout(e.options.Common, cmd)
	if timeout <= 0 {
		externalTasks, _, err := fetch()
		return externalTasks, err
	}

	return internal.LongPoll(ctx, timeout, e.options.Common.LongPollingInterval, fetch)
}

func (e *memEngine) HandleBpmnError(_ context.Context, cmd engine.HandleBpmnErrorCmd) error {
	defer e.mutex.Unlock()
	return internal.HandleBpmnError(e.wlock(), cmd)
}

func (e *memEngine) HandleFailure(_ context.Context, cmd engine.HandleFailureCmd) error {
	defer e.mutex.Unlock()

	err := internal.HandleFailure(e.wlock(), cmd)
	if err == nil {
		e.notify()
	}
	return err
}

func (e *memEngine) QueryExternalTasks(_ context.Context, c engine.ExternalTaskCriteria, o engine.QueryOptions) ([]engine.ExternalTask, error) {
	defer e.mutex.RUnlock()
	return internal.QueryExternalTasks(e.rlock(), c, o)
}

func (e *memEngine) SetTime(_ context.Context, cmd engine.SetTimeCmd) error {
	defer e.mutex.Unlock()
	ctx := e.wlock()

	old := ctx.Time()
	new := cmd.Time.UTC().Truncate(time.Millisecond)

	sub := new.Sub(old)
	if sub.Milliseconds() < 0 {
		return engine.Error{
			Type:  engine.ErrorConflict,
			Title: "failed to set time",
			Detail: fmt.Sprintf(
				"time %s is before engine time %s",
				new.Format(time.RFC3339),
				old.Format(time.RFC3339),
			),
		}
	}

	e.offset = e.offset + sub
	e.notify()
	return nil
}

func (e *memEngine) Unlock(_ context.Context, cmd engine.UnlockCmd) error {
	defer e.mutex.Unlock()

	err := internal.Unlock(e.wlock(), cmd)
	if err == nil {
		e.notify()
	}
	return err
}

func (e *memEngine) Shutdown() {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	e.externalTasks.entities = nil
}

// notify wakes up waiting fetch and lock commands. It must be called, while holding the write lock.
func (e *memEngine) notify() {
	close(e.changed)
	e.changed = make(chan struct{})
}

func (e *memEngine) rlock() *memContext {
	now := time.Now()

	e.mutex.RLock()
	return e.newContext(now)
}

func (e *memEngine) wlock() *memContext {
	now := time.Now()

	e.mutex.Lock()
	return e.newContext(now)
}

func (e *memEngine) newContext(now time.Time) *memContext {
	return &memContext{
		options: e.options,

		// must be UTC and truncated to millis (see engine/pg/pg.go:pgEngineWithContext#require)
		time: now.UTC().Add(e.offset).Truncate(time.Millisecond),

		externalTasks: e.externalTasks,
	}
}
