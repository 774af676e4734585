package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gclaussn/go-external-task/engine"
	"github.com/gclaussn/go-external-task/engine/mem"
	"github.com/gclaussn/go-external-task/http/client"
	"github.com/gclaussn/go-external-task/http/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testEngine records fetch and lock commands and returns the tasks, provided by fetchAndLock.
type testEngine struct {
	engine.Engine

	fetchAndLock func(engine.FetchAndLockCmd) ([]engine.ExternalTask, error)

	mutex     sync.Mutex
	cmds      []engine.FetchAndLockCmd
	active    int // number of fetch and lock calls in flight
	maxActive int

	unlocks   atomic.Int32
	completed []string
}

func (e *testEngine) Complete(_ context.Context, cmd engine.CompleteCmd) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.completed = append(e.completed, cmd.Id)
	return nil
}

func (e *testEngine) FetchAndLock(_ context.Context, cmd engine.FetchAndLockCmd) ([]engine.ExternalTask, error) {
	e.mutex.Lock()
	e.cmds = append(e.cmds, cmd)
	e.active++
	e.maxActive = max(e.maxActive, e.active)
	e.mutex.Unlock()

	defer func() {
		e.mutex.Lock()
		e.active--
		e.mutex.Unlock()
	}()

	if e.fetchAndLock == nil {
		return nil, nil
	}
	return e.fetchAndLock(cmd)
}

func (e *testEngine) Unlock(context.Context, engine.UnlockCmd) error {
	e.unlocks.Add(1)
	return nil
}

func (e *testEngine) Shutdown() {
}

func (e *testEngine) completedIds() []string {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return append([]string(nil), e.completed...)
}

func (e *testEngine) fetchAndLockCmds() []engine.FetchAndLockCmd {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return append([]engine.FetchAndLockCmd(nil), e.cmds...)
}

func mustCreateWorker(t *testing.T, e engine.Engine, customizers ...func(*Options)) *Worker {
	customizers = append([]func(*Options){func(o *Options) {
		o.AutoPoll = false
		o.Interval = 10 * time.Millisecond
	}}, customizers...)

	w, err := New(e, customizers...)
	if err != nil {
		t.Fatalf("failed to create worker: %v", err)
	}

	t.Cleanup(func() {
		w.Stop()
		w.Wait()
	})

	return w
}

func mustCreateMemEngine(t *testing.T) engine.Engine {
	e, err := mem.New()
	if err != nil {
		t.Fatalf("failed to create mem engine: %v", err)
	}
	t.Cleanup(e.Shutdown)
	return e
}

func mustSubscribe(t *testing.T, w *Worker, topic string, handler Handler, customizers ...func(*SubscriptionOptions)) *Subscription {
	subscription, err := w.Subscribe(topic, handler, customizers...)
	if err != nil {
		t.Fatalf("failed to subscribe to topic %s: %v", topic, err)
	}
	return subscription
}

func TestNew(t *testing.T) {
	assert := assert.New(t)

	t.Run("engine is nil", func(t *testing.T) {
		_, err := New(nil)
		assert.ErrorIs(err, ErrInvalidOptions)
	})

	t.Run("invalid options", func(t *testing.T) {
		_, err := New(&testEngine{}, func(o *Options) {
			o.MaxTasks = 0
			o.Interval = 0
		})

		var configurationErr ConfigurationError
		require.ErrorAs(t, err, &configurationErr)
		assert.ErrorIs(err, ErrInvalidOptions)
		assert.Contains(configurationErr.Detail, "MaxTasks")
		assert.Contains(configurationErr.Detail, "Interval")
	})

	t.Run("blank worker ID", func(t *testing.T) {
		_, err := New(&testEngine{}, func(o *Options) {
			o.WorkerId = " "
		})
		assert.ErrorIs(err, ErrInvalidOptions)
	})

	t.Run("base URL is empty", func(t *testing.T) {
		_, err := Connect(" ")
		assert.ErrorIs(err, ErrMissingBaseUrl)
	})

	t.Run("auto poll", func(t *testing.T) {
		w, err := New(&testEngine{})
		require.NoError(t, err)

		assert.True(w.IsPolling())
		assert.NotEmpty(w.Id())

		w.Stop()
		w.Wait()

		assert.False(w.IsPolling())
	})

	t.Run("use middleware", func(t *testing.T) {
		var events []EventType

		w := mustCreateWorker(t, &testEngine{}, func(o *Options) {
			o.Use = []func(*Worker){func(w *Worker) {
				w.AddListener(func(event Event) {
					events = append(events, event.Type)
				})
			}}
		})

		// when
		subscription := mustSubscribe(t, w, "a", func(TaskContext) error { return nil })
		subscription.Unsubscribe()
		subscription.Unsubscribe()

		// then
		assert.Equal([]EventType{EventSubscribe, EventUnsubscribe}, events)
	})
}

func TestSubscribe(t *testing.T) {
	assert := assert.New(t)

	w := mustCreateWorker(t, &testEngine{}, func(o *Options) {
		o.LockDuration = 30 * time.Second
	})

	handler := func(TaskContext) error { return nil }

	t.Run("blank topic", func(t *testing.T) {
		_, err := w.Subscribe(" ", handler)
		assert.ErrorIs(err, ErrInvalidSubscription)
	})

	t.Run("handler is nil", func(t *testing.T) {
		_, err := w.Subscribe("a", nil)
		assert.ErrorIs(err, ErrInvalidSubscription)
	})

	t.Run("lock duration too short", func(t *testing.T) {
		_, err := w.Subscribe("a", handler, func(o *SubscriptionOptions) {
			o.LockDuration = time.Microsecond
		})
		assert.ErrorIs(err, ErrInvalidSubscription)
	})

	t.Run("default lock duration", func(t *testing.T) {
		subscription := mustSubscribe(t, w, "a", handler)
		defer subscription.Unsubscribe()

		assert.Equal(30*time.Second, subscription.LockDuration())
		assert.Equal("a", subscription.Topic())
		assert.Equal(w, subscription.Worker())
	})

	t.Run("ordered by registration", func(t *testing.T) {
		subscriptionC := mustSubscribe(t, w, "c", handler)
		subscriptionA := mustSubscribe(t, w, "a", handler)
		subscriptionB := mustSubscribe(t, w, "b", handler)

		subscriptionA.Unsubscribe()

		assert.Equal([]*Subscription{subscriptionC, subscriptionB}, w.Subscriptions())

		subscriptionB.Unsubscribe()
		subscriptionC.Unsubscribe()

		assert.Empty(w.Subscriptions())
	})
}

func TestNewFetchAndLockCmd(t *testing.T) {
	assert := assert.New(t)

	// given
	w := mustCreateWorker(t, &testEngine{}, func(o *Options) {
		o.AsyncResponseTimeout = 2 * time.Second
		o.WorkerId = "test-worker"
	})

	handler := func(TaskContext) error { return nil }

	mustSubscribe(t, w, "a", handler, func(o *SubscriptionOptions) {
		o.LockDuration = 10 * time.Second
		o.BusinessKey = "bk-1"
	})
	mustSubscribe(t, w, "b", handler)
	mustSubscribe(t, w, "a", handler, func(o *SubscriptionOptions) {
		o.LockDuration = 5 * time.Second
		o.BusinessKey = "bk-2"
		o.Variables = []string{"x"}
	})

	// when
	cmd := newFetchAndLockCmd(w.Subscriptions(), w.options, 3)

	// then
	assert.Equal(int64(2000), cmd.AsyncResponseTimeout)
	assert.Equal(3, cmd.MaxTasks)
	assert.True(cmd.UsePriority)
	assert.Equal("test-worker", cmd.WorkerId)

	require.Len(t, cmd.Topics, 2)

	assert.Equal(engine.FetchTopic{
		BusinessKey:  "bk-2",
		LockDuration: 10000,
		TopicName:    "a",
		Variables:    []string{"x"},
	}, cmd.Topics[0])
	assert.Equal(engine.FetchTopic{
		LockDuration: 50000,
		TopicName:    "b",
	}, cmd.Topics[1])
}

func TestPoll(t *testing.T) {
	handler := func(TaskContext) error { return nil }

	t.Run("no subscriptions", func(t *testing.T) {
		// given
		e := &testEngine{}
		w := mustCreateWorker(t, e)

		// when
		w.Start()
		time.Sleep(50 * time.Millisecond)
		w.Stop()
		w.Wait()

		// then
		assert.Empty(t, e.fetchAndLockCmds())
	})

	t.Run("fetches do not overlap", func(t *testing.T) {
		// given
		e := &testEngine{
			fetchAndLock: func(engine.FetchAndLockCmd) ([]engine.ExternalTask, error) {
				time.Sleep(20 * time.Millisecond)
				return nil, nil
			},
		}

		w := mustCreateWorker(t, e, func(o *Options) {
			o.Interval = time.Millisecond
		})
		mustSubscribe(t, w, "a", handler)

		// when
		w.Start()
		time.Sleep(150 * time.Millisecond)
		w.Stop()
		w.Wait()

		// then
		assert := assert.New(t)
		assert.Greater(len(e.fetchAndLockCmds()), 1)
		assert.Equal(1, e.maxActive)
	})

	t.Run("no fetch after stop", func(t *testing.T) {
		// given
		e := &testEngine{}

		var events []EventType
		var eventsMutex sync.Mutex

		w := mustCreateWorker(t, e)
		w.AddListener(func(event Event) {
			eventsMutex.Lock()
			defer eventsMutex.Unlock()
			events = append(events, event.Type)
		})

		mustSubscribe(t, w, "a", handler)

		// when
		w.Start()
		w.Start()

		require.Eventually(t, func() bool {
			return len(e.fetchAndLockCmds()) >= 2
		}, time.Second, 5*time.Millisecond)

		w.Stop()
		w.Stop()
		w.Wait()

		n := len(e.fetchAndLockCmds())
		time.Sleep(50 * time.Millisecond)

		// then
		assert := assert.New(t)
		assert.Equal(n, len(e.fetchAndLockCmds()))
		assert.False(w.IsPolling())

		eventsMutex.Lock()
		defer eventsMutex.Unlock()
		assert.Contains(events, EventPollStop)
		assert.Contains(events, EventPollStart)
		assert.Contains(events, EventPollSuccess)
	})

	t.Run("poll error", func(t *testing.T) {
		// given
		fetchErr := errors.New("test")

		e := &testEngine{
			fetchAndLock: func(engine.FetchAndLockCmd) ([]engine.ExternalTask, error) {
				return nil, fetchErr
			},
		}

		errC := make(chan error, 1)

		w := mustCreateWorker(t, e)
		w.AddListener(func(event Event) {
			if event.Type == EventPollError {
				select {
				case errC <- event.Err:
				default:
				}
			}
		})

		mustSubscribe(t, w, "a", handler)

		// when
		w.Start()

		// then
		select {
		case err := <-errC:
			assert.Equal(t, fetchErr, err)
		case <-time.After(time.Second):
			t.Fatal("no poll error event emitted")
		}
	})

	t.Run("snapshot of subscriptions", func(t *testing.T) {
		// given
		fetchC := make(chan struct{})
		releaseC := make(chan struct{})

		var calls atomic.Int32

		e := &testEngine{
			fetchAndLock: func(cmd engine.FetchAndLockCmd) ([]engine.ExternalTask, error) {
				if calls.Add(1) != 1 {
					return nil, nil
				}

				close(fetchC)
				<-releaseC
				return []engine.ExternalTask{{Id: "1", TopicName: "a"}}, nil
			},
		}

		w := mustCreateWorker(t, e)

		handledC := make(chan string, 1)

		subscriptionA := mustSubscribe(t, w, "a", func(tc TaskContext) error {
			handledC <- tc.Task.Id
			return nil
		})

		// when
		w.Start()
		<-fetchC

		mustSubscribe(t, w, "b", handler)
		subscriptionA.Unsubscribe()

		close(releaseC)

		// then
		select {
		case id := <-handledC:
			assert.Equal(t, "1", id)
		case <-time.After(time.Second):
			t.Fatal("task of in-flight poll cycle not dispatched")
		}

		require.Eventually(t, func() bool {
			return len(e.fetchAndLockCmds()) >= 2
		}, time.Second, 5*time.Millisecond)

		cmds := e.fetchAndLockCmds()

		assert := assert.New(t)
		require.Len(t, cmds[0].Topics, 1)
		assert.Equal("a", cmds[0].Topics[0].TopicName)
		require.Len(t, cmds[1].Topics, 1)
		assert.Equal("b", cmds[1].Topics[0].TopicName)
	})

	t.Run("unmatched tasks are skipped", func(t *testing.T) {
		// given
		e := &testEngine{
			fetchAndLock: func(engine.FetchAndLockCmd) ([]engine.ExternalTask, error) {
				return []engine.ExternalTask{{Id: "1", TopicName: "x"}}, nil
			},
		}

		var handled atomic.Int32

		w := mustCreateWorker(t, e)
		mustSubscribe(t, w, "a", func(TaskContext) error {
			handled.Add(1)
			return nil
		})

		// when
		w.Start()

		require.Eventually(t, func() bool {
			return len(e.fetchAndLockCmds()) >= 3
		}, time.Second, 5*time.Millisecond)

		w.Stop()
		w.Wait()

		// then
		assert.Equal(t, int32(0), handled.Load())
		assert.Equal(t, int32(0), e.unlocks.Load())
	})

	t.Run("latest subscription wins", func(t *testing.T) {
		// given
		var calls atomic.Int32

		e := &testEngine{
			fetchAndLock: func(engine.FetchAndLockCmd) ([]engine.ExternalTask, error) {
				if calls.Add(1) != 1 {
					return nil, nil
				}
				return []engine.ExternalTask{{Id: "1", TopicName: "a"}}, nil
			},
		}

		var handledA, handledB atomic.Int32

		w := mustCreateWorker(t, e)
		mustSubscribe(t, w, "a", func(TaskContext) error {
			handledA.Add(1)
			return nil
		})
		mustSubscribe(t, w, "a", func(TaskContext) error {
			handledB.Add(1)
			return nil
		})

		// when
		w.Start()

		require.Eventually(t, func() bool {
			return handledB.Load() == 1
		}, time.Second, 5*time.Millisecond)

		w.Stop()
		w.Wait()

		// then
		assert.Equal(t, int32(0), handledA.Load())
		assert.Equal(t, int32(1), handledB.Load())
	})

	t.Run("max parallel executions", func(t *testing.T) {
		// given
		var nextId atomic.Int32

		e := &testEngine{
			fetchAndLock: func(cmd engine.FetchAndLockCmd) ([]engine.ExternalTask, error) {
				tasks := make([]engine.ExternalTask, cmd.MaxTasks)
				for i := range tasks {
					tasks[i] = engine.ExternalTask{Id: fmt.Sprint(nextId.Add(1)), TopicName: "a"}
				}
				return tasks, nil
			},
		}

		releaseC := make(chan struct{})

		var running atomic.Int32

		w := mustCreateWorker(t, e, func(o *Options) {
			o.MaxParallelExecutions = 2
		})
		mustSubscribe(t, w, "a", func(TaskContext) error {
			running.Add(1)
			defer running.Add(-1)
			<-releaseC
			return nil
		})

		// when
		w.Start()

		require.Eventually(t, func() bool {
			return running.Load() == 2
		}, time.Second, 5*time.Millisecond)

		time.Sleep(50 * time.Millisecond)

		// then
		assert := assert.New(t)
		assert.Equal(int32(2), running.Load())
		assert.Len(e.fetchAndLockCmds(), 1)

		w.Stop()
		close(releaseC)
		w.Wait()

		for _, cmd := range e.fetchAndLockCmds() {
			assert.LessOrEqual(cmd.MaxTasks, 2)
		}
	})

	t.Run("stop while cycle in flight", func(t *testing.T) {
		// given
		fetchC := make(chan struct{})
		releaseC := make(chan struct{})

		var fetches atomic.Int32

		e := &testEngine{
			fetchAndLock: func(engine.FetchAndLockCmd) ([]engine.ExternalTask, error) {
				if fetches.Add(1) != 1 {
					return nil, nil
				}

				close(fetchC)
				<-releaseC
				return []engine.ExternalTask{{Id: "1", TopicName: "a"}}, nil
			},
		}

		w := mustCreateWorker(t, e)

		var handled atomic.Int32
		mustSubscribe(t, w, "a", func(TaskContext) error {
			handled.Add(1)
			return nil
		})

		// when
		w.Start()
		<-fetchC

		w.Stop()
		close(releaseC)
		w.Wait()

		time.Sleep(50 * time.Millisecond)

		// then
		assert := assert.New(t)
		assert.Equal(int32(1), handled.Load(), "should dispatch tasks of in-flight cycle")
		assert.Equal(int32(1), fetches.Load(), "should not fetch again")
		assert.False(w.IsPolling())
	})

	t.Run("fetch, dispatch and complete", func(t *testing.T) {
		// given
		e := &testEngine{
			fetchAndLock: func(engine.FetchAndLockCmd) ([]engine.ExternalTask, error) {
				return []engine.ExternalTask{{Id: "1", TopicName: "a"}}, nil
			},
		}

		w := mustCreateWorker(t, e, func(o *Options) {
			o.Interval = time.Hour
		})

		var handled atomic.Int32
		mustSubscribe(t, w, "a", func(tc TaskContext) error {
			handled.Add(1)
			return tc.Service.Complete(tc.Context(), nil, nil)
		})

		// when
		w.Start()

		require.Eventually(t, func() bool {
			return len(e.completedIds()) == 1
		}, time.Second, 5*time.Millisecond)

		w.Stop()
		w.Wait()

		// then
		assert := assert.New(t)
		assert.Len(e.fetchAndLockCmds(), 1)
		assert.Equal(int32(1), handled.Load())
		assert.Equal([]string{"1"}, e.completedIds())
	})
}

func TestHandlerError(t *testing.T) {
	assert := assert.New(t)

	// given
	handlerErr := errors.New("test")

	var failedTask engine.ExternalTask
	var failedErr error

	var events []Event

	w := mustCreateWorker(t, &testEngine{}, func(o *Options) {
		o.OnHandlerFailure = func(task engine.ExternalTask, err error) {
			failedTask = task
			failedErr = err
		}
	})
	w.AddListener(func(event Event) {
		events = append(events, event)
	})

	mustSubscribe(t, w, "a", func(TaskContext) error {
		return handlerErr
	})

	task := engine.ExternalTask{Id: "1", TopicName: "a"}

	// when
	err := w.Execute(context.Background(), task)

	// then
	assert.Equal(handlerErr, err)
	assert.Equal(task, failedTask)
	assert.Equal(handlerErr, failedErr)

	require.Len(t, events, 2)
	assert.Equal(EventHandlerError, events[1].Type)
	assert.Equal("a", events[1].Topic)
	assert.True(events[1].IsError())

	t.Run("no subscription", func(t *testing.T) {
		err := w.Execute(context.Background(), engine.ExternalTask{Id: "2", TopicName: "x"})
		assert.ErrorContains(err, "no subscription for topic x")
	})
}

func TestHandlerPanic(t *testing.T) {
	assert := assert.New(t)

	// given
	e := &testEngine{
		fetchAndLock: func(engine.FetchAndLockCmd) ([]engine.ExternalTask, error) {
			return []engine.ExternalTask{{Id: "1", TopicName: "slow"}, {Id: "2", TopicName: "bad"}}, nil
		},
	}

	failedC := make(chan error, 1)

	w := mustCreateWorker(t, e, func(o *Options) {
		o.Interval = time.Hour
		o.OnHandlerFailure = func(task engine.ExternalTask, err error) {
			if task.Id == "2" {
				failedC <- err
			}
		}
	})

	var eventsMutex sync.Mutex
	var events []Event
	w.AddListener(func(event Event) {
		eventsMutex.Lock()
		defer eventsMutex.Unlock()
		events = append(events, event)
	})

	var slowDone atomic.Bool
	mustSubscribe(t, w, "slow", func(TaskContext) error {
		time.Sleep(200 * time.Millisecond)
		slowDone.Store(true)
		return nil
	})
	mustSubscribe(t, w, "bad", func(TaskContext) error {
		panic("bug in handler")
	})

	// when
	w.Start()

	var err error
	select {
	case err = <-failedC:
	case <-time.After(time.Second):
		t.Fatal("panic not reported")
	}

	w.Stop()
	w.Wait()

	// then
	assert.True(slowDone.Load(), "should complete other handler")

	assert.ErrorIs(err, ErrHandlerPanic)
	assert.ErrorContains(err, "bug in handler")

	eventsMutex.Lock()
	defer eventsMutex.Unlock()

	var handlerErrors []Event
	for _, event := range events {
		if event.Type == EventHandlerError {
			handlerErrors = append(handlerErrors, event)
		}
	}

	require.Len(t, handlerErrors, 1)
	assert.Equal("bad", handlerErrors[0].Topic)
	assert.Equal("2", handlerErrors[0].Task.Id)
}

func TestWorkerWithMemEngine(t *testing.T) {
	ctx := context.Background()

	t.Run("complete", func(t *testing.T) {
		// given
		e := mustCreateMemEngine(t)
		w := mustCreateWorker(t, e)

		var handled atomic.Int32

		mustSubscribe(t, w, "test", func(tc TaskContext) error {
			handled.Add(1)

			var input string
			if err := tc.Variables().Decode("input", &input); err != nil {
				return err
			}

			variables := Variables{}
			variables.Put("output", input+"-done")
			return tc.Service.Complete(tc.Context(), variables, nil)
		})

		task, err := e.CreateExternalTask(ctx, engine.CreateExternalTaskCmd{
			TopicName: "test",
			Variables: map[string]engine.VariableValue{
				"input": {Type: engine.ValueString, Value: []byte(`"x"`)},
			},
		})
		require.NoError(t, err)

		// when
		w.Start()

		// then
		Assert(t, w, task.Id).Eventually(func(task engine.ExternalTask) bool {
			return task.CompletionTime != nil
		}, 2*time.Second)

		time.Sleep(50 * time.Millisecond)

		Assert(t, w, task.Id).IsCompleted()
		assert.Equal(t, int32(1), handled.Load())
	})

	t.Run("handle failure", func(t *testing.T) {
		// given
		e := mustCreateMemEngine(t)
		w := mustCreateWorker(t, e)

		var events []EventType
		w.AddListener(func(event Event) {
			if event.Task != nil {
				events = append(events, event.Type)
			}
		})

		mustSubscribe(t, w, "test", func(tc TaskContext) error {
			retries := 0
			return tc.Service.HandleFailure(tc.Context(), FailureOptions{
				ErrorMessage: "failed",
				ErrorDetails: "details",
				Retries:      &retries,
			})
		})

		task, err := e.CreateExternalTask(ctx, engine.CreateExternalTaskCmd{TopicName: "test"})
		require.NoError(t, err)

		// when
		err = w.Execute(ctx, mustFetchAndLock(t, w, "test")[0])

		// then
		require.NoError(t, err)

		a := Assert(t, w, task.Id)
		a.HasFailure("failed")
		a.HasRetries(0)
		a.IsNotLocked()

		assert.Equal(t, []EventType{EventHandleFailureSuccess}, events)
	})

	t.Run("handle BPMN error", func(t *testing.T) {
		// given
		e := mustCreateMemEngine(t)
		w := mustCreateWorker(t, e)

		mustSubscribe(t, w, "test", func(tc TaskContext) error {
			return tc.Service.HandleBpmnError(tc.Context(), "TEST_ERROR", "business error", nil)
		})

		task, err := e.CreateExternalTask(ctx, engine.CreateExternalTaskCmd{TopicName: "test"})
		require.NoError(t, err)

		// when
		err = w.Execute(ctx, mustFetchAndLock(t, w, "test")[0])

		// then
		require.NoError(t, err)
		Assert(t, w, task.Id).HasBpmnError("TEST_ERROR")
	})

	t.Run("unlock", func(t *testing.T) {
		// given
		e := mustCreateMemEngine(t)
		w := mustCreateWorker(t, e)

		mustSubscribe(t, w, "test", func(tc TaskContext) error {
			Assert(t, w, tc.Task.Id).IsLocked()
			return tc.Service.Unlock(tc.Context())
		})

		task, err := e.CreateExternalTask(ctx, engine.CreateExternalTaskCmd{TopicName: "test"})
		require.NoError(t, err)

		// when
		err = w.Execute(ctx, mustFetchAndLock(t, w, "test")[0])

		// then
		require.NoError(t, err)
		Assert(t, w, task.Id).IsNotLocked()
	})

	t.Run("extend lock after lapse", func(t *testing.T) {
		// given
		e := mustCreateMemEngine(t)
		w := mustCreateWorker(t, e)

		var events []Event
		w.AddListener(func(event Event) {
			events = append(events, event)
		})

		mustSubscribe(t, w, "test", func(tc TaskContext) error {
			return tc.Service.ExtendLock(tc.Context(), time.Minute)
		}, func(o *SubscriptionOptions) {
			o.LockDuration = time.Second
		})

		_, err := e.CreateExternalTask(ctx, engine.CreateExternalTaskCmd{TopicName: "test"})
		require.NoError(t, err)

		task := mustFetchAndLock(t, w, "test")[0]

		require.NoError(t, e.SetTime(ctx, engine.SetTimeCmd{Time: time.Now().Add(2 * time.Second)}))

		// when
		err = w.Execute(ctx, task)

		// then
		var taskOperationErr *TaskOperationError
		require.ErrorAs(t, err, &taskOperationErr)

		assert := assert.New(t)
		assert.Equal("extendLock", taskOperationErr.Op)
		assert.Equal(task.Id, taskOperationErr.TaskId)
		assert.True(engine.IsErrorType(err, engine.ErrorConflict))

		require.Len(t, events, 2)
		assert.Equal(EventExtendLockError, events[0].Type)
		assert.Equal(EventHandlerError, events[1].Type)
	})

	t.Run("complete twice", func(t *testing.T) {
		// given
		e := mustCreateMemEngine(t)
		w := mustCreateWorker(t, e)

		mustSubscribe(t, w, "test", func(tc TaskContext) error {
			if err := tc.Service.Complete(tc.Context(), nil, nil); err != nil {
				return err
			}
			return tc.Service.Complete(tc.Context(), nil, nil)
		})

		_, err := e.CreateExternalTask(ctx, engine.CreateExternalTaskCmd{TopicName: "test"})
		require.NoError(t, err)

		// when
		err = w.Execute(ctx, mustFetchAndLock(t, w, "test")[0])

		// then
		assert.True(t, engine.IsErrorType(err, engine.ErrorNotFound))
	})
}

func TestWorkerWithHttpClient(t *testing.T) {
	// given
	e := mustCreateMemEngine(t)

	s, err := server.New(e, func(o *server.Options) {
		o.BasicAuthUsername = "test"
		o.BasicAuthPassword = "test"
	})
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	w, err := Connect(ts.URL, func(o *Options) {
		o.AsyncResponseTimeout = 500 * time.Millisecond
		o.AutoPoll = false
		o.Interceptors = []client.Interceptor{client.BasicAuth("test", "test")}
	})
	require.NoError(t, err)

	defer func() {
		w.Stop()
		w.Wait()
	}()

	mustSubscribe(t, w, "test", func(tc TaskContext) error {
		variables := Variables{}
		variables.Put("result", 42)
		return tc.Service.Complete(tc.Context(), variables, nil)
	})

	w.Start()

	// when
	task, err := e.CreateExternalTask(context.Background(), engine.CreateExternalTaskCmd{TopicName: "test"})
	require.NoError(t, err)

	// then
	Assert(t, w, task.Id).Eventually(func(task engine.ExternalTask) bool {
		return task.CompletionTime != nil
	}, 2*time.Second)

	Assert(t, w, task.Id).IsCompleted()
}

func mustFetchAndLock(t *testing.T, w *Worker, topicName string) []engine.ExternalTask {
	tasks, err := w.e.FetchAndLock(context.Background(), engine.FetchAndLockCmd{
		MaxTasks: 1,
		Topics:   []engine.FetchTopic{{TopicName: topicName, LockDuration: 1000}},
		WorkerId: w.id,
	})
	if err != nil {
		t.Fatalf("failed to fetch and lock: %v", err)
	}
	if len(tasks) == 0 {
		t.Fatalf("no external task of topic %s fetched", topicName)
	}
	return tasks
}
