package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gclaussn/go-external-task/engine"
	"github.com/gclaussn/go-external-task/http/client"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// New creates a worker for the given engine - an embedded engine (mem or pg) or an HTTP client.
// When AutoPoll is enabled, the worker starts polling after the middlewares have been applied.
func New(e engine.Engine, customizers ...func(*Options)) (*Worker, error) {
	if e == nil {
		return nil, ConfigurationError{Cause: ErrInvalidOptions, Detail: "engine is nil"}
	}

	options, err := newOptions(customizers)
	if err != nil {
		return nil, err
	}

	return newWorker(e, options), nil
}

// Connect creates a worker for the engine, served at the given base URL - e.g. http://localhost:8080/engine-rest.
// Requests are sent through the configured interceptors.
func Connect(baseUrl string, customizers ...func(*Options)) (*Worker, error) {
	if strings.TrimSpace(baseUrl) == "" {
		return nil, ConfigurationError{Cause: ErrMissingBaseUrl, Detail: "base URL must not be empty or blank"}
	}

	options, err := newOptions(customizers)
	if err != nil {
		return nil, err
	}

	e, err := client.New(baseUrl, func(o *client.Options) {
		o.Interceptors = options.Interceptors
		if options.Timeout > 0 {
			o.Timeout = options.Timeout
		}
	})
	if err != nil {
		return nil, ConfigurationError{Cause: ErrInvalidOptions, Detail: err.Error()}
	}

	return newWorker(e, options), nil
}

func NewOptions() Options {
	return Options{
		AutoPoll:     true,
		Interval:     300 * time.Millisecond,
		LockDuration: 50 * time.Second,
		MaxTasks:     10,
		UsePriority:  true,
		WorkerId:     uuid.NewString(),
	}
}

type Options struct {
	AsyncResponseTimeout  time.Duration `validate:"gte=0"`            // Time to wait for tasks, when none is available (long polling). If 0, long polling is disabled.
	AutoPoll              bool          ``                            // Determines if the worker starts polling, when created.
	Interval              time.Duration `validate:"gt=0"`             // Interval between the end of a poll cycle and the start of the next one.
	LockDuration          time.Duration `validate:"gte=1ms"`          // Default lock duration of subscriptions.
	MaxParallelExecutions int           `validate:"gte=0"`            // Maximum number of concurrently executed handlers. If 0, the number is unbounded.
	MaxTasks              int           `validate:"gte=1,lte=1000"`   // Maximum number of tasks to fetch and lock per poll cycle.
	UsePriority           bool          ``                            // Determines if tasks with a higher priority are fetched first.
	WorkerId              string        `validate:"required,max=255"` // Worker ID - defaults to a random UUID.

	Use []func(*Worker) // Middlewares, applied to the worker before it starts polling - e.g. to add listeners.

	Interceptors []client.Interceptor // Request interceptors - only used by Connect.
	Timeout      time.Duration        // Timeout of HTTP requests - only used by Connect. If 0, the client's default applies.

	OnHandlerFailure func(engine.ExternalTask, error) // Called when a handler returned an error or panicked.
}

func (o Options) Validate() error {
	if strings.TrimSpace(o.WorkerId) == "" {
		return errors.New("worker ID must not be empty or blank")
	}

	if err := validate.Struct(o); err != nil {
		var validationErrors validator.ValidationErrors
		if !errors.As(err, &validationErrors) {
			return err
		}

		details := make([]string, len(validationErrors))
		for i, fieldError := range validationErrors {
			if fieldError.Param() != "" {
				details[i] = fmt.Sprintf("%s must satisfy %s=%s", fieldError.Field(), fieldError.Tag(), fieldError.Param())
			} else {
				details[i] = fmt.Sprintf("%s is %s", fieldError.Field(), fieldError.Tag())
			}
		}
		return errors.New(strings.Join(details, ", "))
	}

	return nil
}

func newOptions(customizers []func(*Options)) (Options, error) {
	options := NewOptions()
	for _, customizer := range customizers {
		customizer(&options)
	}

	if err := options.Validate(); err != nil {
		return Options{}, ConfigurationError{Cause: ErrInvalidOptions, Detail: err.Error()}
	}

	return options, nil
}

func newWorker(e engine.Engine, options Options) *Worker {
	w := Worker{
		e:             e,
		id:            options.WorkerId,
		options:       options,
		subscriptions: make(map[uint64]*Subscription),
	}

	w.poller = &poller{w: &w}

	for _, use := range options.Use {
		if use != nil {
			use(&w)
		}
	}

	if options.AutoPoll {
		w.Start()
	}

	return &w
}

// Worker fetches and locks external tasks of the subscribed topics and dispatches them to the subscription handlers.
type Worker struct {
	e       engine.Engine
	id      string
	options Options
	poller  *poller

	subscriptionsMutex sync.RWMutex
	subscriptions      map[uint64]*Subscription
	nextSubscriptionId uint64

	listenersMutex sync.RWMutex
	listeners      []Listener

	executions atomic.Int32   // number of running handlers
	handlers   sync.WaitGroup // used to wait for running handlers
}

// AddListener adds a listener, which is notified about events.
func (w *Worker) AddListener(listener Listener) {
	if listener == nil {
		return
	}

	w.listenersMutex.Lock()
	defer w.listenersMutex.Unlock()
	w.listeners = append(w.listeners, listener)
}

func (w *Worker) Engine() engine.Engine {
	return w.e
}

// Execute executes the handler of the latest subscription, matching the task's topic, synchronously.
func (w *Worker) Execute(ctx context.Context, task engine.ExternalTask) error {
	subscription, ok := latestByTopic(w.Subscriptions())[task.TopicName]
	if !ok {
		return fmt.Errorf("no subscription for topic %s", task.TopicName)
	}

	return w.execute(ctx, subscription, task)
}

func (w *Worker) Id() string {
	return w.id
}

func (w *Worker) IsPolling() bool {
	return w.poller.isPolling()
}

func (w *Worker) Options() Options {
	return w.options
}

// Start starts polling. The first poll cycle starts immediately. If the worker is already polling, Start has no effect.
func (w *Worker) Start() {
	w.poller.start()
}

// Stop stops polling. A poll cycle, which is in flight, is completed and its tasks are dispatched, but no further cycle
// is started. Running handlers are not canceled.
func (w *Worker) Stop() {
	w.poller.stop()
}

// Wait waits until the poll loop has exited and all dispatched handlers have returned. It must be called after Stop,
// since the poll loop of a polling worker never exits.
func (w *Worker) Wait() {
	w.poller.done.Wait()
	w.handlers.Wait()
}

func (w *Worker) dispatch(subscription *Subscription, task engine.ExternalTask) {
	w.executions.Add(1)
	w.handlers.Add(1)

	go func() {
		defer w.handlers.Done()
		defer w.executions.Add(-1)

		// a panic is reported like a returned error and must not affect other handlers
		defer func() {
			if r := recover(); r != nil {
				w.handlerFailed(task, fmt.Errorf("%w: %v", ErrHandlerPanic, r))
			}
		}()

		_ = w.execute(context.Background(), subscription, task)
	}()
}

func (w *Worker) emit(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	w.listenersMutex.RLock()
	listeners := w.listeners
	w.listenersMutex.RUnlock()

	for _, listener := range listeners {
		listener(event)
	}
}

func (w *Worker) execute(ctx context.Context, subscription *Subscription, task engine.ExternalTask) error {
	tc := TaskContext{
		Task:         task,
		Subscription: subscription,
		Service:      TaskService{task: task, w: w},

		ctx: ctx,
	}

	err := subscription.handler(tc)
	if err != nil {
		w.handlerFailed(task, err)
	}

	return err
}

func (w *Worker) handlerFailed(task engine.ExternalTask, err error) {
	w.emit(Event{Type: EventHandlerError, Topic: task.TopicName, Task: &task, Err: err})

	if w.options.OnHandlerFailure != nil {
		w.options.OnHandlerFailure(task, err)
	}
}
