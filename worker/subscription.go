package worker

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/gclaussn/go-external-task/engine"
)

// Handler handles a fetched and locked external task. The task context provides the task, its variables and a
// [TaskService], used to complete, fail or extend the lock of the task.
//
// A returned error is reported via [EventHandlerError] and the OnHandlerFailure option. It does not affect the task -
// the lock expires, unless the handler called a task operation.
type Handler func(tc TaskContext) error

// SubscriptionOptions specify lock duration and fetch filters of a subscription.
type SubscriptionOptions struct {
	LockDuration time.Duration // Lock duration - defaults to the worker's lock duration.

	BusinessKey                string   // Only tasks of process instances with the business key.
	DeserializeValues          bool     // Determines if Object variables are returned deserialized.
	IncludeExtensionProperties bool     // Determines if extension properties are fetched.
	LocalVariables             bool     // Determines if only local variables are fetched.
	ProcessDefinitionKey       string   // Only tasks of the process definition.
	ProcessDefinitionKeys      []string // Only tasks of one of the process definitions.
	TenantIds                  []string // Only tasks of one of the tenants.
	Variables                  []string // Names of the variables to fetch. If empty, all variables are fetched.
	WithoutTenantId            bool     // Only tasks without tenant ID.
}

// Subscription binds a handler to a topic. Multiple subscriptions per topic are permitted - tasks of a topic are
// dispatched to the latest registered subscription.
type Subscription struct {
	id      uint64
	topic   string
	handler Handler
	options SubscriptionOptions
	w       *Worker
}

func (s *Subscription) LockDuration() time.Duration {
	return s.options.LockDuration
}

func (s *Subscription) Options() SubscriptionOptions {
	return s.options
}

func (s *Subscription) Topic() string {
	return s.topic
}

// Unsubscribe removes the subscription from the worker. Calling it multiple times has no effect.
// Tasks, fetched by a poll cycle that is already in flight, are still dispatched to the subscription.
func (s *Subscription) Unsubscribe() {
	s.w.subscriptionsMutex.Lock()
	_, ok := s.w.subscriptions[s.id]
	delete(s.w.subscriptions, s.id)
	s.w.subscriptionsMutex.Unlock()

	if ok {
		s.w.emit(Event{Type: EventUnsubscribe, Topic: s.topic})
	}
}

func (s *Subscription) Worker() *Worker {
	return s.w
}

func (s *Subscription) String() string {
	return s.topic
}

// Subscribe registers a handler for a topic. Registering is possible, while the worker is polling - the subscription
// is considered by the next poll cycle.
func (w *Worker) Subscribe(topic string, handler Handler, customizers ...func(*SubscriptionOptions)) (*Subscription, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, ConfigurationError{Cause: ErrInvalidSubscription, Detail: "topic must not be empty or blank"}
	}
	if handler == nil {
		return nil, ConfigurationError{Cause: ErrInvalidSubscription, Detail: "handler is nil"}
	}

	options := SubscriptionOptions{LockDuration: w.options.LockDuration}
	for _, customizer := range customizers {
		customizer(&options)
	}

	if options.LockDuration < time.Millisecond {
		return nil, ConfigurationError{Cause: ErrInvalidSubscription, Detail: "lock duration must be greater than or equal to 1ms"}
	}

	w.subscriptionsMutex.Lock()
	w.nextSubscriptionId++

	subscription := Subscription{
		id:      w.nextSubscriptionId,
		topic:   topic,
		handler: handler,
		options: options,
		w:       w,
	}

	w.subscriptions[subscription.id] = &subscription
	w.subscriptionsMutex.Unlock()

	w.emit(Event{Type: EventSubscribe, Topic: topic})
	return &subscription, nil
}

// Subscriptions returns a snapshot of the active subscriptions, ordered by registration.
func (w *Worker) Subscriptions() []*Subscription {
	w.subscriptionsMutex.RLock()
	defer w.subscriptionsMutex.RUnlock()

	subscriptions := make([]*Subscription, 0, len(w.subscriptions))
	for _, subscription := range w.subscriptions {
		subscriptions = append(subscriptions, subscription)
	}

	slices.SortFunc(subscriptions, func(a *Subscription, b *Subscription) int {
		if a.id < b.id {
			return -1
		}
		if a.id > b.id {
			return 1
		}
		return 0
	})

	return subscriptions
}

// latestByTopic maps each topic to the latest registered subscription of a snapshot.
func latestByTopic(subscriptions []*Subscription) map[string]*Subscription {
	latest := make(map[string]*Subscription, len(subscriptions))
	for _, subscription := range subscriptions {
		latest[subscription.topic] = subscription
	}
	return latest
}

// newFetchAndLockCmd aggregates a snapshot of subscriptions into one command with one topic per distinct topic name.
// The lock duration of a topic is the maximum of its subscriptions, the filters are taken from the latest registered
// subscription.
func newFetchAndLockCmd(subscriptions []*Subscription, options Options, maxTasks int) engine.FetchAndLockCmd {
	topics := make([]engine.FetchTopic, 0, len(subscriptions))
	indices := make(map[string]int, len(subscriptions))

	for _, subscription := range subscriptions {
		o := subscription.options

		topic := engine.FetchTopic{
			BusinessKey:                o.BusinessKey,
			DeserializeValues:          o.DeserializeValues,
			IncludeExtensionProperties: o.IncludeExtensionProperties,
			LocalVariables:             o.LocalVariables,
			LockDuration:               o.LockDuration.Milliseconds(),
			ProcessDefinitionKey:       o.ProcessDefinitionKey,
			ProcessDefinitionKeyIn:     o.ProcessDefinitionKeys,
			TenantIdIn:                 o.TenantIds,
			TopicName:                  subscription.topic,
			Variables:                  o.Variables,
			WithoutTenantId:            o.WithoutTenantId,
		}

		i, ok := indices[subscription.topic]
		if !ok {
			indices[subscription.topic] = len(topics)
			topics = append(topics, topic)
			continue
		}

		topic.LockDuration = max(topic.LockDuration, topics[i].LockDuration)
		topics[i] = topic
	}

	return engine.FetchAndLockCmd{
		AsyncResponseTimeout: options.AsyncResponseTimeout.Milliseconds(),
		MaxTasks:             maxTasks,
		Topics:               topics,
		UsePriority:          options.UsePriority,
		WorkerId:             options.WorkerId,
	}
}

// TaskContext is passed to a [Handler].
type TaskContext struct {
	Task         engine.ExternalTask
	Subscription *Subscription
	Service      TaskService

	ctx context.Context
}

func (tc TaskContext) Context() context.Context {
	return tc.ctx
}

func (tc TaskContext) Engine() engine.Engine {
	return tc.Subscription.w.e
}

// Variables returns the fetched variables of the task.
func (tc TaskContext) Variables() Variables {
	return NewVariables(tc.Task.Variables)
}
