package worker

import (
	"time"

	"github.com/gclaussn/go-external-task/engine"
)

type EventType string

const (
	EventSubscribe   EventType = "subscribe"
	EventUnsubscribe EventType = "unsubscribe"

	EventPollStart   EventType = "poll:start"
	EventPollStop    EventType = "poll:stop"
	EventPollSuccess EventType = "poll:success"
	EventPollError   EventType = "poll:error"

	EventCompleteSuccess        EventType = "complete:success"
	EventCompleteError          EventType = "complete:error"
	EventHandleFailureSuccess   EventType = "handleFailure:success"
	EventHandleFailureError     EventType = "handleFailure:error"
	EventHandleBpmnErrorSuccess EventType = "handleBpmnError:success"
	EventHandleBpmnErrorError   EventType = "handleBpmnError:error"
	EventExtendLockSuccess      EventType = "extendLock:success"
	EventExtendLockError        EventType = "extendLock:error"
	EventUnlockSuccess          EventType = "unlock:success"
	EventUnlockError            EventType = "unlock:error"

	EventHandlerError EventType = "handler:error"
)

// Event is emitted by a worker to notify listeners - e.g. logging or metrics middlewares.
type Event struct {
	Type EventType
	Time time.Time

	Topic    string                // Topic of a subscription or task.
	Task     *engine.ExternalTask  // Task of a task operation or handler error.
	Tasks    []engine.ExternalTask // Fetched and locked tasks of a successful poll.
	Duration time.Duration         // Duration of a poll or task operation.
	Err      error                 // Error of a failed poll, task operation or handler.
}

// IsError determines if the event reports an error.
func (e Event) IsError() bool {
	return e.Err != nil
}

// Listener is notified about events. A listener is called synchronously and possibly concurrently, so it must be fast
// and safe for concurrent use.
type Listener func(Event)

func taskOperationEventType(op string, err error) EventType {
	if err != nil {
		return EventType(op + ":error")
	}
	return EventType(op + ":success")
}
