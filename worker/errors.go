package worker

import (
	"errors"
	"fmt"
)

var (
	ErrHandlerPanic        = errors.New("handler panicked")
	ErrInvalidOptions      = errors.New("invalid options")
	ErrInvalidSubscription = errors.New("invalid subscription")
	ErrMissingBaseUrl      = errors.New("missing base URL")
)

// ConfigurationError is returned synchronously by [New], [Connect] and [Worker.Subscribe], when the configuration is
// invalid. Use [errors.Is] with [ErrInvalidOptions], [ErrInvalidSubscription] or [ErrMissingBaseUrl] to check the
// cause.
type ConfigurationError struct {
	Cause  error
	Detail string
}

func (e ConfigurationError) Error() string {
	return fmt.Sprintf("%v: %s", e.Cause, e.Detail)
}

func (e ConfigurationError) Unwrap() error {
	return e.Cause
}

// TaskOperationError is returned by a [TaskService], when an operation is rejected by the engine or failed due to a
// transport error.
type TaskOperationError struct {
	Op     string // Operation - e.g. complete or extendLock.
	TaskId string // ID of the external task.
	Err    error  // An engine.Error or a client.TransportError.
}

func (e *TaskOperationError) Error() string {
	return fmt.Sprintf("failed to %s external task %s: %v", e.Op, e.TaskId, e.Err)
}

func (e *TaskOperationError) Unwrap() error {
	return e.Err
}
