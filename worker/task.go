package worker

import (
	"context"
	"time"

	"github.com/gclaussn/go-external-task/engine"
)

// FailureOptions provide data for reporting a technical failure.
type FailureOptions struct {
	ErrorDetails string        // Details of the failure - e.g. a stack trace.
	ErrorMessage string        // Message of the failure.
	Retries      *int          // Number of remaining retries. If nil, the engine keeps the current retries.
	RetryTimeout time.Duration // Timeout, before the task can be fetched again.
}

// TaskService performs operations on one fetched and locked external task, using the ID of the worker that locked it.
//
// Each operation issues exactly one engine call and is never retried. Failures are returned as [*TaskOperationError].
// Calling two terminal operations (e.g. complete and handle failure) is rejected by the engine, not prevented locally.
type TaskService struct {
	task engine.ExternalTask
	w    *Worker
}

// Complete completes the task, setting process and local variables.
func (s TaskService) Complete(ctx context.Context, variables Variables, localVariables Variables) error {
	return s.do(ctx, "complete", func() error {
		encodedVariables, err := encodeVariables(variables)
		if err != nil {
			return err
		}
		encodedLocalVariables, err := encodeVariables(localVariables)
		if err != nil {
			return err
		}

		return s.w.e.Complete(ctx, engine.CompleteCmd{
			Id:             s.task.Id,
			Variables:      encodedVariables,
			LocalVariables: encodedLocalVariables,
			WorkerId:       s.w.id,
		})
	})
}

// ExtendLock extends the lock of the task by newDuration, starting from the engine's time.
// It fails, if the lock has already expired.
func (s TaskService) ExtendLock(ctx context.Context, newDuration time.Duration) error {
	return s.do(ctx, "extendLock", func() error {
		return s.w.e.ExtendLock(ctx, engine.ExtendLockCmd{
			Id:          s.task.Id,
			NewDuration: newDuration.Milliseconds(),
			WorkerId:    s.w.id,
		})
	})
}

// HandleBpmnError reports a business error, which is handled by an error boundary event of the process.
func (s TaskService) HandleBpmnError(ctx context.Context, errorCode string, errorMessage string, variables Variables) error {
	return s.do(ctx, "handleBpmnError", func() error {
		encodedVariables, err := encodeVariables(variables)
		if err != nil {
			return err
		}

		return s.w.e.HandleBpmnError(ctx, engine.HandleBpmnErrorCmd{
			Id:           s.task.Id,
			ErrorCode:    errorCode,
			ErrorMessage: errorMessage,
			Variables:    encodedVariables,
			WorkerId:     s.w.id,
		})
	})
}

// HandleFailure reports a technical failure.
func (s TaskService) HandleFailure(ctx context.Context, options FailureOptions) error {
	return s.do(ctx, "handleFailure", func() error {
		return s.w.e.HandleFailure(ctx, engine.HandleFailureCmd{
			Id:           s.task.Id,
			ErrorDetails: options.ErrorDetails,
			ErrorMessage: options.ErrorMessage,
			Retries:      options.Retries,
			RetryTimeout: options.RetryTimeout.Milliseconds(),
			WorkerId:     s.w.id,
		})
	})
}

// Unlock releases the lock, making the task immediately available for other workers.
func (s TaskService) Unlock(ctx context.Context) error {
	return s.do(ctx, "unlock", func() error {
		return s.w.e.Unlock(ctx, engine.UnlockCmd{Id: s.task.Id})
	})
}

func (s TaskService) Task() engine.ExternalTask {
	return s.task
}

func (s TaskService) do(ctx context.Context, op string, call func() error) error {
	start := time.Now()

	var taskOperationErr *TaskOperationError
	if err := call(); err != nil {
		taskOperationErr = &TaskOperationError{Op: op, TaskId: s.task.Id, Err: err}
	}

	event := Event{
		Type:     taskOperationEventType(op, nil),
		Topic:    s.task.TopicName,
		Task:     &s.task,
		Duration: time.Since(start),
	}
	if taskOperationErr != nil {
		event.Type = taskOperationEventType(op, taskOperationErr)
		event.Err = taskOperationErr
	}

	s.w.emit(event)

	if taskOperationErr != nil {
		return taskOperationErr
	}
	return nil
}
