package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultEngineId = "default-engine" // Default ID of an engine, used when no specific ID is provided via [Options].
)

// An Engine manages external tasks, which are fetched and locked by workers and completed, failed or unlocked afterwards.
//
// The engine is the source of truth: a lock is only valid, when held by the worker ID that fetched the task and not yet expired.
type Engine interface {
	// Complete completes an external task, which is locked by the worker.
	Complete(context.Context, CompleteCmd) error

	// CreateExternalTask creates an external task for a topic.
	//
	// Normally external tasks are created by the execution of a process. The operation is provided for testing purposes and
	// for engines, which are used as a lightweight development engine.
	CreateExternalTask(context.Context, CreateExternalTaskCmd) (ExternalTask, error)

	// ExtendLock extends the lock of an external task, which is locked by the worker.
	// The new lock expiration time is the engine's time plus the new duration.
	ExtendLock(context.Context, ExtendLockCmd) error

	// FetchAndLock fetches and locks external tasks, which are not locked or whose lock is expired.
	//
	// If an async response timeout is specified and no external task is available, the engine waits until an external task
	// becomes available or the timeout elapses (long polling).
	FetchAndLock(context.Context, FetchAndLockCmd) ([]ExternalTask, error)

	// HandleBpmnError reports a business error, which is handled by a BPMN error boundary event.
	HandleBpmnError(context.Context, HandleBpmnErrorCmd) error

	// HandleFailure reports a technical failure. When retries are specified and reach 0, the external task cannot be
	// fetched anymore (an incident is created).
	HandleFailure(context.Context, HandleFailureCmd) error

	// QueryExternalTasks queries external tasks, matching the criteria.
	QueryExternalTasks(context.Context, ExternalTaskCriteria, QueryOptions) ([]ExternalTask, error)

	// SetTime increases the engine's time for testing purposes.
	SetTime(context.Context, SetTimeCmd) error

	// Unlock releases the lock of an external task, making it immediately available for other workers.
	Unlock(context.Context, UnlockCmd) error

	// Shutdown shuts the engine down.
	Shutdown()
}

// Options are common configuration options that are shared between engine implementations.
type Options struct {
	DefaultQueryLimit    int           // Default limit for queries, executed without an explicit limit.
	EngineId             string        // ID of the engine.
	LongPollingInterval  time.Duration // Interval for rechecking available external tasks, while a fetch and lock command waits.
	MaxAsyncResponseTime time.Duration // Upper bound for the async response timeout of a fetch and lock command. If 0, no upper bound is applied.
}

func (o Options) Validate() error {
	if strings.TrimSpace(o.EngineId) == "" {
		return errors.New("engine ID must not be empty or blank")
	}
	if o.DefaultQueryLimit < 1 {
		return errors.New("default query limit must be greater than or equal to 1")
	}
	if o.LongPollingInterval <= 0 {
		return errors.New("long polling interval must be greater than 0")
	}
	if o.MaxAsyncResponseTime < 0 {
		return errors.New("max async response time must be greater than or equal to 0")
	}

	return nil
}

// QueryOptions are used to limit or offset query results.
// The zero value does not affect a query.
type QueryOptions struct {
	// Limit specifies the maximum number of results to return.
	// If Limit <= 0, the option's DefaultQueryLimit is applied.
	Limit int
	// Offset specifies the number of results to skip, before returning any result.
	// If Offset <= 0, no results are skipped.
	Offset int
}

// Error is returned by an engine, when a command cannot be executed - for example, when a lock has expired.
type Error struct {
	Type   ErrorType
	Title  string
	Detail string
}

func (e Error) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Type, e.Title, e.Detail)
}

type ErrorType int

const (
	ErrorBug ErrorType = iota + 1
	ErrorConflict
	ErrorNotFound
	ErrorValidation
)

func MapErrorType(s string) ErrorType {
	switch s {
	case "BUG":
		return ErrorBug
	case "CONFLICT":
		return ErrorConflict
	case "NOT_FOUND":
		return ErrorNotFound
	case "VALIDATION":
		return ErrorValidation
	default:
		return 0
	}
}

func (v ErrorType) String() string {
	switch v {
	case ErrorBug:
		return "BUG"
	case ErrorConflict:
		return "CONFLICT"
	case ErrorNotFound:
		return "NOT_FOUND"
	case ErrorValidation:
		return "VALIDATION"
	default:
		return "UNKNOWN"
	}
}

// IsErrorType reports whether any error in err's tree is an [Error] of the given type.
func IsErrorType(err error, errorType ErrorType) bool {
	var engineErr Error
	if !errors.As(err, &engineErr) {
		return false
	}
	return engineErr.Type == errorType
}
