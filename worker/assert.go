package worker

import (
	"context"
	"testing"
	"time"

	"github.com/gclaussn/go-external-task/engine"
)

// Assert creates an assertion for the external task with the given ID, using the worker's engine.
// The assertion is intended to be used in tests, which run a worker against an embedded engine.
func Assert(t *testing.T, w *Worker, externalTaskId string) *ExternalTaskAssert {
	return &ExternalTaskAssert{t: t, w: w, externalTaskId: externalTaskId}
}

type ExternalTaskAssert struct {
	t              *testing.T
	w              *Worker
	externalTaskId string
}

// ExternalTask returns the current state of the external task - completed or not.
func (a *ExternalTaskAssert) ExternalTask() engine.ExternalTask {
	for _, completed := range []bool{false, true} {
		results, err := a.w.e.QueryExternalTasks(context.Background(), engine.ExternalTaskCriteria{
			ExternalTaskId: a.externalTaskId,
			Completed:      completed,
		}, engine.QueryOptions{})
		if err != nil {
			a.Fatalf("failed to query external task: %v", err)
		}
		if len(results) != 0 {
			return results[0]
		}
	}

	a.Fatalf("external task could not be found")
	return engine.ExternalTask{}
}

// Eventually waits until the condition is satisfied or the timeout elapses.
func (a *ExternalTaskAssert) Eventually(condition func(engine.ExternalTask) bool, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for {
		if condition(a.ExternalTask()) {
			return
		}
		if time.Now().After(deadline) {
			a.Fatalf("condition not satisfied within %s", timeout)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (a *ExternalTaskAssert) HasBpmnError(errorCode string) {
	externalTask := a.ExternalTask()
	if externalTask.CompletionTime == nil {
		a.Fatalf("expected external task to be completed with BPMN error %s, but is not completed", errorCode)
	}
	if externalTask.BpmnErrorCode != errorCode {
		a.Fatalf("expected BPMN error code %s, but is %s", errorCode, externalTask.BpmnErrorCode)
	}
}

func (a *ExternalTaskAssert) HasFailure(errorMessage string) {
	externalTask := a.ExternalTask()
	if externalTask.ErrorMessage != errorMessage {
		a.Fatalf("expected error message %q, but is %q", errorMessage, externalTask.ErrorMessage)
	}
}

func (a *ExternalTaskAssert) HasRetries(retries int) {
	externalTask := a.ExternalTask()
	if externalTask.Retries == nil {
		a.Fatalf("expected %d retries, but retries are not set", retries)
	}
	if *externalTask.Retries != retries {
		a.Fatalf("expected %d retries, but is %d", retries, *externalTask.Retries)
	}
}

func (a *ExternalTaskAssert) IsCompleted() {
	externalTask := a.ExternalTask()
	if externalTask.CompletionTime == nil {
		a.Fatalf("expected external task to be completed, but is not")
	}
	if externalTask.BpmnErrorCode != "" {
		a.Fatalf("expected external task to be completed, but has BPMN error %s", externalTask.BpmnErrorCode)
	}
}

// IsLocked asserts that the external task is locked by the worker.
func (a *ExternalTaskAssert) IsLocked() {
	externalTask := a.ExternalTask()
	if externalTask.LockExpirationTime == nil {
		a.Fatalf("expected external task to be locked, but is not")
	}
	if externalTask.WorkerId != a.w.id {
		a.Fatalf("expected external task to be locked by worker %s, but is locked by %s", a.w.id, externalTask.WorkerId)
	}
}

func (a *ExternalTaskAssert) IsNotLocked() {
	externalTask := a.ExternalTask()
	if externalTask.LockExpirationTime != nil {
		a.Fatalf("expected external task not to be locked, but is locked until %s", externalTask.LockExpirationTime)
	}
}

func (a *ExternalTaskAssert) Fatalf(format string, args ...any) {
	a.t.Helper()
	a.t.Fatalf("external task %s: "+format, append([]any{a.externalTaskId}, args...)...)
}
