package internal

import (
	"time"

	"github.com/gclaussn/go-external-task/engine"
)

type Context interface {
	Options() engine.Options

	// Time returns the engine's time, which is UTC and truncated to millis.
	Time() time.Time

	ExternalTasks() ExternalTaskRepository
}
