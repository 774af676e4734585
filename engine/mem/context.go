package mem

import (
	"time"

	"github.com/gclaussn/go-external-task/engine"
	"github.com/gclaussn/go-external-task/engine/internal"
)

type memContext struct {
	options Options

	time time.Time

	externalTasks *externalTaskRepository
}

func (c *memContext) Options() engine.Options {
	return c.options.Common
}

func (c *memContext) Time() time.Time {
	return c.time
}

func (c *memContext) ExternalTasks() internal.ExternalTaskRepository {
	return c.externalTasks
}
