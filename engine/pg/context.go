package pg

import (
	"context"
	"time"

	"github.com/gclaussn/go-external-task/engine"
	"github.com/gclaussn/go-external-task/engine/internal"
	"github.com/jackc/pgx/v5"
)

type pgContext struct {
	options Options

	time time.Time

	tx    pgx.Tx
	txCtx context.Context
}

func (c *pgContext) Options() engine.Options {
	return c.options.Common
}

func (c *pgContext) Time() time.Time {
	return c.time
}

func (c *pgContext) ExternalTasks() internal.ExternalTaskRepository {
	return &externalTaskRepository{tx: c.tx, txCtx: c.txCtx}
}
