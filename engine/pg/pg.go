package pg

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gclaussn/go-external-task/engine"
	"github.com/gclaussn/go-external-task/engine/internal"
	"github.com/jackc/pgx/v5/pgxpool"
)

func New(databaseUrl string, customizers ...func(*Options)) (engine.Engine, error) {
	if databaseUrl == "" {
		return nil, errors.New("database URL is empty")
	}

	options := NewOptions()
	for _, customizer := range customizers {
		customizer(&options)
	}

	if err := options.Validate(); err != nil {
		return nil, err
	}

	pgPoolConfig, err := pgxpool.ParseConfig(databaseUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %v", err)
	}

	if _, ok := pgPoolConfig.ConnConfig.RuntimeParams["application_name"]; !ok {
		pgPoolConfig.ConnConfig.RuntimeParams["application_name"] = options.Common.EngineId
	}

	if databaseSchema, ok := pgPoolConfig.ConnConfig.RuntimeParams["search_path"]; ok {
		options.databaseSchema = databaseSchema
	}

	pgPoolCtx, pgPoolCancel := context.WithTimeout(context.Background(), options.Timeout)
	defer pgPoolCancel()

	pgPool, err := pgxpool.NewWithConfig(pgPoolCtx, pgPoolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection pool: %v", err)
	}

	pgCtxPoolSize := int(pgPoolConfig.MaxConns)
	pgCtxPool := make(chan *pgContext, pgCtxPoolSize)

	for i := 0; i < pgCtxPoolSize; i++ {
		pgCtxPool <- &pgContext{options: options}
	}

	acquireCtx, acquireCancel := context.WithCancel(context.Background())

	pgEngine := pgEngine{
		acquireCtx:    acquireCtx,
		acquireCancel: acquireCancel,

		options:   options,
		pgCtxPool: pgCtxPool,
		pgPool:    pgPool,
	}

	if err := pgEngine.migrateDatabase(); err != nil {
		pgEngine.Shutdown()
		return nil, fmt.Errorf("failed to migrate database: %v", err)
	}

	return &pgEngine, nil
}

func NewOptions() Options {
	return Options{
		Common: engine.Options{
			DefaultQueryLimit:    1000,
			EngineId:             engine.DefaultEngineId,
			LongPollingInterval:  time.Second,
			MaxAsyncResponseTime: 30 * time.Minute,
		},

		Timeout: 30 * time.Second,

		databaseSchema: "public",
	}
}

type Options struct {
	Common engine.Options // Common engine options.

	Timeout time.Duration // Time limit for database transactions.

	databaseSchema string // derived from database URL - see runtime parameter "search_path"
}

func (o Options) Validate() error {
	if o.Timeout <= 0 {
		return errors.New("timeout must be greater than 0")
	}
	return o.Common.Validate()
}

type pgEngine struct {
	acquireCtx    context.Context    // used to prevent the acquisition of a context, when the engine is shut down
	acquireCancel context.CancelFunc // invoked when a shutdown is initiated
	shutdownOnce  sync.Once          // used to prevent more than one shutdown

	options   Options
	pgCtxPool chan *pgContext
	pgPool    *pgxpool.Pool

	setTimeMutex sync.Mutex   // used to call SetTime exclusively
	offset       atomic.Int64 // engine time offset in nanoseconds
}

func (e *pgEngine) migrateDatabase() error {
	pgCtx, cancel, err := e.acquire(context.Background())
	if err != nil {
		return err
	}

	defer cancel()
	return e.release(pgCtx, migrateDatabase(pgCtx))
}

// acquire acquires a context from the pool and begins a transaction, which is limited by the configured timeout.
// The returned cancel function must be called after the context has been released.
func (e *pgEngine) acquire(ctx context.Context) (*pgContext, context.CancelFunc, error) {
	now := time.Now()

	txCtx, cancel := context.WithTimeout(ctx, e.options.Timeout)

	select {
	case <-e.acquireCtx.Done():
		cancel()
		return nil, nil, errors.New("engine is shut down")
	case <-txCtx.Done():
		cancel()
		return nil, nil, fmt.Errorf("failed to acquire context: %w", txCtx.Err())
	case pgCtx := <-e.pgCtxPool:
		tx, err := e.pgPool.Begin(txCtx)
		if err != nil {
			e.pgCtxPool <- pgCtx
			cancel()
			return nil, nil, fmt.Errorf("failed to begin transaction: %v", err)
		}

		// must be UTC and truncated to millis, since TIMESTAMP(3) is used
		// otherwise tests are flaky
		pgCtx.time = now.UTC().Add(time.Duration(e.offset.Load())).Truncate(time.Millisecond)

		pgCtx.tx = tx
		pgCtx.txCtx = txCtx

		return pgCtx, cancel, nil
	}
}

// release commits the transaction, if err is nil. Otherwise the transaction is rolled back.
func (e *pgEngine) release(pgCtx *pgContext, err error) error {
	if err != nil {
		_ = pgCtx.tx.Rollback(pgCtx.txCtx)
	} else {
		err = pgCtx.tx.Commit(pgCtx.txCtx)
	}

	pgCtx.tx = nil
	pgCtx.txCtx = nil

	e.pgCtxPool <- pgCtx
	return err
}

func (e *pgEngine) Complete(ctx context.Context, cmd engine.CompleteCmd) error {
	pgCtx, cancel, err := e.acquire(ctx)
	if err != nil {
		return err
	}

	defer cancel()
	return e.release(pgCtx, internal.Complete(pgCtx, cmd))
}

func (e *pgEngine) CreateExternalTask(ctx context.Context, cmd engine.CreateExternalTaskCmd) (engine.ExternalTask, error) {
	pgCtx, cancel, err := e.acquire(ctx)
	if err != nil {
		return engine.ExternalTask{}, err
	}

	defer cancel()
	externalTask, err := internal.CreateExternalTask(pgCtx, cmd)
	return externalTask, e.release(pgCtx, err)
}

func (e *pgEngine) ExtendLock(ctx context.Context, cmd engine.ExtendLockCmd) error {
	pgCtx, cancel, err := e.acquire(ctx)
	if err != nil {
		return err
	}

	defer cancel()
	return e.release(pgCtx, internal.ExtendLock(pgCtx, cmd))
}

func (e *pgEngine) FetchAndLock(ctx context.Context, cmd engine.FetchAndLockCmd) ([]engine.ExternalTask, error) {
	fetch := func() ([]engine.ExternalTask, <-chan struct{}, error) {
		pgCtx, cancel, err := e.acquire(ctx)
		if err != nil {
			return nil, nil, err
		}

		defer cancel()
		externalTasks, err := internal.FetchAndLock(pgCtx, cmd)
		if err := e.release(pgCtx, err); err != nil {
			return nil, nil, err
		}
		return externalTasks, nil, nil
	}

	timeout := internal.AsyncResponseTimeout(e.options.Common, cmd)
	if timeout <= 0 {
		externalTasks, _, err := fetch()
		return externalTasks, err
	}

	return internal.LongPoll(ctx, timeout, e.options.Common.LongPollingInterval, fetch)
}

func (e *pgEngine) HandleBpmnError(ctx context.Context, cmd engine.HandleBpmnErrorCmd) error {
	pgCtx, cancel, err := e.acquire(ctx)
	if err != nil {
		return err
	}

	defer cancel()
	return e.release(pgCtx, internal.HandleBpmnError(pgCtx, cmd))
}

func (e *pgEngine) HandleFailure(ctx context.Context, cmd engine.HandleFailureCmd) error {
	pgCtx, cancel, err := e.acquire(ctx)
	if err != nil {
		return err
	}

	defer cancel()
	return e.release(pgCtx, internal.HandleFailure(pgCtx, cmd))
}

func (e *pgEngine) QueryExternalTasks(ctx context.Context, c engine.ExternalTaskCriteria, o engine.QueryOptions) ([]engine.ExternalTask, error) {
	pgCtx, cancel, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}

	defer cancel()
	results, err := internal.QueryExternalTasks(pgCtx, c, o)
	return results, e.release(pgCtx, err)
}

func (e *pgEngine) SetTime(ctx context.Context, cmd engine.SetTimeCmd) error {
	e.setTimeMutex.Lock()
	defer e.setTimeMutex.Unlock()

	pgCtx, cancel, err := e.acquire(ctx)
	if err != nil {
		return err
	}

	defer cancel()

	old := pgCtx.Time()
	new := cmd.Time.UTC().Truncate(time.Millisecond)

	sub := new.Sub(old)
	if sub.Milliseconds() < 0 {
		return e.release(pgCtx, engine.Error{
			Type:  engine.ErrorConflict,
			Title: "failed to set time",
			Detail: fmt.Sprintf(
				"time %s is before engine time %s",
				new.Format(time.RFC3339),
				old.Format(time.RFC3339),
			),
		})
	}

	if err := e.release(pgCtx, nil); err != nil {
		return err
	}

	e.offset.Add(int64(sub))
	return nil
}

func (e *pgEngine) Unlock(ctx context.Context, cmd engine.UnlockCmd) error {
	pgCtx, cancel, err := e.acquire(ctx)
	if err != nil {
		return err
	}

	defer cancel()
	return e.release(pgCtx, internal.Unlock(pgCtx, cmd))
}

func (e *pgEngine) Shutdown() {
	e.shutdownOnce.Do(func() {
		e.acquireCancel()
		e.pgPool.Close()
	})
}
