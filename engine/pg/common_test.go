package pg

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gclaussn/go-external-task/engine"
	"github.com/jackc/pgx/v5"
)

func mustCreateEngine(t *testing.T, customizers ...func(*Options)) engine.Engine {
	if testing.Short() {
		t.Skip()
	}

	databaseUrl := os.Getenv("GO_EXTERNAL_TASK_TEST_DATABASE_URL")
	if databaseUrl == "" {
		t.Skip("GO_EXTERNAL_TASK_TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, databaseUrl)
	if err != nil {
		t.Fatalf("failed to establish database connection: %v", err)
	}

	defer conn.Close(ctx)

	databaseSchema := fmt.Sprintf("test_pg_%s", strings.Replace(time.Now().Format("20060102150405.000"), ".", "", 1))
	_, err = conn.Exec(ctx, fmt.Sprintf("CREATE SCHEMA %s", databaseSchema))
	if err != nil {
		t.Fatalf("failed to create database schema: %v", err)
	}

	databaseUrl = fmt.Sprintf("%s?search_path=%s", databaseUrl, databaseSchema)

	customizers = append(customizers, func(o *Options) {
		o.Common.LongPollingInterval = 50 * time.Millisecond
	})

	e, err := New(databaseUrl, customizers...)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	return e
}

func mustCreateExternalTask(t *testing.T, e engine.Engine, cmd engine.CreateExternalTaskCmd) engine.ExternalTask {
	externalTask, err := e.CreateExternalTask(context.Background(), cmd)
	if err != nil {
		t.Fatalf("failed to create external task: %v", err)
	}
	return externalTask
}

func mustFetchAndLock(t *testing.T, e engine.Engine, workerId string, topicName string) []engine.ExternalTask {
	externalTasks, err := e.FetchAndLock(context.Background(), engine.FetchAndLockCmd{
		MaxTasks: 10,
		Topics:   []engine.FetchTopic{{TopicName: topicName, LockDuration: 60000}},
		WorkerId: workerId,
	})
	if err != nil {
		t.Fatalf("failed to fetch and lock: %v", err)
	}
	return externalTasks
}
