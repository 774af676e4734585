package cli

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/gclaussn/go-external-task/engine"
	"github.com/gclaussn/go-external-task/engine/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCreateEngine(t *testing.T) engine.Engine {
	e, err := mem.New()
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return e
}

func mustExecute(t *testing.T, e engine.Engine, args []string) string {
	rootCmd := newRootCmd(&Cli{e: e, workerId: program})
	rootCmd.PersistentPostRun = nil

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("failed to execute %v: %v", args, err)
	}

	return out.String()
}

func TestHelp(t *testing.T) {
	assert := assert.New(t)

	e := mustCreateEngine(t)
	defer e.Shutdown()

	rootCmd := newRootCmd(&Cli{e: e})
	rootCmd.SetOut(&bytes.Buffer{})

	rootCmd.SetArgs([]string{})
	assert.NoError(rootCmd.Execute())

	rootCmd.SetArgs([]string{"external-task"})
	assert.NoError(rootCmd.Execute())
	rootCmd.SetArgs([]string{"version"})
	assert.NoError(rootCmd.Execute())

	rootCmd.SetArgs([]string{"external-task", "fetch-and-lock", "--help"})
	assert.NoError(rootCmd.Execute())
	rootCmd.SetArgs([]string{"set-time", "--help"})
	assert.NoError(rootCmd.Execute())
}

func TestExternalTask(t *testing.T) {
	assert, require := assert.New(t), require.New(t)

	e := mustCreateEngine(t)
	defer e.Shutdown()

	ctx := context.Background()

	query := func(id string, completed bool) engine.ExternalTask {
		results, err := e.QueryExternalTasks(ctx, engine.ExternalTaskCriteria{ExternalTaskId: id, Completed: completed}, engine.QueryOptions{})
		require.NoError(err, "failed to query external task")
		require.Len(results, 1)
		return results[0]
	}

	t.Run("create", func(t *testing.T) {
		// when
		out := mustExecute(t, e, []string{
			"external-task",
			"create",
			"--topic",
			"create-test",
			"--business-key",
			"bk",
			"--priority",
			"10",
			"--retries",
			"3",
			"--variable",
			"a=1,b=text",
			"--variable",
			"c=1000",
			"--variable-type",
			"c=Long",
		})

		// then
		id := out[:len(out)-1]

		externalTask := query(id, false)
		assert.Equal("create-test", externalTask.TopicName)
		assert.Equal("bk", externalTask.BusinessKey)
		assert.Equal(int64(10), externalTask.Priority)
		require.NotNil(externalTask.Retries)
		assert.Equal(3, *externalTask.Retries)
	})

	t.Run("fetch and lock, extend lock and complete", func(t *testing.T) {
		// given
		externalTask, err := e.CreateExternalTask(ctx, engine.CreateExternalTaskCmd{TopicName: "complete-test"})
		require.NoError(err)

		// when
		out := mustExecute(t, e, []string{
			"external-task",
			"fetch-and-lock",
			"--topic",
			"complete-test",
			"--lock-duration",
			"30s",
		})

		// then
		assert.Contains(out, externalTask.Id)
		assert.Equal(program, query(externalTask.Id, false).WorkerId)

		// when
		mustExecute(t, e, []string{
			"external-task",
			"extend-lock",
			"--id",
			externalTask.Id,
			"--new-duration",
			"1h",
		})

		// then
		lockExpirationTime := query(externalTask.Id, false).LockExpirationTime
		require.NotNil(lockExpirationTime)
		assert.True(time.Time(*lockExpirationTime).After(time.Now().Add(59 * time.Minute)))

		// when
		mustExecute(t, e, []string{
			"external-task",
			"complete",
			"--id",
			externalTask.Id,
			"--variable",
			"result=42",
			"--local-variable",
			"local={\"x\":1}",
		})

		// then
		assert.NotNil(query(externalTask.Id, true).CompletionTime)
	})

	t.Run("handle failure", func(t *testing.T) {
		// given
		externalTask, err := e.CreateExternalTask(ctx, engine.CreateExternalTaskCmd{TopicName: "failure-test"})
		require.NoError(err)

		mustExecute(t, e, []string{"external-task", "fetch-and-lock", "--topic", "failure-test"})

		// when
		mustExecute(t, e, []string{
			"external-task",
			"handle-failure",
			"--id",
			externalTask.Id,
			"--error-message",
			"failed",
			"--retries",
			"0",
		})

		// then
		failed := query(externalTask.Id, false)
		assert.Equal("failed", failed.ErrorMessage)
		require.NotNil(failed.Retries)
		assert.Equal(0, *failed.Retries)
		assert.Nil(failed.LockExpirationTime)

		out := mustExecute(t, e, []string{"external-task", "query", "--no-retries-left"})
		assert.Contains(out, externalTask.Id)
	})

	t.Run("handle BPMN error", func(t *testing.T) {
		// given
		externalTask, err := e.CreateExternalTask(ctx, engine.CreateExternalTaskCmd{TopicName: "bpmn-error-test"})
		require.NoError(err)

		mustExecute(t, e, []string{"external-task", "fetch-and-lock", "--topic", "bpmn-error-test"})

		// when
		mustExecute(t, e, []string{
			"external-task",
			"handle-bpmn-error",
			"--id",
			externalTask.Id,
			"--error-code",
			"TEST_ERROR",
		})

		// then
		assert.Equal("TEST_ERROR", query(externalTask.Id, true).BpmnErrorCode)
	})

	t.Run("unlock", func(t *testing.T) {
		// given
		externalTask, err := e.CreateExternalTask(ctx, engine.CreateExternalTaskCmd{TopicName: "unlock-test"})
		require.NoError(err)

		mustExecute(t, e, []string{"external-task", "fetch-and-lock", "--topic", "unlock-test"})

		// when
		mustExecute(t, e, []string{"external-task", "unlock", "--id", externalTask.Id})

		// then
		assert.Nil(query(externalTask.Id, false).LockExpirationTime)

		out := mustExecute(t, e, []string{"external-task", "query", "--topic", "unlock-test", "--not-locked"})
		assert.Contains(out, externalTask.Id)
	})

	t.Run("set time", func(t *testing.T) {
		mustExecute(t, e, []string{
			"set-time",
			"--time",
			time.Now().Add(time.Hour).Format(time.RFC3339),
		})
	})
}
